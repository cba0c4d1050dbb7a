// Package cli implements the coachctl admin commands.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // reconcile found write errors, version is dirty
	ExitCommandError = 2 // bad flags, unreachable store
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorBold   = "\033[1m"
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Printer writes command output as text or JSON.
type Printer struct {
	w     io.Writer
	json  bool
	color bool
}

// NewPrinter creates a printer. Color is used only when w is a terminal.
func NewPrinter(w io.Writer, format string) *Printer {
	return &Printer{w: w, json: format == "json", color: isTerminal(w)}
}

// JSON reports whether the printer emits JSON.
func (p *Printer) JSON() bool {
	return p.json
}

// Encode writes v as indented JSON.
func (p *Printer) Encode(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Colorize returns a colored string
func (p *Printer) Colorize(text string, color string) string {
	if !p.color {
		return text
	}
	return color + text + ColorReset
}

// Printf writes a formatted line.
func (p *Printer) Printf(format string, args ...interface{}) {
	fmt.Fprintf(p.w, format, args...)
}

// Success prints a success message
func (p *Printer) Success(message string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Colorize("✓", ColorGreen), message)
}

// Error prints an error message
func (p *Printer) Error(message string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Colorize("✗", ColorRed), message)
}

// Warning prints a warning message
func (p *Printer) Warning(message string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Colorize("⚠", ColorYellow), message)
}

// Info prints an info message
func (p *Printer) Info(message string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Colorize("ℹ", ColorBlue), message)
}

// isTerminal checks if w is a terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
