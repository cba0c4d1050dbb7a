package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vitalis-labs/service_layer/internal/app"
	"github.com/vitalis-labs/service_layer/internal/config"
	"github.com/vitalis-labs/service_layer/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string // "json" | "text"
	EnvFile string
	Verbose bool

	// NewApp builds the application for commands that need a store.
	NewApp func(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app.Application, error)
}

// NewRootCommand creates the coachctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{NewApp: app.New})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coachctl",
		Short: "Administer the motivation journey backend",
		Long:  "coachctl migrates the database, inspects the step catalog and repairs stored progress.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be text or json", opts.Format), nil)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "optional env file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(newStepsCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	return cmd
}

// loadConfig decodes the environment. Logs go to errOut so JSON output stays clean.
func (o *RootOptions) loadConfig(errOut io.Writer) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(o.EnvFile)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load config", err)
	}
	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	logger := logging.New("coachctl", level, "text")
	logger.SetOutput(errOut)
	return cfg, logger, nil
}
