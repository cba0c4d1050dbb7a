package progress

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a completion is requested while another one
	// for the same session is still in flight.
	ErrBusy = errors.New("progress: a save is already in progress")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("progress: session closed")
	// ErrUnknownStep is returned for step ids outside the catalog.
	ErrUnknownStep = errors.New("progress: unknown step")
	// ErrStepLocked is returned when completing a step that is not yet reachable.
	ErrStepLocked = errors.New("progress: step is locked")
)

// DataAccessError reports a failed read or write against the progress store.
type DataAccessError struct {
	Op         string
	UserID     string
	StepNumber int
	Err        error
}

func (e *DataAccessError) Error() string {
	if e.StepNumber > 0 {
		return fmt.Sprintf("progress: %s user %s step %d: %v", e.Op, e.UserID, e.StepNumber, e.Err)
	}
	return fmt.Sprintf("progress: %s user %s: %v", e.Op, e.UserID, e.Err)
}

func (e *DataAccessError) Unwrap() error {
	return e.Err
}

// PartialUnlockError reports a completion that was saved while unlocking the
// next step failed. The stored state is left as is; reconciliation repairs it.
type PartialUnlockError struct {
	StepID     int
	NextStepID int
	Err        error
}

func (e *PartialUnlockError) Error() string {
	return fmt.Sprintf("progress: step %d completed but step %d unlock failed: %v", e.StepID, e.NextStepID, e.Err)
}

func (e *PartialUnlockError) Unwrap() error {
	return e.Err
}

// IsDataAccess reports whether err is or wraps a DataAccessError.
func IsDataAccess(err error) bool {
	var dae *DataAccessError
	return errors.As(err, &dae)
}

// IsPartialUnlock reports whether err is or wraps a PartialUnlockError.
func IsPartialUnlock(err error) bool {
	var pue *PartialUnlockError
	return errors.As(err, &pue)
}
