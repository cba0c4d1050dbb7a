package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitalis-labs/service_layer/internal/logging"
	"github.com/vitalis-labs/service_layer/internal/metrics"
	"github.com/vitalis-labs/service_layer/internal/notify"
)

// Notification messages shown to the user.
const (
	msgSaveFailed   = "Failed to save progress"
	msgUnlockFailed = "Progress saved, but the next step could not be unlocked"
)

// Tracker performs the journey operations against a Store. It holds no
// per-user state; see Session for the navigation state of one user.
type Tracker struct {
	store    Store
	notifier notify.Notifier
	logger   *logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Config configures a Tracker.
type Config struct {
	Store    Store
	Notifier notify.Notifier
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	// Now overrides the clock used for completed_at.
	Now func() time.Time
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("progress: store is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewFromEnv("progress")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}, nil
}

// =============================================================================
// Gating
// =============================================================================

// ComputeMaxAllowedStep returns the highest step a user may open: one past the
// highest completed step, or 1 when nothing is completed. Gaps are not checked,
// so {1, 3} allows step 4.
func ComputeMaxAllowedStep(completed CompletedSet) int {
	highest := 0
	for id, done := range completed {
		if done && id > highest {
			highest = id
		}
	}
	return highest + 1
}

// SelectStep returns the step to show after a navigation request. The request
// is accepted when the step exists and is not beyond ComputeMaxAllowedStep;
// otherwise current is returned unchanged and accepted is false.
func SelectStep(current, requested int, catalog *Catalog, completed CompletedSet) (int, bool) {
	if !catalog.Exists(requested) {
		return current, false
	}
	if requested > ComputeMaxAllowedStep(completed) {
		return current, false
	}
	return requested, true
}

// =============================================================================
// Store Operations
// =============================================================================

// LoadProgress reads every stored row for the user. An empty user id yields an
// empty set without touching the store.
func (t *Tracker) LoadProgress(ctx context.Context, userID string) (CompletedSet, error) {
	if userID == "" {
		return CompletedSet{}, nil
	}
	rows, err := t.store.ListProgress(ctx, userID)
	if err != nil {
		return nil, &DataAccessError{Op: "load", UserID: userID, Err: err}
	}
	return CompletedSetFromRows(rows), nil
}

// MarkStepComplete upserts the step as completed and available with the
// current time. Failures are reported to the notifier and returned; they are
// not retried. An empty user id is a no-op.
func (t *Tracker) MarkStepComplete(ctx context.Context, userID string, stepID int, stepName string) error {
	if userID == "" {
		return nil
	}

	err := t.store.UpsertProgress(ctx, CompletedRow(userID, stepID, stepName, t.now()))
	t.metrics.RecordStepWrite("complete", err)
	if err != nil {
		dae := &DataAccessError{Op: "complete", UserID: userID, StepNumber: stepID, Err: err}
		t.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"user_id":     userID,
			"step_number": stepID,
		}).Error("save step completion")
		t.notify(ctx, userID, notify.KindError, msgSaveFailed)
		return dae
	}

	t.notify(ctx, userID, notify.KindSuccess, fmt.Sprintf("Step %d completed", stepID))
	return nil
}

// UnlockResult reports which writes of MarkStepCompleteAndUnlockNext succeeded.
type UnlockResult struct {
	Completed bool
	Unlocked  bool
}

// MarkStepCompleteAndUnlockNext upserts the step as completed and the next
// step as available but not completed. Both writes are always attempted and
// nothing is rolled back. When only the unlock fails the error is a
// *PartialUnlockError.
func (t *Tracker) MarkStepCompleteAndUnlockNext(ctx context.Context, userID string, stepID int, stepName string, nextID int, nextName string) (UnlockResult, error) {
	if userID == "" {
		return UnlockResult{}, nil
	}

	completeErr := t.store.UpsertProgress(ctx, CompletedRow(userID, stepID, stepName, t.now()))
	t.metrics.RecordStepWrite("complete", completeErr)
	unlockErr := t.store.UpsertProgress(ctx, UnlockedRow(userID, nextID, nextName))
	t.metrics.RecordStepWrite("unlock", unlockErr)

	result := UnlockResult{Completed: completeErr == nil, Unlocked: unlockErr == nil}
	log := t.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"user_id":     userID,
		"step_number": stepID,
		"next_step":   nextID,
	})

	switch {
	case completeErr == nil && unlockErr == nil:
		t.notify(ctx, userID, notify.KindSuccess, fmt.Sprintf("Step %d completed", stepID))
		return result, nil

	case completeErr == nil:
		t.metrics.RecordPartialUnlock()
		log.WithError(unlockErr).Warn("step completed but next step unlock failed")
		t.notify(ctx, userID, notify.KindWarning, msgUnlockFailed)
		return result, &PartialUnlockError{
			StepID:     stepID,
			NextStepID: nextID,
			Err:        &DataAccessError{Op: "unlock", UserID: userID, StepNumber: nextID, Err: unlockErr},
		}

	default:
		log.WithError(completeErr).Error("save step completion")
		t.notify(ctx, userID, notify.KindError, msgSaveFailed)
		err := error(&DataAccessError{Op: "complete", UserID: userID, StepNumber: stepID, Err: completeErr})
		if unlockErr != nil {
			err = errors.Join(err, &DataAccessError{Op: "unlock", UserID: userID, StepNumber: nextID, Err: unlockErr})
		}
		return result, err
	}
}

func (t *Tracker) notify(ctx context.Context, userID string, kind notify.Kind, message string) {
	t.notifier.Notify(ctx, notify.Notification{
		Kind:    kind,
		UserID:  userID,
		Message: message,
		At:      t.now(),
	})
}
