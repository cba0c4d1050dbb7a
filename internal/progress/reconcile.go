package progress

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Fix reasons reported by Reconcile.
const (
	ReasonTimestampMissing = "completed_at_missing"
	ReasonTimestampCleared = "completed_at_cleared"
	ReasonEvidenceComplete = "evidence_complete"
	ReasonEvidenceReset    = "evidence_reset"
	ReasonAvailableMissing = "available_missing"
	ReasonNextUnlocked     = "next_unlocked"
)

// Evidence decides from outside data (for example a saved topic answer)
// whether a stored row should be completed.
type Evidence func(ctx context.Context, row StepProgress) (bool, error)

// ReconcileOptions selects the rows and rules of a reconciliation run.
type ReconcileOptions struct {
	// StepNames limits the run to rows with these step names. Required.
	StepNames []string
	// Catalog enables unlocking the step after each completed one.
	Catalog *Catalog
	// Evidence overrides the stored completed flag when set.
	Evidence Evidence
	// DryRun reports fixes without writing them.
	DryRun bool
	Now    func() time.Time
}

// Fix is one row rewritten by Reconcile.
type Fix struct {
	UserID     string       `json:"user_id"`
	StepNumber int          `json:"step_number"`
	StepName   string       `json:"step_name"`
	Reasons    []string     `json:"reasons"`
	Before     StepProgress `json:"before"`
	After      StepProgress `json:"after"`
}

// ReconcileReport summarizes a run.
type ReconcileReport struct {
	Scanned int   `json:"scanned"`
	Fixes   []Fix `json:"fixes"`
	DryRun  bool  `json:"dry_run"`
}

// Reconcile re-derives completion flags for rows with the given step names so
// that completed and completed_at agree and every completed step has its
// successor available. It only ever moves rows towards a consistent state, so
// a second run with the same inputs reports no fixes. Write failures do not
// stop the run; they are joined into the returned error.
func Reconcile(ctx context.Context, store ReconcileStore, opts ReconcileOptions) (*ReconcileReport, error) {
	if len(opts.StepNames) == 0 {
		return nil, fmt.Errorf("reconcile: at least one step name is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	targets, err := store.ListProgressByStepNames(ctx, opts.StepNames)
	if err != nil {
		return nil, &DataAccessError{Op: "reconcile", Err: err}
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].UserID != targets[j].UserID {
			return targets[i].UserID < targets[j].UserID
		}
		return targets[i].StepNumber < targets[j].StepNumber
	})

	report := &ReconcileReport{Scanned: len(targets), DryRun: opts.DryRun}
	var errs []error

	// Every row of each touched user, keyed by step number, so successor
	// rows are known even when their names are not being reconciled.
	userRows := make(map[string]map[int]StepProgress)
	rowsFor := func(userID string) (map[int]StepProgress, error) {
		if rows, ok := userRows[userID]; ok {
			return rows, nil
		}
		list, err := store.ListProgress(ctx, userID)
		if err != nil {
			return nil, &DataAccessError{Op: "reconcile", UserID: userID, Err: err}
		}
		rows := make(map[int]StepProgress, len(list))
		for _, r := range list {
			rows[r.StepNumber] = r
		}
		userRows[userID] = rows
		return rows, nil
	}

	for _, row := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		// An earlier unlock in this run may already have rewritten the row.
		if rows, ok := userRows[row.UserID]; ok {
			if current, ok := rows[row.StepNumber]; ok {
				row = current
			}
		}

		want, reasons, err := deriveRow(ctx, row, opts.Evidence, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile user %s step %d: %w", row.UserID, row.StepNumber, err))
			continue
		}
		if len(reasons) > 0 {
			fix := Fix{UserID: row.UserID, StepNumber: row.StepNumber, StepName: row.StepName, Reasons: reasons, Before: row, After: want}
			if err := apply(ctx, store, opts.DryRun, want); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Fixes = append(report.Fixes, fix)
			if rows, ok := userRows[row.UserID]; ok {
				rows[row.StepNumber] = want
			}
		}

		if !want.Completed || opts.Catalog == nil {
			continue
		}
		next, ok := opts.Catalog.Next(want.StepNumber)
		if !ok {
			continue
		}
		rows, err := rowsFor(row.UserID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		existing, exists := rows[next.ID]
		if exists && existing.Available {
			continue
		}
		unlocked := UnlockedRow(row.UserID, next.ID, next.Name)
		if exists {
			unlocked = existing
			unlocked.Available = true
		}
		if err := apply(ctx, store, opts.DryRun, unlocked); err != nil {
			errs = append(errs, err)
			continue
		}
		rows[next.ID] = unlocked
		report.Fixes = append(report.Fixes, Fix{
			UserID:     row.UserID,
			StepNumber: next.ID,
			StepName:   unlocked.StepName,
			Reasons:    []string{ReasonNextUnlocked},
			Before:     existing,
			After:      unlocked,
		})
	}

	return report, errors.Join(errs...)
}

// deriveRow returns the consistent form of row and why it differs.
func deriveRow(ctx context.Context, row StepProgress, evidence Evidence, now func() time.Time) (StepProgress, []string, error) {
	want := row
	var reasons []string

	if evidence != nil {
		done, err := evidence(ctx, row)
		if err != nil {
			return row, nil, err
		}
		switch {
		case done && !row.Completed:
			reasons = append(reasons, ReasonEvidenceComplete)
		case !done && row.Completed:
			reasons = append(reasons, ReasonEvidenceReset)
		}
		want.Completed = done
	}

	if want.Completed {
		if !want.Available {
			want.Available = true
			reasons = append(reasons, ReasonAvailableMissing)
		}
		if want.CompletedAt == nil {
			ts := now().UTC()
			want.CompletedAt = &ts
			if row.Completed {
				reasons = append(reasons, ReasonTimestampMissing)
			}
		}
	} else if want.CompletedAt != nil {
		want.CompletedAt = nil
		if !row.Completed {
			reasons = append(reasons, ReasonTimestampCleared)
		}
	}
	return want, reasons, nil
}

func apply(ctx context.Context, store Store, dryRun bool, row StepProgress) error {
	if dryRun {
		return nil
	}
	if err := store.UpsertProgress(ctx, row); err != nil {
		return &DataAccessError{Op: "reconcile", UserID: row.UserID, StepNumber: row.StepNumber, Err: err}
	}
	return nil
}
