// Package progress tracks per-user completion of the motivation journey and
// gates navigation so a step opens only after the one before it is complete.
package progress

import (
	"context"
	"sort"
	"time"
)

// TableProgressRows is the table progress rows are persisted in.
const TableProgressRows = "progress_rows"

// StepProgress is the persisted completion state of one step for one user.
// Rows are keyed by (user_id, step_number) and written only through upserts.
type StepProgress struct {
	UserID      string     `json:"user_id" db:"user_id"`
	StepNumber  int        `json:"step_number" db:"step_number"`
	StepName    string     `json:"step_name" db:"step_name"`
	Completed   bool       `json:"completed" db:"completed"`
	Available   bool       `json:"available" db:"available"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
}

// CompletedRow builds the row written when a step is completed.
func CompletedRow(userID string, stepNumber int, stepName string, at time.Time) StepProgress {
	ts := at.UTC()
	return StepProgress{
		UserID:      userID,
		StepNumber:  stepNumber,
		StepName:    stepName,
		Completed:   true,
		Available:   true,
		CompletedAt: &ts,
	}
}

// UnlockedRow builds the row written when a step is made available.
func UnlockedRow(userID string, stepNumber int, stepName string) StepProgress {
	return StepProgress{
		UserID:     userID,
		StepNumber: stepNumber,
		StepName:   stepName,
		Available:  true,
	}
}

// Consistent reports whether completed and completed_at agree.
func (p StepProgress) Consistent() bool {
	return p.Completed == (p.CompletedAt != nil)
}

// CompletedSet maps step ids to their completion flag.
type CompletedSet map[int]bool

// CompletedSetFromRows builds a set from stored rows.
func CompletedSetFromRows(rows []StepProgress) CompletedSet {
	set := make(CompletedSet, len(rows))
	for _, row := range rows {
		if row.Completed {
			set[row.StepNumber] = true
		}
	}
	return set
}

// Has reports whether id is completed.
func (s CompletedSet) Has(id int) bool {
	return s[id]
}

// Clone returns a copy of the set.
func (s CompletedSet) Clone() CompletedSet {
	out := make(CompletedSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// IDs returns the completed step ids in ascending order.
func (s CompletedSet) IDs() []int {
	ids := make([]int, 0, len(s))
	for id, done := range s {
		if done {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Store persists progress rows.
type Store interface {
	// ListProgress returns every row of a user. No rows is not an error.
	ListProgress(ctx context.Context, userID string) ([]StepProgress, error)
	// UpsertProgress inserts or replaces the row keyed by (user_id, step_number).
	UpsertProgress(ctx context.Context, row StepProgress) error
}

// ReconcileStore is a Store that can also scan rows across users.
type ReconcileStore interface {
	Store
	// ListProgressByStepNames returns every row whose step_name is in names.
	ListProgressByStepNames(ctx context.Context, names []string) ([]StepProgress, error)
}
