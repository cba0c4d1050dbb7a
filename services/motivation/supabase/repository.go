// Package supabase provides motivation-specific database operations over the
// Supabase REST API.
package supabase

import (
	"context"
	"fmt"
	"strings"

	"github.com/vitalis-labs/service_layer/internal/app/storage"
	"github.com/vitalis-labs/service_layer/internal/database"
	"github.com/vitalis-labs/service_layer/internal/progress"
	"github.com/vitalis-labs/service_layer/internal/topics"
)

// progressConflict is the composite key progress upserts resolve on.
const progressConflict = "user_id,step_number"

// Ensure Repository implements storage.Backend
var _ storage.Backend = (*Repository)(nil)

// Repository stores progress rows and topic answers in Supabase.
type Repository struct {
	base *database.Repository
}

// NewRepository creates a new motivation repository.
func NewRepository(base *database.Repository) *Repository {
	return &Repository{base: base}
}

// Ping implements storage.Backend.
func (r *Repository) Ping(ctx context.Context) error {
	return r.base.Ping(ctx)
}

// =============================================================================
// Progress rows
// =============================================================================

// ListProgress returns the user's rows ordered by step number.
func (r *Repository) ListProgress(ctx context.Context, userID string) ([]progress.StepProgress, error) {
	if err := database.ValidateUserID(userID); err != nil {
		return nil, err
	}
	return database.GenericListByField[progress.StepProgress](r.base, ctx, progress.TableProgressRows,
		database.Eq("user_id", userID), "step_number.asc", 0)
}

// UpsertProgress writes one row with merge-duplicates on (user_id, step_number).
func (r *Repository) UpsertProgress(ctx context.Context, row progress.StepProgress) error {
	if err := database.ValidateUserID(row.UserID); err != nil {
		return err
	}
	if row.StepNumber <= 0 {
		return fmt.Errorf("%w: step_number must be positive", database.ErrInvalidInput)
	}
	return database.GenericUpsert[progress.StepProgress](r.base, ctx, progress.TableProgressRows,
		row, progressConflict, nil)
}

// ListProgressByStepNames returns every user's rows for the named steps.
func (r *Repository) ListProgressByStepNames(ctx context.Context, names []string) ([]progress.StepProgress, error) {
	if len(names) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = `"` + strings.ReplaceAll(n, `"`, `\"`) + `"`
	}
	filter := database.Filter{"step_name": {"in.(" + strings.Join(quoted, ",") + ")"}}
	return database.GenericListByField[progress.StepProgress](r.base, ctx, progress.TableProgressRows,
		filter, "user_id.asc,step_number.asc", 0)
}

// =============================================================================
// Topic rows
// =============================================================================

// LatestRow returns the newest row of the topic table for the user.
func (r *Repository) LatestRow(ctx context.Context, def topics.Definition, userID string) (map[string]interface{}, error) {
	if err := database.ValidateUserID(userID); err != nil {
		return nil, err
	}
	filter := database.Eq("user_id", userID)
	filter["select"] = []string{"user_id," + strings.Join(def.Columns(), ",")}
	rows, err := database.GenericListByField[map[string]interface{}](r.base, ctx, def.Table, filter, "created_at.desc", 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// UpsertRow upserts a scalar topic row on user_id.
func (r *Repository) UpsertRow(ctx context.Context, def topics.Definition, row map[string]interface{}) error {
	userID, _ := row["user_id"].(string)
	if err := database.ValidateUserID(userID); err != nil {
		return err
	}
	return database.GenericUpsert[map[string]interface{}](r.base, ctx, def.Table, row, "user_id", nil)
}

// ReplaceRows deletes the user's rows then inserts row. PostgREST has no
// transaction across calls; a failed insert leaves the user without a row
// until they submit again.
func (r *Repository) ReplaceRows(ctx context.Context, def topics.Definition, userID string, row map[string]interface{}) error {
	if err := database.ValidateUserID(userID); err != nil {
		return err
	}
	if err := database.GenericDeleteByField(r.base, ctx, def.Table, database.Eq("user_id", userID)); err != nil {
		return err
	}
	withUser := make(map[string]interface{}, len(row)+1)
	for k, v := range row {
		withUser[k] = v
	}
	withUser["user_id"] = userID
	return database.GenericCreate[map[string]interface{}](r.base, ctx, def.Table, withUser, nil)
}
