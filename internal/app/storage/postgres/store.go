// Package postgres implements the storage backend directly on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vitalis-labs/service_layer/internal/app/storage"
	"github.com/vitalis-labs/service_layer/internal/progress"
	"github.com/vitalis-labs/service_layer/internal/topics"
)

// Store implements storage.Backend backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Backend = (*Store)(nil)

// Config configures the connection pool.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLife > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLife)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying handle, for migrations.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping implements storage.Backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Progress rows ----------------------------------------------------------

// ListProgress implements progress.Store.
func (s *Store) ListProgress(ctx context.Context, userID string) ([]progress.StepProgress, error) {
	var rows []progress.StepProgress
	err := s.db.SelectContext(ctx, &rows, `
		SELECT user_id, step_number, step_name, completed, available, completed_at
		FROM progress_rows
		WHERE user_id = $1
		ORDER BY step_number
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertProgress implements progress.Store.
func (s *Store) UpsertProgress(ctx context.Context, row progress.StepProgress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO progress_rows (user_id, step_number, step_name, completed, available, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, step_number) DO UPDATE
		SET step_name = EXCLUDED.step_name, completed = EXCLUDED.completed, available = EXCLUDED.available, completed_at = EXCLUDED.completed_at, updated_at = NOW()
	`, row.UserID, row.StepNumber, row.StepName, row.Completed, row.Available, row.CompletedAt)
	return err
}

// ListProgressByStepNames implements progress.ReconcileStore.
func (s *Store) ListProgressByStepNames(ctx context.Context, names []string) ([]progress.StepProgress, error) {
	var rows []progress.StepProgress
	err := s.db.SelectContext(ctx, &rows, `
		SELECT user_id, step_number, step_name, completed, available, completed_at
		FROM progress_rows
		WHERE step_name = ANY($1)
		ORDER BY user_id, step_number
	`, pq.Array(names))
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// --- Topic rows -------------------------------------------------------------

// LatestRow implements topics.Store.
func (s *Store) LatestRow(ctx context.Context, def topics.Definition, userID string) (map[string]interface{}, error) {
	cols := def.Columns()
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1",
		quoteColumns(cols), pq.QuoteIdentifier(def.Table),
	)

	dests := make([]interface{}, len(def.Fields))
	for i, f := range def.Fields {
		dests[i] = scanTarget(f.Kind)
	}
	if err := s.db.QueryRowxContext(ctx, query, userID).Scan(dests...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	row := map[string]interface{}{"user_id": userID}
	for i, f := range def.Fields {
		row[f.Column] = scanValue(dests[i])
	}
	return row, nil
}

// UpsertRow implements topics.Store. The table must be unique on user_id.
func (s *Store) UpsertRow(ctx context.Context, def topics.Definition, row map[string]interface{}) error {
	cols := append([]string{"user_id"}, def.Columns()...)
	updates := make([]string, 0, len(cols))
	for _, c := range cols[1:] {
		q := pq.QuoteIdentifier(c)
		updates = append(updates, q+" = EXCLUDED."+q)
	}
	updates = append(updates, "updated_at = NOW()")

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (user_id) DO UPDATE SET %s",
		pq.QuoteIdentifier(def.Table), quoteColumns(cols), placeholders(len(cols)), strings.Join(updates, ", "),
	)
	_, err := s.db.ExecContext(ctx, query, rowArgs(cols, row)...)
	return err
}

// ReplaceRows implements topics.Store in a single transaction.
func (s *Store) ReplaceRows(ctx context.Context, def topics.Definition, userID string, row map[string]interface{}) (err error) {
	cols := append([]string{"user_id"}, def.Columns()...)
	withUser := make(map[string]interface{}, len(row)+1)
	for k, v := range row {
		withUser[k] = v
	}
	withUser["user_id"] = userID

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	table := pq.QuoteIdentifier(def.Table)
	if _, err = tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE user_id = $1", userID); err != nil {
		return err
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, quoteColumns(cols), placeholders(len(cols)))
	if _, err = tx.ExecContext(ctx, insert, rowArgs(cols, withUser)...); err != nil {
		return err
	}
	return tx.Commit()
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ph, ", ")
}

func rowArgs(cols []string, row map[string]interface{}) []interface{} {
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		v := row[c]
		if list, ok := v.([]string); ok {
			v = pq.Array(list)
		}
		args[i] = v
	}
	return args
}

func scanTarget(kind topics.FieldKind) interface{} {
	switch kind {
	case topics.KindNumber:
		return &sql.NullFloat64{}
	case topics.KindBool:
		return &sql.NullBool{}
	case topics.KindList:
		return &pq.StringArray{}
	default:
		return &sql.NullString{}
	}
}

func scanValue(dest interface{}) interface{} {
	switch v := dest.(type) {
	case *sql.NullString:
		if v.Valid {
			return v.String
		}
	case *sql.NullFloat64:
		if v.Valid {
			return v.Float64
		}
	case *sql.NullBool:
		if v.Valid {
			return v.Bool
		}
	case *pq.StringArray:
		if *v == nil {
			return []string{}
		}
		return []string(*v)
	}
	return nil
}
