package topics

import (
	"context"
	"fmt"

	"github.com/vitalis-labs/service_layer/internal/metrics"
)

// Store persists topic rows. Rows are column keyed maps including user_id.
type Store interface {
	// LatestRow returns the newest row of the user, or nil when there is none.
	LatestRow(ctx context.Context, def Definition, userID string) (map[string]interface{}, error)
	// UpsertRow writes row replacing any row with the same user_id.
	UpsertRow(ctx context.Context, def Definition, row map[string]interface{}) error
	// ReplaceRows deletes every row of the user and inserts row.
	ReplaceRows(ctx context.Context, def Definition, userID string, row map[string]interface{}) error
}

// Repository reads and writes answers of any registered topic.
type Repository struct {
	store    Store
	registry *Registry
	metrics  *metrics.Metrics
}

// NewRepository creates a repository over store.
func NewRepository(store Store, registry *Registry, m *metrics.Metrics) *Repository {
	return &Repository{store: store, registry: registry, metrics: m}
}

// Registry returns the topic registry.
func (r *Repository) Registry() *Registry {
	return r.registry
}

// Latest returns the user's saved answers, or nil when nothing is saved.
func (r *Repository) Latest(ctx context.Context, topic, userID string) (Answers, error) {
	def, err := r.registry.Get(topic)
	if err != nil {
		return nil, err
	}
	row, err := r.store.LatestRow(ctx, def, userID)
	if err != nil {
		return nil, fmt.Errorf("topics: fetch %s for %s: %w", topic, userID, err)
	}
	return def.FromRow(row), nil
}

// HasAnswer reports whether the user saved answers for topic.
func (r *Repository) HasAnswer(ctx context.Context, topic, userID string) (bool, error) {
	answers, err := r.Latest(ctx, topic, userID)
	if err != nil {
		return false, err
	}
	return answers != nil, nil
}

// Save validates and stores answers. Scalar topics are upserted on user_id;
// topics with list fields replace the user's rows.
func (r *Repository) Save(ctx context.Context, topic, userID string, answers Answers) error {
	def, err := r.registry.Get(topic)
	if err != nil {
		return err
	}
	row, err := def.ToRow(userID, answers)
	if err != nil {
		return err
	}

	if def.HasListFields() {
		err = r.store.ReplaceRows(ctx, def, userID, row)
	} else {
		err = r.store.UpsertRow(ctx, def, row)
	}
	r.metrics.RecordTopicSave(topic, err)
	if err != nil {
		return fmt.Errorf("topics: save %s for %s: %w", topic, userID, err)
	}
	return nil
}
