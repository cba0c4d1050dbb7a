package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitalis-labs/service_layer/internal/progress"
	"github.com/vitalis-labs/service_layer/internal/topics"
)

// Memory is a thread-safe in-memory backend for tests and local development.
type Memory struct {
	mu       sync.RWMutex
	progress map[string]map[int]progress.StepProgress
	topics   map[string]map[string][]map[string]interface{}
	now      func() time.Time
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		progress: make(map[string]map[int]progress.StepProgress),
		topics:   make(map[string]map[string][]map[string]interface{}),
		now:      time.Now,
	}
}

// Ping implements Backend.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Progress rows ---------------------------------------------------------------

// ListProgress implements progress.Store.
func (m *Memory) ListProgress(_ context.Context, userID string) ([]progress.StepProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]progress.StepProgress, 0, len(m.progress[userID]))
	for _, row := range m.progress[userID] {
		out = append(out, cloneProgress(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

// UpsertProgress implements progress.Store.
func (m *Memory) UpsertProgress(_ context.Context, row progress.StepProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.progress[row.UserID]
	if !ok {
		rows = make(map[int]progress.StepProgress)
		m.progress[row.UserID] = rows
	}
	rows[row.StepNumber] = cloneProgress(row)
	return nil
}

// ListProgressByStepNames implements progress.ReconcileStore.
func (m *Memory) ListProgressByStepNames(_ context.Context, names []string) ([]progress.StepProgress, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []progress.StepProgress
	for _, rows := range m.progress {
		for _, row := range rows {
			if wanted[row.StepName] {
				out = append(out, cloneProgress(row))
			}
		}
	}
	return out, nil
}

// Topic rows ------------------------------------------------------------------

// LatestRow implements topics.Store.
func (m *Memory) LatestRow(_ context.Context, def topics.Definition, userID string) (map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.topics[def.Table][userID]
	if len(rows) == 0 {
		return nil, nil
	}
	return copyMap(rows[len(rows)-1]), nil
}

// UpsertRow implements topics.Store.
func (m *Memory) UpsertRow(_ context.Context, def topics.Definition, row map[string]interface{}) error {
	userID, _ := row["user_id"].(string)

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.tableLocked(def.Table)[userID]
	stored := copyMap(row)
	now := m.now().UTC()
	if len(existing) > 0 {
		prev := existing[len(existing)-1]
		stored["id"] = prev["id"]
		stored["created_at"] = prev["created_at"]
	} else {
		stored["id"] = uuid.NewString()
		stored["created_at"] = now
	}
	stored["updated_at"] = now
	m.topics[def.Table][userID] = []map[string]interface{}{stored}
	return nil
}

// ReplaceRows implements topics.Store.
func (m *Memory) ReplaceRows(_ context.Context, def topics.Definition, userID string, row map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := copyMap(row)
	now := m.now().UTC()
	stored["id"] = uuid.NewString()
	stored["user_id"] = userID
	stored["created_at"] = now
	stored["updated_at"] = now
	m.tableLocked(def.Table)[userID] = []map[string]interface{}{stored}
	return nil
}

func (m *Memory) tableLocked(table string) map[string][]map[string]interface{} {
	t, ok := m.topics[table]
	if !ok {
		t = make(map[string][]map[string]interface{})
		m.topics[table] = t
	}
	return t
}

func cloneProgress(row progress.StepProgress) progress.StepProgress {
	if row.CompletedAt != nil {
		ts := *row.CompletedAt
		row.CompletedAt = &ts
	}
	return row
}

func copyMap(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		if list, ok := v.([]string); ok {
			cp := make([]string, len(list))
			copy(cp, list)
			v = cp
		}
		out[k] = v
	}
	return out
}
