package progress

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/vitalis-labs/service_layer/internal/logging"
	"github.com/vitalis-labs/service_layer/internal/notify"
)

var errStoreDown = errors.New("store unavailable")

// memoryStore is a progress store keyed by (user, step) with per-operation
// error injection.
type memoryStore struct {
	mu      sync.Mutex
	rows    map[string]map[int]StepProgress
	errs    map[string][]error
	upserts int
	block   chan struct{}
	// afterList runs once the rows of a list call are captured, outside the lock.
	afterList func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		rows: make(map[string]map[int]StepProgress),
		errs: make(map[string][]error),
	}
}

// setErr queues an error for the next call of op ("list", "upsert", "scan").
func (m *memoryStore) setErr(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = append(m.errs[op], err)
}

func (m *memoryStore) takeErr(op string) error {
	queue := m.errs[op]
	if len(queue) == 0 {
		return nil
	}
	m.errs[op] = queue[1:]
	return queue[0]
}

func (m *memoryStore) ListProgress(_ context.Context, userID string) ([]StepProgress, error) {
	m.mu.Lock()
	if err := m.takeErr("list"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	var out []StepProgress
	for _, row := range m.rows[userID] {
		out = append(out, row)
	}
	hook := m.afterList
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	if hook != nil {
		hook()
	}
	return out, nil
}

// holdNextList makes the next list call wait after reading its rows until
// the returned release func is called. entered is closed when it starts waiting.
func (m *memoryStore) holdNextList() (entered <-chan struct{}, release func()) {
	in := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	m.mu.Lock()
	m.afterList = func() {
		first := false
		once.Do(func() { first = true })
		if !first {
			return
		}
		close(in)
		<-gate
	}
	m.mu.Unlock()
	var releaseOnce sync.Once
	return in, func() { releaseOnce.Do(func() { close(gate) }) }
}

func (m *memoryStore) UpsertProgress(_ context.Context, row StepProgress) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if err := m.takeErr("upsert"); err != nil {
		return err
	}
	if m.rows[row.UserID] == nil {
		m.rows[row.UserID] = make(map[int]StepProgress)
	}
	m.rows[row.UserID][row.StepNumber] = row
	return nil
}

func (m *memoryStore) ListProgressByStepNames(_ context.Context, names []string) ([]StepProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr("scan"); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []StepProgress
	for _, user := range m.rows {
		for _, row := range user {
			if wanted[row.StepName] {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

func (m *memoryStore) row(userID string, step int) (StepProgress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[userID][step]
	return row, ok
}

func (m *memoryStore) count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[userID])
}

func (m *memoryStore) put(row StepProgress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[row.UserID] == nil {
		m.rows[row.UserID] = make(map[int]StepProgress)
	}
	m.rows[row.UserID][row.StepNumber] = row
}

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func testCatalog() *Catalog {
	return MustCatalog([]Step{
		{ID: 1, Name: "Welcome"},
		{ID: 2, Name: "Values", Topic: "values"},
		{ID: 3, Name: "Goals", Topic: "goals"},
		{ID: 4, Name: "Behaviors", Topic: "behaviors"},
		{ID: 5, Name: "Obstacles", Topic: "obstacles"},
		{ID: 6, Name: "Commitment", Topic: "commitment"},
	})
}

func newTestTracker(t *testing.T) (*Tracker, *memoryStore, *notify.Recorder) {
	t.Helper()
	store := newMemoryStore()
	rec := &notify.Recorder{}
	tracker, err := NewTracker(Config{
		Store:    store,
		Notifier: rec,
		Logger:   logging.NewDiscard(),
		Now:      func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tracker, store, rec
}
