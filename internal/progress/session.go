package progress

import (
	"context"
	"sync"
	"time"
)

// StepView is one catalog step annotated with the user's progress.
type StepView struct {
	Step
	Completed bool `json:"completed"`
	Locked    bool `json:"locked"`
}

// View is a snapshot of a session.
type View struct {
	UserID         string     `json:"user_id"`
	CurrentStep    int        `json:"current_step"`
	MaxAllowedStep int        `json:"max_allowed_step"`
	Busy           bool       `json:"busy"`
	Stale          bool       `json:"stale,omitempty"`
	Steps          []StepView `json:"steps"`
}

// Session owns the navigation state of one user: the completed set loaded
// from the store and the step currently shown. Safe for concurrent use.
type Session struct {
	tracker *Tracker
	catalog *Catalog
	userID  string

	mu        sync.Mutex
	completed CompletedSet
	current   int
	loaded    bool
	stale     bool
	busy      bool
	closed    bool
	lastUsed  time.Time

	// gen counts completions applied in memory; appliedAt records the gen
	// each completed step was applied at so a slower read can keep them.
	gen       uint64
	appliedAt map[int]uint64
	// loadSeq numbers reads as they start; appliedSeq is the newest read
	// whose result is in completed.
	loadSeq    uint64
	appliedSeq uint64

	ready     chan struct{}
	readyOnce sync.Once
}

// NewSession creates a session positioned on the first step. Nothing is read
// until Refresh is called.
func (t *Tracker) NewSession(userID string, catalog *Catalog) *Session {
	return &Session{
		tracker:   t,
		catalog:   catalog,
		userID:    userID,
		completed: CompletedSet{},
		current:   catalog.First().ID,
		lastUsed:  t.now(),
		appliedAt: make(map[int]uint64),
		ready:     make(chan struct{}),
	}
}

// UserID returns the session owner.
func (s *Session) UserID() string {
	return s.userID
}

// Refresh reloads the completed set. Read failures never fail the caller: the
// first load falls back to an all-incomplete set and later loads keep the
// last known state. Both cases mark the view stale.
//
// Completions applied while the read was in flight are kept, and a read
// that finishes after a newer one is discarded.
func (s *Session) Refresh(ctx context.Context) View {
	defer s.markReady()

	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	startGen := s.gen
	s.mu.Unlock()

	completed, err := s.tracker.LoadProgress(ctx, s.userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.closed {
		return s.viewLocked()
	}

	if err != nil {
		s.tracker.metrics.RecordLoadFallback()
		s.tracker.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"user_id": s.userID,
			"cached":  s.loaded,
		}).Warn("load progress failed, using fallback state")
		s.stale = true
		if !s.loaded && s.gen == startGen {
			s.completed = CompletedSet{}
		}
		return s.viewLocked()
	}

	if seq < s.appliedSeq {
		return s.viewLocked()
	}
	s.appliedSeq = seq

	if s.gen != startGen {
		merged := completed.Clone()
		for id, at := range s.appliedAt {
			if at > startGen {
				merged[id] = true
			}
		}
		completed = merged
	}

	first := !s.loaded
	s.completed = completed
	s.loaded = true
	s.stale = false

	maxAllowed := s.clampLocked(ComputeMaxAllowedStep(completed))
	if first || s.current > maxAllowed {
		s.current = maxAllowed
	}
	return s.viewLocked()
}

// Ready is closed once the first Refresh has finished, successfully or not.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// View returns the current snapshot without touching the store.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// SelectStep moves to the requested step if it is reachable. Gated requests
// are ignored and reported through the returned flag.
func (s *Session) SelectStep(requested int) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	next, accepted := SelectStep(s.current, requested, s.catalog, s.completed)
	s.tracker.metrics.RecordStepSelection(accepted)
	if accepted && !s.closed {
		s.current = next
	}
	return s.viewLocked(), accepted
}

// CompleteCurrent completes the step currently shown.
func (s *Session) CompleteCurrent(ctx context.Context) (View, error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	return s.Complete(ctx, current)
}

// Complete marks a reachable step complete. On success the step joins the
// completed set and the session advances to the following step when there is
// one. On failure the in-memory state is left untouched.
func (s *Session) Complete(ctx context.Context, stepID int) (View, error) {
	step, err := s.begin(stepID)
	if err != nil {
		return s.View(), err
	}

	err = s.tracker.MarkStepComplete(ctx, s.userID, step.ID, step.Name)

	return s.finish(step.ID, err == nil), err
}

// CompleteAndUnlockNext marks a reachable step complete and makes the catalog
// step after it available. The final step is completed without an unlock.
// A *PartialUnlockError still counts as a completed step.
func (s *Session) CompleteAndUnlockNext(ctx context.Context, stepID int) (View, error) {
	step, err := s.begin(stepID)
	if err != nil {
		return s.View(), err
	}

	next, hasNext := s.catalog.Next(step.ID)
	if !hasNext {
		err = s.tracker.MarkStepComplete(ctx, s.userID, step.ID, step.Name)
		return s.finish(step.ID, err == nil), err
	}

	result, err := s.tracker.MarkStepCompleteAndUnlockNext(ctx, s.userID, step.ID, step.Name, next.ID, next.Name)
	return s.finish(step.ID, result.Completed), err
}

// Close disposes the session. Writes already in flight still reach the store
// but their results no longer change the session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LastUsed returns when the session last served a request.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// begin validates a completion request and marks the session busy.
func (s *Session) begin(stepID int) (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.closed {
		return Step{}, ErrSessionClosed
	}
	if s.busy {
		return Step{}, ErrBusy
	}
	step, ok := s.catalog.Get(stepID)
	if !ok {
		return Step{}, ErrUnknownStep
	}
	if stepID > ComputeMaxAllowedStep(s.completed) {
		return Step{}, ErrStepLocked
	}
	s.busy = true
	return step, nil
}

// finish clears the busy flag and applies a successful completion.
func (s *Session) finish(stepID int, completed bool) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if completed && !s.closed {
		completedSet := s.completed.Clone()
		completedSet[stepID] = true
		s.completed = completedSet
		s.gen++
		s.appliedAt[stepID] = s.gen
		if next, ok := s.catalog.Next(stepID); ok {
			s.current = next.ID
		}
	}
	return s.viewLocked()
}

func (s *Session) clampLocked(id int) int {
	if last := s.catalog.Last().ID; id > last {
		return last
	}
	return id
}

func (s *Session) touch() {
	s.lastUsed = s.tracker.now()
}

func (s *Session) viewLocked() View {
	maxAllowed := ComputeMaxAllowedStep(s.completed)
	steps := make([]StepView, 0, s.catalog.Len())
	for _, step := range s.catalog.steps {
		steps = append(steps, StepView{
			Step:      step,
			Completed: s.completed.Has(step.ID),
			Locked:    step.ID > maxAllowed,
		})
	}
	return View{
		UserID:         s.userID,
		CurrentStep:    s.current,
		MaxAllowedStep: maxAllowed,
		Busy:           s.busy,
		Stale:          s.stale,
		Steps:          steps,
	}
}

// =============================================================================
// Session registry
// =============================================================================

// Sessions keeps one Session per user.
type Sessions struct {
	tracker *Tracker
	catalog *Catalog

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions(tracker *Tracker, catalog *Catalog) *Sessions {
	return &Sessions{
		tracker:  tracker,
		catalog:  catalog,
		sessions: make(map[string]*Session),
	}
}

// Catalog returns the catalog sessions are built on.
func (m *Sessions) Catalog() *Catalog {
	return m.catalog
}

// Tracker returns the tracker sessions write through.
func (m *Sessions) Tracker() *Tracker {
	return m.tracker
}

// Get returns the user's session, creating and loading it on first use.
func (m *Sessions) Get(ctx context.Context, userID string) *Session {
	s, _ := m.Load(ctx, userID)
	return s
}

// Load is Get that also reports whether this call performed the first read.
// Callers that find a session still loading wait for that read, so no one
// sees a session before its completed set is known.
func (m *Sessions) Load(ctx context.Context, userID string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if !ok {
		s = m.tracker.NewSession(userID, m.catalog)
		m.sessions[userID] = s
	}
	n := len(m.sessions)
	m.mu.Unlock()

	m.tracker.metrics.SetActiveSessions(n)
	if !ok {
		s.Refresh(ctx)
		return s, true
	}
	select {
	case <-s.Ready():
	case <-ctx.Done():
	}
	return s, false
}

// Close closes and forgets the user's session.
func (m *Sessions) Close(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	n := len(m.sessions)
	m.mu.Unlock()

	if ok {
		s.Close()
	}
	m.tracker.metrics.SetActiveSessions(n)
}

// Evict closes sessions idle for longer than maxIdle and returns how many were removed.
func (m *Sessions) Evict(maxIdle time.Duration) int {
	cutoff := m.tracker.now().Add(-maxIdle)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastUsed().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	m.tracker.metrics.SetActiveSessions(n)
	return len(idle)
}

// Len returns the number of open sessions.
func (m *Sessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
