// Package notify delivers user facing notifications (toasts) produced by journey operations.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/vitalis-labs/service_layer/internal/logging"
)

// Kind classifies a notification.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
)

// Notification is a single message for a user.
type Notification struct {
	Kind    Kind      `json:"kind"`
	UserID  string    `json:"user_id"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives notifications. Delivery is fire-and-forget: implementations
// must not block the caller on slow transports and never return errors.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// =============================================================================
// Log notifier
// =============================================================================

// LogNotifier writes notifications to the service log.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a notifier backed by logger.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) {
	entry := n.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"notification": string(note.Kind),
		"user_id":      note.UserID,
	})
	if note.Kind == KindError {
		entry.Warn(note.Message)
		return
	}
	entry.Info(note.Message)
}

// =============================================================================
// Fan-out
// =============================================================================

// Multi delivers to every notifier in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// Discard drops notifications.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(context.Context, Notification) {}

// =============================================================================
// Recorder
// =============================================================================

// Recorder keeps notifications in memory. Safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	notes []Notification
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.notes))
	copy(out, r.notes)
	return out
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notes) == 0 {
		return Notification{}, false
	}
	return r.notes[len(r.notes)-1], true
}

// Reset clears the recorder.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = nil
}
