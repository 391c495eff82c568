// Package events publishes claim and quittance transitions to downstream
// consumers (notifications, accounting exports, dashboards).
//
// Publishing happens after a transition is committed. A failed publish is
// logged by the caller and never undoes the transition.
package events

import (
	"context"
	"sync"
	"time"
)

// TransitionEvent describes one committed state change.
type TransitionEvent struct {
	ID       string    `json:"id"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entity_id"`
	ClaimID  string    `json:"claim_id"`
	Action   string    `json:"action"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	ActorID  string    `json:"actor_id"`
	Role     string    `json:"role"`
	At       time.Time `json:"at"`
}

// Publisher delivers transition events.
type Publisher interface {
	Publish(ctx context.Context, event TransitionEvent) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, TransitionEvent) error { return nil }

// Recorder keeps events in memory. Used in tests and when no broker is
// configured.
type Recorder struct {
	mu     sync.Mutex
	events []TransitionEvent
	err    error
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, event TransitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

// FailWith makes every following Publish return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []TransitionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TransitionEvent(nil), r.events...)
}
