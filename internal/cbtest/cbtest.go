// Package cbtest contains test helpers and fakes for the content-blocking
// packages.
package cbtest

import (
	"context"
	"slices"
	"sync"

	"github.com/AdguardTeam/TrackerShield/internal/cbevent"
)

// EventRecorder is a [cbevent.Reporter] that saves the reported events.  It is
// safe for concurrent use.
type EventRecorder struct {
	// mu protects events.
	mu     *sync.Mutex
	events []*cbevent.Event
}

// NewEventRecorder returns a new empty *EventRecorder.
func NewEventRecorder() (r *EventRecorder) {
	return &EventRecorder{
		mu: &sync.Mutex{},
	}
}

// type check
var _ cbevent.Reporter = (*EventRecorder)(nil)

// Report implements the [cbevent.Reporter] interface for *EventRecorder.
func (r *EventRecorder) Report(_ context.Context, e *cbevent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() (events []*cbevent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.events)
}

// Count returns the number of recorded events of the given kind.
func (r *EventRecorder) Count(kind cbevent.Kind) (n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}

	return n
}
