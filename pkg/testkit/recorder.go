// Package testkit provides test helpers: an event recorder, message builders
// and assertions, and httptest servers that mimic the LLM backends.
package testkit

import (
	"sync"
	"time"

	"storepilot/pkg/events"
)

// Subscriber is anything events can be recorded from.
type Subscriber interface {
	Subscribe(h events.Handler) func()
}

// Recorder keeps every event it sees. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
	stop   func()
}

// Record subscribes a new Recorder to src.
func Record(src Subscriber) *Recorder {
	r := &Recorder{}
	r.stop = src.Subscribe(r.handle)
	return r
}

// OnFunc adapts a subscribe function such as Orchestrator.On.
type OnFunc func(h events.Handler) func()

// Subscribe calls f.
func (f OnFunc) Subscribe(h events.Handler) func() { return f(h) }

func (r *Recorder) handle(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Stop unsubscribes the recorder.
func (r *Recorder) Stop() { r.stop() }

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// OfKind returns the recorded events of kind.
func (r *Recorder) OfKind(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// WaitFor polls until at least n events of kind were recorded or timeout
// passes. It reports whether the count was reached.
func (r *Recorder) WaitFor(kind events.Kind, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.Count(kind) >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
