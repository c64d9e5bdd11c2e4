package events

import "sync"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
// It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Ring retains the most recent events in a fixed-size buffer so tests and
// operators can observe transitions without an external subscriber.
type Ring struct {
	mu     sync.Mutex
	buf    []Event
	next   int
	filled bool
}

// NewRing creates a ring buffer holding up to capacity events. A
// non-positive capacity defaults to 128.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 128
	}
	return &Ring{buf: make([]Event, capacity)}
}

// Emit implements the Emitter interface.
func (r *Ring) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = evt
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
}

// Events returns the retained events oldest-first.
func (r *Ring) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	if r.filled {
		out = append(out, r.buf[r.next:]...)
	}
	out = append(out, r.buf[:r.next]...)
	collected := make([]Event, 0, len(out))
	for _, evt := range out {
		if evt != nil {
			collected = append(collected, evt)
		}
	}
	return collected
}
