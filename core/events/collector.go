package events

// Collector buffers events emitted during a single speculative operation so
// the caller can forward them only once the operation commits. It is not
// safe for concurrent use; each operation gets its own collector.
type Collector struct {
	events []Event
}

// Emit implements the Emitter interface.
func (c *Collector) Emit(evt Event) {
	if c == nil || evt == nil {
		return
	}
	c.events = append(c.events, evt)
}

// Events returns the buffered events in emission order.
func (c *Collector) Events() []Event {
	if c == nil {
		return nil
	}
	return c.events
}
