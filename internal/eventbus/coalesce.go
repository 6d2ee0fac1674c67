package eventbus

import (
	"sync"
	"time"
)

// Coalescer collapses repeated events of the same key within a window:
// a later event within the window replaces the payload of the pending one
// but keeps its original timestamp, so the window continues to run from
// first arrival rather than resetting on every update.
type Coalescer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]Event
}

// DefaultWindow is the coalescer's default window.
const DefaultWindow = 100 * time.Millisecond

// NewCoalescer constructs a coalescer with the given window (0 selects
// DefaultWindow).
func NewCoalescer(window time.Duration) *Coalescer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Coalescer{window: window, pending: make(map[string]Event)}
}

func coalescingKey(evt Event) string {
	if evt.CoalescingKey != "" {
		return evt.CoalescingKey
	}
	return evt.Type
}

// Coalesce applies the filter to evt. If a previously-pending event for the
// same key is evicted by this call (its window expired), it is returned
// with ok=true so the caller can forward it to the queue; otherwise ok is
// false and evt has been absorbed into (or started) the pending entry.
func (c *Coalescer) Coalesce(evt Event, now time.Time) (evicted Event, ok bool) {
	key := coalescingKey(evt)
	c.mu.Lock()
	defer c.mu.Unlock()

	pending, exists := c.pending[key]
	if !exists {
		c.pending[key] = evt
		return Event{}, false
	}

	age := now.Sub(time.Unix(0, pending.TimestampNS))
	if age < c.window {
		pending.Payload = evt.Payload
		pending.Seq = evt.Seq
		c.pending[key] = pending
		return Event{}, false
	}

	c.pending[key] = evt
	return pending, true
}

// Flush returns and clears every pending event, regardless of window
// state. Used on shutdown or an explicit drain request.
func (c *Coalescer) Flush() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, 0, len(c.pending))
	for _, evt := range c.pending {
		out = append(out, evt)
	}
	c.pending = make(map[string]Event)
	return out
}
