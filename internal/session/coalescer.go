package session

import (
	"sync"
	"time"
)

// DefaultFlushInterval caps downstream refresh notifications at 10 Hz.
const DefaultFlushInterval = 100 * time.Millisecond

// Coalescer rate-limits refresh notifications. MarkDirty may be called
// arbitrarily often from any state-mutating path; at most one flush fires
// per interval, and a flush only signals "something changed since the last
// flush" — consumers re-read current state.
type Coalescer struct {
	interval time.Duration
	onFlush  func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	closed  bool
}

// NewCoalescer creates a Coalescer invoking onFlush at most once per
// interval. A non-positive interval falls back to the default.
func NewCoalescer(interval time.Duration, onFlush func()) *Coalescer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Coalescer{interval: interval, onFlush: onFlush}
}

// MarkDirty schedules a flush if none is pending; otherwise it is a no-op.
func (c *Coalescer) MarkDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending || c.closed {
		return
	}
	c.pending = true
	c.timer = time.AfterFunc(c.interval, c.flush)
}

func (c *Coalescer) flush() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = false
	fn := c.onFlush
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close cancels any scheduled flush and prevents new ones.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
}
