// Package modes implements mode/account switching for a terminal session:
// the debounced transition state machine, the append-only history log, and
// the TTL-bound provisional boot state.
package modes

import (
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
)

const (
	// DefaultWindow is the debounce window for agreeing signals.
	DefaultWindow = 750 * time.Millisecond
	// DefaultQuorum is the number of agreeing signals required to commit.
	DefaultQuorum = 2
)

// candidate is a transient pending transition. It is reset whenever a
// disagreeing signal arrives or the window elapses without reaching quorum.
type candidate struct {
	ctx       domain.Context
	firstSeen time.Time
	count     int
}

// Debouncer filters noisy or contradictory mode/account signals into a
// single committed transition. It is a pure state machine: no I/O, time is
// injected, and the caller performs the commit side effects (history append,
// provisional save, publication).
type Debouncer struct {
	window time.Duration
	quorum int

	active  domain.Context
	pending *candidate

	now func() time.Time
}

// NewDebouncer creates a Debouncer. Non-positive window or quorum fall back
// to the defaults.
func NewDebouncer(window time.Duration, quorum int) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	if quorum < 1 {
		quorum = DefaultQuorum
	}
	return &Debouncer{window: window, quorum: quorum, now: time.Now}
}

// Active returns the committed active context.
func (d *Debouncer) Active() domain.Context {
	return d.active
}

// SeedActive installs a provisional active context at boot. It does not count
// as a committed transition; the first real commit overrides it.
func (d *Debouncer) SeedActive(ctx domain.Context) {
	d.active = ctx
}

// Signal feeds one raw mode/account signal into the state machine. It
// returns the previous context and true when the signal completes a quorum
// and the candidate is committed as the new active context.
//
// A signal equal to the already-committed context is a no-op and never
// enters the pending state. A disagreeing signal discards the pending
// candidate and restarts it with the new context.
func (d *Debouncer) Signal(ctx domain.Context) (previous domain.Context, committed bool) {
	now := d.now()
	d.expire(now)

	if ctx == d.active {
		return d.active, false
	}

	if d.pending == nil || d.pending.ctx != ctx {
		d.pending = &candidate{ctx: ctx, firstSeen: now, count: 1}
	} else {
		d.pending.count++
	}

	if d.pending.count < d.quorum {
		return d.active, false
	}

	previous = d.active
	d.active = d.pending.ctx
	d.pending = nil
	return previous, true
}

// ExpirePending discards a pending candidate whose window has elapsed
// without reaching quorum. Intended to be driven by the session's timer; the
// same check also runs lazily on every Signal.
func (d *Debouncer) ExpirePending() {
	d.expire(d.now())
}

// Reset clears any pending candidate. Used after explicit mode changes and
// on disconnect so stale signals cannot complete a quorum later.
func (d *Debouncer) Reset() {
	d.pending = nil
}

// Pending reports whether a candidate is awaiting quorum, and which.
func (d *Debouncer) Pending() (domain.Context, bool) {
	if d.pending == nil {
		return domain.Context{}, false
	}
	return d.pending.ctx, true
}

func (d *Debouncer) expire(now time.Time) {
	if d.pending != nil && now.Sub(d.pending.firstSeen) >= d.window {
		d.pending = nil
	}
}
