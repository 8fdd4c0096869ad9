package modes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskforge/tradeterm/internal/domain"
)

var (
	ctxA = domain.Context{Mode: domain.ModeLive, Account: "Acct1"}
	ctxB = domain.Context{Mode: domain.ModeSim, Account: "Sim1"}
)

// fakeClock drives the debouncer's injected time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDebouncer() (*Debouncer, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)}
	d := NewDebouncer(DefaultWindow, DefaultQuorum)
	d.now = clock.now
	return d, clock
}

func TestTwoAgreeingSignalsCommitExactlyOnce(t *testing.T) {
	d, clock := newTestDebouncer()

	_, committed := d.Signal(ctxA)
	assert.False(t, committed)

	clock.advance(100 * time.Millisecond)
	prev, committed := d.Signal(ctxA)
	require.True(t, committed)
	assert.Equal(t, domain.Context{}, prev)
	assert.Equal(t, ctxA, d.Active())

	// A third identical signal is a no-op against the committed context.
	_, committed = d.Signal(ctxA)
	assert.False(t, committed)
}

func TestDisagreementResetsCandidate(t *testing.T) {
	d, clock := newTestDebouncer()

	// A, B, A within the window: no commit, B reset the A candidate and A
	// reset the B candidate.
	_, committed := d.Signal(ctxA)
	assert.False(t, committed)
	clock.advance(50 * time.Millisecond)
	_, committed = d.Signal(ctxB)
	assert.False(t, committed)
	clock.advance(50 * time.Millisecond)
	_, committed = d.Signal(ctxA)
	assert.False(t, committed)
	assert.Equal(t, domain.Context{}, d.Active())

	// A second A after the reset completes the quorum.
	clock.advance(50 * time.Millisecond)
	_, committed = d.Signal(ctxA)
	require.True(t, committed)
	assert.Equal(t, ctxA, d.Active())
}

func TestWindowExpiryDiscardsLonelyCandidate(t *testing.T) {
	d, clock := newTestDebouncer()

	_, committed := d.Signal(ctxA)
	assert.False(t, committed)

	clock.advance(DefaultWindow + time.Millisecond)
	d.ExpirePending()
	_, pending := d.Pending()
	assert.False(t, pending)

	// The next A starts over at count 1 rather than completing a quorum.
	_, committed = d.Signal(ctxA)
	assert.False(t, committed)
}

func TestLateSecondSignalDoesNotCommit(t *testing.T) {
	d, clock := newTestDebouncer()

	d.Signal(ctxA)
	clock.advance(DefaultWindow + 10*time.Millisecond)

	// No timer fired, but the lazy expiry on Signal must still apply.
	_, committed := d.Signal(ctxA)
	assert.False(t, committed)
}

func TestResetDiscardsPendingCandidate(t *testing.T) {
	d, clock := newTestDebouncer()

	d.Signal(ctxA)
	d.Reset()
	clock.advance(10 * time.Millisecond)
	_, committed := d.Signal(ctxA)
	assert.False(t, committed)
}

func TestSeedActiveIsOverriddenByCommit(t *testing.T) {
	d, clock := newTestDebouncer()

	d.SeedActive(ctxB)
	assert.Equal(t, ctxB, d.Active())

	d.Signal(ctxA)
	clock.advance(10 * time.Millisecond)
	prev, committed := d.Signal(ctxA)
	require.True(t, committed)
	assert.Equal(t, ctxB, prev)
	assert.Equal(t, ctxA, d.Active())
}
