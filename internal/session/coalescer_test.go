package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescerCollapsesBurst(t *testing.T) {
	var flushes atomic.Int32
	c := NewCoalescer(30*time.Millisecond, func() { flushes.Add(1) })
	defer c.Close()

	for i := 0; i < 50; i++ {
		c.MarkDirty()
	}

	require.Eventually(t, func() bool { return flushes.Load() == 1 }, time.Second, 5*time.Millisecond)

	// No further flush without a new dirty mark.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), flushes.Load())
}

func TestCoalescerFlushesAgainAfterNewMark(t *testing.T) {
	var flushes atomic.Int32
	c := NewCoalescer(20*time.Millisecond, func() { flushes.Add(1) })
	defer c.Close()

	c.MarkDirty()
	require.Eventually(t, func() bool { return flushes.Load() == 1 }, time.Second, 5*time.Millisecond)

	c.MarkDirty()
	require.Eventually(t, func() bool { return flushes.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestCoalescerCloseStopsPendingFlush(t *testing.T) {
	var flushes atomic.Int32
	c := NewCoalescer(30*time.Millisecond, func() { flushes.Add(1) })

	c.MarkDirty()
	c.Close()
	c.MarkDirty()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), flushes.Load())
}
