package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscribedChannel(t *testing.T) {
	b := NewBus()
	ctx := context.Background()

	msgs, stop, err := b.Subscribe(ctx, "ch:session")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, b.Publish(ctx, "ch:session", []byte("hello")))
	require.NoError(t, b.Publish(ctx, "ch:other", []byte("ignored")))

	select {
	case msg := <-msgs:
		assert.Equal(t, "ch:session", msg.Channel)
		assert.Equal(t, []byte("hello"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case msg := <-msgs:
		t.Fatalf("unexpected message on %s", msg.Channel)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusStopClosesChannel(t *testing.T) {
	b := NewBus()

	msgs, stop, err := b.Subscribe(context.Background(), "ch:session")
	require.NoError(t, err)

	stop()
	stop() // idempotent

	_, open := <-msgs
	assert.False(t, open)

	// Publishing after stop must not panic or deliver.
	require.NoError(t, b.Publish(context.Background(), "ch:session", []byte("late")))
}

func TestBusContextCancelStops(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	msgs, _, err := b.Subscribe(ctx, "ch:session")
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-msgs:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed on context cancel")
	}
}

func TestBusSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBus()
	ctx := context.Background()

	_, stop, err := b.Subscribe(ctx, "ch:session")
	require.NoError(t, err)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = b.Publish(ctx, "ch:session", []byte("burst"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
