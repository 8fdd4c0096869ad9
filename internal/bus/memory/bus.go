// Package memory implements the signal bus in-process, for single-terminal
// deployments that run without Redis.
package memory

import (
	"context"
	"sync"

	"github.com/deskforge/tradeterm/internal/domain"
)

type subscriber struct {
	channels map[string]struct{}
	out      chan domain.BusMessage
}

// Bus is an in-process domain.SignalBus. Delivery is best effort: a
// subscriber that stops draining its channel loses messages rather than
// blocking publishers.
type Bus struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers payload to every current subscriber of channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if _, ok := sub.channels[channel]; !ok {
			continue
		}
		select {
		case sub.out <- domain.BusMessage{Channel: channel, Payload: payload}:
		default:
			// Slow subscriber: drop rather than stall the session.
		}
	}
	return nil
}

// Subscribe registers a subscriber for the given channels. The returned stop
// function removes the subscription and closes the message channel.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) (<-chan domain.BusMessage, func(), error) {
	sub := &subscriber{
		channels: make(map[string]struct{}, len(channels)),
		out:      make(chan domain.BusMessage, 128),
	}
	for _, ch := range channels {
		sub.channels[ch] = struct{}{}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.out)
		})
	}

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			stop()
		}()
	}

	return sub.out, stop, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*Bus)(nil)
