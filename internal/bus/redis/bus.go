package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/deskforge/tradeterm/internal/domain"
)

// Bus implements domain.SignalBus on Redis Pub/Sub. Session events published
// here fan out to every panel process subscribed to the desk's Redis.
type Bus struct {
	rdb *redis.Client
}

// NewBus creates a Bus backed by the given Client.
func NewBus(c *Client) *Bus {
	return &Bus{rdb: c.Underlying()}
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe subscribes to one or more channels and returns a read-only
// message channel plus a stop function. The message channel is closed when
// stop is called or the context is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) (<-chan domain.BusMessage, func(), error) {
	if len(channels) == 0 {
		return nil, nil, fmt.Errorf("redis: subscribe: no channels")
	}

	var pubsub *redis.PubSub
	if hasPattern(channels) {
		pubsub = b.rdb.PSubscribe(ctx, channels...)
	} else {
		pubsub = b.rdb.Subscribe(ctx, channels...)
	}

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("redis: subscribe %s: %w", strings.Join(channels, ","), err)
	}

	out := make(chan domain.BusMessage, 128)
	done := make(chan struct{})
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- domain.BusMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(done) }) }
	return out, stop, nil
}

// hasPattern returns true when any channel includes glob-style wildcards, in
// which case PSubscribe must be used instead of Subscribe.
func hasPattern(channels []string) bool {
	for _, ch := range channels {
		if strings.ContainsAny(ch, "*?[") {
			return true
		}
	}
	return false
}

// Compile-time interface check.
var _ domain.SignalBus = (*Bus)(nil)
