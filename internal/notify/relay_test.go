package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskforge/tradeterm/internal/bus/memory"
	"github.com/deskforge/tradeterm/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	bodies []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func publishEvent(t *testing.T, bus *memory.Bus, channel string, event domain.Event) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), channel, payload))
}

func startRelay(t *testing.T, bus *memory.Bus, events []string) *recordingSender {
	t.Helper()
	sender := &recordingSender{}
	logger := slog.New(slog.DiscardHandler)
	notifier := NewNotifier([]Sender{sender}, events, logger)
	relay := NewRelay(notifier, bus, "ch:session", logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give Run a beat to subscribe before the test publishes.
	time.Sleep(20 * time.Millisecond)
	return sender
}

func TestRelayForwardsDriftAlerts(t *testing.T) {
	bus := memory.NewBus()
	sender := startRelay(t, bus, nil)

	publishEvent(t, bus, "ch:session", domain.Event{
		Kind:      domain.EventDrift,
		Timestamp: time.Now().UTC(),
		Detail: map[string]any{
			"expected":     "LIVE/Acct1",
			"observed":     "SIM/Sim9",
			"message_kind": "order_update",
		},
	})

	assert.Eventually(t, func() bool {
		titles := sender.sent()
		return len(titles) == 1 && titles[0] == "Account drift detected"
	}, time.Second, 10*time.Millisecond)
}

func TestRelayDropsRefreshTicks(t *testing.T) {
	bus := memory.NewBus()
	sender := startRelay(t, bus, nil)

	publishEvent(t, bus, "ch:session", domain.Event{Kind: domain.EventRefresh})
	publishEvent(t, bus, "ch:session", domain.Event{
		Kind:   domain.EventArmChange,
		Detail: map[string]any{"armed": true},
	})

	assert.Eventually(t, func() bool {
		titles := sender.sent()
		return len(titles) == 1 && titles[0] == "Live trading armed"
	}, time.Second, 10*time.Millisecond)
}

func TestRelayHonoursEventFilter(t *testing.T) {
	bus := memory.NewBus()
	sender := startRelay(t, bus, []string{"drift"})

	publishEvent(t, bus, "ch:session", domain.Event{
		Kind:   domain.EventModeChange,
		Detail: map[string]any{"previous": "SIM/Sim9", "new": "LIVE/Acct1", "source": "panel"},
	})
	publishEvent(t, bus, "ch:session", domain.Event{
		Kind: domain.EventDrift,
		Detail: map[string]any{
			"expected": "LIVE/Acct1", "observed": "SIM/Sim9", "message_kind": "fill",
		},
	})

	assert.Eventually(t, func() bool {
		titles := sender.sent()
		return len(titles) == 1 && titles[0] == "Account drift detected"
	}, time.Second, 10*time.Millisecond)
}

func TestNotifierCombinesSenderFailures(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	good := &recordingSender{}
	notifier := NewNotifier([]Sender{failingSender{}, good}, nil, logger)

	err := notifier.Notify(context.Background(), domain.EventDrift, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Len(t, good.sent(), 1)
}

type failingSender struct{}

func (failingSender) Send(context.Context, string, string) error { return assert.AnError }
func (failingSender) Name() string                               { return "failing" }
