package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/deskforge/tradeterm/internal/domain"
)

// Relay subscribes to the session event channel and translates structured
// events into operator alerts. Refresh ticks are never forwarded; they fire
// up to ten times a second and carry no detail worth paging anyone over.
type Relay struct {
	notifier *Notifier
	bus      domain.SignalBus
	channel  string
	logger   *slog.Logger
}

// NewRelay wires a Relay between the signal bus channel and the notifier.
func NewRelay(notifier *Notifier, bus domain.SignalBus, channel string, logger *slog.Logger) *Relay {
	return &Relay{
		notifier: notifier,
		bus:      bus,
		channel:  channel,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run consumes bus messages until ctx is cancelled or the subscription
// channel closes.
func (r *Relay) Run(ctx context.Context) error {
	msgs, stop, err := r.bus.Subscribe(ctx, r.channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", r.channel, err)
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload []byte) {
	var event domain.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		r.logger.Warn("unparseable bus event", slog.String("error", err.Error()))
		return
	}
	if event.Kind == domain.EventRefresh {
		return
	}

	title, message := render(event)
	if err := r.notifier.Notify(ctx, event.Kind, title, message); err != nil {
		r.logger.Warn("alert dispatch failed", slog.String("error", err.Error()))
	}
}

// render formats an event into a short title and body. Detail fields are
// pulled out by name where the shape is known; anything unexpected falls
// back to a flat key dump.
func render(event domain.Event) (title, message string) {
	switch event.Kind {
	case domain.EventModeChange:
		if prev, ok := event.Detail["previous"]; ok {
			return "Trading context switched",
				fmt.Sprintf("%v -> %v (source: %v)", prev, event.Detail["new"], event.Detail["source"])
		}
		return "Trading context restored", fmt.Sprintf("%v (provisional)", event.Detail["context"])
	case domain.EventDrift:
		return "Account drift detected",
			fmt.Sprintf("expected %v, observed %v in %v",
				event.Detail["expected"], event.Detail["observed"], event.Detail["message_kind"])
	case domain.EventArmChange:
		if armed, _ := event.Detail["armed"].(bool); armed {
			return "Live trading armed", "operator armed the live gate"
		}
		return "Live trading disarmed", fmt.Sprintf("reason: %v", event.Detail["disarm_reason"])
	case domain.EventRecoveryStatus:
		return "Recovery status", fmt.Sprintf("phase %v (epoch %v)", event.Detail["phase"], event.Detail["epoch"])
	case domain.EventBalanceChange:
		return "Balance update",
			fmt.Sprintf("account %v cash %v", event.Detail["account"], event.Detail["cash_balance"])
	default:
		return string(event.Kind), flatDetail(event.Detail)
	}
}

func flatDetail(detail map[string]any) string {
	if len(detail) == 0 {
		return "(no detail)"
	}
	out := ""
	for k, v := range detail {
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%s=%v", k, v)
	}
	return out
}
