// Package notify pushes session alerts (mode switches, account drift, arm
// state changes) to operator channels such as Telegram and Discord. Delivery
// is best effort and never blocks the session core: the Relay consumes events
// off the signal bus, the same stream the panels watch.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deskforge/tradeterm/internal/domain"
)

// Sender delivers a single alert over one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs (e.g. "telegram").
	Name() string
}

// Notifier fans an alert out to every configured sender, filtered by event
// kind. An empty allow list means every kind passes.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier builds a Notifier delivering to senders. events names the
// kinds that should be forwarded ("mode_change", "drift", ...); leave it
// empty to forward everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(events))
	for _, e := range events {
		allowed[domain.EventKind(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Active reports whether at least one sender is configured.
func (n *Notifier) Active() bool {
	return len(n.senders) > 0
}

// Notify delivers an alert for the given event kind to all senders. Alerts
// for kinds outside the allow list are dropped silently.
func (n *Notifier) Notify(ctx context.Context, kind domain.EventKind, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[kind] {
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var failed []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(failed) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}
