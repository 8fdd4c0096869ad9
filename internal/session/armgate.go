package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
)

// Standard disarm reasons. Each automatic trigger sets a distinct reason so
// the operator can see why live trading dropped.
const (
	DisarmReasonDisconnect   = "transport disconnect"
	DisarmReasonConfigReload = "configuration reload"
	DisarmReasonDrift        = "mode drift detected"
	DisarmReasonModeSwitch   = "mode switched away from LIVE"
	DisarmReasonOperator     = "operator request"
)

// ArmGate is the explicit safety interlock gating outbound LIVE orders. It
// starts Disarmed on every process start and is never persisted, so a
// restart can never inherit an armed session.
type ArmGate struct {
	mu    sync.Mutex
	state domain.ArmState
	now   func() time.Time
}

// NewArmGate creates a gate in the Disarmed state.
func NewArmGate() *ArmGate {
	return &ArmGate{now: time.Now}
}

// Arm transitions to Armed. Permitted only while the active mode is LIVE and
// the connection is healthy.
func (g *ArmGate) Arm(active domain.Context, connected bool) error {
	if active.Mode != domain.ModeLive {
		return fmt.Errorf("session: arm in mode %s: %w", active.Mode, domain.ErrNotLive)
	}
	if !connected {
		return fmt.Errorf("session: arm while disconnected: %w", domain.ErrNotConnected)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = domain.ArmState{Armed: true, ArmedAt: g.now().UTC()}
	return nil
}

// Disarm transitions to Disarmed recording the cause. Always permitted. It
// reports whether the gate was armed before the call.
func (g *ArmGate) Disarm(reason string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	wasArmed := g.state.Armed
	g.state = domain.ArmState{DisarmReason: reason}
	return wasArmed
}

// State returns the current arm state.
func (g *ArmGate) State() domain.ArmState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Authorize decides whether an outbound LIVE order for account may reach the
// transport. It requires the gate armed and the order's account to equal the
// active context's account (defense in depth alongside drift detection).
func (g *ArmGate) Authorize(active domain.Context, account string) error {
	g.mu.Lock()
	armed := g.state.Armed
	g.mu.Unlock()
	if !armed {
		return fmt.Errorf("session: live order for %s rejected: %w", account, domain.ErrUnarmed)
	}
	if account != active.Account {
		return fmt.Errorf("session: live order for %s while active account is %s: %w: %w",
			account, active.Account, domain.ErrAccountMismatch, domain.ErrUnarmed)
	}
	return nil
}
