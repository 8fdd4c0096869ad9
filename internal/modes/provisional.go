package modes

import (
	"fmt"
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
)

const (
	provisionalKey = "last_known_mode"

	// ProvisionalTTL bounds how long a saved context may be trusted at boot.
	ProvisionalTTL = 24 * time.Hour
)

// Provisional persists the last committed (mode, account) so a cold start
// can select which scoped state to pre-load speculatively. It is purely
// advisory: the first real committed signal overrides it.
type Provisional struct {
	store domain.ScopedStore
	ttl   time.Duration
	now   func() time.Time
}

// NewProvisional creates a Provisional with the standard 24h TTL.
func NewProvisional(store domain.ScopedStore) *Provisional {
	return &Provisional{store: store, ttl: ProvisionalTTL, now: time.Now}
}

// Save records ctx with the current UTC time. Called on every committed
// transition.
func (p *Provisional) Save(ctx domain.Context) error {
	state := domain.ProvisionalState{Context: ctx, SavedAt: p.now().UTC()}
	if err := p.store.Write(domain.Context{}, provisionalKey, state); err != nil {
		return fmt.Errorf("modes: save provisional: %w", err)
	}
	return nil
}

// Load returns the saved context if it is still within the TTL. A missing or
// stale record is reported as absent, never surfaced as truth: the caller
// must wait for a real signal before trusting context-scoped state.
func (p *Provisional) Load() (domain.Context, bool, error) {
	var state domain.ProvisionalState
	err := p.store.Read(domain.Context{}, provisionalKey, &state)
	if err == domain.ErrNotFound {
		return domain.Context{}, false, nil
	}
	if err != nil {
		return domain.Context{}, false, fmt.Errorf("modes: load provisional: %w", err)
	}
	if p.now().UTC().Sub(state.SavedAt) >= p.ttl {
		// Past the freshness limit: treated as absent.
		return domain.Context{}, false, nil
	}
	return state.Context, true, nil
}
