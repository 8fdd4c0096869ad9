package session

import (
	"sync"

	"github.com/deskforge/tradeterm/internal/domain"
)

// Books holds the in-memory position and order sets for the active context,
// plus the derived bracket groups. Recovery replaces the sets wholesale;
// steady-state updates upsert individual rows.
type Books struct {
	mu        sync.RWMutex
	scope     domain.Context
	positions map[string]domain.Position // keyed by symbol
	orders    map[string]domain.Order    // keyed by server order ID
	brackets  []domain.BracketGroup
}

// NewBooks creates empty books.
func NewBooks() *Books {
	return &Books{
		positions: make(map[string]domain.Position),
		orders:    make(map[string]domain.Order),
	}
}

// ReplacePositions implements recovery.Applier: the position set is replaced
// wholesale, never diffed against stale data.
func (b *Books) ReplacePositions(active domain.Context, positions []domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rescope(active)
	b.positions = make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		b.positions[p.Symbol] = p
	}
}

// ReplaceOrders implements recovery.Applier.
func (b *Books) ReplaceOrders(active domain.Context, orders []domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rescope(active)
	b.orders = make(map[string]domain.Order, len(orders))
	for _, o := range orders {
		b.orders[o.ServerOrderID] = o
	}
}

// ApplyFill implements recovery.Applier. Fills adjust the held order's
// filled quantity when the order is known.
func (b *Books) ApplyFill(active domain.Context, fill domain.Fill) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rescope(active)
	if ord, ok := b.orders[fill.ServerOrderID]; ok {
		ord.FilledQty += fill.Quantity
		b.orders[fill.ServerOrderID] = ord
	}
}

// SetBracketGroups implements recovery.Applier.
func (b *Books) SetBracketGroups(active domain.Context, groups []domain.BracketGroup) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rescope(active)
	b.brackets = groups
}

// UpsertPosition applies one steady-state position update.
func (b *Books) UpsertPosition(pos domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[pos.Symbol] = pos
}

// UpsertOrder applies one steady-state order update, dropping terminal
// orders from the open set.
func (b *Books) UpsertOrder(ord domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch ord.Status {
	case domain.OrderStatusFilled, domain.OrderStatusCancelled, domain.OrderStatusRejected:
		delete(b.orders, ord.ServerOrderID)
	default:
		b.orders[ord.ServerOrderID] = ord
	}
}

// Positions returns a copy of the held position set.
func (b *Books) Positions() []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out
}

// Orders returns a copy of the held open-order set.
func (b *Books) Orders() []domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o)
	}
	return out
}

// BracketGroups returns the current bracket projection.
func (b *Books) BracketGroups() []domain.BracketGroup {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.BracketGroup, len(b.brackets))
	copy(out, b.brackets)
	return out
}

// rescope clears everything when the owning context changes; books never mix
// state from two contexts.
func (b *Books) rescope(active domain.Context) {
	if b.scope == active {
		return
	}
	b.scope = active
	b.positions = make(map[string]domain.Position)
	b.orders = make(map[string]domain.Order)
	b.brackets = nil
}
