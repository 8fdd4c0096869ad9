package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskforge/tradeterm/internal/domain"
)

func TestBooksReplaceWholesale(t *testing.T) {
	b := NewBooks()
	scope := domain.Context{Mode: domain.ModeSim, Account: "Sim1"}

	b.UpsertPosition(domain.Position{Symbol: "ESZ6", Quantity: 3})
	b.ReplacePositions(scope, []domain.Position{{Symbol: "NQZ6", Quantity: 1}})

	positions := b.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "NQZ6", positions[0].Symbol)
}

func TestBooksRescopeClearsEverything(t *testing.T) {
	b := NewBooks()
	sim := domain.Context{Mode: domain.ModeSim, Account: "Sim1"}
	live := domain.Context{Mode: domain.ModeLive, Account: "Acct1"}

	b.ReplacePositions(sim, []domain.Position{{Symbol: "ESZ6", Quantity: 2}})
	b.ReplaceOrders(sim, []domain.Order{{ServerOrderID: "o-1", Status: domain.OrderStatusOpen}})
	b.SetBracketGroups(sim, []domain.BracketGroup{{GroupID: "g-1", OrderIDs: []string{"a", "b"}}})

	// A recovery apply for a different context must never mix with old state.
	b.ReplaceOrders(live, []domain.Order{{ServerOrderID: "o-2", Status: domain.OrderStatusOpen}})

	assert.Empty(t, b.Positions())
	assert.Empty(t, b.BracketGroups())
	orders := b.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "o-2", orders[0].ServerOrderID)
}

func TestBooksTerminalOrdersLeaveOpenSet(t *testing.T) {
	b := NewBooks()

	b.UpsertOrder(domain.Order{ServerOrderID: "o-1", Status: domain.OrderStatusOpen})
	b.UpsertOrder(domain.Order{ServerOrderID: "o-1", Status: domain.OrderStatusFilled})

	assert.Empty(t, b.Orders())
}

func TestBooksFillAdjustsFilledQty(t *testing.T) {
	b := NewBooks()
	scope := domain.Context{Mode: domain.ModeSim, Account: "Sim1"}

	b.ReplaceOrders(scope, []domain.Order{{ServerOrderID: "o-1", Quantity: 5, Status: domain.OrderStatusOpen}})
	b.ApplyFill(scope, domain.Fill{ServerOrderID: "o-1", Quantity: 2})
	b.ApplyFill(scope, domain.Fill{ServerOrderID: "o-1", Quantity: 1})

	orders := b.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, float64(3), orders[0].FilledQty)
}
