// Package transport defines the abstract broker channel consumed by the
// session core: typed recovery requests, typed inbound messages tagged with
// an account and a connection epoch, and connect/disconnect lifecycle
// events. Byte-level framing is the concern of concrete implementations.
package transport

import (
	"context"
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
)

// MessageKind labels one inbound message.
type MessageKind string

const (
	KindConnected      MessageKind = "connected"
	KindDisconnected   MessageKind = "disconnected"
	KindPositionUpdate MessageKind = "position_update"
	KindOrderUpdate    MessageKind = "order_update"
	KindFill           MessageKind = "fill"
	KindBalanceUpdate  MessageKind = "balance_update"
	KindTradeAccount   MessageKind = "trade_account"
	KindMarketData     MessageKind = "market_data"
)

// Message is one inbound event from the broker connection. Account carries
// the broker-reported account tag when the message has one; Epoch identifies
// the connection that delivered it.
type Message struct {
	Kind    MessageKind
	Epoch   string
	Account string

	Position *domain.Position
	Order    *domain.Order
	Fill     *domain.Fill

	// CashBalance is set for balance updates.
	CashBalance float64

	// SnapshotDone marks the final message of a position or order snapshot
	// reply (UpdateReason + message counters, or the no-data marker).
	SnapshotDone bool
}

// OrderTicket is an outbound order submission.
type OrderTicket struct {
	Account  string
	Symbol   string
	Side     domain.OrderSide
	Price    float64
	Quantity float64
	IsLive   bool
}

// Transport is the broker channel. Request methods suspend until the
// correlated reply arrives, the context is cancelled, or the deadline
// expires; the session's recovery sequencer is their only caller.
type Transport interface {
	// Messages delivers inbound messages and lifecycle events in arrival
	// order. The channel is closed when the transport shuts down.
	Messages() <-chan Message

	// Connected reports whether the connection is currently healthy.
	Connected() bool

	RequestPositions(ctx context.Context, account string) ([]domain.Position, error)
	RequestOpenOrders(ctx context.Context, account string) ([]domain.Order, error)
	RequestFills(ctx context.Context, account string, since time.Time) ([]domain.Fill, error)

	// Submit sends an order to the broker. Gate checks happen upstream.
	Submit(ctx context.Context, ticket OrderTicket) error
}
