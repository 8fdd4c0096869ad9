package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle as reported by the broker.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order is an open or working order as reported by the broker. ParentID and
// OCOGroup are the server-reported linkage fields used to rebuild bracket
// relationships during recovery.
type Order struct {
	ServerOrderID string
	Account       string
	Symbol        string
	Side          OrderSide
	Price         float64
	Quantity      float64
	FilledQty     float64
	Status        OrderStatus
	ParentID      string
	OCOGroup      string
	UpdatedAt     time.Time
}

// Position is a broker-reported position snapshot row.
type Position struct {
	Account   string
	Symbol    string
	Quantity  float64
	AvgPrice  float64
	UpdatedAt time.Time
}

// Fill is one execution report.
type Fill struct {
	FillID        string
	ServerOrderID string
	Account       string
	Symbol        string
	Side          OrderSide
	Price         float64
	Quantity      float64
	Fee           float64
	Timestamp     time.Time
}

// BracketGroup is a set of order identifiers linked by one-cancels-other
// semantics. It is always a recomputed projection of the latest order
// snapshot, never persisted.
type BracketGroup struct {
	GroupID  string
	OrderIDs []string
}
