// Package dtc implements the transport boundary over the DTC JSON wire
// protocol: null-terminated JSON frames on a TCP connection, with logon,
// heartbeats, reconnect, and correlation of snapshot requests to their
// streamed replies.
package dtc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deskforge/tradeterm/internal/domain"
	"github.com/deskforge/tradeterm/internal/transport"
)

// DTC message type constants (JSON encoding).
const (
	typeLogonRequest  = 1
	typeLogonResponse = 2
	typeHeartbeat     = 3
	typeLogoff        = 4

	typeSubmitNewSingleOrder    = 300
	typeOrderUpdate             = 301
	typeHistoricalFillsRequest  = 303
	typeHistoricalFillResponse  = 304
	typeOpenOrdersRequest       = 305
	typePositionUpdate          = 306
	typeOrderFillResponse       = 307
	typeCurrentPositionsRequest = 500
	typeAccountBalanceUpdate    = 600
)

const (
	dialTimeout       = 5 * time.Second
	heartbeatInterval = 4 * time.Second
	reconnectDelay    = 2 * time.Second
	protocolVersion   = 8
	clientName        = "tradeterm"
	messageBuffer     = 256
)

// wireMsg is the superset of DTC JSON fields this client reads.
type wireMsg struct {
	Type         int    `json:"Type"`
	RequestID    int    `json:"RequestID,omitempty"`
	TradeAccount string `json:"TradeAccount,omitempty"`
	Symbol       string `json:"Symbol,omitempty"`

	// Position fields.
	PositionQuantity float64 `json:"PositionQuantity,omitempty"`
	AveragePrice     float64 `json:"AveragePrice,omitempty"`

	// Order fields.
	ServerOrderID  string  `json:"ServerOrderID,omitempty"`
	ParentOrderID  string  `json:"ParentServerOrderID,omitempty"`
	OCOGroup       string  `json:"OCOGroupName,omitempty"`
	BuySell        string  `json:"BuySell,omitempty"`
	Price1         float64 `json:"Price1,omitempty"`
	OrderQuantity  float64 `json:"OrderQuantity,omitempty"`
	FilledQuantity float64 `json:"FilledQuantity,omitempty"`
	OrderStatus    string  `json:"OrderStatusString,omitempty"`

	// Fill fields.
	UniqueFillID string  `json:"UniqueExecutionID,omitempty"`
	FillPrice    float64 `json:"Price,omitempty"`
	FillQuantity float64 `json:"Quantity,omitempty"`
	Commission   float64 `json:"Commission,omitempty"`
	DateTime     int64   `json:"DateTime,omitempty"`

	// Balance fields.
	CashBalance float64 `json:"CashBalance,omitempty"`

	// Snapshot reply bookkeeping.
	UpdateReason        string `json:"UpdateReason,omitempty"`
	MessageNumber       int    `json:"MessageNumber,omitempty"`
	TotalNumberMessages int    `json:"TotalNumberMessages,omitempty"`
	NoPositions         int    `json:"NoPositions,omitempty"`
	NoOrders            int    `json:"NoOrders,omitempty"`
	NoOrderFills        int    `json:"NoOrderFills,omitempty"`
}

// collectorKind distinguishes the three snapshot request kinds.
type collectorKind int

const (
	collectPositions collectorKind = iota
	collectOrders
	collectFills
)

// collector accumulates streamed snapshot replies until the final message.
type collector struct {
	positions []domain.Position
	orders    []domain.Order
	fills     []domain.Fill
	done      chan struct{}
	err       error
}

// Client speaks DTC JSON over TCP. One Client manages the whole connection
// lifecycle: Run dials, logs on, heartbeats, and reconnects with backoff
// until its context is cancelled. Each successful connection gets a fresh
// epoch identifier so stale replies are recognizable downstream.
type Client struct {
	addr     string
	username string
	password string
	logger   *slog.Logger

	messages chan transport.Message

	writeMu   sync.Mutex
	mu        sync.Mutex
	conn      net.Conn
	connected bool
	epoch     string
	reqID     int
	pending   map[collectorKind]*collector
}

// New creates a Client for the broker at addr ("host:port").
func New(addr, username, password string, logger *slog.Logger) *Client {
	return &Client{
		addr:     addr,
		username: username,
		password: password,
		logger:   logger.With(slog.String("component", "dtc_client")),
		messages: make(chan transport.Message, messageBuffer),
		pending:  make(map[collectorKind]*collector),
	}
}

// Messages implements transport.Transport.
func (c *Client) Messages() <-chan transport.Message { return c.messages }

// Connected implements transport.Transport.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Run connects and processes the session until ctx is cancelled, emitting
// connected/disconnected lifecycle messages and reconnecting with backoff.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.messages)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("dtc disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", reconnectDelay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) runConnection(ctx context.Context) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dtc: dial %s: %w", c.addr, err)
	}

	epoch := uuid.New().String()
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.epoch = epoch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.connected = false
		for kind, col := range c.pending {
			col.err = domain.ErrNotConnected
			close(col.done)
			delete(c.pending, kind)
		}
		c.mu.Unlock()
		conn.Close()
		c.emit(transport.Message{Kind: transport.KindDisconnected, Epoch: epoch})
	}()

	if err := c.send(wireLogon(c.username, c.password)); err != nil {
		return err
	}
	c.logger.Info("dtc connected", slog.String("epoch", epoch), slog.String("addr", c.addr))
	c.emit(transport.Message{Kind: transport.KindConnected, Epoch: epoch})

	hbCtx, stopHB := context.WithCancel(ctx)
	defer stopHB()
	go c.heartbeatLoop(hbCtx)

	return c.readLoop(ctx, conn, epoch)
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(map[string]any{"Type": typeHeartbeat}); err != nil {
				return
			}
		}
	}
}

// readLoop splits the stream on NUL terminators and dispatches each frame.
func (c *Client) readLoop(ctx context.Context, conn net.Conn, epoch string) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	scanner.Split(scanNullFrames)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var msg wireMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("dtc frame parse failed",
				slog.Int("bytes", len(raw)),
				slog.String("error", err.Error()),
			)
			continue
		}
		c.dispatch(msg, epoch)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("dtc: read: %w", err)
	}
	return domain.ErrTransportClosed
}

// scanNullFrames is a bufio.SplitFunc for NUL-terminated frames.
func scanNullFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == 0 {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (c *Client) dispatch(msg wireMsg, epoch string) {
	switch msg.Type {
	case typeLogonResponse, typeHeartbeat, typeLogoff:
		return

	case typePositionUpdate:
		pos := domain.Position{
			Account:   msg.TradeAccount,
			Symbol:    msg.Symbol,
			Quantity:  msg.PositionQuantity,
			AvgPrice:  msg.AveragePrice,
			UpdatedAt: time.Now().UTC(),
		}
		_, done := c.feedCollector(collectPositions, msg, pos, domain.Order{}, domain.Fill{})
		c.emit(transport.Message{
			Kind:         transport.KindPositionUpdate,
			Epoch:        epoch,
			Account:      msg.TradeAccount,
			Position:     &pos,
			SnapshotDone: done,
		})

	case typeOrderUpdate:
		ord := domain.Order{
			ServerOrderID: msg.ServerOrderID,
			Account:       msg.TradeAccount,
			Symbol:        msg.Symbol,
			Side:          sideFromWire(msg.BuySell),
			Price:         msg.Price1,
			Quantity:      msg.OrderQuantity,
			FilledQty:     msg.FilledQuantity,
			Status:        statusFromWire(msg.OrderStatus),
			ParentID:      msg.ParentOrderID,
			OCOGroup:      msg.OCOGroup,
			UpdatedAt:     time.Now().UTC(),
		}
		_, done := c.feedCollector(collectOrders, msg, domain.Position{}, ord, domain.Fill{})
		c.emit(transport.Message{
			Kind:         transport.KindOrderUpdate,
			Epoch:        epoch,
			Account:      msg.TradeAccount,
			Order:        &ord,
			SnapshotDone: done,
		})

	case typeOrderFillResponse, typeHistoricalFillResponse:
		fill := domain.Fill{
			FillID:        msg.UniqueFillID,
			ServerOrderID: msg.ServerOrderID,
			Account:       msg.TradeAccount,
			Symbol:        msg.Symbol,
			Side:          sideFromWire(msg.BuySell),
			Price:         msg.FillPrice,
			Quantity:      msg.FillQuantity,
			Fee:           msg.Commission,
			Timestamp:     time.Unix(msg.DateTime, 0).UTC(),
		}
		if msg.Type == typeHistoricalFillResponse {
			consumed, _ := c.feedCollector(collectFills, msg, domain.Position{}, domain.Order{}, fill)
			if consumed {
				// Rows answering a fills request reach the session exactly
				// once, through the RequestFills return value.
				return
			}
		}
		c.emit(transport.Message{
			Kind:    transport.KindFill,
			Epoch:   epoch,
			Account: msg.TradeAccount,
			Fill:    &fill,
		})

	case typeAccountBalanceUpdate:
		c.emit(transport.Message{
			Kind:        transport.KindBalanceUpdate,
			Epoch:       epoch,
			Account:     msg.TradeAccount,
			CashBalance: msg.CashBalance,
		})

	default:
		c.emit(transport.Message{
			Kind:    transport.KindMarketData,
			Epoch:   epoch,
			Account: msg.TradeAccount,
		})
	}
}

// feedCollector routes a snapshot reply row into the matching pending
// collector, completing it when the final message arrives. It reports whether
// a collector consumed the row and whether this row finished a snapshot.
// Empty-snapshot markers (NoPositions, NoOrders, NoOrderFills) complete the
// collector without contributing a row.
func (c *Client) feedCollector(kind collectorKind, msg wireMsg, pos domain.Position, ord domain.Order, fill domain.Fill) (consumed, last bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	col, ok := c.pending[kind]
	if !ok {
		return false, false
	}

	empty := msg.NoPositions == 1 || msg.NoOrders == 1 || msg.NoOrderFills == 1
	if !empty {
		switch kind {
		case collectPositions:
			col.positions = append(col.positions, pos)
		case collectOrders:
			col.orders = append(col.orders, ord)
		case collectFills:
			col.fills = append(col.fills, fill)
		}
	}

	last = empty ||
		(msg.TotalNumberMessages > 0 && msg.MessageNumber == msg.TotalNumberMessages)
	if last {
		delete(c.pending, kind)
		close(col.done)
	}
	return true, last
}

// RequestPositions implements transport.Transport. It requests the full
// current position snapshot and suspends until the reply completes.
func (c *Client) RequestPositions(ctx context.Context, account string) ([]domain.Position, error) {
	col, err := c.request(ctx, collectPositions, map[string]any{
		"Type":         typeCurrentPositionsRequest,
		"TradeAccount": account,
	})
	if err != nil {
		return nil, err
	}
	return col.positions, nil
}

// RequestOpenOrders implements transport.Transport.
func (c *Client) RequestOpenOrders(ctx context.Context, account string) ([]domain.Order, error) {
	col, err := c.request(ctx, collectOrders, map[string]any{
		"Type":         typeOpenOrdersRequest,
		"TradeAccount": account,
	})
	if err != nil {
		return nil, err
	}
	return col.orders, nil
}

// RequestFills implements transport.Transport. since bounds the request to
// fills at or after the given watermark.
func (c *Client) RequestFills(ctx context.Context, account string, since time.Time) ([]domain.Fill, error) {
	col, err := c.request(ctx, collectFills, map[string]any{
		"Type":          typeHistoricalFillsRequest,
		"TradeAccount":  account,
		"StartDateTime": since.Unix(),
	})
	if err != nil {
		return nil, err
	}
	return col.fills, nil
}

// Submit implements transport.Transport.
func (c *Client) Submit(ctx context.Context, ticket transport.OrderTicket) error {
	if !c.Connected() {
		return domain.ErrNotConnected
	}
	return c.send(map[string]any{
		"Type":         typeSubmitNewSingleOrder,
		"TradeAccount": ticket.Account,
		"Symbol":       ticket.Symbol,
		"BuySell":      wireSide(ticket.Side),
		"Price1":       ticket.Price,
		"Quantity":     ticket.Quantity,
		"OrderType":    2, // limit
	})
}

// request registers a collector for kind, sends the request, and waits for
// the collector to complete, the context to expire, or the connection to
// drop. Recovery steps never overlap, so one collector per kind suffices.
func (c *Client) request(ctx context.Context, kind collectorKind, payload map[string]any) (*collector, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, domain.ErrNotConnected
	}
	c.reqID++
	payload["RequestID"] = c.reqID
	col := &collector{done: make(chan struct{})}
	c.pending[kind] = col
	c.mu.Unlock()

	if err := c.send(payload); err != nil {
		c.mu.Lock()
		delete(c.pending, kind)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, kind)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-col.done:
		if col.err != nil {
			return nil, col.err
		}
		return col, nil
	}
}

// send serializes one frame and writes it NUL-terminated. Writes are
// serialized so heartbeats and requests never interleave.
func (c *Client) send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dtc: marshal frame: %w", err)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := conn.Write(append(data, 0)); err != nil {
		return fmt.Errorf("dtc: write frame: %w", err)
	}
	return nil
}

// emit hands a message to the consumer. Lifecycle messages are never
// dropped: an unseen disconnect would strand the session in a stale epoch,
// so connected/disconnected block until the buffer drains. Data messages
// are dropped under backpressure; the consumer re-reads state on flush.
func (c *Client) emit(msg transport.Message) {
	switch msg.Kind {
	case transport.KindConnected, transport.KindDisconnected:
		c.messages <- msg
		return
	}
	select {
	case c.messages <- msg:
	default:
		c.logger.Warn("inbound buffer full, dropping message", slog.String("kind", string(msg.Kind)))
	}
}

func wireLogon(username, password string) map[string]any {
	return map[string]any{
		"Type":                       typeLogonRequest,
		"ProtocolVersion":            protocolVersion,
		"ClientName":                 clientName,
		"HeartbeatIntervalInSeconds": int(heartbeatInterval/time.Second) + 1,
		"Username":                   username,
		"Password":                   password,
		"TradeMode":                  1,
	}
}

func sideFromWire(s string) domain.OrderSide {
	if s == "SELL" || s == "2" {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func wireSide(s domain.OrderSide) string {
	if s == domain.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}

func statusFromWire(s string) domain.OrderStatus {
	switch s {
	case "Filled":
		return domain.OrderStatusFilled
	case "Cancelled", "Canceled":
		return domain.OrderStatusCancelled
	case "Rejected":
		return domain.OrderStatusRejected
	case "Open", "Working":
		return domain.OrderStatusOpen
	default:
		return domain.OrderStatusPending
	}
}

// Compile-time interface check.
var _ transport.Transport = (*Client)(nil)
