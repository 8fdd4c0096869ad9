package dtc

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskforge/tradeterm/internal/transport"
)

func newTestClient(buffer int) *Client {
	return &Client{
		logger:   slog.New(slog.DiscardHandler),
		messages: make(chan transport.Message, buffer),
		pending:  make(map[collectorKind]*collector),
	}
}

// Historical fill rows that answer a pending fills request must not also be
// emitted as messages: the session receives them once, from the request's
// return value.
func TestDispatchHistoricalFillRowsStayInSnapshot(t *testing.T) {
	c := newTestClient(16)
	col := &collector{done: make(chan struct{})}
	c.pending[collectFills] = col

	c.dispatch(wireMsg{
		Type:                typeHistoricalFillResponse,
		TradeAccount:        "Acct1",
		UniqueFillID:        "f-1",
		FillQuantity:        1,
		DateTime:            time.Now().Unix(),
		MessageNumber:       1,
		TotalNumberMessages: 1,
	}, "epoch-1")

	assert.Empty(t, c.messages, "snapshot row must not be double-delivered")

	select {
	case <-col.done:
	default:
		t.Fatal("final row should complete the collector")
	}
	require.Len(t, col.fills, 1)
	assert.Equal(t, "f-1", col.fills[0].FillID)
}

// A historical fill row arriving with no request outstanding still reaches
// the message stream.
func TestDispatchUnsolicitedHistoricalFillEmits(t *testing.T) {
	c := newTestClient(16)

	c.dispatch(wireMsg{
		Type:         typeHistoricalFillResponse,
		TradeAccount: "Acct1",
		UniqueFillID: "f-2",
		DateTime:     time.Now().Unix(),
	}, "epoch-1")

	require.Len(t, c.messages, 1)
	msg := <-c.messages
	assert.Equal(t, transport.KindFill, msg.Kind)
	require.NotNil(t, msg.Fill)
	assert.Equal(t, "f-2", msg.Fill.FillID)
}

// Real-time fill reports always emit, even while a fills snapshot is being
// collected.
func TestDispatchRealtimeFillEmitsDuringSnapshot(t *testing.T) {
	c := newTestClient(16)
	c.pending[collectFills] = &collector{done: make(chan struct{})}

	c.dispatch(wireMsg{
		Type:         typeOrderFillResponse,
		TradeAccount: "Acct1",
		UniqueFillID: "f-3",
		DateTime:     time.Now().Unix(),
	}, "epoch-1")

	require.Len(t, c.messages, 1)
	msg := <-c.messages
	assert.Equal(t, transport.KindFill, msg.Kind)
	require.NotNil(t, msg.Fill)
	assert.Equal(t, "f-3", msg.Fill.FillID)
}

// Lifecycle messages are delivered even under backpressure, while data
// messages are dropped once the buffer is full.
func TestEmitLifecycleSurvivesFullBuffer(t *testing.T) {
	c := newTestClient(1)

	c.emit(transport.Message{Kind: transport.KindOrderUpdate, Epoch: "epoch-1"})
	c.emit(transport.Message{Kind: transport.KindOrderUpdate, Epoch: "epoch-1"})
	require.Len(t, c.messages, 1, "second data message dropped under backpressure")

	delivered := make(chan struct{})
	go func() {
		c.emit(transport.Message{Kind: transport.KindDisconnected, Epoch: "epoch-1"})
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("lifecycle emit should block until the consumer drains")
	case <-time.After(20 * time.Millisecond):
	}

	<-c.messages
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("lifecycle message never delivered")
	}

	msg := <-c.messages
	assert.Equal(t, transport.KindDisconnected, msg.Kind)
}
