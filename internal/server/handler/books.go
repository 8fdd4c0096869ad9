package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/deskforge/tradeterm/internal/domain"
	"github.com/deskforge/tradeterm/internal/transport"
)

// BookService defines the in-memory book and order-entry methods the books
// handler needs.
type BookService interface {
	Positions() []domain.Position
	Orders() []domain.Order
	BracketGroups() []domain.BracketGroup
	SubmitOrder(ctx context.Context, ticket transport.OrderTicket) error
}

// BooksHandler serves position, order, and bracket endpoints.
type BooksHandler struct {
	books  BookService
	logger *slog.Logger
}

// NewBooksHandler creates a BooksHandler.
func NewBooksHandler(books BookService, logger *slog.Logger) *BooksHandler {
	return &BooksHandler{books: books, logger: logger}
}

// ListPositions returns the in-memory position set for the active context.
// GET /api/positions
func (h *BooksHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.books.Positions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// ListOrders returns the in-memory open-order set for the active context.
// GET /api/orders
func (h *BooksHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.books.Orders()
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// ListBrackets returns the current bracket-group projection.
// GET /api/brackets
func (h *BooksHandler) ListBrackets(w http.ResponseWriter, r *http.Request) {
	groups := h.books.BracketGroups()
	if groups == nil {
		groups = []domain.BracketGroup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"brackets": groups})
}

type placeOrderRequest struct {
	Account  string  `json:"account"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	IsLive   bool    `json:"is_live"`
}

// PlaceOrder submits an order. LIVE orders must pass the arm gate; the gate
// check happens inside the session core, not here.
// POST /api/orders
func (h *BooksHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" || req.Symbol == "" || req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "account, symbol, and positive quantity required")
		return
	}

	var side domain.OrderSide
	switch req.Side {
	case string(domain.OrderSideBuy):
		side = domain.OrderSideBuy
	case string(domain.OrderSideSell):
		side = domain.OrderSideSell
	default:
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	ticket := transport.OrderTicket{
		Account:  req.Account,
		Symbol:   req.Symbol,
		Side:     side,
		Price:    req.Price,
		Quantity: req.Quantity,
		IsLive:   req.IsLive,
	}

	if err := h.books.SubmitOrder(r.Context(), ticket); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnarmed):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, domain.ErrTransportClosed):
			writeError(w, http.StatusServiceUnavailable, "broker connection unavailable")
		default:
			h.logger.ErrorContext(r.Context(), "handler: order submit failed",
				slog.String("account", req.Account),
				slog.String("symbol", req.Symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "order submission failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
}
