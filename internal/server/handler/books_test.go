package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskforge/tradeterm/internal/domain"
	"github.com/deskforge/tradeterm/internal/transport"
)

type fakeBooks struct {
	positions []domain.Position
	orders    []domain.Order
	brackets  []domain.BracketGroup
	submitted []transport.OrderTicket
	submitErr error
}

func (f *fakeBooks) Positions() []domain.Position         { return f.positions }
func (f *fakeBooks) Orders() []domain.Order               { return f.orders }
func (f *fakeBooks) BracketGroups() []domain.BracketGroup { return f.brackets }

func (f *fakeBooks) SubmitOrder(_ context.Context, ticket transport.OrderTicket) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, ticket)
	return nil
}

func TestListPositionsEmptyIsArray(t *testing.T) {
	h := NewBooksHandler(&fakeBooks{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"positions":[]}`, rec.Body.String())
}

func TestPlaceOrderSubmits(t *testing.T) {
	books := &fakeBooks{}
	h := NewBooksHandler(books, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(
		`{"account":"Sim101","symbol":"ESZ6","side":"buy","price":5000,"quantity":2}`))
	rec := httptest.NewRecorder()
	h.PlaceOrder(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, books.submitted, 1)
	assert.Equal(t, domain.OrderSideBuy, books.submitted[0].Side)
	assert.False(t, books.submitted[0].IsLive)
}

func TestPlaceOrderValidation(t *testing.T) {
	h := NewBooksHandler(&fakeBooks{}, testLogger())

	for name, body := range map[string]string{
		"missing account":   `{"symbol":"ESZ6","side":"buy","quantity":1}`,
		"zero quantity":     `{"account":"Sim101","symbol":"ESZ6","side":"buy","quantity":0}`,
		"unknown side":      `{"account":"Sim101","symbol":"ESZ6","side":"hold","quantity":1}`,
		"malformed payload": `{`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.PlaceOrder(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPlaceOrderUnarmedIsForbidden(t *testing.T) {
	books := &fakeBooks{submitErr: fmt.Errorf("session: live order rejected: %w", domain.ErrUnarmed)}
	h := NewBooksHandler(books, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(
		`{"account":"Acct1","symbol":"ESZ6","side":"sell","quantity":1,"is_live":true}`))
	rec := httptest.NewRecorder()
	h.PlaceOrder(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "rejected")
}
