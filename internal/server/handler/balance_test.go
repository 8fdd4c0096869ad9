package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskforge/tradeterm/internal/domain"
)

type fakeLedger struct {
	balances map[string]domain.Balance
	resets   []string
}

func (f *fakeLedger) GetBalance(scope domain.Context) (domain.Balance, error) {
	if b, ok := f.balances[scope.Account]; ok {
		return b, nil
	}
	return domain.Balance{Account: scope.Account}, nil
}

func (f *fakeLedger) ListAccounts() ([]string, error) {
	var out []string
	for account := range f.balances {
		out = append(out, account)
	}
	return out, nil
}

func (f *fakeLedger) ResetSimBalance(account string) (domain.Balance, error) {
	f.resets = append(f.resets, account)
	return domain.Balance{Account: account, StartingBalance: 10_000}, nil
}

func TestGetBalanceComputesCurrent(t *testing.T) {
	led := &fakeLedger{balances: map[string]domain.Balance{
		"Sim101": {Account: "Sim101", StartingBalance: 10_000, RealizedPnL: 250, FeesPaid: 12.5},
	}}
	h := NewBalanceHandler(led, "Acct1", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/balances/Sim101", nil)
	req.SetPathValue("account", "Sim101")
	rec := httptest.NewRecorder()
	h.GetBalance(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body balanceJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SIM", body.Mode)
	assert.InDelta(t, 10_237.5, body.CurrentBalance, 1e-9)
}

func TestGetBalanceClassifiesLiveAccount(t *testing.T) {
	led := &fakeLedger{balances: map[string]domain.Balance{}}
	h := NewBalanceHandler(led, "Acct1", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/balances/Acct1", nil)
	req.SetPathValue("account", "Acct1")
	rec := httptest.NewRecorder()
	h.GetBalance(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body balanceJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "LIVE", body.Mode)
}

func TestGetBalanceRequiresAccount(t *testing.T) {
	h := NewBalanceHandler(&fakeLedger{}, "Acct1", testLogger())

	rec := httptest.NewRecorder()
	h.GetBalance(rec, httptest.NewRequest(http.MethodGet, "/api/balances/", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListBalances(t *testing.T) {
	led := &fakeLedger{balances: map[string]domain.Balance{
		"Sim101": {Account: "Sim101", StartingBalance: 10_000},
		"Acct1":  {Account: "Acct1", StartingBalance: 52_000},
	}}
	h := NewBalanceHandler(led, "Acct1", testLogger())

	rec := httptest.NewRecorder()
	h.ListBalances(rec, httptest.NewRequest(http.MethodGet, "/api/balances", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Balances []balanceJSON `json:"balances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Balances, 2)
}

func TestResetBalance(t *testing.T) {
	led := &fakeLedger{balances: map[string]domain.Balance{}}
	h := NewBalanceHandler(led, "Acct1", testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/balances/Sim101/reset", nil)
	req.SetPathValue("account", "Sim101")
	rec := httptest.NewRecorder()
	h.ResetBalance(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Sim101"}, led.resets)
}
