package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/deskforge/tradeterm/internal/domain"
)

// BalanceService defines the ledger methods the balance handler needs.
type BalanceService interface {
	GetBalance(scope domain.Context) (domain.Balance, error)
	ListAccounts() ([]string, error)
	ResetSimBalance(account string) (domain.Balance, error)
}

// BalanceHandler serves account-balance endpoints.
type BalanceHandler struct {
	ledger      BalanceService
	liveAccount string
	logger      *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler.
func NewBalanceHandler(ledger BalanceService, liveAccount string, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{ledger: ledger, liveAccount: liveAccount, logger: logger}
}

type balanceJSON struct {
	Account         string  `json:"account"`
	Mode            string  `json:"mode"`
	StartingBalance float64 `json:"starting_balance"`
	RealizedPnL     float64 `json:"realized_pnl"`
	FeesPaid        float64 `json:"fees_paid"`
	CurrentBalance  float64 `json:"current_balance"`
}

func (h *BalanceHandler) toJSON(scope domain.Context, b domain.Balance) balanceJSON {
	return balanceJSON{
		Account:         scope.Account,
		Mode:            string(scope.Mode),
		StartingBalance: b.StartingBalance,
		RealizedPnL:     b.RealizedPnL,
		FeesPaid:        b.FeesPaid,
		CurrentBalance:  b.Current(),
	}
}

// GetBalance returns the ledger balance for one account.
// GET /api/balances/{account}
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account path parameter required")
		return
	}

	scope := domain.Context{Mode: domain.DetectMode(account, h.liveAccount), Account: account}
	balance, err := h.ledger.GetBalance(scope)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get balance failed",
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load balance")
		return
	}

	writeJSON(w, http.StatusOK, h.toJSON(scope, balance))
}

// ListBalances returns the balance of every account with a ledger record.
// GET /api/balances
func (h *BalanceHandler) ListBalances(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.ledger.ListAccounts()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list accounts failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	balances := make([]balanceJSON, 0, len(accounts))
	for _, account := range accounts {
		scope := domain.Context{Mode: domain.DetectMode(account, h.liveAccount), Account: account}
		balance, err := h.ledger.GetBalance(scope)
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: balance unreadable, skipping",
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
			continue
		}
		balances = append(balances, h.toJSON(scope, balance))
	}

	writeJSON(w, http.StatusOK, map[string]any{"balances": balances})
}

// ResetBalance resets a SIM account's ledger to the starting balance.
// POST /api/balances/{account}/reset
func (h *BalanceHandler) ResetBalance(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account path parameter required")
		return
	}

	balance, err := h.ledger.ResetSimBalance(account)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such account")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scope := domain.Context{Mode: domain.ModeSim, Account: account}
	writeJSON(w, http.StatusOK, h.toJSON(scope, balance))
}
