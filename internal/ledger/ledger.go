// Package ledger maintains per-account balance state: starting balance,
// realized P&L, and fees. The current balance is always recomputed from its
// components. Read-modify-write is serialized per account so concurrent
// postings can never lose an update.
package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
)

const keyPrefix = "balance_"

// record is the persisted shape of one account ledger. LastResetMonth backs
// the SIM monthly reset ("YYYY-MM" of the most recent reset).
type record struct {
	domain.Balance
	LastResetMonth string `json:"last_reset_month,omitempty"`
}

// Ledger is the account-scoped balance ledger. Balances are created lazily
// on first access with a zero starting balance unless a prior record exists;
// they are never deleted, only superseded.
type Ledger struct {
	store  domain.ScopedStore
	logger *slog.Logger

	// simStartingBalance seeds SIM ledgers on their monthly reset.
	simStartingBalance float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	cache map[string]*record

	now func() time.Time
}

// New creates a Ledger backed by store. simStartingBalance is the balance a
// SIM account resets to at the start of each calendar month.
func New(store domain.ScopedStore, simStartingBalance float64, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:              store,
		logger:             logger.With(slog.String("component", "ledger")),
		simStartingBalance: simStartingBalance,
		locks:              make(map[string]*sync.Mutex),
		cache:              make(map[string]*record),
		now:                time.Now,
	}
}

// GetBalance returns the balance for the given context's account, loading it
// from the store on first access. A missing record yields a zero-initialized
// balance (SIM accounts are seeded by the monthly reset instead).
func (l *Ledger) GetBalance(scope domain.Context) (domain.Balance, error) {
	unlock := l.lockAccount(scope)
	defer unlock()

	rec, err := l.loadLocked(scope)
	if err != nil {
		return domain.Balance{}, err
	}
	return rec.Balance, nil
}

// PostRealizedPnL applies a realized P&L delta to the account and persists
// the new balance atomically before returning it.
func (l *Ledger) PostRealizedPnL(scope domain.Context, delta float64) (domain.Balance, error) {
	return l.post(scope, func(rec *record) { rec.RealizedPnL += delta })
}

// PostFee charges a fee against the account and persists the new balance
// atomically before returning it.
func (l *Ledger) PostFee(scope domain.Context, amount float64) (domain.Balance, error) {
	return l.post(scope, func(rec *record) { rec.FeesPaid += amount })
}

// ResetSim resets a SIM account to the configured starting balance and marks
// the current month as the last reset.
func (l *Ledger) ResetSim(account string) (domain.Balance, error) {
	scope := domain.Context{Mode: domain.ModeSim, Account: account}
	unlock := l.lockAccount(scope)
	defer unlock()

	rec := &record{
		Balance: domain.Balance{
			Account:         account,
			StartingBalance: l.simStartingBalance,
			UpdatedAt:       l.now().UTC(),
		},
		LastResetMonth: l.currentMonth(),
	}
	if err := l.persistLocked(scope, rec); err != nil {
		return domain.Balance{}, err
	}
	l.logger.Info("sim balance reset",
		slog.String("account", account),
		slog.Float64("balance", rec.Current()),
	)
	return rec.Balance, nil
}

// ListAccounts returns every account that ever had a ledger record,
// discovered from the persisted document names, sorted.
func (l *Ledger) ListAccounts() ([]string, error) {
	keys, err := l.store.ListKeys(domain.Context{}, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("ledger: list accounts: %w", err)
	}
	seen := make(map[string]bool)
	var accounts []string
	for _, key := range keys {
		rest := strings.TrimPrefix(key, keyPrefix)
		// Key shape: balance_<MODE>_<account>.
		if _, account, ok := strings.Cut(rest, "_"); ok && !seen[account] {
			seen[account] = true
			accounts = append(accounts, account)
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (l *Ledger) post(scope domain.Context, mutate func(*record)) (domain.Balance, error) {
	unlock := l.lockAccount(scope)
	defer unlock()

	rec, err := l.loadLocked(scope)
	if err != nil {
		return domain.Balance{}, err
	}
	mutate(rec)
	rec.UpdatedAt = l.now().UTC()
	if err := l.persistLocked(scope, rec); err != nil {
		return domain.Balance{}, err
	}
	return rec.Balance, nil
}

// loadLocked returns the cached record for scope, reading it from the store
// on first access and applying the SIM monthly reset when a new calendar
// month has started. Caller holds the account lock.
func (l *Ledger) loadLocked(scope domain.Context) (*record, error) {
	ck := cacheKey(scope)

	l.mu.Lock()
	rec, ok := l.cache[ck]
	l.mu.Unlock()
	if !ok {
		rec = &record{Balance: domain.Balance{Account: scope.Account}}
		err := l.store.Read(domain.Context{}, docKey(scope), rec)
		if err != nil && err != domain.ErrNotFound {
			return nil, fmt.Errorf("ledger: load %s: %w", scope, err)
		}
		rec.Account = scope.Account
		l.mu.Lock()
		l.cache[ck] = rec
		l.mu.Unlock()
	}

	if scope.Mode == domain.ModeSim && rec.LastResetMonth != l.currentMonth() {
		rec.Balance = domain.Balance{
			Account:         scope.Account,
			StartingBalance: l.simStartingBalance,
			UpdatedAt:       l.now().UTC(),
		}
		rec.LastResetMonth = l.currentMonth()
		if err := l.persistLocked(scope, rec); err != nil {
			return nil, err
		}
		l.logger.Info("sim monthly reset",
			slog.String("account", scope.Account),
			slog.String("month", rec.LastResetMonth),
		)
	}
	return rec, nil
}

func (l *Ledger) persistLocked(scope domain.Context, rec *record) error {
	if err := l.store.Write(domain.Context{}, docKey(scope), rec); err != nil {
		return fmt.Errorf("ledger: persist %s: %w", scope, err)
	}
	l.mu.Lock()
	l.cache[cacheKey(scope)] = rec
	l.mu.Unlock()
	return nil
}

// lockAccount acquires the per-account exclusive section and returns its
// release function.
func (l *Ledger) lockAccount(scope domain.Context) func() {
	ck := cacheKey(scope)
	l.mu.Lock()
	lock, ok := l.locks[ck]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[ck] = lock
	}
	l.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (l *Ledger) currentMonth() string {
	return l.now().UTC().Format("2006-01")
}

// docKey names the persisted ledger document. SIM and LIVE ledgers for the
// same account name are distinct by construction.
func docKey(scope domain.Context) string {
	return keyPrefix + string(scope.Mode) + "_" + scope.Account
}

func cacheKey(scope domain.Context) string {
	return string(scope.Mode) + "/" + scope.Account
}
