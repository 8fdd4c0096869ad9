package domain

import "time"

// Balance is the per-account ledger state. Current is always recomputed from
// the components and never stored independently, so a cached total can never
// drift from the postings that produced it.
type Balance struct {
	Account         string    `json:"account"`
	StartingBalance float64   `json:"starting_balance"`
	RealizedPnL     float64   `json:"realized_pnl"`
	FeesPaid        float64   `json:"fees_paid"`
	UpdatedAt       time.Time `json:"updated_at_utc"`
}

// Current returns starting_balance + realized_pnl − fees_paid.
func (b Balance) Current() float64 {
	return b.StartingBalance + b.RealizedPnL - b.FeesPaid
}

// ModeHistoryEntry records one committed context transition.
type ModeHistoryEntry struct {
	Timestamp time.Time `json:"timestamp_utc"`
	Previous  Context   `json:"previous"`
	New       Context   `json:"new"`
}

// ProvisionalState is the last committed context, persisted so a restart can
// speculatively pre-load scoped state. Valid only within its TTL.
type ProvisionalState struct {
	Context Context   `json:"context"`
	SavedAt time.Time `json:"saved_at_utc"`
}

// ArmState is the live-arming interlock state. It is held in memory only; a
// restart must never inherit an armed session.
type ArmState struct {
	Armed        bool      `json:"armed"`
	ArmedAt      time.Time `json:"armed_at_utc,omitzero"`
	DisarmReason string    `json:"disarm_reason,omitempty"`
}
