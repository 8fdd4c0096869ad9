package domain

import "time"

// EventKind labels a structured event published on the signal bus.
type EventKind string

const (
	EventModeChange     EventKind = "mode_change"
	EventDrift          EventKind = "drift"
	EventArmChange      EventKind = "arm_change"
	EventRecoveryStatus EventKind = "recovery_status"
	EventBalanceChange  EventKind = "balance_change"
	EventRefresh        EventKind = "refresh"
)

// Event is a structured observability event emitted by the session core. The
// core never formats or ships events itself; sinks subscribe via a SignalBus.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp_utc"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// DriftEvent describes inbound data whose account tag disagrees with the
// believed active context. Drift is diagnostic, never blocking.
type DriftEvent struct {
	Expected    Context   `json:"expected"`
	Observed    Context   `json:"observed"`
	MessageKind string    `json:"message_kind"`
	Timestamp   time.Time `json:"timestamp_utc"`
}
