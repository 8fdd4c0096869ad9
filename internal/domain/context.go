// Package domain defines the core types shared across the trading terminal:
// trading contexts, balances, orders, positions, fills, structured events,
// and the store interfaces implemented by the persistence backends.
package domain

import "strings"

// Mode is the trading mode of a session context.
type Mode string

const (
	ModeSim   Mode = "SIM"
	ModeLive  Mode = "LIVE"
	ModeDebug Mode = "DEBUG"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeSim, ModeLive, ModeDebug:
		return true
	default:
		return false
	}
}

// Context identifies one trading book: a (mode, account) pair. Contexts are
// compared by value; all scoped persistent state is keyed by Context.
type Context struct {
	Mode    Mode
	Account string
}

// Zero reports whether c is the zero Context (no mode, no account).
func (c Context) Zero() bool {
	return c.Mode == "" && c.Account == ""
}

// String renders the context as "MODE/account" for logs and storage scopes.
func (c Context) String() string {
	return string(c.Mode) + "/" + c.Account
}

// DetectMode classifies an inbound account tag into a trading mode. An
// account equal to liveAccount is LIVE, a "Sim" prefix is SIM, and anything
// empty or unrecognized is DEBUG.
func DetectMode(account, liveAccount string) Mode {
	account = strings.TrimSpace(account)
	if account == "" {
		return ModeDebug
	}
	if liveAccount != "" && account == liveAccount {
		return ModeLive
	}
	if strings.HasPrefix(account, "Sim") {
		return ModeSim
	}
	return ModeDebug
}
