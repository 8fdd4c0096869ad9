package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrSchemaMismatch     = errors.New("schema version mismatch")
	ErrStaleState         = errors.New("state past freshness limit")
	ErrRecoveryStepFailed = errors.New("recovery step failed")
	ErrRecoverySuperseded = errors.New("recovery epoch superseded")
	ErrUnarmed            = errors.New("live trading not armed")
	ErrNotLive            = errors.New("active mode is not LIVE")
	ErrNotConnected       = errors.New("transport not connected")
	ErrAccountMismatch    = errors.New("order account does not match active context")
	ErrTransportClosed    = errors.New("transport closed")
)
