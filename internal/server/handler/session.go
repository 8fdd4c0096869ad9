package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
	"github.com/deskforge/tradeterm/internal/recovery"
)

// SessionService defines the session-core methods the session handler needs.
type SessionService interface {
	ActiveContext() domain.Context
	SetTradingMode(mode domain.Mode, account string) error
	ResetDebounce()
	ModeHistory() ([]domain.ModeHistoryEntry, error)
	LastModeChange() (domain.ModeHistoryEntry, bool, error)
	ArmState() domain.ArmState
	Arm() error
	Disarm(reason string)
	RecoveryPhase() (string, recovery.Phase)
}

// SessionHandler serves trading-mode, arming, and recovery endpoints.
type SessionHandler struct {
	session SessionService
	logger  *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(session SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{session: session, logger: logger}
}

type contextJSON struct {
	Mode    string `json:"mode"`
	Account string `json:"account"`
}

func toContextJSON(c domain.Context) contextJSON {
	return contextJSON{Mode: string(c.Mode), Account: c.Account}
}

type historyEntryJSON struct {
	Timestamp time.Time   `json:"timestamp_utc"`
	Previous  contextJSON `json:"previous"`
	New       contextJSON `json:"new"`
}

// GetMode returns the active trading context.
// GET /api/session/mode
func (h *SessionHandler) GetMode(w http.ResponseWriter, r *http.Request) {
	active := h.session.ActiveContext()
	writeJSON(w, http.StatusOK, map[string]any{
		"active": toContextJSON(active),
	})
}

type setModeRequest struct {
	Mode    string `json:"mode"`
	Account string `json:"account"`
}

// SetMode feeds one raw mode signal into the debouncer. The switch only
// commits after the configured quorum of agreeing signals.
// POST /api/session/mode
func (h *SessionHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.session.SetTradingMode(domain.Mode(req.Mode), req.Account); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "signal accepted"})
}

// ResetMode discards any pending, uncommitted mode candidate.
// POST /api/session/mode/reset
func (h *SessionHandler) ResetMode(w http.ResponseWriter, r *http.Request) {
	h.session.ResetDebounce()
	writeJSON(w, http.StatusOK, map[string]string{"status": "debounce reset"})
}

// ModeHistory returns all committed mode transitions, oldest first.
// GET /api/session/mode/history
func (h *SessionHandler) ModeHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.session.ModeHistory()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: mode history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load mode history")
		return
	}
	out := make([]historyEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntryJSON{
			Timestamp: e.Timestamp,
			Previous:  toContextJSON(e.Previous),
			New:       toContextJSON(e.New),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

// LastModeChange returns the most recent committed transition.
// GET /api/session/mode/last_change
func (h *SessionHandler) LastModeChange(w http.ResponseWriter, r *http.Request) {
	entry, ok, err := h.session.LastModeChange()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: last mode change failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load last mode change")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no mode change recorded")
		return
	}
	writeJSON(w, http.StatusOK, historyEntryJSON{
		Timestamp: entry.Timestamp,
		Previous:  toContextJSON(entry.Previous),
		New:       toContextJSON(entry.New),
	})
}

// GetArmState returns the live-arming interlock state.
// GET /api/session/arm
func (h *SessionHandler) GetArmState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.ArmState())
}

// Arm arms live trading.
// POST /api/session/arm
func (h *SessionHandler) Arm(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Arm(); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotLive):
			writeError(w, http.StatusConflict, "active mode is not LIVE")
		case errors.Is(err, domain.ErrNotConnected):
			writeError(w, http.StatusConflict, "broker connection is not healthy")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, h.session.ArmState())
}

type disarmRequest struct {
	Reason string `json:"reason"`
}

// Disarm disarms live trading. Always permitted.
// POST /api/session/disarm
func (h *SessionHandler) Disarm(w http.ResponseWriter, r *http.Request) {
	var req disarmRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	h.session.Disarm(req.Reason)
	writeJSON(w, http.StatusOK, h.session.ArmState())
}

// GetRecovery returns the current recovery epoch and phase.
// GET /api/session/recovery
func (h *SessionHandler) GetRecovery(w http.ResponseWriter, r *http.Request) {
	epoch, phase := h.session.RecoveryPhase()
	writeJSON(w, http.StatusOK, map[string]string{
		"epoch": epoch,
		"phase": string(phase),
	})
}
