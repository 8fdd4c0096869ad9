package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskforge/tradeterm/internal/domain"
	"github.com/deskforge/tradeterm/internal/recovery"
)

type fakeSession struct {
	active    domain.Context
	signals   []domain.Context
	resets    int
	history   []domain.ModeHistoryEntry
	armState  domain.ArmState
	armErr    error
	disarmed  []string
	recoveryE string
	recoveryP recovery.Phase
}

func (f *fakeSession) ActiveContext() domain.Context { return f.active }

func (f *fakeSession) SetTradingMode(mode domain.Mode, account string) error {
	if !mode.Valid() {
		return domain.ErrNotFound
	}
	f.signals = append(f.signals, domain.Context{Mode: mode, Account: account})
	return nil
}

func (f *fakeSession) ResetDebounce() { f.resets++ }

func (f *fakeSession) ModeHistory() ([]domain.ModeHistoryEntry, error) { return f.history, nil }

func (f *fakeSession) LastModeChange() (domain.ModeHistoryEntry, bool, error) {
	if len(f.history) == 0 {
		return domain.ModeHistoryEntry{}, false, nil
	}
	return f.history[len(f.history)-1], true, nil
}

func (f *fakeSession) ArmState() domain.ArmState { return f.armState }

func (f *fakeSession) Arm() error {
	if f.armErr != nil {
		return f.armErr
	}
	f.armState = domain.ArmState{Armed: true, ArmedAt: time.Now()}
	return nil
}

func (f *fakeSession) Disarm(reason string) {
	f.disarmed = append(f.disarmed, reason)
	f.armState = domain.ArmState{DisarmReason: reason}
}

func (f *fakeSession) RecoveryPhase() (string, recovery.Phase) { return f.recoveryE, f.recoveryP }

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestSetModeAcceptsSignal(t *testing.T) {
	sess := &fakeSession{}
	h := NewSessionHandler(sess, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/session/mode",
		strings.NewReader(`{"mode":"SIM","account":"Sim101"}`))
	rec := httptest.NewRecorder()
	h.SetMode(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sess.signals, 1)
	assert.Equal(t, domain.Context{Mode: domain.ModeSim, Account: "Sim101"}, sess.signals[0])
}

func TestSetModeRejectsBadBody(t *testing.T) {
	h := NewSessionHandler(&fakeSession{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/session/mode", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.SetMode(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetModeResetsDebounce(t *testing.T) {
	sess := &fakeSession{}
	h := NewSessionHandler(sess, testLogger())

	rec := httptest.NewRecorder()
	h.ResetMode(rec, httptest.NewRequest(http.MethodPost, "/api/session/mode/reset", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sess.resets)
}

func TestGetModeReturnsActive(t *testing.T) {
	sess := &fakeSession{active: domain.Context{Mode: domain.ModeLive, Account: "Acct1"}}
	h := NewSessionHandler(sess, testLogger())

	rec := httptest.NewRecorder()
	h.GetMode(rec, httptest.NewRequest(http.MethodGet, "/api/session/mode", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Active contextJSON `json:"active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "LIVE", body.Active.Mode)
	assert.Equal(t, "Acct1", body.Active.Account)
}

func TestLastModeChangeNotFoundWhenEmpty(t *testing.T) {
	h := NewSessionHandler(&fakeSession{}, testLogger())

	rec := httptest.NewRecorder()
	h.LastModeChange(rec, httptest.NewRequest(http.MethodGet, "/api/session/mode/last_change", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArmConflictWhenNotLive(t *testing.T) {
	sess := &fakeSession{armErr: domain.ErrNotLive}
	h := NewSessionHandler(sess, testLogger())

	rec := httptest.NewRecorder()
	h.Arm(rec, httptest.NewRequest(http.MethodPost, "/api/session/arm", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestArmAndDisarmRoundtrip(t *testing.T) {
	sess := &fakeSession{}
	h := NewSessionHandler(sess, testLogger())

	rec := httptest.NewRecorder()
	h.Arm(rec, httptest.NewRequest(http.MethodPost, "/api/session/arm", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sess.armState.Armed)

	rec = httptest.NewRecorder()
	h.Disarm(rec, httptest.NewRequest(http.MethodPost, "/api/session/disarm",
		strings.NewReader(`{"reason":"end of day"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sess.disarmed, 1)
	assert.Equal(t, "end of day", sess.disarmed[0])
}

func TestGetRecoveryReportsPhase(t *testing.T) {
	sess := &fakeSession{recoveryE: "epoch-42", recoveryP: recovery.PhaseFills}
	h := NewSessionHandler(sess, testLogger())

	rec := httptest.NewRecorder()
	h.GetRecovery(rec, httptest.NewRequest(http.MethodGet, "/api/session/recovery", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "epoch-42", body["epoch"])
	assert.Equal(t, "fills", body["phase"])
}
