package modes

import (
	"fmt"
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
)

const historyKey = "mode_history"

// HistoryLog is the append-only record of committed context transitions. It
// is the single source of truth for "what was active when", used by drift
// analysis and audit.
type HistoryLog struct {
	store   domain.ScopedStore
	entries []domain.ModeHistoryEntry
	loaded  bool

	now func() time.Time
}

// NewHistoryLog creates a HistoryLog backed by store.
func NewHistoryLog(store domain.ScopedStore) *HistoryLog {
	return &HistoryLog{store: store, now: time.Now}
}

// Append adds one transition entry stamped with the current UTC time. If the
// clock appears to have moved backward, the timestamp is clamped to one
// millisecond past the previous entry so the log stays monotonic.
func (h *HistoryLog) Append(previous, next domain.Context) (domain.ModeHistoryEntry, error) {
	if err := h.load(); err != nil {
		return domain.ModeHistoryEntry{}, err
	}

	ts := h.now().UTC()
	if n := len(h.entries); n > 0 {
		if floor := h.entries[n-1].Timestamp.Add(time.Millisecond); ts.Before(floor) {
			ts = floor
		}
	}

	entry := domain.ModeHistoryEntry{Timestamp: ts, Previous: previous, New: next}
	h.entries = append(h.entries, entry)
	if err := h.store.Write(domain.Context{}, historyKey, h.entries); err != nil {
		return domain.ModeHistoryEntry{}, fmt.Errorf("modes: append history: %w", err)
	}
	return entry, nil
}

// History returns all entries, oldest first.
func (h *HistoryLog) History() ([]domain.ModeHistoryEntry, error) {
	if err := h.load(); err != nil {
		return nil, err
	}
	out := make([]domain.ModeHistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out, nil
}

// LastChange returns the most recent entry, or ok=false for an empty log.
func (h *HistoryLog) LastChange() (domain.ModeHistoryEntry, bool, error) {
	if err := h.load(); err != nil {
		return domain.ModeHistoryEntry{}, false, err
	}
	if len(h.entries) == 0 {
		return domain.ModeHistoryEntry{}, false, nil
	}
	return h.entries[len(h.entries)-1], true, nil
}

func (h *HistoryLog) load() error {
	if h.loaded {
		return nil
	}
	err := h.store.Read(domain.Context{}, historyKey, &h.entries)
	if err != nil && err != domain.ErrNotFound {
		return fmt.Errorf("modes: load history: %w", err)
	}
	h.loaded = true
	return nil
}
