package handler

import (
	"log/slog"
	"net/http"

	"github.com/deskforge/tradeterm/internal/domain"
)

// AuditHandler serves read access to the session audit log.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

type auditEntryJSON struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"created_at_utc"`
}

// ListEntries returns recent audit entries, newest first.
// GET /api/audit?limit=100&before=2026-01-02T15:04:05Z
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	opts := domain.AuditListOpts{
		Limit:  queryLimit(r, 100, 1000),
		Before: queryTime(r, "before"),
	}

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: audit list failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	out := make([]auditEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryJSON{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
