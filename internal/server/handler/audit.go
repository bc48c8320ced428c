package handler

import (
	"log/slog"
	"net/http"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// AuditHandler exposes the audit log: ledger writes made through the API
// and relay dead letters.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// List returns audit entries, newest first, optionally of one event type.
// GET /api/audit?event=relay_dead_letter&limit=50&offset=0
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), domain.AuditListOpts{
		ListOpts: parseListOpts(r),
		Event:    r.URL.Query().Get("event"),
	})
	if err != nil {
		writeReadError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
}
