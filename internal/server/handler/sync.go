package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/0xshikhar/domie-sub000/internal/crypto"
	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// Syncer runs one indexer pass for a network.
type Syncer interface {
	Sync(ctx context.Context, network string) (domain.SyncReport, error)
	Networks() []string
}

// SyncHandler serves the indexer trigger.
type SyncHandler struct {
	syncer Syncer
	signer *crypto.RequestSigner // nil disables signature checks
	logger *slog.Logger
}

// NewSyncHandler creates a SyncHandler. When signer is non-nil every
// trigger must carry a valid request signature.
func NewSyncHandler(syncer Syncer, signer *crypto.RequestSigner, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{syncer: syncer, signer: signer, logger: logHandler(logger, "sync")}
}

type syncRequest struct {
	Network string `json:"network"`
}

// TriggerSync runs the indexer for one network and returns its report.
// POST /api/sync
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if h.signer != nil {
		err := h.signer.Verify(r.Method, r.URL.Path, body,
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature), time.Now())
		if err != nil {
			h.logger.WarnContext(r.Context(), "sync trigger rejected", slog.String("error", err.Error()))
			writeError(w, http.StatusUnauthorized, "invalid request signature")
			return
		}
	}

	var req syncRequest
	if len(bytes.TrimSpace(body)) > 0 {
		r.Body = io.NopCloser(bytes.NewReader(body))
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Network == "" {
		networks := h.syncer.Networks()
		if len(networks) != 1 {
			writeError(w, http.StatusBadRequest, "network is required")
			return
		}
		req.Network = networks[0]
	}

	report, err := h.syncer.Sync(r.Context(), req.Network)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "sync already running for "+req.Network)
		return
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown network "+req.Network)
		return
	default:
		h.logger.ErrorContext(r.Context(), "handler: sync failed",
			slog.String("network", req.Network),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
