package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// AdminHandler serves the admin confirmations that follow a funded deal:
// recording the domain purchase and the fractional ownership token.
type AdminHandler struct {
	deals  DealService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(deals DealService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{deals: deals, logger: logHandler(logger, "admin")}
}

type purchaseRequest struct {
	Caller  string `json:"caller"`
	TokenID string `json:"tokenId"`
}

type fractionalTokenRequest struct {
	Caller       string `json:"caller"`
	TokenAddress string `json:"tokenAddress"`
}

// MarkPurchased records that the domain of a funded deal was bought.
// POST /api/deals/{id}/purchase
func (h *AdminHandler) MarkPurchased(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req purchaseRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := callerAddress(r, req.Caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "mark purchased", err)
		return
	}
	tokenID := strings.TrimSpace(req.TokenID)
	if tokenID == "" {
		writeError(w, http.StatusBadRequest, "tokenId is required")
		return
	}

	if err := h.deals.MarkDomainPurchased(r.Context(), id, caller, tokenID); err != nil {
		writeLedgerError(w, r, h.logger, "mark purchased", err)
		return
	}
	h.logger.InfoContext(r.Context(), "domain purchase confirmed",
		slog.Uint64("deal_id", id),
		slog.String("token_id", tokenID),
		slog.String("caller", caller),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"dealId":        id,
		"status":        domain.DealStatusExecuted,
		"domainTokenId": tokenID,
	})
}

// SetFractionalToken records the ownership token of an executed deal.
// POST /api/deals/{id}/fractional-token
func (h *AdminHandler) SetFractionalToken(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req fractionalTokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := callerAddress(r, req.Caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "set fractional token", err)
		return
	}
	token, err := domain.NormalizeAddress(req.TokenAddress)
	if err != nil {
		writeLedgerError(w, r, h.logger, "set fractional token", err)
		return
	}

	if err := h.deals.SetFractionalToken(r.Context(), id, caller, token); err != nil {
		writeLedgerError(w, r, h.logger, "set fractional token", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dealId":                 id,
		"fractionalTokenAddress": token,
	})
}
