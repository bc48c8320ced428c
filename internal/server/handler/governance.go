package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/service"
)

// GovernanceService is what the proposal endpoints need.
type GovernanceService interface {
	CreateProposal(ctx context.Context, dealID uint64, caller string, p domain.VoteProposal) (string, error)
	Vote(ctx context.Context, dealID uint64, caller, proposalHash string, option int) error
	Proposal(ctx context.Context, dealID uint64, proposalHash string) (service.ProposalView, error)
}

// GovernanceHandler serves proposal and vote endpoints.
type GovernanceHandler struct {
	gov    GovernanceService
	logger *slog.Logger
}

// NewGovernanceHandler creates a GovernanceHandler.
func NewGovernanceHandler(gov GovernanceService, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{gov: gov, logger: logHandler(logger, "governance")}
}

type createProposalRequest struct {
	Caller            string   `json:"caller"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Options           []string `json:"options"`
	Deadline          int64    `json:"deadline"`
	RequiredThreshold int64    `json:"requiredThreshold"`
}

type voteRequest struct {
	Caller string `json:"caller"`
	Option int    `json:"option"`
}

// CreateProposal opens a proposal on a deal.
// POST /api/deals/{id}/proposals
func (h *GovernanceHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createProposalRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := callerAddress(r, req.Caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "create proposal", err)
		return
	}

	hash, err := h.gov.CreateProposal(r.Context(), id, caller, domain.VoteProposal{
		DealID:            id,
		Title:             strings.TrimSpace(req.Title),
		Description:       req.Description,
		Options:           req.Options,
		Deadline:          req.Deadline,
		RequiredThreshold: req.RequiredThreshold,
	})
	if err != nil {
		writeLedgerError(w, r, h.logger, "create proposal", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"dealId": id, "proposalHash": hash})
}

// GetProposal returns a proposal, its votes and the weighted tally.
// GET /api/deals/{id}/proposals/{hash}
func (h *GovernanceHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.gov.Proposal(r.Context(), id, pathParam(r, "hash"))
	if err != nil {
		writeReadError(w, r, h.logger, "get proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Tally returns only the weighted tally of a proposal.
// GET /api/deals/{id}/proposals/{hash}/tally
func (h *GovernanceHandler) Tally(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.gov.Proposal(r.Context(), id, pathParam(r, "hash"))
	if err != nil {
		writeReadError(w, r, h.logger, "tally proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, view.Tally)
}

// Vote casts or replaces the caller's vote.
// POST /api/deals/{id}/proposals/{hash}/votes
func (h *GovernanceHandler) Vote(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req voteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := callerAddress(r, req.Caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "vote", err)
		return
	}
	hash := pathParam(r, "hash")
	if err := h.gov.Vote(r.Context(), id, caller, hash, req.Option); err != nil {
		writeLedgerError(w, r, h.logger, "vote", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dealId":       id,
		"proposalHash": hash,
		"voter":        caller,
		"option":       req.Option,
	})
}
