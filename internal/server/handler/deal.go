package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/0xshikhar/domie-sub000/internal/accounting"
	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/service"
)

// DealService defines the methods that the deal handlers require from the
// service layer.
type DealService interface {
	CreateDeal(ctx context.Context, caller string, p domain.CreateDealParams) (service.DealView, error)
	Contribute(ctx context.Context, dealID uint64, caller string, amount *big.Int) (domain.ContributionReceipt, error)
	CancelDeal(ctx context.Context, dealID uint64, caller string) error
	Refund(ctx context.Context, dealID uint64, caller string) (*big.Int, error)
	MarkDomainPurchased(ctx context.Context, dealID uint64, caller, tokenID string) error
	SetFractionalToken(ctx context.Context, dealID uint64, caller, tokenAddress string) error
	GetDeal(ctx context.Context, dealID uint64) (service.DealView, error)
	ListDeals(ctx context.Context, opts domain.DealListOpts) ([]service.DealView, error)
	Participants(ctx context.Context, dealID uint64) ([]service.ParticipantView, error)
	Participant(ctx context.Context, dealID uint64, address string) (service.ParticipantView, error)
}

var _ DealService = (*service.DealService)(nil)

// DealHandler serves deal endpoints.
type DealHandler struct {
	deals  DealService
	logger *slog.Logger
}

// NewDealHandler creates a DealHandler with the given service and logger.
func NewDealHandler(deals DealService, logger *slog.Logger) *DealHandler {
	return &DealHandler{
		deals:  deals,
		logger: logHandler(logger, "deals"),
	}
}

// createDealRequest accepts amounts as wei integers or "1.5eth".
type createDealRequest struct {
	Caller          string `json:"caller"`
	DomainName      string `json:"domainName"`
	TargetPrice     string `json:"targetPrice"`
	MinContribution string `json:"minContribution"`
	MaxParticipants uint64 `json:"maxParticipants"`
	DurationDays    uint64 `json:"durationDays"`
}

type callerRequest struct {
	Caller string `json:"caller"`
}

type contributeRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type listDealsResponse struct {
	Deals []service.DealView `json:"deals"`
}

type participantsResponse struct {
	Participants []service.ParticipantView `json:"participants"`
}

// ListDeals lists mirrored deals.
// GET /api/deals?status=ACTIVE&limit=50&offset=0
func (h *DealHandler) ListDeals(w http.ResponseWriter, r *http.Request) {
	page := parseListOpts(r)
	opts := domain.DealListOpts{Limit: page.Limit, Offset: page.Offset}
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := domain.ParseMirrorStatus(strings.ToUpper(s))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Status = &st
	}

	deals, err := h.deals.ListDeals(r.Context(), opts)
	if err != nil {
		writeReadError(w, r, h.logger, "list deals", err)
		return
	}
	if deals == nil {
		deals = []service.DealView{}
	}
	writeJSON(w, http.StatusOK, listDealsResponse{Deals: deals})
}

// GetDeal returns one deal read from the ledger.
// GET /api/deals/{id}
func (h *DealHandler) GetDeal(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	deal, err := h.deals.GetDeal(r.Context(), id)
	if err != nil {
		writeReadError(w, r, h.logger, "get deal", err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

// CreateDeal opens a new deal.
// POST /api/deals
func (h *DealHandler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req createDealRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := callerAddress(r, req.Caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "create deal", err)
		return
	}
	target, err := accounting.ParseAmount(req.TargetPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "targetPrice: "+err.Error())
		return
	}
	minimum := new(big.Int)
	if req.MinContribution != "" {
		if minimum, err = accounting.ParseAmount(req.MinContribution); err != nil {
			writeError(w, http.StatusBadRequest, "minContribution: "+err.Error())
			return
		}
	}

	deal, err := h.deals.CreateDeal(r.Context(), caller, domain.CreateDealParams{
		DomainName:      strings.TrimSpace(req.DomainName),
		TargetPrice:     target,
		MinContribution: minimum,
		MaxParticipants: req.MaxParticipants,
		DurationDays:    req.DurationDays,
	})
	if err != nil {
		writeLedgerError(w, r, h.logger, "create deal", err)
		return
	}
	h.logger.InfoContext(r.Context(), "deal created",
		slog.Uint64("deal_id", deal.ID),
		slog.String("domain", deal.DomainName),
	)
	writeJSON(w, http.StatusCreated, deal)
}

// Contribute adds funds to a deal.
// POST /api/deals/{id}/contribute
func (h *DealHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req contributeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := callerAddress(r, req.Caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "contribute", err)
		return
	}
	amount, err := accounting.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount: "+err.Error())
		return
	}

	rcpt, err := h.deals.Contribute(r.Context(), id, caller, amount)
	if err != nil {
		writeLedgerError(w, r, h.logger, "contribute", err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// CancelDeal cancels an active deal.
// POST /api/deals/{id}/cancel
func (h *DealHandler) CancelDeal(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req callerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := callerAddress(r, req.Caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "cancel deal", err)
		return
	}
	if err := h.deals.CancelDeal(r.Context(), id, caller); err != nil {
		writeLedgerError(w, r, h.logger, "cancel deal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dealId": id, "status": domain.DealStatusCancelled})
}

// Refund returns the caller's contribution from a failed deal.
// POST /api/deals/{id}/refund
func (h *DealHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req callerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := callerAddress(r, req.Caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "refund", err)
		return
	}
	amount, err := h.deals.Refund(r.Context(), id, caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "refund", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dealId":    id,
		"address":   caller,
		"amount":    amount,
		"amountEth": accounting.FormatEther(amount),
	})
}

// Participants lists a deal's participants with their shares.
// GET /api/deals/{id}/participants
func (h *DealHandler) Participants(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	parts, err := h.deals.Participants(r.Context(), id)
	if err != nil {
		writeReadError(w, r, h.logger, "list participants", err)
		return
	}
	writeJSON(w, http.StatusOK, participantsResponse{Participants: parts})
}

// Participant returns one address's position.
// GET /api/deals/{id}/participants/{address}
func (h *DealHandler) Participant(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := domain.NormalizeAddress(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.deals.Participant(r.Context(), id, addr)
	if err != nil {
		writeReadError(w, r, h.logger, "get participant", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
