// Package service holds the application services behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/0xshikhar/domie-sub000/internal/accounting"
	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/metrics"
	"github.com/0xshikhar/domie-sub000/internal/notify"
)

// Alerter raises operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// DealConfig holds the deal service settings.
type DealConfig struct {
	Network string
	// ContributeLimit caps contributions per caller per ContributeWindow.
	// Zero disables the check.
	ContributeLimit  int
	ContributeWindow time.Duration
}

// DealService submits ledger writes for the API and audits each successful
// one. Deal rooms learn about writes from the ledger's own event log, not
// from this service.
type DealService struct {
	ledger  domain.Ledger
	mirror  domain.DealStore
	audit   domain.AuditStore
	limiter domain.RateLimiter
	alerts  Alerter
	metrics *metrics.Metrics
	cfg     DealConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewDealService creates a DealService. mirror, audit and limiter may be
// nil.
func NewDealService(
	ledger domain.Ledger,
	mirror domain.DealStore,
	audit domain.AuditStore,
	limiter domain.RateLimiter,
	cfg DealConfig,
	logger *slog.Logger,
) *DealService {
	if cfg.ContributeWindow <= 0 {
		cfg.ContributeWindow = time.Minute
	}
	return &DealService{
		ledger:  ledger,
		mirror:  mirror,
		audit:   audit,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "deal_service")),
		now:     time.Now,
	}
}

// WithAlerts attaches operator alerts for deal lifecycle milestones.
func (s *DealService) WithAlerts(a Alerter) *DealService {
	s.alerts = a
	return s
}

// WithMetrics attaches ledger write metrics.
func (s *DealService) WithMetrics(m *metrics.Metrics) *DealService {
	s.metrics = m
	return s
}

// Network returns the ledger network this service writes to.
func (s *DealService) Network() string { return s.cfg.Network }

// outcome classifies a write result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrOutcomeUnknown):
		return "unknown"
	case domain.IsRuleViolation(err), errors.Is(err, domain.ErrTxReverted):
		return "rejected"
	default:
		return "error"
	}
}

func (s *DealService) record(ctx context.Context, op string, dealID uint64, caller string, err error) {
	s.metrics.LedgerWrite(op, outcome(err))
	if err == nil {
		return
	}
	level := slog.LevelWarn
	if !domain.IsRuleViolation(err) {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "ledger write failed",
		slog.String("op", op),
		slog.Uint64("deal_id", dealID),
		slog.String("caller", caller),
		slog.String("funds_moved", domain.FundsMoved(err)),
		slog.String("error", err.Error()),
	)
}

// auditWrite records a successful write. Failures are logged only.
func (s *DealService) auditWrite(ctx context.Context, ev domain.LedgerEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, "ledger."+string(ev.Kind), map[string]any{
		"network": s.cfg.Network,
		"deal_id": ev.DealID,
		"actor":   ev.Actor,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}

func (s *DealService) alert(ctx context.Context, event, title, message string) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// CreateDeal opens a new deal.
func (s *DealService) CreateDeal(ctx context.Context, caller string, p domain.CreateDealParams) (DealView, error) {
	id, err := s.ledger.CreateDeal(ctx, caller, p)
	s.record(ctx, "create_deal", id, caller, err)
	if err != nil {
		return DealView{}, fmt.Errorf("service: create deal: %w", err)
	}
	d, err := s.ledger.GetDealInfo(ctx, id)
	if err != nil {
		return DealView{}, fmt.Errorf("service: read created deal %d: %w", id, err)
	}
	s.auditWrite(ctx, domain.LedgerEvent{
		Kind:          domain.EventDealCreated,
		DealID:        id,
		DomainName:    d.DomainName,
		Actor:         d.Creator,
		CurrentAmount: d.CurrentAmount,
		TargetPrice:   d.TargetPrice,
		Status:        d.Status,
		At:            d.CreatedAt,
	})
	return s.view(ctx, d), nil
}

// Contribute adds amount wei from caller to the deal.
func (s *DealService) Contribute(ctx context.Context, dealID uint64, caller string, amount *big.Int) (domain.ContributionReceipt, error) {
	if s.limiter != nil && s.cfg.ContributeLimit > 0 {
		ok, err := s.limiter.Allow(ctx, "contribute:"+caller, s.cfg.ContributeLimit, s.cfg.ContributeWindow)
		if err != nil {
			s.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !ok {
			return domain.ContributionReceipt{}, domain.ErrRateLimited
		}
	}

	rcpt, err := s.ledger.Contribute(ctx, dealID, caller, amount)
	s.record(ctx, "contribute", dealID, caller, err)
	if err != nil {
		return domain.ContributionReceipt{}, fmt.Errorf("service: contribute to deal %d: %w", dealID, err)
	}
	s.auditWrite(ctx, domain.LedgerEvent{
		Kind:          domain.EventContributed,
		DealID:        dealID,
		Actor:         rcpt.Contributor,
		Amount:        rcpt.Amount,
		CurrentAmount: rcpt.CurrentAmount,
		TargetPrice:   rcpt.TargetPrice,
		Status:        rcpt.Status,
	})
	if rcpt.Status == domain.DealStatusFunded {
		s.alert(ctx, notify.EventDealFunded, fmt.Sprintf("Deal %d funded", dealID),
			fmt.Sprintf("Deal %d reached its target of %s ETH with %d participants.",
				dealID, accounting.FormatEther(rcpt.TargetPrice), rcpt.ParticipantCount))
	}
	return rcpt, nil
}

// CancelDeal cancels an active deal.
func (s *DealService) CancelDeal(ctx context.Context, dealID uint64, caller string) error {
	err := s.ledger.CancelDeal(ctx, dealID, caller)
	s.record(ctx, "cancel", dealID, caller, err)
	if err != nil {
		return fmt.Errorf("service: cancel deal %d: %w", dealID, err)
	}
	s.auditWrite(ctx, domain.LedgerEvent{
		Kind:   domain.EventCancelled,
		DealID: dealID,
		Actor:  caller,
		Status: domain.DealStatusCancelled,
	})
	s.alert(ctx, notify.EventDealCancelled, fmt.Sprintf("Deal %d cancelled", dealID),
		fmt.Sprintf("Deal %d was cancelled by %s.", dealID, caller))
	return nil
}

// Refund returns the caller's contribution from a cancelled or expired deal.
func (s *DealService) Refund(ctx context.Context, dealID uint64, caller string) (*big.Int, error) {
	amount, err := s.ledger.Refund(ctx, dealID, caller)
	s.record(ctx, "refund", dealID, caller, err)
	if err != nil {
		return nil, fmt.Errorf("service: refund deal %d: %w", dealID, err)
	}
	s.auditWrite(ctx, domain.LedgerEvent{
		Kind:   domain.EventRefunded,
		DealID: dealID,
		Actor:  caller,
		Amount: amount,
	})
	return amount, nil
}

// MarkDomainPurchased records the purchase of a funded deal's domain.
func (s *DealService) MarkDomainPurchased(ctx context.Context, dealID uint64, caller, tokenID string) error {
	err := s.ledger.MarkDomainPurchased(ctx, dealID, caller, tokenID)
	s.record(ctx, "mark_purchased", dealID, caller, err)
	if err != nil {
		return fmt.Errorf("service: mark deal %d purchased: %w", dealID, err)
	}
	s.auditWrite(ctx, domain.LedgerEvent{
		Kind:    domain.EventPurchased,
		DealID:  dealID,
		Actor:   caller,
		TokenID: tokenID,
		Status:  domain.DealStatusExecuted,
	})
	s.alert(ctx, notify.EventDealExecuted, fmt.Sprintf("Deal %d executed", dealID),
		fmt.Sprintf("Domain for deal %d purchased, token %s.", dealID, tokenID))
	return nil
}

// SetFractionalToken records the ownership token of an executed deal.
func (s *DealService) SetFractionalToken(ctx context.Context, dealID uint64, caller, tokenAddress string) error {
	err := s.ledger.SetFractionalToken(ctx, dealID, caller, tokenAddress)
	s.record(ctx, "set_fractional_token", dealID, caller, err)
	if err != nil {
		return fmt.Errorf("service: set fractional token of deal %d: %w", dealID, err)
	}
	s.auditWrite(ctx, domain.LedgerEvent{
		Kind:         domain.EventFractionalTokenSet,
		DealID:       dealID,
		Actor:        caller,
		TokenAddress: tokenAddress,
		Status:       domain.DealStatusExecuted,
	})
	return nil
}

// CreateProposal opens a governance proposal and returns its hash.
func (s *DealService) CreateProposal(ctx context.Context, dealID uint64, caller string, p domain.VoteProposal) (string, error) {
	hash, err := s.ledger.CreateProposal(ctx, dealID, caller, p)
	s.record(ctx, "create_proposal", dealID, caller, err)
	if err != nil {
		return "", fmt.Errorf("service: create proposal on deal %d: %w", dealID, err)
	}
	s.auditWrite(ctx, domain.LedgerEvent{
		Kind:         domain.EventProposalCreated,
		DealID:       dealID,
		Actor:        caller,
		ProposalHash: hash,
	})
	return hash, nil
}

// Vote casts or replaces the caller's vote.
func (s *DealService) Vote(ctx context.Context, dealID uint64, caller, proposalHash string, option int) error {
	err := s.ledger.Vote(ctx, dealID, caller, proposalHash, option)
	s.record(ctx, "vote", dealID, caller, err)
	if err != nil {
		return fmt.Errorf("service: vote on deal %d: %w", dealID, err)
	}
	s.auditWrite(ctx, domain.LedgerEvent{
		Kind:         domain.EventVoted,
		DealID:       dealID,
		Actor:        caller,
		ProposalHash: proposalHash,
	})
	return nil
}

// GetDeal reads a deal from the ledger and joins the room binding and
// milestone from the mirror when present.
func (s *DealService) GetDeal(ctx context.Context, dealID uint64) (DealView, error) {
	d, err := s.ledger.GetDealInfo(ctx, dealID)
	if err != nil {
		return DealView{}, fmt.Errorf("service: get deal %d: %w", dealID, err)
	}
	if !d.Exists() {
		return DealView{}, fmt.Errorf("service: deal %d: %w", dealID, domain.ErrNotFound)
	}
	return s.view(ctx, d), nil
}

func (s *DealService) view(ctx context.Context, d domain.Deal) DealView {
	v := NewDealView(d, s.now().Unix())
	v.Network = s.cfg.Network
	if s.mirror == nil {
		return v
	}
	rec, err := s.mirror.FindByContractID(ctx, s.cfg.Network, d.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "mirror lookup failed", slog.Uint64("deal_id", d.ID), slog.String("error", err.Error()))
		}
		return v
	}
	v.GroupID = rec.Deal.GroupID
	v.LastMilestone = rec.LastMilestone
	return v
}

// ListDeals lists mirrored deals. Figures reflect the last sync.
func (s *DealService) ListDeals(ctx context.Context, opts domain.DealListOpts) ([]DealView, error) {
	if s.mirror == nil {
		return nil, fmt.Errorf("service: list deals: no mirror configured")
	}
	if opts.Network == "" {
		opts.Network = s.cfg.Network
	}
	recs, err := s.mirror.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list deals: %w", err)
	}
	now := s.now().Unix()
	out := make([]DealView, 0, len(recs))
	for _, rec := range recs {
		v := NewDealView(rec.Deal, now)
		v.Network = rec.Network
		v.LastMilestone = rec.LastMilestone
		out = append(out, v)
	}
	return out, nil
}

// Participants returns every participant of a deal with its share.
func (s *DealService) Participants(ctx context.Context, dealID uint64) ([]ParticipantView, error) {
	d, err := s.ledger.GetDealInfo(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("service: get deal %d: %w", dealID, err)
	}
	if !d.Exists() {
		return nil, fmt.Errorf("service: deal %d: %w", dealID, domain.ErrNotFound)
	}
	parts, err := s.participants(ctx, dealID)
	if err != nil {
		return nil, err
	}
	out := make([]ParticipantView, 0, len(parts))
	for _, p := range parts {
		out = append(out, NewParticipantView(p, d.TargetPrice, d.Status))
	}
	return out, nil
}

// Participant returns one address's position in a deal.
func (s *DealService) Participant(ctx context.Context, dealID uint64, address string) (ParticipantView, error) {
	d, err := s.ledger.GetDealInfo(ctx, dealID)
	if err != nil {
		return ParticipantView{}, fmt.Errorf("service: get deal %d: %w", dealID, err)
	}
	if !d.Exists() {
		return ParticipantView{}, fmt.Errorf("service: deal %d: %w", dealID, domain.ErrNotFound)
	}
	p, err := s.ledger.GetParticipantInfo(ctx, dealID, address)
	if err != nil {
		return ParticipantView{}, fmt.Errorf("service: participant %s of deal %d: %w", address, dealID, err)
	}
	return NewParticipantView(p, d.TargetPrice, d.Status), nil
}

func (s *DealService) participants(ctx context.Context, dealID uint64) ([]domain.Participant, error) {
	addrs, err := s.ledger.GetDealParticipants(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("service: participants of deal %d: %w", dealID, err)
	}
	out := make([]domain.Participant, 0, len(addrs))
	for _, a := range addrs {
		p, err := s.ledger.GetParticipantInfo(ctx, dealID, a)
		if err != nil {
			return nil, fmt.Errorf("service: participant %s of deal %d: %w", a, dealID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Proposal returns a proposal, its raw votes and the tally weighted by the
// voters' current contributions.
func (s *DealService) Proposal(ctx context.Context, dealID uint64, proposalHash string) (ProposalView, error) {
	p, err := s.ledger.GetProposal(ctx, dealID, proposalHash)
	if err != nil {
		return ProposalView{}, fmt.Errorf("service: proposal %s: %w", proposalHash, err)
	}
	votes, err := s.ledger.GetProposalVotes(ctx, dealID, proposalHash)
	if err != nil {
		return ProposalView{}, fmt.Errorf("service: votes of %s: %w", proposalHash, err)
	}
	parts, err := s.participants(ctx, dealID)
	if err != nil {
		return ProposalView{}, err
	}
	return ProposalView{
		Proposal: p,
		Votes:    votes,
		Tally:    accounting.Tally(p, votes, parts, s.now().Unix()),
	}, nil
}
