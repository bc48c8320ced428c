// Package ledger is the in-process model of the community deal contract. It
// is the authority for deal state in simulate mode and in tests, and it
// documents the exact rules the on-chain contract enforces: every mutation is
// serialized, validated completely before anything changes, and recorded in an
// append-only event log.
package ledger

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/0xshikhar/domie-sub000/internal/accounting"
	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// Clock returns the current unix time in seconds.
type Clock func() int64

// SystemClock is the wall clock.
func SystemClock() int64 { return time.Now().Unix() }

type dealState struct {
	deal         domain.Deal
	participants map[string]*domain.Participant // keyed by lower-case address
	order        []string                       // insertion order of participant keys
	proposals    map[string]*proposalState
}

type proposalState struct {
	proposal domain.VoteProposal
	votes    map[string]domain.Vote // keyed by lower-case voter
	order    []string
}

// Ledger is a deal ledger held in memory. It is safe for concurrent use.
type Ledger struct {
	mu     sync.RWMutex
	deals  []*dealState
	events []domain.LedgerEvent
	admins map[string]bool
	clock  Clock
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithAdmins grants lifecycle admin rights (cancel, purchase confirmation,
// fractional token) to the given addresses in addition to each deal's creator.
func WithAdmins(addrs ...string) Option {
	return func(l *Ledger) {
		for _, a := range addrs {
			l.admins[strings.ToLower(strings.TrimSpace(a))] = true
		}
	}
}

// New creates an empty ledger.
func New(logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		admins: make(map[string]bool),
		clock:  SystemClock,
		logger: logger.With(slog.String("component", "ledger")),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func key(addr string) string { return strings.ToLower(strings.TrimSpace(addr)) }

func (l *Ledger) isAdmin(addr string) bool { return l.admins[key(addr)] }

func (l *Ledger) get(op string, dealID uint64) (*dealState, error) {
	if dealID >= uint64(len(l.deals)) {
		return nil, domain.NewRuleError(domain.RuleNotFound, op, dealID, "")
	}
	return l.deals[dealID], nil
}

// effectiveStatus is the status a read reports: an ACTIVE deal past its
// deadline is already expired even if nothing has persisted that yet.
func effectiveStatus(d domain.Deal, now int64) domain.DealStatus {
	if d.Status == domain.DealStatusActive && now >= d.Deadline {
		return domain.DealStatusExpired
	}
	return d.Status
}

// settle persists a lazily computed expiry. Callers hold the write lock.
func (l *Ledger) settle(ds *dealState, now int64) {
	if effectiveStatus(ds.deal, now) == domain.DealStatusExpired && ds.deal.Status == domain.DealStatusActive {
		ds.deal.Status = domain.DealStatusExpired
		l.emit(domain.LedgerEvent{
			Kind:          domain.EventExpired,
			DealID:        ds.deal.ID,
			CurrentAmount: new(big.Int).Set(ds.deal.CurrentAmount),
			TargetPrice:   new(big.Int).Set(ds.deal.TargetPrice),
			Status:        domain.DealStatusExpired,
			At:            now,
		})
	}
}

func (l *Ledger) emit(ev domain.LedgerEvent) {
	ev.Seq = uint64(len(l.events)) + 1
	l.events = append(l.events, ev)
}

func normalize(op string, dealID uint64, addr string) (string, error) {
	a, err := domain.NormalizeAddress(addr)
	if err != nil {
		return "", domain.NewRuleError(domain.RuleInvalidArgument, op, dealID, "invalid address "+addr)
	}
	return a, nil
}

// CreateDeal allocates the next deal id.
func (l *Ledger) CreateDeal(ctx context.Context, caller string, p domain.CreateDealParams) (uint64, error) {
	const op = "create_deal"
	creator, err := normalize(op, 0, caller)
	if err != nil {
		return 0, err
	}
	name := strings.TrimSpace(p.DomainName)
	switch {
	case name == "":
		return 0, domain.NewRuleError(domain.RuleInvalidArgument, op, 0, "domain name is empty")
	case p.TargetPrice == nil || p.TargetPrice.Sign() <= 0:
		return 0, domain.NewRuleError(domain.RuleInvalidArgument, op, 0, "target price must be > 0")
	case p.MinContribution != nil && p.MinContribution.Sign() < 0:
		return 0, domain.NewRuleError(domain.RuleInvalidArgument, op, 0, "min contribution must be >= 0")
	case p.MinContribution != nil && p.MinContribution.Cmp(p.TargetPrice) > 0:
		return 0, domain.NewRuleError(domain.RuleInvalidArgument, op, 0, "min contribution exceeds target")
	case p.MaxParticipants == 0:
		return 0, domain.NewRuleError(domain.RuleInvalidArgument, op, 0, "max participants must be > 0")
	case p.DurationDays == 0:
		return 0, domain.NewRuleError(domain.RuleInvalidArgument, op, 0, "duration must be > 0")
	}

	minContribution := new(big.Int)
	if p.MinContribution != nil {
		minContribution.Set(p.MinContribution)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	id := uint64(len(l.deals))
	ds := &dealState{
		deal: domain.Deal{
			ID:               id,
			DomainName:       name,
			Creator:          creator,
			TargetPrice:      new(big.Int).Set(p.TargetPrice),
			MinContribution:  minContribution,
			MaxParticipants:  p.MaxParticipants,
			CurrentAmount:    new(big.Int),
			ParticipantCount: 0,
			Deadline:         now + int64(p.DurationDays)*accounting.SecondsPerDay,
			Status:           domain.DealStatusActive,
			CreatedAt:        now,
		},
		participants: make(map[string]*domain.Participant),
		proposals:    make(map[string]*proposalState),
	}
	l.deals = append(l.deals, ds)
	l.emit(domain.LedgerEvent{
		Kind:          domain.EventDealCreated,
		DealID:        id,
		DomainName:    name,
		Actor:         creator,
		CurrentAmount: new(big.Int),
		TargetPrice:   new(big.Int).Set(p.TargetPrice),
		Status:        domain.DealStatusActive,
		At:            now,
	})

	l.logger.InfoContext(ctx, "deal created",
		slog.Uint64("deal_id", id),
		slog.String("domain", name),
		slog.String("creator", creator),
		slog.String("target_wei", p.TargetPrice.String()),
	)
	return id, nil
}

// Contribute adds amount from caller. The contribution that reaches the
// target moves the deal to FUNDED in the same operation. Amounts that would
// push the total past the target are rejected.
func (l *Ledger) Contribute(ctx context.Context, dealID uint64, caller string, amount *big.Int) (domain.ContributionReceipt, error) {
	const op = "contribute"
	addr, err := normalize(op, dealID, caller)
	if err != nil {
		return domain.ContributionReceipt{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ContributionReceipt{}, domain.NewRuleError(domain.RuleInvalidArgument, op, dealID, "amount must be > 0")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ds, err := l.get(op, dealID)
	if err != nil {
		return domain.ContributionReceipt{}, err
	}
	now := l.clock()
	l.settle(ds, now)
	d := &ds.deal

	if d.Status == domain.DealStatusExpired {
		return domain.ContributionReceipt{}, domain.NewRuleError(domain.RuleDeadlinePassed, op, dealID, "")
	}
	if d.Status != domain.DealStatusActive {
		return domain.ContributionReceipt{}, domain.NewRuleError(domain.RuleWrongStatus, op, dealID, "deal is "+d.Status.String())
	}

	existing, known := ds.participants[key(addr)]
	if !known {
		if d.ParticipantCount >= d.MaxParticipants {
			return domain.ContributionReceipt{}, domain.NewRuleError(domain.RuleMaxParticipants, op, dealID, "")
		}
		if amount.Cmp(d.MinContribution) < 0 {
			return domain.ContributionReceipt{}, domain.NewRuleError(domain.RuleBelowMinimum, op, dealID,
				"minimum is "+d.MinContribution.String())
		}
	}
	total := new(big.Int).Add(d.CurrentAmount, amount)
	if total.Cmp(d.TargetPrice) > 0 {
		remaining := new(big.Int).Sub(d.TargetPrice, d.CurrentAmount)
		return domain.ContributionReceipt{}, domain.NewRuleError(domain.RuleExceedsTarget, op, dealID,
			"remaining is "+remaining.String())
	}

	// All checks passed; mutate.
	if known {
		existing.Contribution.Add(existing.Contribution, amount)
	} else {
		ds.participants[key(addr)] = &domain.Participant{
			Address:      addr,
			Contribution: new(big.Int).Set(amount),
			JoinedAt:     now,
		}
		ds.order = append(ds.order, key(addr))
		d.ParticipantCount++
	}
	d.CurrentAmount = total
	if d.CurrentAmount.Cmp(d.TargetPrice) >= 0 {
		d.Status = domain.DealStatusFunded
	}

	l.emit(domain.LedgerEvent{
		Kind:          domain.EventContributed,
		DealID:        dealID,
		DomainName:    d.DomainName,
		Actor:         addr,
		Amount:        new(big.Int).Set(amount),
		CurrentAmount: new(big.Int).Set(d.CurrentAmount),
		TargetPrice:   new(big.Int).Set(d.TargetPrice),
		Status:        d.Status,
		At:            now,
	})

	l.logger.InfoContext(ctx, "contribution recorded",
		slog.Uint64("deal_id", dealID),
		slog.String("contributor", addr),
		slog.String("amount_wei", amount.String()),
		slog.String("status", d.Status.String()),
	)

	return domain.ContributionReceipt{
		DealID:           dealID,
		Contributor:      addr,
		Amount:           new(big.Int).Set(amount),
		CurrentAmount:    new(big.Int).Set(d.CurrentAmount),
		TargetPrice:      new(big.Int).Set(d.TargetPrice),
		ParticipantCount: d.ParticipantCount,
		Status:           d.Status,
		NewParticipant:   !known,
	}, nil
}

// CancelDeal moves an ACTIVE deal to CANCELLED, unlocking refunds. Only the
// creator or an admin may cancel.
func (l *Ledger) CancelDeal(ctx context.Context, dealID uint64, caller string) error {
	const op = "cancel_deal"
	addr, err := normalize(op, dealID, caller)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ds, err := l.get(op, dealID)
	if err != nil {
		return err
	}
	now := l.clock()
	l.settle(ds, now)
	d := &ds.deal

	if !domain.SameAddress(addr, d.Creator) && !l.isAdmin(addr) {
		return domain.NewRuleError(domain.RuleUnauthorized, op, dealID, "creator or admin only")
	}
	if !d.Status.CanTransition(domain.DealStatusCancelled) {
		return domain.NewRuleError(domain.RuleWrongStatus, op, dealID, "deal is "+d.Status.String())
	}

	d.Status = domain.DealStatusCancelled
	l.emit(domain.LedgerEvent{
		Kind:          domain.EventCancelled,
		DealID:        dealID,
		Actor:         addr,
		CurrentAmount: new(big.Int).Set(d.CurrentAmount),
		TargetPrice:   new(big.Int).Set(d.TargetPrice),
		Status:        d.Status,
		At:            now,
	})
	l.logger.InfoContext(ctx, "deal cancelled", slog.Uint64("deal_id", dealID), slog.String("by", addr))
	return nil
}

// Expire persists the expiry of an ACTIVE deal whose deadline has passed.
// It is what a keeper calls; every other mutation also settles expiry first.
func (l *Ledger) Expire(ctx context.Context, dealID uint64) error {
	const op = "expire"
	l.mu.Lock()
	defer l.mu.Unlock()

	ds, err := l.get(op, dealID)
	if err != nil {
		return err
	}
	now := l.clock()
	if effectiveStatus(ds.deal, now) != domain.DealStatusExpired {
		return domain.NewRuleError(domain.RuleWrongStatus, op, dealID, "deal is "+ds.deal.Status.String())
	}
	if ds.deal.Status == domain.DealStatusExpired {
		return nil
	}
	l.settle(ds, now)
	l.logger.InfoContext(ctx, "deal expired", slog.Uint64("deal_id", dealID))
	return nil
}

// Refund returns caller's whole contribution once the deal is CANCELLED or
// EXPIRED. The participant keeps its historical contribution, flagged
// refunded; participantCount is not decremented.
func (l *Ledger) Refund(ctx context.Context, dealID uint64, caller string) (*big.Int, error) {
	const op = "refund"
	addr, err := normalize(op, dealID, caller)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ds, err := l.get(op, dealID)
	if err != nil {
		return nil, err
	}
	now := l.clock()
	l.settle(ds, now)
	d := &ds.deal

	if d.Status != domain.DealStatusCancelled && d.Status != domain.DealStatusExpired {
		return nil, domain.NewRuleError(domain.RuleWrongStatus, op, dealID, "deal is "+d.Status.String())
	}
	p, ok := ds.participants[key(addr)]
	if !ok || p.Contribution.Sign() <= 0 {
		return nil, domain.NewRuleError(domain.RuleNotParticipant, op, dealID, addr)
	}
	if p.Refunded {
		return nil, domain.NewRuleError(domain.RuleAlreadyRefunded, op, dealID, addr)
	}
	if !accounting.IsRefundEligible(d.Status, *p) {
		return nil, domain.NewRuleError(domain.RuleWrongStatus, op, dealID, "not refund eligible")
	}

	amount := new(big.Int).Set(p.Contribution)
	p.Refunded = true
	d.CurrentAmount = new(big.Int).Sub(d.CurrentAmount, amount)

	l.emit(domain.LedgerEvent{
		Kind:          domain.EventRefunded,
		DealID:        dealID,
		Actor:         addr,
		Amount:        new(big.Int).Set(amount),
		CurrentAmount: new(big.Int).Set(d.CurrentAmount),
		TargetPrice:   new(big.Int).Set(d.TargetPrice),
		Status:        d.Status,
		At:            now,
	})
	l.logger.InfoContext(ctx, "refund issued",
		slog.Uint64("deal_id", dealID),
		slog.String("participant", addr),
		slog.String("amount_wei", amount.String()),
	)
	return amount, nil
}

// MarkDomainPurchased records the completed purchase of a FUNDED deal and
// moves it to EXECUTED.
func (l *Ledger) MarkDomainPurchased(ctx context.Context, dealID uint64, caller, tokenID string) error {
	const op = "mark_domain_purchased"
	addr, err := normalize(op, dealID, caller)
	if err != nil {
		return err
	}
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return domain.NewRuleError(domain.RuleInvalidArgument, op, dealID, "token id is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ds, err := l.get(op, dealID)
	if err != nil {
		return err
	}
	now := l.clock()
	l.settle(ds, now)
	d := &ds.deal

	if !domain.SameAddress(addr, d.Creator) && !l.isAdmin(addr) {
		return domain.NewRuleError(domain.RuleUnauthorized, op, dealID, "creator or admin only")
	}
	if d.Status != domain.DealStatusFunded {
		return domain.NewRuleError(domain.RuleWrongStatus, op, dealID, "deal is "+d.Status.String())
	}

	d.Purchased = true
	d.DomainTokenID = tokenID
	d.Status = domain.DealStatusExecuted
	l.emit(domain.LedgerEvent{
		Kind:          domain.EventPurchased,
		DealID:        dealID,
		DomainName:    d.DomainName,
		Actor:         addr,
		CurrentAmount: new(big.Int).Set(d.CurrentAmount),
		TargetPrice:   new(big.Int).Set(d.TargetPrice),
		Status:        d.Status,
		TokenID:       tokenID,
		At:            now,
	})
	l.logger.InfoContext(ctx, "domain purchase recorded",
		slog.Uint64("deal_id", dealID),
		slog.String("token_id", tokenID),
	)
	return nil
}

// SetFractionalToken links the share token of an executed deal. Setting the
// same address again is a no-op; a different address is rejected.
func (l *Ledger) SetFractionalToken(ctx context.Context, dealID uint64, caller, tokenAddress string) error {
	const op = "set_fractional_token"
	addr, err := normalize(op, dealID, caller)
	if err != nil {
		return err
	}
	token, err := normalize(op, dealID, tokenAddress)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ds, err := l.get(op, dealID)
	if err != nil {
		return err
	}
	d := &ds.deal

	if !l.isAdmin(addr) {
		return domain.NewRuleError(domain.RuleUnauthorized, op, dealID, "admin only")
	}
	if d.Status != domain.DealStatusExecuted || !d.Purchased {
		return domain.NewRuleError(domain.RuleWrongStatus, op, dealID, "deal is "+d.Status.String())
	}
	if d.FractionalTokenAddress != "" {
		if domain.SameAddress(d.FractionalTokenAddress, token) {
			return nil
		}
		return domain.NewRuleError(domain.RuleTokenAlreadySet, op, dealID, d.FractionalTokenAddress)
	}

	now := l.clock()
	d.FractionalTokenAddress = token
	l.emit(domain.LedgerEvent{
		Kind:         domain.EventFractionalTokenSet,
		DealID:       dealID,
		DomainName:   d.DomainName,
		Actor:        addr,
		Status:       d.Status,
		TokenAddress: token,
		At:           now,
	})
	l.logger.InfoContext(ctx, "fractional token set",
		slog.Uint64("deal_id", dealID),
		slog.String("token", token),
	)
	return nil
}

// GetDealInfo returns a snapshot of the deal. An unknown id yields a zero
// deal with an empty domain name, mirroring the contract's default struct.
func (l *Ledger) GetDealInfo(ctx context.Context, dealID uint64) (domain.Deal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if dealID >= uint64(len(l.deals)) {
		return domain.Deal{
			ID:              dealID,
			TargetPrice:     new(big.Int),
			MinContribution: new(big.Int),
			CurrentAmount:   new(big.Int),
		}, nil
	}
	d := l.deals[dealID].deal.Clone()
	d.Status = effectiveStatus(d, l.clock())
	return d, nil
}

// GetParticipantInfo returns the participant record, or a zero contribution
// for addresses that never contributed.
func (l *Ledger) GetParticipantInfo(ctx context.Context, dealID uint64, address string) (domain.Participant, error) {
	const op = "get_participant_info"
	addr, err := normalize(op, dealID, address)
	if err != nil {
		return domain.Participant{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	ds, err := l.get(op, dealID)
	if err != nil {
		return domain.Participant{}, err
	}
	p, ok := ds.participants[key(addr)]
	if !ok {
		return domain.Participant{Address: addr, Contribution: new(big.Int)}, nil
	}
	return p.Clone(), nil
}

// GetDealParticipants lists every address that ever contributed, in order of
// first contribution.
func (l *Ledger) GetDealParticipants(ctx context.Context, dealID uint64) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ds, err := l.get("get_deal_participants", dealID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ds.order))
	for _, k := range ds.order {
		out = append(out, ds.participants[k].Address)
	}
	return out, nil
}

// Participants returns full participant records in contribution order.
func (l *Ledger) Participants(ctx context.Context, dealID uint64) ([]domain.Participant, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ds, err := l.get("participants", dealID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Participant, 0, len(ds.order))
	for _, k := range ds.order {
		out = append(out, ds.participants[k].Clone())
	}
	return out, nil
}

// DealCount returns the number of deals ever created.
func (l *Ledger) DealCount(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.deals)), nil
}

// Events returns log entries with Seq > afterSeq, oldest first.
func (l *Ledger) Events(ctx context.Context, afterSeq uint64, limit int) ([]domain.LedgerEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if afterSeq >= uint64(len(l.events)) {
		return nil, nil
	}
	rest := l.events[afterSeq:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]domain.LedgerEvent, len(rest))
	for i, ev := range rest {
		out[i] = ev.Clone()
	}
	return out, nil
}

// sortedVoters keeps tallies deterministic.
func sortedVoters(ps *proposalState) []domain.Vote {
	out := make([]domain.Vote, 0, len(ps.votes))
	for _, k := range ps.order {
		out = append(out, ps.votes[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CastAt < out[j].CastAt })
	return out
}

var _ domain.Ledger = (*Ledger)(nil)

func sortProposals(ps []domain.VoteProposal) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt != ps[j].CreatedAt {
			return ps[i].CreatedAt < ps[j].CreatedAt
		}
		return ps[i].Hash < ps[j].Hash
	})
}
