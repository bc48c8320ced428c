package ledger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// canPropose reports whether addr may open a proposal on the deal: the creator
// or anyone still holding a contribution.
func canPropose(ds *dealState, addr string) bool {
	if domain.SameAddress(addr, ds.deal.Creator) {
		return true
	}
	return isVoter(ds, addr)
}

func isVoter(ds *dealState, addr string) bool {
	p, ok := ds.participants[key(addr)]
	return ok && !p.Refunded && p.Contribution.Sign() > 0
}

// CreateProposal registers a governance proposal and returns its hash. The
// hash is computed from the proposal body after the ledger fills in the
// deal id, creator and creation time.
func (l *Ledger) CreateProposal(ctx context.Context, dealID uint64, caller string, proposal domain.VoteProposal) (string, error) {
	const op = "create_proposal"
	addr, err := normalize(op, dealID, caller)
	if err != nil {
		return "", err
	}
	proposal.Title = strings.TrimSpace(proposal.Title)
	if proposal.Title == "" {
		return "", domain.NewRuleError(domain.RuleInvalidArgument, op, dealID, "title is empty")
	}
	if len(proposal.Options) < 2 {
		return "", domain.NewRuleError(domain.RuleInvalidArgument, op, dealID, "need at least two options")
	}
	if proposal.RequiredThreshold <= 0 || proposal.RequiredThreshold > 100 {
		return "", domain.NewRuleError(domain.RuleInvalidArgument, op, dealID, "threshold must be in 1..100")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ds, err := l.get(op, dealID)
	if err != nil {
		return "", err
	}
	now := l.clock()
	l.settle(ds, now)

	if ds.deal.Status == domain.DealStatusCancelled || ds.deal.Status == domain.DealStatusExpired {
		return "", domain.NewRuleError(domain.RuleWrongStatus, op, dealID, "deal is "+ds.deal.Status.String())
	}
	if !canPropose(ds, addr) {
		return "", domain.NewRuleError(domain.RuleUnauthorized, op, dealID, "creator or participant only")
	}
	if proposal.Deadline <= now {
		return "", domain.NewRuleError(domain.RuleInvalidArgument, op, dealID, "deadline must be in the future")
	}

	proposal.DealID = dealID
	proposal.CreatedBy = addr
	if proposal.CreatedAt == 0 {
		proposal.CreatedAt = now
	}
	proposal.Options = append([]string(nil), proposal.Options...)
	proposal.Hash = proposal.ComputeHash()

	if _, dup := ds.proposals[proposal.Hash]; dup {
		return "", domain.NewRuleError(domain.RuleDuplicateProposal, op, dealID, proposal.Hash)
	}
	ds.proposals[proposal.Hash] = &proposalState{
		proposal: proposal,
		votes:    make(map[string]domain.Vote),
	}
	l.emit(domain.LedgerEvent{
		Kind:         domain.EventProposalCreated,
		DealID:       dealID,
		DomainName:   ds.deal.DomainName,
		Actor:        addr,
		Status:       ds.deal.Status,
		ProposalHash: proposal.Hash,
		At:           now,
	})
	l.logger.InfoContext(ctx, "proposal created",
		slog.Uint64("deal_id", dealID),
		slog.String("hash", proposal.Hash),
		slog.String("title", proposal.Title),
	)
	return proposal.Hash, nil
}

// Vote records caller's choice. A second vote from the same address
// replaces the first.
func (l *Ledger) Vote(ctx context.Context, dealID uint64, caller, proposalHash string, option int) error {
	const op = "vote"
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

	ps, ok := ds.proposals[strings.ToLower(proposalHash)]
	if !ok {
		return domain.NewRuleError(domain.RuleNotFound, op, dealID, "proposal "+proposalHash)
	}
	if !isVoter(ds, addr) {
		return domain.NewRuleError(domain.RuleNotParticipant, op, dealID, addr)
	}
	if now >= ps.proposal.Deadline {
		return domain.NewRuleError(domain.RuleProposalClosed, op, dealID, proposalHash)
	}
	if option < 0 || option >= len(ps.proposal.Options) {
		return domain.NewRuleError(domain.RuleInvalidOption, op, dealID, "")
	}

	k := key(addr)
	if _, seen := ps.votes[k]; !seen {
		ps.order = append(ps.order, k)
	}
	ps.votes[k] = domain.Vote{
		ProposalHash: ps.proposal.Hash,
		Voter:        addr,
		Option:       option,
		CastAt:       now,
	}
	l.emit(domain.LedgerEvent{
		Kind:         domain.EventVoted,
		DealID:       dealID,
		Actor:        addr,
		Status:       ds.deal.Status,
		ProposalHash: ps.proposal.Hash,
		At:           now,
	})
	l.logger.DebugContext(ctx, "vote cast",
		slog.Uint64("deal_id", dealID),
		slog.String("voter", addr),
		slog.Int("option", option),
	)
	return nil
}

// GetProposal returns a proposal by hash.
func (l *Ledger) GetProposal(ctx context.Context, dealID uint64, proposalHash string) (domain.VoteProposal, error) {
	const op = "get_proposal"
	l.mu.RLock()
	defer l.mu.RUnlock()

	ds, err := l.get(op, dealID)
	if err != nil {
		return domain.VoteProposal{}, err
	}
	ps, ok := ds.proposals[strings.ToLower(proposalHash)]
	if !ok {
		return domain.VoteProposal{}, domain.NewRuleError(domain.RuleNotFound, op, dealID, "proposal "+proposalHash)
	}
	p := ps.proposal
	p.Options = append([]string(nil), p.Options...)
	return p, nil
}

// GetProposalVotes returns the current vote of every voter.
func (l *Ledger) GetProposalVotes(ctx context.Context, dealID uint64, proposalHash string) ([]domain.Vote, error) {
	const op = "get_proposal_votes"
	l.mu.RLock()
	defer l.mu.RUnlock()

	ds, err := l.get(op, dealID)
	if err != nil {
		return nil, err
	}
	ps, ok := ds.proposals[strings.ToLower(proposalHash)]
	if !ok {
		return nil, domain.NewRuleError(domain.RuleNotFound, op, dealID, "proposal "+proposalHash)
	}
	return sortedVoters(ps), nil
}

// Proposals lists a deal's proposals in creation order.
func (l *Ledger) Proposals(ctx context.Context, dealID uint64) ([]domain.VoteProposal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ds, err := l.get("proposals", dealID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.VoteProposal, 0, len(ds.proposals))
	for _, ps := range ds.proposals {
		out = append(out, ps.proposal)
	}
	sortProposals(out)
	return out, nil
}
