package domain

import (
	"context"
	"math/big"
)

// LedgerReader is the point-read side of the deal ledger. Reads never mutate.
type LedgerReader interface {
	GetDealInfo(ctx context.Context, dealID uint64) (Deal, error)
	GetParticipantInfo(ctx context.Context, dealID uint64, address string) (Participant, error)
	GetDealParticipants(ctx context.Context, dealID uint64) ([]string, error)
	GetProposal(ctx context.Context, dealID uint64, proposalHash string) (VoteProposal, error)
	GetProposalVotes(ctx context.Context, dealID uint64, proposalHash string) ([]Vote, error)
	DealCount(ctx context.Context) (uint64, error)
	// Events returns up to limit log entries with Seq > afterSeq, oldest first.
	Events(ctx context.Context, afterSeq uint64, limit int) ([]LedgerEvent, error)
}

// LedgerWriter submits state changes. Every method fails atomically with a
// *RuleError on invariant violation; a submission that cannot be confirmed in
// time fails with ErrOutcomeUnknown.
type LedgerWriter interface {
	CreateDeal(ctx context.Context, caller string, params CreateDealParams) (uint64, error)
	Contribute(ctx context.Context, dealID uint64, caller string, amount *big.Int) (ContributionReceipt, error)
	CancelDeal(ctx context.Context, dealID uint64, caller string) error
	Refund(ctx context.Context, dealID uint64, caller string) (*big.Int, error)
	MarkDomainPurchased(ctx context.Context, dealID uint64, caller, tokenID string) error
	SetFractionalToken(ctx context.Context, dealID uint64, caller, tokenAddress string) error
	CreateProposal(ctx context.Context, dealID uint64, caller string, proposal VoteProposal) (string, error)
	Vote(ctx context.Context, dealID uint64, caller, proposalHash string, option int) error
}

// Ledger is the full RPC boundary.
type Ledger interface {
	LedgerReader
	LedgerWriter
}
