package domain

import "math/big"

// LedgerEventKind names what happened on the ledger.
type LedgerEventKind string

const (
	EventDealCreated        LedgerEventKind = "deal_created"
	EventContributed        LedgerEventKind = "contributed"
	EventCancelled          LedgerEventKind = "cancelled"
	EventExpired            LedgerEventKind = "expired"
	EventRefunded           LedgerEventKind = "refunded"
	EventPurchased          LedgerEventKind = "purchased"
	EventFractionalTokenSet LedgerEventKind = "fractional_token_set"
	EventProposalCreated    LedgerEventKind = "proposal_created"
	EventVoted              LedgerEventKind = "voted"
)

// LedgerEvent is one entry of the ledger's append-only event log. Seq is
// assigned by the ledger and strictly increases; consumers track it as a
// high-water mark.
type LedgerEvent struct {
	Seq           uint64          `json:"seq"`
	Kind          LedgerEventKind `json:"kind"`
	DealID        uint64          `json:"dealId"`
	DomainName    string          `json:"domainName,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	Amount        *big.Int        `json:"amount,omitempty"`
	CurrentAmount *big.Int        `json:"currentAmount,omitempty"`
	TargetPrice   *big.Int        `json:"targetPrice,omitempty"`
	Status        DealStatus      `json:"status"`
	TokenID       string          `json:"tokenId,omitempty"`
	TokenAddress  string          `json:"tokenAddress,omitempty"`
	ProposalHash  string          `json:"proposalHash,omitempty"`
	At            int64           `json:"at"`
}

// Clone returns a copy that shares no amounts with ev.
func (ev LedgerEvent) Clone() LedgerEvent {
	c := ev
	c.Amount = cloneInt(ev.Amount)
	c.CurrentAmount = cloneInt(ev.CurrentAmount)
	c.TargetPrice = cloneInt(ev.TargetPrice)
	return c
}
