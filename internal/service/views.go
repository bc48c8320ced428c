package service

import (
	"math/big"

	"github.com/0xshikhar/domie-sub000/internal/accounting"
	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// DealView is a deal with the accounting figures the API shows next to it.
type DealView struct {
	domain.Deal
	Network          string   `json:"network,omitempty"`
	Progress         int64    `json:"progress"`
	DaysRemaining    int64    `json:"daysRemaining"`
	Remaining        *big.Int `json:"remaining"`
	SuggestedMinimum *big.Int `json:"suggestedMinimum"`
	LastMilestone    int      `json:"lastMilestone"`
	TargetEther      string   `json:"targetEth"`
	RaisedEther      string   `json:"raisedEth"`
}

// ParticipantView is a participant with its derived ownership share.
type ParticipantView struct {
	domain.Participant
	Shares         *big.Int `json:"shares"`   // whole percent of the target
	ShareBps       *big.Int `json:"shareBps"` // basis points of the target
	RefundEligible bool     `json:"refundEligible"`
	ContributedEth string   `json:"contributedEth"`
}

// ProposalView is a proposal with its read-time tally.
type ProposalView struct {
	Proposal domain.VoteProposal `json:"proposal"`
	Votes    []domain.Vote       `json:"votes"`
	Tally    domain.Tally        `json:"tally"`
}

// NewDealView derives the accounting figures for d as of now. Malformed
// amounts leave the derived fields zero rather than failing the read.
func NewDealView(d domain.Deal, now int64) DealView {
	v := DealView{
		Deal:          d,
		DaysRemaining: accounting.DaysRemaining(d.Deadline, now),
		TargetEther:   accounting.FormatEther(d.TargetPrice),
		RaisedEther:   accounting.FormatEther(d.CurrentAmount),
	}
	if p, err := accounting.ProgressPercentage(d.CurrentAmount, d.TargetPrice); err == nil {
		v.Progress = p
	}
	if r, err := accounting.Remaining(d.CurrentAmount, d.TargetPrice); err == nil {
		v.Remaining = r
	} else {
		v.Remaining = new(big.Int)
	}
	if m, err := accounting.MinimumSuggestedContribution(d.TargetPrice, int64(d.MaxParticipants)); err == nil {
		v.SuggestedMinimum = m
	} else {
		v.SuggestedMinimum = new(big.Int)
	}
	return v
}

// NewParticipantView derives p's share of a deal with the given target and
// status. A refunded participant holds no share.
func NewParticipantView(p domain.Participant, target *big.Int, status domain.DealStatus) ParticipantView {
	v := ParticipantView{
		Participant:    p,
		Shares:         new(big.Int),
		ShareBps:       new(big.Int),
		RefundEligible: accounting.IsRefundEligible(status, p),
		ContributedEth: accounting.FormatEther(p.Contribution),
	}
	if p.Refunded {
		return v
	}
	if s, err := accounting.SharePercentage(p.Contribution, target); err == nil {
		v.Shares = s
	}
	if bps, err := accounting.ShareBasisPoints(p.Contribution, target); err == nil {
		v.ShareBps = bps
	}
	return v
}
