package accounting

import (
	"math/big"
	"strings"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// Tally weighs votes by each voter's current non-refunded contribution. A
// proposal passes once the winning option's weight reaches
// RequiredThreshold percent of the eligible weight; votes from addresses
// that no longer hold a contribution count for nothing.
func Tally(p domain.VoteProposal, votes []domain.Vote, participants []domain.Participant, now int64) domain.Tally {
	weights := make(map[string]*big.Int, len(participants))
	eligible := new(big.Int)
	for _, pt := range participants {
		if pt.Refunded || pt.Contribution == nil || pt.Contribution.Sign() <= 0 {
			continue
		}
		weights[strings.ToLower(pt.Address)] = pt.Contribution
		eligible.Add(eligible, pt.Contribution)
	}

	t := domain.Tally{
		ProposalHash:   p.Hash,
		Options:        make([]domain.OptionTally, len(p.Options)),
		VotedWeight:    new(big.Int),
		EligibleWeight: eligible,
		WinningOption:  -1,
		Closed:         now >= p.Deadline,
	}
	for i, name := range p.Options {
		t.Options[i] = domain.OptionTally{Option: name, Weight: new(big.Int)}
	}

	for _, v := range votes {
		if v.Option < 0 || v.Option >= len(t.Options) {
			continue
		}
		w, ok := weights[strings.ToLower(v.Voter)]
		if !ok {
			continue
		}
		t.Options[v.Option].Weight.Add(t.Options[v.Option].Weight, w)
		t.Options[v.Option].Voters++
		t.VotedWeight.Add(t.VotedWeight, w)
	}

	best := new(big.Int)
	for i, o := range t.Options {
		if o.Weight.Sign() > 0 && o.Weight.Cmp(best) > 0 {
			best = o.Weight
			t.WinningOption = i
		}
	}
	if t.WinningOption >= 0 && eligible.Sign() > 0 {
		// best*100 >= threshold*eligible
		lhs := new(big.Int).Mul(best, hundred)
		rhs := new(big.Int).Mul(big.NewInt(p.RequiredThreshold), eligible)
		t.Passed = lhs.Cmp(rhs) >= 0
	}
	return t
}
