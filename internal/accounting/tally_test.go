package accounting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

func TestTallyWeighsByContribution(t *testing.T) {
	p := domain.VoteProposal{
		Hash:              "0xabc",
		Options:           []string{"keep", "sell"},
		Deadline:          1000,
		RequiredThreshold: 51,
	}
	participants := []domain.Participant{
		{Address: "0xA", Contribution: eth(6)},
		{Address: "0xB", Contribution: eth(3)},
		{Address: "0xC", Contribution: eth(1)},
		{Address: "0xD", Contribution: eth(5), Refunded: true},
	}
	votes := []domain.Vote{
		{Voter: "0xa", Option: 1},
		{Voter: "0xB", Option: 0},
		{Voter: "0xC", Option: 0},
		{Voter: "0xD", Option: 0},
	}

	tally := Tally(p, votes, participants, 500)

	assert.Equal(t, 0, tally.EligibleWeight.Cmp(eth(10)))
	assert.Equal(t, 0, tally.VotedWeight.Cmp(eth(10)))
	assert.Equal(t, 0, tally.Options[0].Weight.Cmp(eth(4)))
	assert.Equal(t, 2, tally.Options[0].Voters)
	assert.Equal(t, 0, tally.Options[1].Weight.Cmp(eth(6)))
	assert.Equal(t, 1, tally.WinningOption)
	assert.True(t, tally.Passed)
	assert.False(t, tally.Closed)
}

func TestTallyBelowThreshold(t *testing.T) {
	p := domain.VoteProposal{Options: []string{"yes", "no"}, Deadline: 10, RequiredThreshold: 75}
	participants := []domain.Participant{
		{Address: "0xA", Contribution: eth(6)},
		{Address: "0xB", Contribution: eth(4)},
	}
	tally := Tally(p, []domain.Vote{{Voter: "0xA", Option: 0}}, participants, 20)

	assert.Equal(t, 0, tally.WinningOption)
	assert.False(t, tally.Passed)
	assert.True(t, tally.Closed)
}

func TestTallyNoVotes(t *testing.T) {
	p := domain.VoteProposal{Options: []string{"yes", "no"}, RequiredThreshold: 50}
	tally := Tally(p, nil, nil, 0)
	assert.Equal(t, -1, tally.WinningOption)
	assert.False(t, tally.Passed)
	assert.Equal(t, int64(0), tally.EligibleWeight.Int64())
}
