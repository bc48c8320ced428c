package domain

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// VoteProposal is a governance question scoped to one deal. Votes are cast on
// the ledger; the deal room only announces the proposal.
type VoteProposal struct {
	Hash              string   `json:"proposalHash"`
	DealID            uint64   `json:"dealId"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Options           []string `json:"options"`
	Deadline          int64    `json:"deadline"`
	RequiredThreshold int64    `json:"requiredThreshold"` // percent of contributed capital
	CreatedBy         string   `json:"createdBy"`
	CreatedAt         int64    `json:"createdAt"`
}

// proposalBody is the hashed subset of a proposal. Field order is fixed so
// the hash is stable across processes.
type proposalBody struct {
	DealID            uint64   `json:"dealId"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Options           []string `json:"options"`
	Deadline          int64    `json:"deadline"`
	RequiredThreshold int64    `json:"requiredThreshold"`
	CreatedBy         string   `json:"createdBy"`
	CreatedAt         int64    `json:"createdAt"`
}

// ComputeHash returns the keccak256 of the proposal's canonical JSON body as
// 0x-prefixed hex.
func (p VoteProposal) ComputeHash() string {
	body, _ := json.Marshal(proposalBody{
		DealID:            p.DealID,
		Title:             p.Title,
		Description:       p.Description,
		Options:           p.Options,
		Deadline:          p.Deadline,
		RequiredThreshold: p.RequiredThreshold,
		CreatedBy:         p.CreatedBy,
		CreatedAt:         p.CreatedAt,
	})
	return common.BytesToHash(ethcrypto.Keccak256(body)).Hex()
}

// Vote is a single address's choice. Recasting overwrites the previous vote.
type Vote struct {
	ProposalHash string `json:"proposalHash"`
	Voter        string `json:"voter"`
	Option       int    `json:"option"`
	CastAt       int64  `json:"castAt"`
}

// OptionTally is the weighted result for one option.
type OptionTally struct {
	Option string   `json:"option"`
	Weight *big.Int `json:"weight"`
	Voters int      `json:"voters"`
}

// Tally is the read-time weighted result of a proposal.
type Tally struct {
	ProposalHash   string        `json:"proposalHash"`
	Options        []OptionTally `json:"options"`
	VotedWeight    *big.Int      `json:"votedWeight"`
	EligibleWeight *big.Int      `json:"eligibleWeight"`
	WinningOption  int           `json:"winningOption"` // -1 when no votes
	Passed         bool          `json:"passed"`
	Closed         bool          `json:"closed"`
}
