// Package chain implements the deal ledger over an EVM JSON-RPC endpoint:
// point reads through eth_call, writes as signed transactions awaited until
// mined, and the event log through eth_getLogs.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/0xshikhar/domie-sub000/internal/crypto"
	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// Backend is the slice of the JSON-RPC client the ledger needs.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Config holds chain client settings.
type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	TxTimeout       time.Duration
	PollInterval    time.Duration
	StartBlock      uint64
	BlockRange      uint64
}

func (c *Config) applyDefaults() {
	if c.TxTimeout <= 0 {
		c.TxTimeout = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BlockRange == 0 {
		c.BlockRange = 5000
	}
}

// Client is a domain.Ledger backed by the CommunityDeal contract.
type Client struct {
	backend  Backend
	closeFn  func()
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int
	signer   *crypto.Signer
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger

	// txMu serialises nonce allocation and submission.
	txMu sync.Mutex
}

// Dial connects to cfg.RPCURL. signer may be nil for a read-only client.
func Dial(ctx context.Context, cfg Config, signer *crypto.Signer, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	if cfg.ChainID == 0 {
		id, err := ec.ChainID(ctx)
		if err != nil {
			ec.Close()
			return nil, fmt.Errorf("chain: chain id: %w", err)
		}
		cfg.ChainID = id.Int64()
	}
	c, err := NewClient(ec, cfg, signer, logger)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closeFn = ec.Close
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, cfg Config, signer *crypto.Signer, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("chain: invalid contract address %q", cfg.ContractAddress)
	}
	parsed, err := parseDealABI()
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	cfg.applyDefaults()
	return &Client{
		backend:  backend,
		abi:      parsed,
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  big.NewInt(cfg.ChainID),
		signer:   signer,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// Operator returns the signing account, or "" for a read-only client.
func (c *Client) Operator() string {
	if c.signer == nil {
		return ""
	}
	return c.signer.Address().Hex()
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	to := c.contract
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("chain: call %s: %w", method, err))
	}
	vals, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return vals, nil
}

func u64(v *big.Int) uint64 {
	if v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

func addrString(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

// GetDealInfo reads a deal. Unknown ids come back with an empty domain name.
func (c *Client) GetDealInfo(ctx context.Context, dealID uint64) (domain.Deal, error) {
	out, err := c.call(ctx, "getDealInfo", new(big.Int).SetUint64(dealID))
	if err != nil {
		return domain.Deal{}, err
	}
	if len(out) != 12 {
		return domain.Deal{}, fmt.Errorf("chain: getDealInfo: unexpected %d outputs", len(out))
	}

	status, err := domain.ParseContractStatus(out[6].(uint8))
	if err != nil {
		return domain.Deal{}, fmt.Errorf("chain: getDealInfo %d: %w", dealID, err)
	}
	d := domain.Deal{
		ID:                     dealID,
		DomainName:             out[0].(string),
		Creator:                addrString(out[1].(common.Address)),
		TargetPrice:            out[2].(*big.Int),
		CurrentAmount:          out[3].(*big.Int),
		ParticipantCount:       u64(out[4].(*big.Int)),
		Deadline:               out[5].(*big.Int).Int64(),
		Status:                 status,
		Purchased:              out[7].(bool),
		FractionalTokenAddress: addrString(out[9].(common.Address)),
		MinContribution:        out[10].(*big.Int),
		MaxParticipants:        u64(out[11].(*big.Int)),
	}
	if tokenID := out[8].(*big.Int); d.Purchased || tokenID.Sign() > 0 {
		d.DomainTokenID = tokenID.String()
	}
	if d.Status == domain.DealStatusActive && d.Exists() && c.now().Unix() >= d.Deadline {
		d.Status = domain.DealStatusExpired
	}
	return d, nil
}

// GetParticipantInfo reads one participant.
func (c *Client) GetParticipantInfo(ctx context.Context, dealID uint64, address string) (domain.Participant, error) {
	addr, err := domain.NormalizeAddress(address)
	if err != nil {
		return domain.Participant{}, err
	}
	out, err := c.call(ctx, "getParticipantInfo", new(big.Int).SetUint64(dealID), common.HexToAddress(addr))
	if err != nil {
		return domain.Participant{}, err
	}
	return domain.Participant{
		Address:      addr,
		Contribution: out[0].(*big.Int),
		Refunded:     out[1].(bool),
		JoinedAt:     out[2].(*big.Int).Int64(),
	}, nil
}

// GetDealParticipants lists every address that contributed.
func (c *Client) GetDealParticipants(ctx context.Context, dealID uint64) ([]string, error) {
	out, err := c.call(ctx, "getDealParticipants", new(big.Int).SetUint64(dealID))
	if err != nil {
		return nil, err
	}
	addrs := out[0].([]common.Address)
	res := make([]string, len(addrs))
	for i, a := range addrs {
		res[i] = a.Hex()
	}
	return res, nil
}

// GetProposal reads a proposal. The contract stores the canonical JSON body
// as metadata alongside the hash.
func (c *Client) GetProposal(ctx context.Context, dealID uint64, proposalHash string) (domain.VoteProposal, error) {
	const op = "get_proposal"
	out, err := c.call(ctx, "getProposal", new(big.Int).SetUint64(dealID), common.HexToHash(proposalHash))
	if err != nil {
		return domain.VoteProposal{}, err
	}
	if out[1].(common.Address) == (common.Address{}) {
		return domain.VoteProposal{}, domain.NewRuleError(domain.RuleNotFound, op, dealID, "proposal "+proposalHash)
	}
	var p domain.VoteProposal
	if err := json.Unmarshal([]byte(out[0].(string)), &p); err != nil {
		return domain.VoteProposal{}, fmt.Errorf("chain: proposal metadata: %w", err)
	}
	p.Hash = common.HexToHash(proposalHash).Hex()
	p.DealID = dealID
	p.CreatedBy = out[1].(common.Address).Hex()
	p.Deadline = out[2].(*big.Int).Int64()
	p.CreatedAt = out[4].(*big.Int).Int64()
	return p, nil
}

// GetProposalVotes reads the current votes.
func (c *Client) GetProposalVotes(ctx context.Context, dealID uint64, proposalHash string) ([]domain.Vote, error) {
	out, err := c.call(ctx, "getProposalVotes", new(big.Int).SetUint64(dealID), common.HexToHash(proposalHash))
	if err != nil {
		return nil, err
	}
	voters := out[0].([]common.Address)
	options := out[1].([]uint8)
	castAt := out[2].([]*big.Int)
	if len(options) != len(voters) || len(castAt) != len(voters) {
		return nil, fmt.Errorf("chain: getProposalVotes: mismatched array lengths")
	}
	hash := common.HexToHash(proposalHash).Hex()
	votes := make([]domain.Vote, len(voters))
	for i := range voters {
		votes[i] = domain.Vote{
			ProposalHash: hash,
			Voter:        voters[i].Hex(),
			Option:       int(options[i]),
			CastAt:       castAt[i].Int64(),
		}
	}
	return votes, nil
}

// DealCount reads the contract's deal counter.
func (c *Client) DealCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "dealCounter")
	if err != nil {
		return 0, err
	}
	return u64(out[0].(*big.Int)), nil
}

var _ domain.Ledger = (*Client)(nil)
