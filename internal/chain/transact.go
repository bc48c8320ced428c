package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// gasHeadroom is applied to estimates, in percent.
const gasHeadroom = 120

// revertRules maps contract revert reasons to rule codes. Matching is by
// lower-case substring.
var revertRules = []struct {
	fragment string
	rule     domain.Rule
}{
	{"deadline", domain.RuleDeadlinePassed},
	{"expired", domain.RuleDeadlinePassed},
	{"not active", domain.RuleWrongStatus},
	{"not funded", domain.RuleWrongStatus},
	{"not executed", domain.RuleWrongStatus},
	{"invalid status", domain.RuleWrongStatus},
	{"refund not available", domain.RuleWrongStatus},
	{"only creator", domain.RuleUnauthorized},
	{"not authorized", domain.RuleUnauthorized},
	{"ownable", domain.RuleUnauthorized},
	{"below minimum", domain.RuleBelowMinimum},
	{"exceeds target", domain.RuleExceedsTarget},
	{"max participants", domain.RuleMaxParticipants},
	{"deal full", domain.RuleMaxParticipants},
	{"already refunded", domain.RuleAlreadyRefunded},
	{"no contribution", domain.RuleNotParticipant},
	{"not a participant", domain.RuleNotParticipant},
	{"token already set", domain.RuleTokenAlreadySet},
	{"proposal exists", domain.RuleDuplicateProposal},
	{"voting closed", domain.RuleProposalClosed},
	{"invalid option", domain.RuleInvalidOption},
	{"deal not found", domain.RuleNotFound},
	{"proposal not found", domain.RuleNotFound},
	{"invalid", domain.RuleInvalidArgument},
}

// classifyRevert turns a gas estimation failure into a RuleError when the
// node reports a recognisable revert reason. Anything else is transient.
func classifyRevert(op string, dealID uint64, err error) error {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "revert") {
		return domain.Transient(fmt.Errorf("chain: %s: estimate gas: %w", op, err))
	}
	for _, r := range revertRules {
		if strings.Contains(msg, r.fragment) {
			return domain.NewRuleError(r.rule, op, dealID, err.Error())
		}
	}
	return fmt.Errorf("chain: %s deal %d: %w: %s", op, dealID, domain.ErrTxReverted, err.Error())
}

// transact submits one contract call from the operator account and waits
// for it to be mined.
func (c *Client) transact(ctx context.Context, op string, dealID uint64, caller string, value *big.Int, method string, args ...any) (*types.Receipt, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("chain: %s: read-only client: %w", op, domain.ErrUnauthorized)
	}
	if !domain.SameAddress(caller, c.signer.Address().Hex()) {
		return nil, domain.NewRuleError(domain.RuleUnauthorized, op, dealID, "caller must be the operator account")
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, domain.NewRuleError(domain.RuleInvalidArgument, op, dealID, err.Error())
	}
	if value == nil {
		value = new(big.Int)
	}

	tx, err := c.submit(ctx, op, dealID, value, data)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "transaction submitted",
		slog.String("op", op),
		slog.Uint64("deal_id", dealID),
		slog.String("tx", tx.Hash().Hex()),
	)
	return c.waitMined(ctx, op, dealID, tx.Hash())
}

func (c *Client) submit(ctx context.Context, op string, dealID uint64, value *big.Int, data []byte) (*types.Transaction, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	from := c.signer.Address()
	to := c.contract

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, classifyRevert(op, dealID, err)
	}
	gas = gas * gasHeadroom / 100

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("chain: %s: nonce: %w", op, err))
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("chain: %s: gas price: %w", op, err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx, c.chainID)
	if err != nil {
		return nil, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		// The node may have accepted it anyway.
		return nil, fmt.Errorf("chain: %s: send %s: %v: %w", op, signed.Hash().Hex(), err, domain.ErrOutcomeUnknown)
	}
	return signed, nil
}

// waitMined polls for the receipt until TxTimeout. Running out of time is
// reported as ErrOutcomeUnknown, never as failure.
func (c *Client) waitMined(ctx context.Context, op string, dealID uint64, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TxTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("chain: %s deal %d tx %s: %w", op, dealID, hash.Hex(), domain.ErrTxReverted)
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			c.logger.WarnContext(ctx, "receipt lookup failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: %s deal %d tx %s: %w", op, dealID, hash.Hex(), domain.ErrOutcomeUnknown)
		case <-ticker.C:
		}
	}
}

// findLog returns the first receipt log emitted by the contract for event.
func (c *Client) findLog(receipt *types.Receipt, event string) (*types.Log, bool) {
	id := c.abi.Events[event].ID
	for _, l := range receipt.Logs {
		if l.Address == c.contract && len(l.Topics) > 0 && l.Topics[0] == id {
			return l, true
		}
	}
	return nil, false
}

// CreateDeal submits createCommunityDeal and returns the id from the
// DealCreated log.
func (c *Client) CreateDeal(ctx context.Context, caller string, p domain.CreateDealParams) (uint64, error) {
	const op = "create_deal"
	if strings.TrimSpace(p.DomainName) == "" || p.TargetPrice == nil || p.TargetPrice.Sign() <= 0 ||
		p.MaxParticipants == 0 || p.DurationDays == 0 {
		return 0, domain.NewRuleError(domain.RuleInvalidArgument, op, 0, "name, target, max participants and duration are required")
	}
	minContribution := p.MinContribution
	if minContribution == nil {
		minContribution = new(big.Int)
	}
	receipt, err := c.transact(ctx, op, 0, caller, nil, "createCommunityDeal",
		strings.TrimSpace(p.DomainName),
		p.TargetPrice,
		minContribution,
		new(big.Int).SetUint64(p.MaxParticipants),
		new(big.Int).SetUint64(p.DurationDays),
	)
	if err != nil {
		return 0, err
	}
	l, ok := c.findLog(receipt, "DealCreated")
	if !ok || len(l.Topics) < 2 {
		return 0, fmt.Errorf("chain: %s: DealCreated log missing in %s", op, receipt.TxHash.Hex())
	}
	return new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(), nil
}

// Contribute sends amount from the operator account.
func (c *Client) Contribute(ctx context.Context, dealID uint64, caller string, amount *big.Int) (domain.ContributionReceipt, error) {
	const op = "contribute"
	if amount == nil || amount.Sign() <= 0 {
		return domain.ContributionReceipt{}, domain.NewRuleError(domain.RuleInvalidArgument, op, dealID, "amount must be > 0")
	}
	before, err := c.GetParticipantInfo(ctx, dealID, caller)
	if err != nil {
		return domain.ContributionReceipt{}, err
	}
	receipt, err := c.transact(ctx, op, dealID, caller, amount, "contribute", new(big.Int).SetUint64(dealID))
	if err != nil {
		return domain.ContributionReceipt{}, err
	}
	d, err := c.GetDealInfo(ctx, dealID)
	if err != nil {
		// The contribution is mined; only the follow-up read failed.
		c.logger.WarnContext(ctx, "post-contribution read failed",
			slog.Uint64("deal_id", dealID),
			slog.String("error", err.Error()),
		)
		d = domain.Deal{ID: dealID}
	}
	return domain.ContributionReceipt{
		DealID:           dealID,
		Contributor:      before.Address,
		Amount:           new(big.Int).Set(amount),
		CurrentAmount:    d.CurrentAmount,
		TargetPrice:      d.TargetPrice,
		ParticipantCount: d.ParticipantCount,
		Status:           d.Status,
		NewParticipant:   before.Contribution == nil || before.Contribution.Sign() == 0,
		TxHash:           receipt.TxHash.Hex(),
	}, nil
}

// CancelDeal submits cancelDeal.
func (c *Client) CancelDeal(ctx context.Context, dealID uint64, caller string) error {
	_, err := c.transact(ctx, "cancel_deal", dealID, caller, nil, "cancelDeal", new(big.Int).SetUint64(dealID))
	return err
}

// Expire submits expireDeal.
func (c *Client) Expire(ctx context.Context, dealID uint64) error {
	if c.signer == nil {
		return fmt.Errorf("chain: expire: read-only client: %w", domain.ErrUnauthorized)
	}
	_, err := c.transact(ctx, "expire", dealID, c.signer.Address().Hex(), nil, "expireDeal", new(big.Int).SetUint64(dealID))
	return err
}

// Refund submits refund and returns the amount from the RefundIssued log.
func (c *Client) Refund(ctx context.Context, dealID uint64, caller string) (*big.Int, error) {
	const op = "refund"
	receipt, err := c.transact(ctx, op, dealID, caller, nil, "refund", new(big.Int).SetUint64(dealID))
	if err != nil {
		return nil, err
	}
	l, ok := c.findLog(receipt, "RefundIssued")
	if !ok {
		return nil, fmt.Errorf("chain: %s: RefundIssued log missing in %s", op, receipt.TxHash.Hex())
	}
	fields := map[string]any{}
	if err := c.abi.UnpackIntoMap(fields, "RefundIssued", l.Data); err != nil {
		return nil, fmt.Errorf("chain: %s: decode log: %w", op, err)
	}
	amount, _ := fields["amount"].(*big.Int)
	return amount, nil
}

// MarkDomainPurchased submits markDomainPurchased. tokenID is a decimal
// uint256.
func (c *Client) MarkDomainPurchased(ctx context.Context, dealID uint64, caller, tokenID string) error {
	const op = "mark_domain_purchased"
	id, ok := new(big.Int).SetString(strings.TrimSpace(tokenID), 10)
	if !ok || id.Sign() < 0 {
		return domain.NewRuleError(domain.RuleInvalidArgument, op, dealID, "token id must be a decimal integer")
	}
	_, err := c.transact(ctx, op, dealID, caller, nil, "markDomainPurchased", new(big.Int).SetUint64(dealID), id)
	return err
}

// SetFractionalToken submits setFractionalToken.
func (c *Client) SetFractionalToken(ctx context.Context, dealID uint64, caller, tokenAddress string) error {
	const op = "set_fractional_token"
	token, err := domain.NormalizeAddress(tokenAddress)
	if err != nil {
		return err
	}
	_, err = c.transact(ctx, op, dealID, caller, nil, "setFractionalToken", new(big.Int).SetUint64(dealID), common.HexToAddress(token))
	return err
}

// CreateProposal stores the proposal hash and its canonical body on chain.
func (c *Client) CreateProposal(ctx context.Context, dealID uint64, caller string, p domain.VoteProposal) (string, error) {
	const op = "create_proposal"
	creator, err := domain.NormalizeAddress(caller)
	if err != nil {
		return "", err
	}
	if len(p.Options) < 2 || len(p.Options) > 255 {
		return "", domain.NewRuleError(domain.RuleInvalidArgument, op, dealID, "need 2..255 options")
	}
	p.DealID = dealID
	p.CreatedBy = creator
	if p.CreatedAt == 0 {
		p.CreatedAt = c.now().Unix()
	}
	p.Hash = p.ComputeHash()
	meta, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("chain: %s: encode: %w", op, err)
	}
	_, err = c.transact(ctx, op, dealID, caller, nil, "createProposal",
		new(big.Int).SetUint64(dealID),
		common.HexToHash(p.Hash),
		string(meta),
		big.NewInt(p.Deadline),
		uint8(len(p.Options)),
	)
	if err != nil {
		return "", err
	}
	return p.Hash, nil
}

// Vote submits vote.
func (c *Client) Vote(ctx context.Context, dealID uint64, caller, proposalHash string, option int) error {
	const op = "vote"
	if option < 0 || option > 255 {
		return domain.NewRuleError(domain.RuleInvalidOption, op, dealID, "")
	}
	_, err := c.transact(ctx, op, dealID, caller, nil, "vote",
		new(big.Int).SetUint64(dealID),
		common.HexToHash(proposalHash),
		uint8(option),
	)
	return err
}
