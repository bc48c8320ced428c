package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// logIndexBits is how many low bits of a sequence number hold the log index
// within its block.
const logIndexBits = 20

// Seq orders a log by position: block number in the high bits, log index in
// the low bits.
func Seq(blockNumber uint64, logIndex uint) uint64 {
	return blockNumber<<logIndexBits | uint64(logIndex)
}

// SeqBlock extracts the block number from a sequence number.
func SeqBlock(seq uint64) uint64 {
	return seq >> logIndexBits
}

var eventKinds = map[string]domain.LedgerEventKind{
	"DealCreated":        domain.EventDealCreated,
	"ContributionMade":   domain.EventContributed,
	"DealCancelled":      domain.EventCancelled,
	"DealExpired":        domain.EventExpired,
	"RefundIssued":       domain.EventRefunded,
	"DomainPurchased":    domain.EventPurchased,
	"FractionalTokenSet": domain.EventFractionalTokenSet,
	"ProposalCreated":    domain.EventProposalCreated,
	"VoteCast":           domain.EventVoted,
}

func topicUint(t common.Hash) uint64 {
	return new(big.Int).SetBytes(t.Bytes()).Uint64()
}

func topicAddress(t common.Hash) string {
	return common.BytesToAddress(t.Bytes()).Hex()
}

// decodeLog converts a contract log. Logs of events the ledger does not
// track report ok=false.
func (c *Client) decodeLog(l types.Log) (domain.LedgerEvent, bool, error) {
	if len(l.Topics) < 2 {
		return domain.LedgerEvent{}, false, nil
	}
	ev, err := c.abi.EventByID(l.Topics[0])
	if err != nil {
		return domain.LedgerEvent{}, false, nil
	}
	kind, ok := eventKinds[ev.Name]
	if !ok {
		return domain.LedgerEvent{}, false, nil
	}

	fields := map[string]any{}
	if len(l.Data) > 0 {
		if err := c.abi.UnpackIntoMap(fields, ev.Name, l.Data); err != nil {
			return domain.LedgerEvent{}, false, fmt.Errorf("chain: decode %s: %w", ev.Name, err)
		}
	}
	bigField := func(name string) *big.Int {
		v, _ := fields[name].(*big.Int)
		return v
	}

	out := domain.LedgerEvent{
		Seq:    Seq(l.BlockNumber, l.Index),
		Kind:   kind,
		DealID: topicUint(l.Topics[1]),
	}
	switch kind {
	case domain.EventDealCreated:
		if len(l.Topics) > 2 {
			out.Actor = topicAddress(l.Topics[2])
		}
		out.DomainName, _ = fields["domainName"].(string)
		out.TargetPrice = bigField("targetPrice")
		out.CurrentAmount = new(big.Int)
	case domain.EventContributed:
		if len(l.Topics) > 2 {
			out.Actor = topicAddress(l.Topics[2])
		}
		out.Amount = bigField("amount")
		out.CurrentAmount = bigField("totalAmount")
	case domain.EventCancelled:
		out.Status = domain.DealStatusCancelled
	case domain.EventExpired:
		out.Status = domain.DealStatusExpired
	case domain.EventRefunded:
		if len(l.Topics) > 2 {
			out.Actor = topicAddress(l.Topics[2])
		}
		out.Amount = bigField("amount")
	case domain.EventPurchased:
		out.Status = domain.DealStatusExecuted
		if id := bigField("tokenId"); id != nil {
			out.TokenID = id.String()
		}
	case domain.EventFractionalTokenSet:
		out.Status = domain.DealStatusExecuted
		if a, ok := fields["tokenAddress"].(common.Address); ok {
			out.TokenAddress = a.Hex()
		}
	case domain.EventProposalCreated:
		if len(l.Topics) > 2 {
			out.ProposalHash = l.Topics[2].Hex()
		}
		if a, ok := fields["creator"].(common.Address); ok {
			out.Actor = a.Hex()
		}
	case domain.EventVoted:
		if len(l.Topics) > 3 {
			out.ProposalHash = l.Topics[2].Hex()
			out.Actor = topicAddress(l.Topics[3])
		}
	}
	return out, true, nil
}

// Events returns decoded contract logs with Seq > afterSeq. Block ranges
// are walked in BlockRange steps up to the chain head until at least one
// event is found or the head is reached.
func (c *Client) Events(ctx context.Context, afterSeq uint64, limit int) ([]domain.LedgerEvent, error) {
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("chain: block number: %w", err))
	}

	from := c.cfg.StartBlock
	if afterSeq > 0 && SeqBlock(afterSeq) > from {
		from = SeqBlock(afterSeq)
	}

	headers := map[uint64]int64{}
	var out []domain.LedgerEvent

	for from <= head {
		to := from + c.cfg.BlockRange - 1
		if to > head {
			to = head
		}
		logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{c.contract},
		})
		if err != nil {
			return nil, domain.Transient(fmt.Errorf("chain: filter logs %d-%d: %w", from, to, err))
		}

		for _, l := range logs {
			if l.Removed || Seq(l.BlockNumber, l.Index) <= afterSeq {
				continue
			}
			ev, ok, err := c.decodeLog(l)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			ev.At, err = c.blockTime(ctx, headers, l.BlockNumber)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if len(out) > 0 {
			return out, nil
		}
		from = to + 1
	}
	return out, nil
}

func (c *Client) blockTime(ctx context.Context, cache map[uint64]int64, block uint64) (int64, error) {
	if t, ok := cache[block]; ok {
		return t, nil
	}
	h, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return 0, domain.Transient(fmt.Errorf("chain: header %d: %w", block, err))
	}
	cache[block] = int64(h.Time)
	return int64(h.Time), nil
}
