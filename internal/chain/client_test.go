package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xshikhar/domie-sub000/internal/crypto"
	"github.com/0xshikhar/domie-sub000/internal/domain"
)

const (
	contractAddr = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	operatorKey  = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	operatorAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	otherAddr    = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

type fakeBackend struct {
	abi         abi.ABI
	calls       map[string]func(args []any) []any
	logs        []types.Log
	head        uint64
	receipt     *types.Receipt
	estimateErr error
	sent        []*types.Transaction
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	fn, ok := f.calls[m.Name]
	if !ok {
		return nil, errors.New("unexpected call " + m.Name)
	}
	return m.Outputs.Pack(fn(args)...)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.receipt == nil {
		return nil, ethereum.NotFound
	}
	r := *f.receipt
	r.TxHash = hash
	return &r, nil
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeBackend) HeaderByNumber(_ context.Context, n *big.Int) (*types.Header, error) {
	return &types.Header{Number: n, Time: 1_000 + n.Uint64()}, nil
}

func newTestClient(t *testing.T, withSigner bool) (*Client, *fakeBackend) {
	t.Helper()
	parsed, err := parseDealABI()
	require.NoError(t, err)
	fb := &fakeBackend{abi: parsed, calls: map[string]func([]any) []any{}}

	var signer *crypto.Signer
	if withSigner {
		signer, err = crypto.NewSigner(operatorKey)
		require.NoError(t, err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewClient(fb, Config{
		ContractAddress: contractAddr,
		ChainID:         31337,
		TxTimeout:       50 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
		BlockRange:      10,
	}, signer, logger)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return c, fb
}

func dealTuple(name string, deadline int64, status uint8, purchased bool) []any {
	zero := common.Address{}
	return []any{
		name,
		common.HexToAddress(operatorAddr),
		big.NewInt(10_000),
		big.NewInt(3_000),
		big.NewInt(2),
		big.NewInt(deadline),
		status,
		purchased,
		big.NewInt(0),
		zero,
		big.NewInt(100),
		big.NewInt(5),
	}
}

func TestGetDealInfo(t *testing.T) {
	c, fb := newTestClient(t, false)
	fb.calls["getDealInfo"] = func(args []any) []any {
		if args[0].(*big.Int).Uint64() == 1 {
			return dealTuple("crypto.eth", 1_800_000_000, 0, false)
		}
		return dealTuple("", 0, 0, false)
	}

	d, err := c.GetDealInfo(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "crypto.eth", d.DomainName)
	assert.Equal(t, operatorAddr, d.Creator)
	assert.Equal(t, int64(3_000), d.CurrentAmount.Int64())
	assert.Equal(t, uint64(2), d.ParticipantCount)
	assert.Equal(t, uint64(5), d.MaxParticipants)
	assert.Equal(t, domain.DealStatusActive, d.Status)
	assert.Empty(t, d.DomainTokenID)
	assert.Empty(t, d.FractionalTokenAddress)

	missing, err := c.GetDealInfo(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, missing.Exists())
}

func TestGetDealInfoReportsEffectiveExpiry(t *testing.T) {
	c, fb := newTestClient(t, false)
	fb.calls["getDealInfo"] = func([]any) []any {
		return dealTuple("old.eth", 1_600_000_000, 0, false)
	}
	d, err := c.GetDealInfo(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusExpired, d.Status)
}

func TestDecodeAndPageEvents(t *testing.T) {
	c, fb := newTestClient(t, false)
	contract := common.HexToAddress(contractAddr)

	contributed := c.abi.Events["ContributionMade"]
	data, err := contributed.Inputs.NonIndexed().Pack(big.NewInt(500), big.NewInt(1_500))
	require.NoError(t, err)

	cancelled := c.abi.Events["DealCancelled"]

	fb.head = 25
	fb.logs = []types.Log{
		{
			Address:     contract,
			Topics:      []common.Hash{contributed.ID, common.BigToHash(big.NewInt(3)), common.BytesToHash(common.HexToAddress(otherAddr).Bytes())},
			Data:        data,
			BlockNumber: 4,
			Index:       0,
		},
		{
			Address:     contract,
			Topics:      []common.Hash{cancelled.ID, common.BigToHash(big.NewInt(3))},
			BlockNumber: 4,
			Index:       1,
		},
		{
			Address:     contract,
			Topics:      []common.Hash{cancelled.ID, common.BigToHash(big.NewInt(8))},
			BlockNumber: 22,
			Index:       0,
		},
	}

	evs, err := c.Events(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventContributed, evs[0].Kind)
	assert.Equal(t, uint64(3), evs[0].DealID)
	assert.Equal(t, otherAddr, evs[0].Actor)
	assert.Equal(t, int64(500), evs[0].Amount.Int64())
	assert.Equal(t, int64(1_500), evs[0].CurrentAmount.Int64())
	assert.Equal(t, int64(1_004), evs[0].At)
	assert.Equal(t, Seq(4, 0), evs[0].Seq)

	evs, err = c.Events(context.Background(), evs[0].Seq, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventCancelled, evs[0].Kind)
	assert.Equal(t, domain.DealStatusCancelled, evs[0].Status)

	// Next range with events is two block windows further on.
	evs, err = c.Events(context.Background(), evs[0].Seq, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, uint64(8), evs[0].DealID)

	evs, err = c.Events(context.Background(), evs[0].Seq, 10)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestClassifyRevert(t *testing.T) {
	err := classifyRevert("contribute", 1, errors.New("execution reverted: Contribution exceeds target"))
	assert.Equal(t, domain.RuleExceedsTarget, domain.RuleOf(err))
	assert.Equal(t, "no", domain.FundsMoved(err))

	err = classifyRevert("refund", 1, errors.New("execution reverted: Already refunded"))
	assert.Equal(t, domain.RuleAlreadyRefunded, domain.RuleOf(err))

	err = classifyRevert("refund", 1, errors.New("execution reverted"))
	assert.ErrorIs(t, err, domain.ErrTxReverted)

	err = classifyRevert("refund", 1, errors.New("connection refused"))
	assert.True(t, domain.IsTransient(err))
}

func TestWritesRequireOperator(t *testing.T) {
	c, _ := newTestClient(t, false)
	err := c.CancelDeal(context.Background(), 1, operatorAddr)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	c, _ = newTestClient(t, true)
	err = c.CancelDeal(context.Background(), 1, otherAddr)
	assert.Equal(t, domain.RuleUnauthorized, domain.RuleOf(err))
}

func TestCreateDealReadsIDFromReceipt(t *testing.T) {
	c, fb := newTestClient(t, true)
	created := c.abi.Events["DealCreated"]
	data, err := created.Inputs.NonIndexed().Pack("crypto.eth", big.NewInt(10_000), big.NewInt(1_800_000_000))
	require.NoError(t, err)
	fb.receipt = &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{{
			Address: common.HexToAddress(contractAddr),
			Topics:  []common.Hash{created.ID, common.BigToHash(big.NewInt(7)), common.BytesToHash(common.HexToAddress(operatorAddr).Bytes())},
			Data:    data,
		}},
	}

	id, err := c.CreateDeal(context.Background(), operatorAddr, domain.CreateDealParams{
		DomainName:      "crypto.eth",
		TargetPrice:     big.NewInt(10_000),
		MaxParticipants: 5,
		DurationDays:    7,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)
	require.Len(t, fb.sent, 1)
	assert.Equal(t, uint64(120_000), fb.sent[0].Gas())
}

func TestUnconfirmedWriteIsOutcomeUnknown(t *testing.T) {
	c, fb := newTestClient(t, true)
	err := c.CancelDeal(context.Background(), 1, operatorAddr)
	assert.ErrorIs(t, err, domain.ErrOutcomeUnknown)
	assert.Equal(t, "unknown", domain.FundsMoved(err))
	assert.Len(t, fb.sent, 1)
}

func TestRevertedReceipt(t *testing.T) {
	c, fb := newTestClient(t, true)
	fb.receipt = &types.Receipt{Status: types.ReceiptStatusFailed}
	err := c.CancelDeal(context.Background(), 1, operatorAddr)
	assert.ErrorIs(t, err, domain.ErrTxReverted)
}

func TestEstimateRevertIsRuleError(t *testing.T) {
	c, fb := newTestClient(t, true)
	fb.estimateErr = errors.New("execution reverted: Deal not active")
	err := c.CancelDeal(context.Background(), 1, operatorAddr)
	assert.Equal(t, domain.RuleWrongStatus, domain.RuleOf(err))
	assert.Empty(t, fb.sent)
}
