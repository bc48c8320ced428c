package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xshikhar/domie-sub000/internal/accounting"
	"github.com/0xshikhar/domie-sub000/internal/domain"
)

const (
	creator = "0x1111111111111111111111111111111111111111"
	alice   = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"
	bob     = "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"
	carol   = "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC"
	admin   = "0x9999999999999999999999999999999999999999"
	token   = "0x2222222222222222222222222222222222222222"
)

var ctx = context.Background()

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type fakeClock struct{ now int64 }

func (c *fakeClock) Now() int64         { return c.now }
func (c *fakeClock) Advance(secs int64) { c.now += secs }

func newTestLedger(t *testing.T) (*Ledger, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: 1_700_000_000}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, WithClock(clk.Now), WithAdmins(admin)), clk
}

func createDeal(t *testing.T, l *Ledger, target, min *big.Int, maxParticipants, days uint64) uint64 {
	t.Helper()
	id, err := l.CreateDeal(ctx, creator, domain.CreateDealParams{
		DomainName:      "crypto.eth",
		TargetPrice:     target,
		MinContribution: min,
		MaxParticipants: maxParticipants,
		DurationDays:    days,
	})
	require.NoError(t, err)
	return id
}

func requireRule(t *testing.T, err error, rule domain.Rule) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, rule, domain.RuleOf(err), "error: %v", err)
}

func assertSumInvariant(t *testing.T, l *Ledger, dealID uint64) {
	t.Helper()
	d, err := l.GetDealInfo(ctx, dealID)
	require.NoError(t, err)
	ps, err := l.Participants(ctx, dealID)
	require.NoError(t, err)
	assert.Equal(t, 0, accounting.ActiveContributionSum(ps).Cmp(d.CurrentAmount),
		"sum of active contributions must equal currentAmount")
	assert.LessOrEqual(t, d.CurrentAmount.Cmp(d.TargetPrice), 0)
}

func TestCreateDeal(t *testing.T) {
	l, clk := newTestLedger(t)

	id := createDeal(t, l, eth(10), eth(1), 5, 7)
	assert.Equal(t, uint64(0), id)

	d, err := l.GetDealInfo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "crypto.eth", d.DomainName)
	assert.Equal(t, domain.DealStatusActive, d.Status)
	assert.Equal(t, clk.now+7*accounting.SecondsPerDay, d.Deadline)
	assert.Equal(t, int64(0), d.CurrentAmount.Int64())

	id2 := createDeal(t, l, eth(1), nil, 1, 1)
	assert.Equal(t, uint64(1), id2)

	n, err := l.DealCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestCreateDealValidation(t *testing.T) {
	l, _ := newTestLedger(t)

	cases := []struct {
		name string
		p    domain.CreateDealParams
	}{
		{"empty name", domain.CreateDealParams{TargetPrice: eth(1), MaxParticipants: 1, DurationDays: 1}},
		{"zero target", domain.CreateDealParams{DomainName: "a.eth", TargetPrice: big.NewInt(0), MaxParticipants: 1, DurationDays: 1}},
		{"zero participants", domain.CreateDealParams{DomainName: "a.eth", TargetPrice: eth(1), DurationDays: 1}},
		{"zero duration", domain.CreateDealParams{DomainName: "a.eth", TargetPrice: eth(1), MaxParticipants: 1}},
		{"min above target", domain.CreateDealParams{DomainName: "a.eth", TargetPrice: eth(1), MinContribution: eth(2), MaxParticipants: 1, DurationDays: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.CreateDeal(ctx, creator, tc.p)
			requireRule(t, err, domain.RuleInvalidArgument)
		})
	}

	_, err := l.CreateDeal(ctx, "not-an-address", domain.CreateDealParams{DomainName: "a.eth", TargetPrice: eth(1), MaxParticipants: 1, DurationDays: 1})
	requireRule(t, err, domain.RuleInvalidArgument)

	n, _ := l.DealCount(ctx)
	assert.Equal(t, uint64(0), n)
}

func TestUnknownDealReadsAsEmpty(t *testing.T) {
	l, _ := newTestLedger(t)
	d, err := l.GetDealInfo(ctx, 42)
	require.NoError(t, err)
	assert.False(t, d.Exists())

	_, err = l.Contribute(ctx, 42, alice, eth(1))
	requireRule(t, err, domain.RuleNotFound)
}

// Scenario A: three contributors fund a deal exactly to target.
func TestScenarioFundedThenExecuted(t *testing.T) {
	l, _ := newTestLedger(t)
	id := createDeal(t, l, eth(10), eth(1), 5, 7)

	r, err := l.Contribute(ctx, id, alice, eth(3))
	require.NoError(t, err)
	assert.True(t, r.NewParticipant)
	assert.Equal(t, domain.DealStatusActive, r.Status)
	progress, _ := accounting.ProgressPercentage(r.CurrentAmount, r.TargetPrice)
	assert.Equal(t, int64(30), progress)

	_, err = l.Contribute(ctx, id, bob, eth(4))
	require.NoError(t, err)

	r, err = l.Contribute(ctx, id, carol, eth(3))
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusFunded, r.Status)
	assert.Equal(t, uint64(3), r.ParticipantCount)
	assertSumInvariant(t, l, id)

	_, err = l.Contribute(ctx, id, alice, big.NewInt(1))
	requireRule(t, err, domain.RuleWrongStatus)

	require.NoError(t, l.MarkDomainPurchased(ctx, id, admin, "12345"))
	d, _ := l.GetDealInfo(ctx, id)
	assert.Equal(t, domain.DealStatusExecuted, d.Status)
	assert.True(t, d.Purchased)
	assert.Equal(t, "12345", d.DomainTokenID)

	require.NoError(t, l.SetFractionalToken(ctx, id, admin, token))
	require.NoError(t, l.SetFractionalToken(ctx, id, admin, token), "same address is a no-op")
	err = l.SetFractionalToken(ctx, id, admin, bob)
	requireRule(t, err, domain.RuleTokenAlreadySet)

	share, err := accounting.SharePercentage(eth(4), d.TargetPrice)
	require.NoError(t, err)
	assert.Equal(t, int64(40), share.Int64())
}

// Scenario B: an unfunded deal expires and contributors pull their funds.
func TestScenarioExpiryAndRefund(t *testing.T) {
	l, clk := newTestLedger(t)
	id := createDeal(t, l, eth(10), eth(1), 5, 1)

	_, err := l.Contribute(ctx, id, alice, eth(2))
	require.NoError(t, err)
	_, err = l.Contribute(ctx, id, bob, eth(3))
	require.NoError(t, err)

	clk.Advance(accounting.SecondsPerDay)

	d, _ := l.GetDealInfo(ctx, id)
	assert.Equal(t, domain.DealStatusExpired, d.Status, "read reports effective expiry")
	assert.Equal(t, int64(0), accounting.DaysRemaining(d.Deadline, clk.now))

	_, err = l.Contribute(ctx, id, carol, eth(1))
	requireRule(t, err, domain.RuleDeadlinePassed)

	amt, err := l.Refund(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, amt.Cmp(eth(2)))

	_, err = l.Refund(ctx, id, alice)
	requireRule(t, err, domain.RuleAlreadyRefunded)

	_, err = l.Refund(ctx, id, carol)
	requireRule(t, err, domain.RuleNotParticipant)

	d, _ = l.GetDealInfo(ctx, id)
	assert.Equal(t, 0, d.CurrentAmount.Cmp(eth(3)))
	assert.Equal(t, uint64(2), d.ParticipantCount, "refunds keep the participant count")
	assertSumInvariant(t, l, id)

	p, err := l.GetParticipantInfo(ctx, id, alice)
	require.NoError(t, err)
	assert.True(t, p.Refunded)
	assert.Equal(t, 0, p.Contribution.Cmp(eth(2)), "historical contribution retained")

	events, err := l.Events(ctx, 0, 0)
	require.NoError(t, err)
	var expired int
	for _, ev := range events {
		if ev.Kind == domain.EventExpired {
			expired++
		}
	}
	assert.Equal(t, 1, expired)
}

// Contributions that would break the deal's limits are rejected without side
// effects.
func TestContributionRejections(t *testing.T) {
	l, _ := newTestLedger(t)
	id := createDeal(t, l, eth(10), eth(2), 2, 7)

	_, err := l.Contribute(ctx, id, alice, eth(1))
	requireRule(t, err, domain.RuleBelowMinimum)

	_, err = l.Contribute(ctx, id, alice, eth(2))
	require.NoError(t, err)
	_, err = l.Contribute(ctx, id, alice, eth(1))
	require.NoError(t, err, "top-ups below the minimum are allowed for existing participants")

	_, err = l.Contribute(ctx, id, bob, eth(8))
	requireRule(t, err, domain.RuleExceedsTarget)

	_, err = l.Contribute(ctx, id, bob, eth(2))
	require.NoError(t, err)

	_, err = l.Contribute(ctx, id, carol, eth(2))
	requireRule(t, err, domain.RuleMaxParticipants)

	_, err = l.Contribute(ctx, id, carol, big.NewInt(0))
	requireRule(t, err, domain.RuleInvalidArgument)

	d, _ := l.GetDealInfo(ctx, id)
	assert.Equal(t, 0, d.CurrentAmount.Cmp(eth(5)))
	assert.Equal(t, uint64(2), d.ParticipantCount)
	assertSumInvariant(t, l, id)
}

// Scenario C: a purchase can only be confirmed once the deal is funded.
func TestPurchaseRequiresFunding(t *testing.T) {
	l, _ := newTestLedger(t)
	id := createDeal(t, l, eth(5), eth(1), 5, 7)
	_, err := l.Contribute(ctx, id, alice, eth(2))
	require.NoError(t, err)

	requireRule(t, l.MarkDomainPurchased(ctx, id, admin, "1"), domain.RuleWrongStatus)
	d, _ := l.GetDealInfo(ctx, id)
	assert.Equal(t, domain.DealStatusActive, d.Status)
	assert.False(t, d.Purchased)

	r, err := l.Contribute(ctx, id, bob, eth(3))
	require.NoError(t, err)
	require.Equal(t, domain.DealStatusFunded, r.Status)

	require.NoError(t, l.MarkDomainPurchased(ctx, id, admin, "1"))
	d, _ = l.GetDealInfo(ctx, id)
	assert.Equal(t, domain.DealStatusExecuted, d.Status)
	assert.True(t, d.Purchased)
	assert.Equal(t, "1", d.DomainTokenID)
}

func TestConcurrentContributionsRespectTheCap(t *testing.T) {
	l, _ := newTestLedger(t)
	id := createDeal(t, l, eth(10), eth(1), 5, 7)

	const contributors = 12
	receipts := make([]domain.ContributionReceipt, contributors)
	errs := make([]error, contributors)
	var wg sync.WaitGroup
	for i := range contributors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := fmt.Sprintf("0x%040x", i+1)
			receipts[i], errs[i] = l.Contribute(ctx, id, addr, eth(2))
		}(i)
	}
	wg.Wait()

	var ok, funded int
	for i, err := range errs {
		if err == nil {
			ok++
			if receipts[i].Status == domain.DealStatusFunded {
				funded++
			}
			continue
		}
		assert.Contains(t, []domain.Rule{domain.RuleExceedsTarget, domain.RuleWrongStatus, domain.RuleMaxParticipants},
			domain.RuleOf(err), "error: %v", err)
	}
	assert.Equal(t, 5, ok)
	assert.Equal(t, 1, funded)

	d, err := l.GetDealInfo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusFunded, d.Status)
	assert.Equal(t, 0, d.CurrentAmount.Cmp(eth(10)))
	assert.Equal(t, uint64(5), d.ParticipantCount)
	assertSumInvariant(t, l, id)
}

func TestEventsAreCopies(t *testing.T) {
	l, _ := newTestLedger(t)
	id := createDeal(t, l, eth(10), eth(1), 5, 7)
	_, err := l.Contribute(ctx, id, alice, eth(3))
	require.NoError(t, err)

	events, err := l.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	events[1].Amount.SetInt64(0)
	events[1].CurrentAmount.SetInt64(0)
	events[1].TargetPrice.SetInt64(0)

	again, err := l.Events(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 0, again[0].Amount.Cmp(eth(3)))
	assert.Equal(t, 0, again[0].CurrentAmount.Cmp(eth(3)))
	assert.Equal(t, 0, again[0].TargetPrice.Cmp(eth(10)))
}

func TestCancelDeal(t *testing.T) {
	l, _ := newTestLedger(t)
	id := createDeal(t, l, eth(10), nil, 5, 7)
	_, err := l.Contribute(ctx, id, alice, eth(4))
	require.NoError(t, err)

	_, err = l.Refund(ctx, id, alice)
	requireRule(t, err, domain.RuleWrongStatus)

	requireRule(t, l.CancelDeal(ctx, id, bob), domain.RuleUnauthorized)
	require.NoError(t, l.CancelDeal(ctx, id, creator))
	requireRule(t, l.CancelDeal(ctx, id, admin), domain.RuleWrongStatus)

	amt, err := l.Refund(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, amt.Cmp(eth(4)))

	requireRule(t, l.MarkDomainPurchased(ctx, id, admin, "1"), domain.RuleWrongStatus)
}

func TestStatusIsMonotonic(t *testing.T) {
	l, clk := newTestLedger(t)
	id := createDeal(t, l, eth(2), nil, 5, 1)
	_, err := l.Contribute(ctx, id, alice, eth(2))
	require.NoError(t, err)

	clk.Advance(2 * accounting.SecondsPerDay)
	d, _ := l.GetDealInfo(ctx, id)
	assert.Equal(t, domain.DealStatusFunded, d.Status, "funded deals do not expire")

	requireRule(t, l.CancelDeal(ctx, id, creator), domain.RuleWrongStatus)
	requireRule(t, l.Expire(ctx, id), domain.RuleWrongStatus)

	prev := domain.DealStatusActive
	events, _ := l.Events(ctx, 0, 0)
	for _, ev := range events {
		if ev.Status != prev {
			assert.True(t, prev.CanTransition(ev.Status), "%s -> %s", prev, ev.Status)
			prev = ev.Status
		}
	}
}

func TestExpire(t *testing.T) {
	l, clk := newTestLedger(t)
	id := createDeal(t, l, eth(2), nil, 5, 1)
	requireRule(t, l.Expire(ctx, id), domain.RuleWrongStatus)

	clk.Advance(accounting.SecondsPerDay)
	require.NoError(t, l.Expire(ctx, id))
	require.NoError(t, l.Expire(ctx, id))

	events, _ := l.Events(ctx, 1, 10)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventExpired, events[0].Kind)
	assert.Equal(t, uint64(2), events[0].Seq)
}

func TestPurchaseAuthorization(t *testing.T) {
	l, _ := newTestLedger(t)
	id := createDeal(t, l, eth(1), nil, 5, 7)
	_, err := l.Contribute(ctx, id, alice, eth(1))
	require.NoError(t, err)

	requireRule(t, l.MarkDomainPurchased(ctx, id, alice, "7"), domain.RuleUnauthorized)
	requireRule(t, l.MarkDomainPurchased(ctx, id, creator, " "), domain.RuleInvalidArgument)
	require.NoError(t, l.MarkDomainPurchased(ctx, id, creator, "7"))

	requireRule(t, l.SetFractionalToken(ctx, id, creator, token), domain.RuleUnauthorized)
}

func TestEventsPaging(t *testing.T) {
	l, _ := newTestLedger(t)
	id := createDeal(t, l, eth(10), nil, 5, 7)
	for _, a := range []string{alice, bob, carol} {
		_, err := l.Contribute(ctx, id, a, eth(1))
		require.NoError(t, err)
	}

	page, err := l.Events(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, domain.EventDealCreated, page[0].Kind)

	rest, err := l.Events(ctx, page[1].Seq, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, uint64(4), rest[1].Seq)
	assert.Equal(t, 0, rest[1].CurrentAmount.Cmp(eth(3)))

	none, err := l.Events(ctx, 4, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReadsDoNotShareState(t *testing.T) {
	l, _ := newTestLedger(t)
	id := createDeal(t, l, eth(10), nil, 5, 7)
	_, err := l.Contribute(ctx, id, alice, eth(1))
	require.NoError(t, err)

	d, _ := l.GetDealInfo(ctx, id)
	d.CurrentAmount.SetInt64(0)

	again, _ := l.GetDealInfo(ctx, id)
	assert.Equal(t, 0, again.CurrentAmount.Cmp(eth(1)))
}

func TestGovernance(t *testing.T) {
	l, clk := newTestLedger(t)
	id := createDeal(t, l, eth(10), nil, 5, 7)
	_, err := l.Contribute(ctx, id, alice, eth(7))
	require.NoError(t, err)
	_, err = l.Contribute(ctx, id, bob, eth(3))
	require.NoError(t, err)

	proposal := domain.VoteProposal{
		Title:             "List for sale",
		Description:       "Accept offers above 20 ETH",
		Options:           []string{"yes", "no"},
		Deadline:          clk.now + 3600,
		RequiredThreshold: 60,
	}

	_, err = l.CreateProposal(ctx, id, carol, proposal)
	requireRule(t, err, domain.RuleUnauthorized)

	hash, err := l.CreateProposal(ctx, id, alice, proposal)
	require.NoError(t, err)
	assert.Len(t, hash, 66)

	_, err = l.CreateProposal(ctx, id, alice, proposal)
	requireRule(t, err, domain.RuleDuplicateProposal)

	require.NoError(t, l.Vote(ctx, id, alice, hash, 1))
	require.NoError(t, l.Vote(ctx, id, alice, hash, 0), "recast overwrites")
	require.NoError(t, l.Vote(ctx, id, bob, hash, 1))
	requireRule(t, l.Vote(ctx, id, carol, hash, 0), domain.RuleNotParticipant)
	requireRule(t, l.Vote(ctx, id, bob, hash, 2), domain.RuleInvalidOption)
	requireRule(t, l.Vote(ctx, id, bob, "0xdead", 0), domain.RuleNotFound)

	votes, err := l.GetProposalVotes(ctx, id, hash)
	require.NoError(t, err)
	require.Len(t, votes, 2)

	p, err := l.GetProposal(ctx, id, hash)
	require.NoError(t, err)
	assert.Equal(t, hash, p.ComputeHash())

	ps, _ := l.Participants(ctx, id)
	tally := accounting.Tally(p, votes, ps, clk.now)
	assert.Equal(t, 0, tally.WinningOption)
	assert.True(t, tally.Passed)

	clk.Advance(3600)
	requireRule(t, l.Vote(ctx, id, bob, hash, 0), domain.RuleProposalClosed)
}
