package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/ledger"
	"github.com/0xshikhar/domie-sub000/internal/store/memory"
)

const (
	network = "testnet"
	creator = "0x1111111111111111111111111111111111111111"
	alice   = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"
	bob     = "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"
	admin   = "0x9999999999999999999999999999999999999999"
	start   = int64(1_700_000_000)
)

var ctx = context.Background()

type alertLog struct{ events []string }

func (a *alertLog) Notify(_ context.Context, event, _, _ string) error {
	a.events = append(a.events, event)
	return nil
}

type denyLimiter struct{ calls int }

func (d *denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	d.calls++
	return d.calls <= 1, nil
}

type fixture struct {
	ledger *ledger.Ledger
	store  *memory.Store
	alerts *alertLog
	svc    *DealService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		ledger: ledger.New(logger, ledger.WithClock(func() int64 { return start }), ledger.WithAdmins(admin)),
		store:  memory.New(),
		alerts: &alertLog{},
	}
	f.svc = NewDealService(f.ledger, f.store.Deals(), f.store, nil,
		DealConfig{Network: network}, logger).WithAlerts(f.alerts)
	f.svc.now = func() time.Time { return time.Unix(start, 0) }
	return f
}

func (f *fixture) events(t *testing.T) []domain.LedgerEvent {
	t.Helper()
	evs, err := f.ledger.Events(ctx, 0, 0)
	require.NoError(t, err)
	return evs
}

func (f *fixture) newDeal(t *testing.T, target int64) DealView {
	t.Helper()
	v, err := f.svc.CreateDeal(ctx, creator, domain.CreateDealParams{
		DomainName:      "crypto.eth",
		TargetPrice:     big.NewInt(target),
		MinContribution: big.NewInt(1),
		MaxParticipants: 4,
		DurationDays:    7,
	})
	require.NoError(t, err)
	return v
}

func TestCreateDealAuditsAndViews(t *testing.T) {
	f := newFixture(t)
	v := f.newDeal(t, 100)

	assert.Equal(t, "crypto.eth", v.DomainName)
	assert.Equal(t, int64(7), v.DaysRemaining)
	assert.Equal(t, int64(0), v.Progress)
	assert.Equal(t, int64(100), v.Remaining.Int64())
	assert.Equal(t, int64(25), v.SuggestedMinimum.Int64())

	evs := f.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventDealCreated, evs[0].Kind)
	assert.Equal(t, "crypto.eth", evs[0].DomainName)
	assert.Equal(t, int64(100), evs[0].TargetPrice.Int64())

	audit, err := f.store.List(ctx, domain.AuditListOpts{})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "ledger.deal_created", audit[0].Event)
}

func TestContributeRecordsOnlyOnSuccess(t *testing.T) {
	f := newFixture(t)
	v := f.newDeal(t, 100)

	rcpt, err := f.svc.Contribute(ctx, v.ID, alice, big.NewInt(60))
	require.NoError(t, err)
	assert.True(t, rcpt.NewParticipant)

	_, err = f.svc.Contribute(ctx, v.ID, bob, big.NewInt(50))
	require.Error(t, err)
	assert.Equal(t, domain.RuleExceedsTarget, domain.RuleOf(err))
	assert.Equal(t, "no", domain.FundsMoved(err))

	evs := f.events(t)
	require.Len(t, evs, 2)
	ev := evs[1]
	assert.Equal(t, domain.EventContributed, ev.Kind)
	assert.Equal(t, alice, ev.Actor)
	assert.Equal(t, int64(60), ev.Amount.Int64())
	assert.Equal(t, int64(60), ev.CurrentAmount.Int64())
	assert.Equal(t, int64(100), ev.TargetPrice.Int64())
	assert.Empty(t, f.alerts.events)

	_, err = f.svc.Contribute(ctx, v.ID, bob, big.NewInt(40))
	require.NoError(t, err)
	assert.Equal(t, []string{"deal_funded"}, f.alerts.events)

	audit, err := f.store.List(ctx, domain.AuditListOpts{})
	require.NoError(t, err)
	assert.Len(t, audit, 3)
	assert.Equal(t, "ledger.contributed", audit[0].Event)
}

func TestContributeRateLimited(t *testing.T) {
	f := newFixture(t)
	f.svc.limiter = &denyLimiter{}
	f.svc.cfg.ContributeLimit = 1
	v := f.newDeal(t, 100)

	_, err := f.svc.Contribute(ctx, v.ID, alice, big.NewInt(10))
	require.NoError(t, err)
	_, err = f.svc.Contribute(ctx, v.ID, alice, big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestGetDealJoinsMirror(t *testing.T) {
	f := newFixture(t)
	v := f.newDeal(t, 100)

	_, err := f.store.Deals().Create(ctx, domain.DealRecord{Network: network, Deal: v.Deal})
	require.NoError(t, err)
	require.NoError(t, f.store.Deals().SetGroupID(ctx, network, v.ID, "room-1"))
	require.NoError(t, f.store.Deals().SetLastMilestone(ctx, network, v.ID, 50))

	got, err := f.svc.GetDeal(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "room-1", got.GroupID)
	assert.Equal(t, 50, got.LastMilestone)

	_, err = f.svc.GetDeal(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := f.svc.ListDeals(ctx, domain.DealListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, network, list[0].Network)
}

func TestParticipantsShares(t *testing.T) {
	f := newFixture(t)
	v := f.newDeal(t, 1000)
	_, err := f.svc.Contribute(ctx, v.ID, alice, big.NewInt(300))
	require.NoError(t, err)
	_, err = f.svc.Contribute(ctx, v.ID, bob, big.NewInt(125))
	require.NoError(t, err)

	parts, err := f.svc.Participants(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, int64(30), parts[0].Shares.Int64())
	assert.Equal(t, int64(3000), parts[0].ShareBps.Int64())
	assert.Equal(t, int64(12), parts[1].Shares.Int64())
	assert.Equal(t, int64(1250), parts[1].ShareBps.Int64())
	assert.False(t, parts[0].RefundEligible)

	require.NoError(t, f.svc.CancelDeal(ctx, v.ID, creator))
	p, err := f.svc.Participant(ctx, v.ID, alice)
	require.NoError(t, err)
	assert.True(t, p.RefundEligible)

	amount, err := f.svc.Refund(ctx, v.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(300), amount.Int64())
	p, err = f.svc.Participant(ctx, v.ID, alice)
	require.NoError(t, err)
	assert.False(t, p.RefundEligible)
	assert.Zero(t, p.Shares.Sign())

	kinds := []domain.LedgerEventKind{}
	for _, ev := range f.events(t) {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []domain.LedgerEventKind{
		domain.EventDealCreated, domain.EventContributed, domain.EventContributed,
		domain.EventCancelled, domain.EventRefunded,
	}, kinds)
}

func TestProposalTallyIsWeighted(t *testing.T) {
	f := newFixture(t)
	v := f.newDeal(t, 100)
	_, err := f.svc.Contribute(ctx, v.ID, alice, big.NewInt(70))
	require.NoError(t, err)
	_, err = f.svc.Contribute(ctx, v.ID, bob, big.NewInt(30))
	require.NoError(t, err)

	hash, err := f.svc.CreateProposal(ctx, v.ID, alice, domain.VoteProposal{
		Title:             "List for resale",
		Options:           []string{"yes", "no"},
		Deadline:          start + 86_400,
		RequiredThreshold: 51,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Vote(ctx, v.ID, alice, hash, 0))
	require.NoError(t, f.svc.Vote(ctx, v.ID, bob, hash, 1))

	pv, err := f.svc.Proposal(ctx, v.ID, hash)
	require.NoError(t, err)
	assert.Len(t, pv.Votes, 2)
	assert.Equal(t, 0, pv.Tally.WinningOption)
	assert.True(t, pv.Tally.Passed)
	assert.Equal(t, int64(70), pv.Tally.Options[0].Weight.Int64())
}

func TestAdminConfirmations(t *testing.T) {
	f := newFixture(t)
	v := f.newDeal(t, 100)
	_, err := f.svc.Contribute(ctx, v.ID, alice, big.NewInt(100))
	require.NoError(t, err)

	err = f.svc.MarkDomainPurchased(ctx, v.ID, bob, "77")
	assert.Equal(t, domain.RuleUnauthorized, domain.RuleOf(err))

	require.NoError(t, f.svc.MarkDomainPurchased(ctx, v.ID, admin, "77"))
	require.NoError(t, f.svc.SetFractionalToken(ctx, v.ID, admin, "0x2222222222222222222222222222222222222222"))

	got, err := f.svc.GetDeal(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusExecuted, got.Status)
	assert.Equal(t, "77", got.DomainTokenID)
	assert.Contains(t, f.alerts.events, "deal_executed")
}

func TestOutcomeClassification(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "unknown", outcome(domain.ErrOutcomeUnknown))
	assert.Equal(t, "rejected", outcome(domain.NewRuleError(domain.RuleWrongStatus, "cancel", 1, "")))
	assert.Equal(t, "rejected", outcome(domain.ErrTxReverted))
	assert.Equal(t, "error", outcome(errors.New("dial tcp")))
}
