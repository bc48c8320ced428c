package dealroom

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/ledger"
	"github.com/0xshikhar/domie-sub000/internal/store/memory"
)

func roomTexts(t *testing.T, f *relayFixture, dealID uint64) []string {
	t.Helper()
	rec, err := f.store.Deals().FindByContractID(context.Background(), network, dealID)
	require.NoError(t, err)
	require.NotEmpty(t, rec.Deal.GroupID)
	msgs, err := f.provider.Messages(context.Background(), rec.Deal.GroupID, 0)
	require.NoError(t, err)
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}

func containsText(texts []string, sub string) bool {
	for _, s := range texts {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestDirectLedgerWritesReachTheRoom(t *testing.T) {
	ctx := context.Background()
	now := int64(1_700_000_000)
	l := ledger.New(discard(), ledger.WithClock(func() int64 { return now }))

	f := newRelayFixture(t, nil)
	feed := NewFeed(FeedConfig{Network: network, Stream: "events"}, l, f.bus, f.store, discard())

	id, err := l.CreateDeal(ctx, creator, domain.CreateDealParams{
		DomainName:      "crypto.eth",
		TargetPrice:     big.NewInt(100),
		MinContribution: big.NewInt(1),
		MaxParticipants: 5,
		DurationDays:    7,
	})
	require.NoError(t, err)
	f.mirrorDeal(t, id, 100)

	// The contribution and the expiry never pass through the API.
	_, err = l.Contribute(ctx, id, bob, big.NewInt(30))
	require.NoError(t, err)
	now += 8 * 86400
	require.NoError(t, l.Expire(ctx, id))

	n, err := feed.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	texts := roomTexts(t, f, id)
	assert.True(t, containsText(texts, "joined the deal with"), "join notice in %v", texts)
	assert.True(t, containsText(texts, "Milestone: 25% funded"), "milestone in %v", texts)
	assert.True(t, containsText(texts, "expired before reaching its target"), "expiry in %v", texts)

	cursor, err := f.store.GetCursor(ctx, "ledger-feed:"+network)
	require.NoError(t, err)
	assert.Equal(t, "3", cursor)

	n, err = feed.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingBus struct {
	*memory.Bus
	appendErr error
}

func (b *failingBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if b.appendErr != nil {
		return b.appendErr
	}
	return b.Bus.StreamAppend(ctx, stream, payload)
}

func TestFeedKeepsCursorWhenAppendFails(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(discard())
	_, err := l.CreateDeal(ctx, creator, domain.CreateDealParams{
		DomainName:      "crypto.eth",
		TargetPrice:     big.NewInt(100),
		MinContribution: big.NewInt(1),
		MaxParticipants: 5,
		DurationDays:    7,
	})
	require.NoError(t, err)

	f := newRelayFixture(t, nil)
	bus := &failingBus{Bus: f.bus, appendErr: errors.New("stream unavailable")}
	feed := NewFeed(FeedConfig{Network: network, Stream: "events"}, l, bus, f.store, discard())

	n, err := feed.PollOnce(ctx)
	require.Error(t, err)
	assert.Zero(t, n)
	cursor, err := f.store.GetCursor(ctx, "ledger-feed:"+network)
	require.NoError(t, err)
	assert.Empty(t, cursor)

	bus.appendErr = nil
	n, err = feed.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRelaySkipsRepeatedSequence(t *testing.T) {
	ctx := context.Background()
	f := newRelayFixture(t, nil)
	f.mirrorDeal(t, 0, 100)

	ev := domain.LedgerEvent{Seq: 1, Kind: domain.EventContributed, DealID: 0, Actor: alice,
		Amount: big.NewInt(10), CurrentAmount: big.NewInt(10), TargetPrice: big.NewInt(100)}
	appendEvent(t, f.bus, ev)
	appendEvent(t, f.bus, ev)

	n, err := f.relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	joins := 0
	for _, text := range roomTexts(t, f, 0) {
		if strings.Contains(text, "joined the deal with") || strings.Contains(text, "added") {
			joins++
		}
	}
	assert.Equal(t, 1, joins)
}

type countingProvider struct {
	domain.MessagingProvider
	created int
}

func (p *countingProvider) CreateGroup(ctx context.Context, members []string, meta domain.GroupMetadata) (string, error) {
	p.created++
	return p.MessagingProvider.CreateGroup(ctx, members, meta)
}

type flakyMirror struct {
	Mirror
	failures int
}

func (m *flakyMirror) SetGroupID(ctx context.Context, network string, dealID uint64, groupID string) error {
	if m.failures > 0 {
		m.failures--
		return errors.New("mirror unavailable")
	}
	return m.Mirror.SetGroupID(ctx, network, dealID, groupID)
}

func TestRoomBindRetryReusesRoom(t *testing.T) {
	ctx := context.Background()
	f := newRelayFixture(t, nil)
	f.mirrorDeal(t, 0, 100)

	provider := &countingProvider{MessagingProvider: f.provider}
	mirror := &flakyMirror{Mirror: f.store.Deals(), failures: 1}
	f.coord = NewCoordinator(provider, nil, mirror, f.store.Deals(),
		Config{Network: network, BotIdentity: "dealbot"}, nil, discard())
	f.relay.deps.Coord = f.coord
	f.relay.deps.Mirror = mirror

	appendEvent(t, f.bus, domain.LedgerEvent{Kind: domain.EventContributed, DealID: 0, Actor: alice,
		Amount: big.NewInt(10), CurrentAmount: big.NewInt(10), TargetPrice: big.NewInt(100)})

	n, err := f.relay.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.slept, 1, "one retry after the failed bind")
	assert.Equal(t, 1, provider.created)

	texts := roomTexts(t, f, 0)
	assert.True(t, containsText(texts, "Welcome to the community deal"))
	assert.True(t, containsText(texts, "joined the deal with"))
}

func TestCreateDealGroupBindFailureIsTransient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mirrorDeal(t, 0, 100)
	provider := &countingProvider{MessagingProvider: f.provider}
	mirror := &flakyMirror{Mirror: f.store.Deals(), failures: 1}
	coord := NewCoordinator(provider, nil, mirror, f.store.Deals(), Config{Network: network}, nil, discard())

	first, err := coord.CreateDealGroup(ctx, creator, 0, "crypto.eth", big.NewInt(100))
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	second, err := coord.CreateDealGroup(ctx, creator, 0, "crypto.eth", big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.created)

	rec, err := f.store.Deals().FindByContractID(ctx, network, 0)
	require.NoError(t, err)
	assert.Equal(t, first, rec.Deal.GroupID)
}
