package memory

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

func record(id uint64) domain.DealRecord {
	return domain.DealRecord{
		Network: "testnet",
		Deal: domain.Deal{
			ID:            id,
			DomainName:    "crypto.eth",
			TargetPrice:   big.NewInt(100),
			CurrentAmount: big.NewInt(10),
		},
	}
}

func TestDealStoreUniqueAndNotFound(t *testing.T) {
	ctx := context.Background()
	deals := New().Deals()

	_, err := deals.Create(ctx, record(1))
	require.NoError(t, err)
	_, err = deals.Create(ctx, record(1))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = deals.FindByContractID(ctx, "testnet", 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, deals.Update(ctx, record(2)), domain.ErrNotFound)
}

func TestUpdateKeepsGroupID(t *testing.T) {
	ctx := context.Background()
	deals := New().Deals()
	_, err := deals.Create(ctx, record(1))
	require.NoError(t, err)
	require.NoError(t, deals.SetGroupID(ctx, "testnet", 1, "room-1"))

	rec := record(1)
	rec.Deal.CurrentAmount = big.NewInt(50)
	require.NoError(t, deals.Update(ctx, rec))

	got, err := deals.FindByContractID(ctx, "testnet", 1)
	require.NoError(t, err)
	assert.Equal(t, "room-1", got.Deal.GroupID)
	assert.Equal(t, int64(50), got.Deal.CurrentAmount.Int64())
}

func TestMilestoneNeverLowers(t *testing.T) {
	ctx := context.Background()
	deals := New().Deals()
	_, err := deals.Create(ctx, record(1))
	require.NoError(t, err)

	require.NoError(t, deals.SetLastMilestone(ctx, "testnet", 1, 75))
	require.NoError(t, deals.SetLastMilestone(ctx, "testnet", 1, 25))
	m, err := deals.LastMilestone(ctx, "testnet", 1)
	require.NoError(t, err)
	assert.Equal(t, 75, m)
}

func TestAuditNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Log(ctx, "a", nil))
	require.NoError(t, s.Log(ctx, "b", nil))

	entries, err := s.List(ctx, domain.AuditListOpts{ListOpts: domain.ListOpts{Limit: 1}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Event)

	require.NoError(t, s.Log(ctx, "a", map[string]any{"n": 2}))
	entries, err = s.List(ctx, domain.AuditListOpts{Event: "a"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]any{"n": 2}, entries[0].Detail)
}

func TestBusStreamReadAfterCursor(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "events", []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, "events", "", 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].ID)

	msgs, err = bus.StreamRead(ctx, "events", msgs[1].ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", string(msgs[0].Payload))

	msgs, err = bus.StreamRead(ctx, "events", "3", 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestBusBlockingReadWakesOnAppend(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = bus.StreamAppend(ctx, "events", []byte("x"))
	}()
	msgs, err := bus.StreamRead(ctx, "events", "0", 10, 2*time.Second)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestBusPublishMatchesPattern(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewBus()
	ch, err := bus.Subscribe(ctx, "deals.*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "deals.testnet", []byte("hello")))
	require.NoError(t, bus.Publish(ctx, "other", []byte("skip")))
	assert.Equal(t, "hello", string(<-ch))

	cancel()
	for range ch {
	}
}

func TestLocksExclusiveUntilReleaseOrExpiry(t *testing.T) {
	ctx := context.Background()
	locks := NewLocks()
	now := time.Unix(1_700_000_000, 0)
	locks.now = func() time.Time { return now }

	unlock, err := locks.Acquire(ctx, "sync:testnet", time.Minute)
	require.NoError(t, err)
	_, err = locks.Acquire(ctx, "sync:testnet", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	unlock2, err := locks.Acquire(ctx, "sync:testnet", time.Minute)
	require.NoError(t, err)
	defer unlock2()

	now = now.Add(2 * time.Minute)
	_, err = locks.Acquire(ctx, "sync:testnet", time.Minute)
	assert.NoError(t, err, "expired lock is taken over")
}

func TestLimiterExhaustsBurst(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter()
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "k", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok, "call %d", i)
	}
	ok, err := l.Allow(ctx, "k", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "other", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}
