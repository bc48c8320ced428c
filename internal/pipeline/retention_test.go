package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	cutoffs map[string]time.Time
	removed map[string]int
	fail    map[string]error
}

func (f *fakePruner) Prune(_ context.Context, network string, cutoff time.Time) (int, error) {
	f.cutoffs[network] = cutoff
	if err := f.fail[network]; err != nil {
		return 0, err
	}
	return f.removed[network], nil
}

func newFake() *fakePruner {
	return &fakePruner{
		cutoffs: map[string]time.Time{},
		removed: map[string]int{},
		fail:    map[string]error{},
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetentionPrunesEveryNetwork(t *testing.T) {
	p := newFake()
	p.removed["testnet"] = 3
	p.removed["mainnet"] = 1

	r := NewRetention(p, []string{"testnet", "mainnet"}, 30, discard())
	now := time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	n, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, now.Add(-30*24*time.Hour), p.cutoffs["testnet"])
	assert.Equal(t, p.cutoffs["testnet"], p.cutoffs["mainnet"])
}

func TestRetentionContinuesPastFailures(t *testing.T) {
	p := newFake()
	p.fail["testnet"] = errors.New("bucket unavailable")
	p.removed["mainnet"] = 2

	n, err := NewRetention(p, []string{"testnet", "mainnet"}, 7, discard()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "testnet")
	assert.Equal(t, 2, n)
	assert.Contains(t, p.cutoffs, "mainnet")
}

func TestRetentionDisabled(t *testing.T) {
	p := newFake()
	n, err := NewRetention(p, []string{"testnet"}, 0, discard()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, p.cutoffs)
}

func TestRunCronRejectsBadSchedule(t *testing.T) {
	err := NewRetention(newFake(), nil, 1, discard()).RunCron(context.Background(), "not a cron")
	assert.Error(t, err)
}

func TestRunCronStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewRetention(newFake(), nil, 1, discard()).RunCron(ctx, "0 3 * * *")
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunCron did not stop")
	}
}
