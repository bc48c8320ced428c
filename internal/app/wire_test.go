package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xshikhar/domie-sub000/internal/config"
)

func TestWireSimulateStaysInMemory(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "simulate"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	assert.Contains(t, deps.Ledgers, cfg.Chain.Network)
	assert.NotNil(t, deps.Ledger)
	assert.NotNil(t, deps.Rooms)
	assert.Nil(t, deps.Archive)
	assert.Empty(t, deps.Checks)
}

func TestNeedsArchive(t *testing.T) {
	cfg := config.Defaults()
	for mode, want := range map[string]bool{
		"indexer":     true,
		"full":        true,
		"server":      false,
		"coordinator": false,
		"simulate":    false,
	} {
		cfg.Mode = mode
		assert.Equal(t, want, needsArchive(&cfg), mode)
	}
	cfg.Mode = "full"
	cfg.Indexer.ArchiveReports = false
	assert.False(t, needsArchive(&cfg))
}

func TestBuildComponentsInSimulation(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "simulate"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	c := New(&cfg, logger).buildComponents(deps)
	assert.Equal(t, []string{cfg.Chain.Network}, c.syncer.Networks())
	assert.Equal(t, cfg.Chain.Network, c.deals.Network())
}
