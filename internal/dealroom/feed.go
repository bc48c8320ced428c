package dealroom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// FeedConfig controls the ledger tail.
type FeedConfig struct {
	Network    string
	Stream     string // durable stream read by the Relay
	Channel    string // pub/sub channel for live listeners; empty disables
	CursorName string
	BatchSize  int
	Interval   time.Duration // idle wait between polls
}

// Feed tails the ledger's event log and appends every event to the durable
// stream. Writes made through the API and writes sent to the ledger directly
// land on the stream the same way, as do expiries the ledger records on its
// own.
type Feed struct {
	cfg     FeedConfig
	ledger  domain.LedgerReader
	bus     domain.EventBus
	cursors domain.CursorStore
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewFeed creates a Feed.
func NewFeed(cfg FeedConfig, ledger domain.LedgerReader, bus domain.EventBus, cursors domain.CursorStore, logger *slog.Logger) *Feed {
	if cfg.Stream == "" {
		cfg.Stream = "ledger-events"
	}
	if cfg.CursorName == "" {
		cfg.CursorName = "ledger-feed:" + cfg.Network
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Feed{
		cfg:     cfg,
		ledger:  ledger,
		bus:     bus,
		cursors: cursors,
		logger:  logger.With(slog.String("component", "ledger_feed")),
		sleep:   sleepCtx,
	}
}

// Run polls until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.InfoContext(ctx, "ledger feed started",
		slog.String("network", f.cfg.Network),
		slog.String("stream", f.cfg.Stream),
	)
	for {
		n, err := f.PollOnce(ctx)
		if ctx.Err() != nil {
			f.logger.InfoContext(ctx, "ledger feed stopped")
			return nil
		}
		if err != nil {
			f.logger.ErrorContext(ctx, "ledger feed poll failed", slog.String("error", err.Error()))
		}
		if err != nil || n < f.cfg.BatchSize {
			if f.sleep(ctx, f.cfg.Interval) != nil {
				return nil
			}
		}
	}
}

// PollOnce appends one batch of ledger events after the stored cursor. The
// cursor is stored after each append, so an event is appended at least once.
func (f *Feed) PollOnce(ctx context.Context) (int, error) {
	raw, err := f.cursors.GetCursor(ctx, f.cfg.CursorName)
	if err != nil {
		return 0, fmt.Errorf("dealroom: read feed cursor: %w", err)
	}
	var after uint64
	if raw != "" {
		if after, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return 0, fmt.Errorf("dealroom: corrupt feed cursor %s=%q: %w", f.cfg.CursorName, raw, err)
		}
	}

	events, err := f.ledger.Events(ctx, after, f.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("dealroom: read ledger events after %d: %w", after, err)
	}

	for i, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return i, fmt.Errorf("dealroom: marshal event %d: %w", ev.Seq, err)
		}
		if err := f.bus.StreamAppend(ctx, f.cfg.Stream, payload); err != nil {
			return i, fmt.Errorf("dealroom: append event %d: %w", ev.Seq, err)
		}
		if f.cfg.Channel != "" {
			if err := f.bus.Publish(ctx, f.cfg.Channel, payload); err != nil {
				f.logger.WarnContext(ctx, "ledger event publish failed",
					slog.Uint64("seq", ev.Seq),
					slog.String("error", err.Error()),
				)
			}
		}
		if err := f.cursors.SetCursor(ctx, f.cfg.CursorName, strconv.FormatUint(ev.Seq, 10)); err != nil {
			return i + 1, fmt.Errorf("dealroom: store feed cursor: %w", err)
		}
	}
	return len(events), nil
}
