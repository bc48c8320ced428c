package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// Runner triggers Sync for every network on a cron schedule, or on a fixed
// interval when no schedule is set. It runs once immediately on start.
type Runner struct {
	syncer   *Syncer
	schedule string
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a Runner. An empty schedule selects the interval ticker.
func NewRunner(syncer *Syncer, schedule string, interval time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		syncer:   syncer,
		schedule: schedule,
		interval: interval,
		logger:   logger.With(slog.String("component", "indexer-runner")),
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.RunAll(ctx)
	if r.schedule != "" {
		return r.runCron(ctx)
	}
	return r.runTicker(ctx)
}

func (r *Runner) runCron(ctx context.Context) error {
	sched, err := cron.ParseStandard(r.schedule)
	if err != nil {
		return fmt.Errorf("indexer: parse schedule %q: %w", r.schedule, err)
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() { r.RunAll(ctx) }))
	c.Start()
	r.logger.InfoContext(ctx, "indexer cron started",
		slog.String("schedule", r.schedule),
		slog.Time("next", sched.Next(time.Now())),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.InfoContext(ctx, "indexer cron stopped")
	return nil
}

func (r *Runner) runTicker(ctx context.Context) error {
	r.logger.InfoContext(ctx, "indexer ticker started", slog.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "indexer ticker stopped")
			return nil
		case <-ticker.C:
			r.RunAll(ctx)
		}
	}
}

// RunAll syncs each network in turn. Failures are logged, never returned.
func (r *Runner) RunAll(ctx context.Context) {
	for _, network := range r.syncer.Networks() {
		if ctx.Err() != nil {
			return
		}
		_, err := r.syncer.Sync(ctx, network)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrLockHeld):
			r.logger.InfoContext(ctx, "sync skipped, another run holds the lock", slog.String("network", network))
		default:
			r.logger.ErrorContext(ctx, "scheduled sync failed",
				slog.String("network", network),
				slog.String("error", err.Error()),
			)
		}
	}
}
