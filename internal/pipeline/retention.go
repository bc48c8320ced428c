// Package pipeline holds the maintenance jobs that run beside the indexer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ReportPruner deletes archived sync reports of a network older than cutoff.
type ReportPruner interface {
	Prune(ctx context.Context, network string, cutoff time.Time) (int, error)
}

// Retention removes archived sync reports once they age past the retention
// window.
type Retention struct {
	pruner        ReportPruner
	networks      []string
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewRetention creates a Retention job over the given networks.
func NewRetention(pruner ReportPruner, networks []string, retentionDays int, logger *slog.Logger) *Retention {
	return &Retention{
		pruner:        pruner,
		networks:      networks,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "retention")),
		now:           time.Now,
	}
}

// Run executes a single pruning pass and returns the number of reports
// removed. A network that fails does not stop the others.
func (r *Retention) Run(ctx context.Context) (int, error) {
	if r.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := r.now().UTC().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
	r.logger.InfoContext(ctx, "starting retention run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", r.retentionDays),
	)

	total := 0
	var errs []error
	for _, network := range r.networks {
		n, err := r.pruner.Prune(ctx, network, cutoff)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning %s reports before %v: %w", network, cutoff, err))
			continue
		}
		r.logger.InfoContext(ctx, "pruned sync reports",
			slog.String("network", network),
			slog.Int("count", n),
		)
	}
	return total, errors.Join(errs...)
}

// RunCron runs the job on a standard 5-field cron schedule until ctx is
// cancelled. Example: "0 3 * * *" runs at 3:00 AM every day.
func (r *Retention) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := r.Run(ctx); err != nil {
			r.logger.ErrorContext(ctx, "retention run failed", slog.String("error", err.Error()))
		}
	}))
	c.Start()
	r.logger.InfoContext(ctx, "retention cron started",
		slog.String("cron", cronExpr),
		slog.Time("next_run", sched.Next(time.Now())),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("retention cron stopped")
	return nil
}
