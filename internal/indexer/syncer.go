// Package indexer mirrors ledger deals into the off-chain store. A run is
// idempotent: re-running against an unchanged ledger writes nothing.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/metrics"
	"github.com/0xshikhar/domie-sub000/internal/notify"
)

// Sync modes.
const (
	ModeScan   = "scan"
	ModeEvents = "events"
)

// LockKey names the per-network run lock.
func LockKey(network string) string {
	return "sync:" + network
}

// CursorName names the persisted event cursor of a network.
func CursorName(network string) string {
	return "indexer:" + network
}

// Config controls a Syncer.
type Config struct {
	Mode          string
	MaxScan       int // scan mode id ceiling
	MissGap       int // scan mode stops after this many consecutive missing ids
	Concurrency   int
	EventPageSize int
	LockTTL       time.Duration
}

// Archiver stores finished reports.
type Archiver interface {
	Archive(ctx context.Context, r domain.SyncReport) (string, error)
}

// Alerter raises operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Deps are the collaborators of a Syncer. Locks, Archive, Alerts and Metrics
// are optional.
type Deps struct {
	Ledgers map[string]domain.LedgerReader
	Deals   domain.DealStore
	Domains domain.DomainStore
	Cursors domain.CursorStore
	Locks   domain.LockManager
	Archive Archiver
	Alerts  Alerter
	Metrics *metrics.Metrics
}

// Syncer reconciles ledger deals into the mirror.
type Syncer struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Syncer.
func New(cfg Config, deps Deps, logger *slog.Logger) *Syncer {
	if cfg.Mode == "" {
		cfg.Mode = ModeScan
	}
	if cfg.MaxScan <= 0 {
		cfg.MaxScan = 100
	}
	if cfg.MissGap <= 0 {
		cfg.MissGap = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.EventPageSize <= 0 {
		cfg.EventPageSize = 500
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &Syncer{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "indexer")),
		now:    time.Now,
	}
}

// Networks lists the networks this Syncer can mirror.
func (s *Syncer) Networks() []string {
	out := make([]string, 0, len(s.deps.Ledgers))
	for name := range s.deps.Ledgers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Syncer) ledger(network string) (domain.LedgerReader, error) {
	l, ok := s.deps.Ledgers[network]
	if !ok {
		return nil, fmt.Errorf("indexer: unknown network %q: %w", network, domain.ErrNotFound)
	}
	return l, nil
}

// Sync runs one reconciliation of network. Per-deal failures become error
// entries in the report; an error return means the run itself could not
// proceed (unknown network, lock held, ledger or cursor unavailable).
func (s *Syncer) Sync(ctx context.Context, network string) (domain.SyncReport, error) {
	ledger, err := s.ledger(network)
	if err != nil {
		return domain.SyncReport{}, err
	}

	if s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, LockKey(network), s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return domain.SyncReport{}, fmt.Errorf("indexer: sync %s: %w", network, err)
			}
			return domain.SyncReport{}, fmt.Errorf("indexer: lock %s: %w", network, err)
		}
		defer unlock()
	}

	report := domain.SyncReport{
		RunID:     uuid.NewString(),
		Network:   network,
		Mode:      s.cfg.Mode,
		StartedAt: s.now().UTC(),
	}
	logger := s.logger.With(slog.String("network", network), slog.String("run_id", report.RunID))
	logger.InfoContext(ctx, "sync started", slog.String("mode", s.cfg.Mode))

	switch s.cfg.Mode {
	case ModeEvents:
		err = s.syncEvents(ctx, network, ledger, &report)
	default:
		err = s.syncScan(ctx, network, ledger, &report)
	}
	report.FinishedAt = s.now().UTC()
	s.deps.Metrics.SyncRun(network, err != nil || report.Errors() > 0, report.FinishedAt.Sub(report.StartedAt))
	if err != nil {
		logger.ErrorContext(ctx, "sync failed", slog.String("error", err.Error()))
		s.alert(ctx, network, fmt.Sprintf("sync run %s failed: %v", report.RunID, err))
		return report, err
	}

	for _, it := range report.Results {
		s.deps.Metrics.SyncAction(network, string(it.Action))
	}
	report.Synced = len(report.Results) - report.Errors()

	logger.InfoContext(ctx, "sync finished",
		slog.Int("synced", report.Synced),
		slog.Int("errors", report.Errors()),
		slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	if n := report.Errors(); n > 0 {
		s.alert(ctx, network, fmt.Sprintf("%d of %d deals failed to sync in run %s", n, len(report.Results), report.RunID))
	}
	s.archive(ctx, logger, report)
	return report, nil
}

func (s *Syncer) alert(ctx context.Context, network, message string) {
	if s.deps.Alerts == nil {
		return
	}
	if err := s.deps.Alerts.Notify(ctx, notify.EventSyncError, "Deal sync errors on "+network, message); err != nil {
		s.logger.WarnContext(ctx, "sync alert failed", slog.String("error", err.Error()))
	}
}

func (s *Syncer) archive(ctx context.Context, logger *slog.Logger, report domain.SyncReport) {
	if s.deps.Archive == nil {
		return
	}
	key, err := s.deps.Archive.Archive(ctx, report)
	if err != nil {
		logger.WarnContext(ctx, "report archive failed", slog.String("error", err.Error()))
		return
	}
	logger.DebugContext(ctx, "report archived", slog.String("key", key))
}

// syncScan probes ids upward from 0 in windows of Concurrency reads. An
// empty domain name marks a missing id; MissGap misses in a row end the scan.
func (s *Syncer) syncScan(ctx context.Context, network string, ledger domain.LedgerReader, report *domain.SyncReport) error {
	var (
		found  []domain.Deal
		misses int
	)
	window := s.cfg.Concurrency
scan:
	for start := 0; start < s.cfg.MaxScan; start += window {
		end := min(start+window, s.cfg.MaxScan)
		deals := make([]domain.Deal, end-start)
		errs := make([]error, end-start)

		var g errgroup.Group
		for i := range deals {
			id := uint64(start + i)
			g.Go(func() error {
				deals[i], errs[i] = ledger.GetDealInfo(ctx, id)
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return err
		}

		for i, d := range deals {
			id := uint64(start + i)
			if errs[i] != nil {
				misses = 0
				report.Results = append(report.Results, errorItem(id, errs[i]))
				continue
			}
			if !d.Exists() {
				misses++
				if misses >= s.cfg.MissGap {
					break scan
				}
				continue
			}
			misses = 0
			found = append(found, d)
		}
	}

	report.Results = append(report.Results, s.syncAll(ctx, network, ledger, found)...)
	sortItems(report.Results)
	return nil
}

// syncEvents reads ledger events after the stored cursor, syncs every deal
// they touch and commits the new cursor only when all of them succeeded.
func (s *Syncer) syncEvents(ctx context.Context, network string, ledger domain.LedgerReader, report *domain.SyncReport) error {
	name := CursorName(network)
	raw, err := s.deps.Cursors.GetCursor(ctx, name)
	if err != nil {
		return fmt.Errorf("indexer: read cursor %s: %w", name, err)
	}
	var cursor uint64
	if raw != "" {
		if cursor, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return fmt.Errorf("indexer: corrupt cursor %s=%q: %w", name, raw, err)
		}
	}
	report.Cursor = cursor

	last := cursor
	seen := make(map[uint64]bool)
	var touched []uint64
	for {
		evs, err := ledger.Events(ctx, last, s.cfg.EventPageSize)
		if err != nil {
			return fmt.Errorf("indexer: read events after %d: %w", last, err)
		}
		if len(evs) == 0 {
			break
		}
		for _, ev := range evs {
			if !seen[ev.DealID] {
				seen[ev.DealID] = true
				touched = append(touched, ev.DealID)
			}
			last = ev.Seq
		}
	}

	var deals []domain.Deal
	for _, id := range touched {
		d, err := ledger.GetDealInfo(ctx, id)
		switch {
		case err != nil:
			report.Results = append(report.Results, errorItem(id, err))
		case !d.Exists():
			report.Results = append(report.Results, errorItem(id, fmt.Errorf("deal %d has events but no ledger entry", id)))
		default:
			deals = append(deals, d)
		}
	}
	report.Results = append(report.Results, s.syncAll(ctx, network, ledger, deals)...)
	sortItems(report.Results)

	if report.Errors() > 0 || last == cursor {
		return nil
	}
	if err := s.deps.Cursors.SetCursor(ctx, name, strconv.FormatUint(last, 10)); err != nil {
		return fmt.Errorf("indexer: store cursor %s: %w", name, err)
	}
	report.Cursor = last
	s.deps.Metrics.SyncCursor(network, last)
	return nil
}

// syncAll mirrors deals concurrently. Errors never cancel siblings.
func (s *Syncer) syncAll(ctx context.Context, network string, ledger domain.LedgerReader, deals []domain.Deal) []domain.SyncItem {
	items := make([]domain.SyncItem, len(deals))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, d := range deals {
		g.Go(func() error {
			action, err := s.syncDeal(ctx, network, ledger, d)
			if err != nil {
				s.logger.WarnContext(ctx, "deal sync failed",
					slog.String("network", network),
					slog.Uint64("deal_id", d.ID),
					slog.String("error", err.Error()),
				)
				items[i] = errorItem(d.ID, err)
				return nil
			}
			items[i] = domain.SyncItem{DealID: d.ID, Action: action}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// SyncDeal mirrors a single deal outside a full run. It does not take the
// network lock; concurrent runs converge because every write is keyed by
// the ledger id.
func (s *Syncer) SyncDeal(ctx context.Context, network string, dealID uint64) (domain.SyncItem, error) {
	ledger, err := s.ledger(network)
	if err != nil {
		return domain.SyncItem{}, err
	}
	d, err := ledger.GetDealInfo(ctx, dealID)
	if err != nil {
		return domain.SyncItem{}, fmt.Errorf("indexer: read deal %d: %w", dealID, err)
	}
	if !d.Exists() {
		return domain.SyncItem{}, fmt.Errorf("indexer: deal %d: %w", dealID, domain.ErrNotFound)
	}
	action, err := s.syncDeal(ctx, network, ledger, d)
	if err != nil {
		return domain.SyncItem{}, err
	}
	s.deps.Metrics.SyncAction(network, string(action))
	return domain.SyncItem{DealID: dealID, Action: action}, nil
}

func errorItem(id uint64, err error) domain.SyncItem {
	return domain.SyncItem{DealID: id, Action: domain.SyncError, Error: err.Error()}
}

func sortItems(items []domain.SyncItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].DealID < items[j].DealID })
}
