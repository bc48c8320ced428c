package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/0xshikhar/domie-sub000/internal/blob/s3"
	"github.com/0xshikhar/domie-sub000/internal/crypto"
	"github.com/0xshikhar/domie-sub000/internal/dealroom"
	"github.com/0xshikhar/domie-sub000/internal/indexer"
	"github.com/0xshikhar/domie-sub000/internal/pipeline"
	"github.com/0xshikhar/domie-sub000/internal/server"
	"github.com/0xshikhar/domie-sub000/internal/server/handler"
	"github.com/0xshikhar/domie-sub000/internal/server/ws"
	"github.com/0xshikhar/domie-sub000/internal/service"
)

// relayBlock is how long one relay stream read waits for new events.
const relayBlock = 5 * time.Second

// components are the long-lived pieces every mode draws from.
type components struct {
	deals   *service.DealService
	coord   *dealroom.Coordinator
	syncer  *indexer.Syncer
	archive *s3blob.ReportArchiver
}

func (a *App) buildComponents(deps *Dependencies) *components {
	cfg := a.cfg
	deals := service.NewDealService(
		deps.Ledger,
		deps.Deals,
		deps.Audit,
		deps.Limiter,
		service.DealConfig{
			Network: cfg.Chain.Network,
		},
		a.logger,
	).WithAlerts(deps.Notifier).WithMetrics(deps.Metrics)

	coord := dealroom.NewCoordinator(
		deps.Rooms,
		deps.Identities,
		deps.Deals,
		deps.Milestones,
		dealroom.Config{
			Network:      cfg.Chain.Network,
			BotIdentity:  cfg.DealRoom.BotIdentity,
			HistoryLimit: cfg.DealRoom.HistoryLimit,
		},
		deps.Metrics,
		a.logger,
	)

	idxDeps := indexer.Deps{
		Ledgers: deps.Ledgers,
		Deals:   deps.Deals,
		Domains: deps.Domains,
		Cursors: deps.Cursors,
		Locks:   deps.Locks,
		Alerts:  deps.Notifier,
		Metrics: deps.Metrics,
	}
	if deps.Archive != nil {
		idxDeps.Archive = deps.Archive
	}
	syncer := indexer.New(indexer.Config{
		Mode:          cfg.Indexer.Mode,
		MaxScan:       cfg.Indexer.MaxScan,
		MissGap:       cfg.Indexer.MissGap,
		Concurrency:   cfg.Indexer.Concurrency,
		EventPageSize: cfg.Indexer.EventPageSize,
		LockTTL:       cfg.Indexer.LockTTL.Duration,
	}, idxDeps, a.logger)

	return &components{deals: deals, coord: coord, syncer: syncer, archive: deps.Archive}
}

// IndexerMode keeps the mirror in sync on the configured schedule.
func (a *App) IndexerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting indexer mode")
	c := a.buildComponents(deps)
	g, ctx := errgroup.WithContext(ctx)
	a.startIndexer(ctx, g, c)
	return g.Wait()
}

// CoordinatorMode relays ledger events into deal rooms.
func (a *App) CoordinatorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting coordinator mode")
	c := a.buildComponents(deps)
	g, ctx := errgroup.WithContext(ctx)
	a.startRelay(ctx, g, deps, c)
	return g.Wait()
}

// ServerMode runs only the HTTP and websocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	c := a.buildComponents(deps)
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// FullMode runs the indexer, the relay and the API together. Simulate mode
// runs the same set over an in-process ledger.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode", slog.String("mode", a.cfg.Mode))
	c := a.buildComponents(deps)
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Indexer.Enabled {
		a.startIndexer(ctx, g, c)
	}
	if a.cfg.DealRoom.Enabled {
		a.startRelay(ctx, g, deps, c)
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}
	return g.Wait()
}

func (a *App) startIndexer(ctx context.Context, g *errgroup.Group, c *components) {
	runner := indexer.NewRunner(c.syncer, a.cfg.Indexer.Schedule, a.cfg.Indexer.Interval.Duration, a.logger)
	g.Go(func() error {
		return runner.Run(ctx)
	})

	if c.archive == nil || a.cfg.S3.ReportRetentionDays <= 0 || a.cfg.Indexer.RetentionSchedule == "" {
		return
	}
	retention := pipeline.NewRetention(c.archive, c.syncer.Networks(), a.cfg.S3.ReportRetentionDays, a.logger)
	g.Go(func() error {
		return retention.RunCron(ctx, a.cfg.Indexer.RetentionSchedule)
	})
}

// startRelay runs the ledger feed and the relay that consumes it.
func (a *App) startRelay(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *components) {
	feed := dealroom.NewFeed(dealroom.FeedConfig{
		Network:    a.cfg.Chain.Network,
		Stream:     a.cfg.DealRoom.Stream,
		Channel:    a.cfg.DealRoom.Channel,
		CursorName: a.cfg.DealRoom.CursorName + ":feed",
		BatchSize:  a.cfg.DealRoom.BatchSize,
		Interval:   a.cfg.DealRoom.FeedInterval.Duration,
	}, deps.Ledger, deps.Bus, deps.RelayCursors, a.logger)
	g.Go(func() error {
		return feed.Run(ctx)
	})

	relay := dealroom.NewRelay(dealroom.RelayConfig{
		Network:     a.cfg.Chain.Network,
		Stream:      a.cfg.DealRoom.Stream,
		CursorName:  a.cfg.DealRoom.CursorName,
		BatchSize:   a.cfg.DealRoom.BatchSize,
		MaxAttempts: a.cfg.DealRoom.MaxAttempts,
		BackoffBase: a.cfg.DealRoom.BackoffBase.Duration,
		BackoffMax:  a.cfg.DealRoom.BackoffMax.Duration,
		Block:       relayBlock,
	}, dealroom.RelayDeps{
		Bus:     deps.Bus,
		Cursors: deps.RelayCursors,
		Coord:   c.coord,
		Ledger:  deps.Ledger,
		Mirror:  deps.Deals,
		Syncer:  c.syncer,
		Audit:   deps.Audit,
		Alerts:  deps.Notifier,
		Metrics: deps.Metrics,
	}, a.logger)
	g.Go(func() error {
		return relay.Run(ctx)
	})
}

// startHTTPServer registers the API routes and runs the server until ctx is
// done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *components) {
	scfg := a.cfg.Server

	var signer *crypto.RequestSigner
	if scfg.WebhookSecret != "" {
		signer = &crypto.RequestSigner{Secret: []byte(scfg.WebhookSecret), MaxSkew: 5 * time.Minute}
	}
	m := deps.Metrics
	if !scfg.MetricsEnabled {
		m = nil
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.cfg.Chain.Network, deps.Checks, a.logger),
		Deals:      handler.NewDealHandler(c.deals, a.logger),
		Admin:      handler.NewAdminHandler(c.deals, a.logger),
		Governance: handler.NewGovernanceHandler(c.deals, a.logger),
		Rooms:      handler.NewRoomHandler(c.deals, c.coord, a.logger),
		Sync:       handler.NewSyncHandler(c.syncer, signer, a.logger),
		Audit:      handler.NewAuditHandler(deps.Audit, a.logger),
	}
	hub := ws.NewHub(c.deals, c.coord, m, ws.Config{AllowedOrigins: scfg.CORSOrigins}, a.logger)
	srv := server.NewServer(server.Config{
		Port:          scfg.Port,
		CORSOrigins:   scfg.CORSOrigins,
		APIKey:        scfg.APIKey,
		SignedCallers: scfg.SignedCallers,
		RateLimit:     scfg.RateLimit,
		RateWindow:    scfg.RateWindow.Duration,
	}, handlers, hub, deps.Limiter, m, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
