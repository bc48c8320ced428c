package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/0xshikhar/domie-sub000/internal/blob/s3"
	"github.com/0xshikhar/domie-sub000/internal/cache/redis"
	"github.com/0xshikhar/domie-sub000/internal/chain"
	"github.com/0xshikhar/domie-sub000/internal/config"
	"github.com/0xshikhar/domie-sub000/internal/crypto"
	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/ledger"
	"github.com/0xshikhar/domie-sub000/internal/messaging"
	"github.com/0xshikhar/domie-sub000/internal/metrics"
	"github.com/0xshikhar/domie-sub000/internal/notify"
	"github.com/0xshikhar/domie-sub000/internal/server/handler"
	"github.com/0xshikhar/domie-sub000/internal/store/memory"
	"github.com/0xshikhar/domie-sub000/internal/store/postgres"
)

// Dependencies bundles every collaborator the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Ledger is the primary network, the only one writes go to.
	Ledger domain.Ledger
	// Ledgers holds a reader for every configured network, primary included.
	Ledgers map[string]domain.LedgerReader

	// Mirror
	Deals      domain.DealStore
	Milestones domain.MilestoneStore
	Domains    domain.DomainStore
	Cursors    domain.CursorStore
	Audit      domain.AuditStore

	// Coordination
	RelayCursors domain.CursorStore
	Locks        domain.LockManager
	Limiter      domain.RateLimiter
	Bus          domain.EventBus

	// Deal rooms
	Rooms      domain.MessagingProvider
	Identities domain.IdentityResolver

	// Report archive; nil when archiving is off.
	Archive *s3blob.ReportArchiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks are the dependencies reported by the health endpoint.
	Checks map[string]handler.Pinger
}

// simulated reports whether the mode runs fully in memory.
func simulated(mode string) bool {
	return mode == "simulate"
}

// needsArchive returns true when sync reports go to object storage.
func needsArchive(cfg *config.Config) bool {
	if simulated(cfg.Mode) || !cfg.Indexer.ArchiveReports {
		return false
	}
	switch cfg.Mode {
	case "indexer", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Ledgers: make(map[string]domain.LedgerReader),
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Pinger),
	}

	if simulated(cfg.Mode) {
		wireMemory(deps, cfg, logger)
	} else {
		if err := wirePostgres(ctx, deps, cfg, &closers); err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := wireRedis(ctx, deps, cfg, &closers, logger); err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := wireChain(ctx, deps, cfg, &closers, logger); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	// --- S3 report archive ---
	if needsArchive(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		bucket := s3blob.NewBucket(s3Client)
		deps.Archive = s3blob.NewReportArchiver(bucket, bucket, cfg.S3.ReportPrefix).WithDeleter(bucket)
		deps.Checks["s3"] = s3Client
	}

	// --- Room send throttling ---
	if cfg.DealRoom.SendRate > 0 {
		deps.Rooms = messaging.NewThrottled(deps.Rooms, cfg.DealRoom.SendRate, cfg.DealRoom.SendBurst)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// wireMemory backs every store with process memory and runs the ledger
// in-process.
func wireMemory(deps *Dependencies, cfg *config.Config, logger *slog.Logger) {
	store := memory.New()
	deps.Deals = store.Deals()
	deps.Milestones = store.Deals()
	deps.Domains = store.Domains()
	deps.Cursors = store
	deps.RelayCursors = store
	deps.Audit = store
	deps.Locks = memory.NewLocks()
	deps.Limiter = memory.NewLimiter()
	deps.Bus = memory.NewBus()
	deps.Rooms = messaging.NewMemoryProvider()
	deps.Identities = messaging.NewResolver(messaging.StaticDirectory{}, logger)

	l := ledger.New(logger, ledger.WithAdmins(cfg.Chain.AdminAddresses...))
	deps.Ledger = l
	deps.Ledgers[cfg.Chain.Network] = l
}

func wirePostgres(ctx context.Context, deps *Dependencies, cfg *config.Config, closers *[]func()) error {
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fmt.Errorf("wire: postgres: %w", err)
	}
	*closers = append(*closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deals := postgres.NewDealStore(pool)
	deps.Deals = deals
	deps.Milestones = deals
	deps.Domains = postgres.NewDomainStore(pool)
	deps.Cursors = postgres.NewCursorStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Checks["postgres"] = pgClient
	return nil
}

func wireRedis(ctx context.Context, deps *Dependencies, cfg *config.Config, closers *[]func(), logger *slog.Logger) error {
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fmt.Errorf("wire: redis: %w", err)
	}
	*closers = append(*closers, func() { redisClient.Close() })

	deps.RelayCursors = redis.NewCursorStore(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Limiter = redis.NewRateLimiter(redisClient)
	deps.Bus = redis.NewEventBus(redisClient)
	deps.Rooms = redis.NewRoomStore(redisClient)
	deps.Identities = messaging.NewResolver(redis.NewIdentityDirectory(redisClient), logger)
	deps.Checks["redis"] = redisClient
	return nil
}

// wireChain dials the primary network with the operator key and every extra
// network read-only.
func wireChain(ctx context.Context, deps *Dependencies, cfg *config.Config, closers *[]func(), logger *slog.Logger) error {
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.Chain.PrivateKey,
		EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
		KeyPassword:      cfg.Chain.KeyPassword,
	}
	var signer *crypto.Signer
	if keyCfg.Configured() {
		s, err := crypto.SignerFromConfig(keyCfg)
		if err != nil {
			return fmt.Errorf("wire: operator key: %w", err)
		}
		signer = s
	}

	primary, err := chain.Dial(ctx, chain.Config{
		RPCURL:          cfg.Chain.RPCURL,
		ContractAddress: cfg.Chain.ContractAddress,
		ChainID:         cfg.Chain.ChainID,
		TxTimeout:       cfg.Chain.TxTimeout.Duration,
		PollInterval:    cfg.Chain.PollInterval.Duration,
		StartBlock:      cfg.Chain.StartBlock,
		BlockRange:      cfg.Chain.BlockRange,
	}, signer, logger)
	if err != nil {
		return fmt.Errorf("wire: chain %s: %w", cfg.Chain.Network, err)
	}
	*closers = append(*closers, primary.Close)
	deps.Ledger = primary
	deps.Ledgers[cfg.Chain.Network] = primary

	for name, n := range cfg.Networks {
		if name == cfg.Chain.Network {
			continue
		}
		c, err := chain.Dial(ctx, chain.Config{
			RPCURL:          n.RPCURL,
			ContractAddress: n.ContractAddress,
			ChainID:         n.ChainID,
			StartBlock:      n.StartBlock,
			BlockRange:      cfg.Chain.BlockRange,
		}, nil, logger)
		if err != nil {
			return fmt.Errorf("wire: chain %s: %w", name, err)
		}
		*closers = append(*closers, c.Close)
		deps.Ledgers[name] = c
	}
	return nil
}
