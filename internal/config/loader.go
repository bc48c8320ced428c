package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEALBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEALBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.Network, "DEALBOT_CHAIN_NETWORK")
	setStr(&cfg.Chain.RPCURL, "DEALBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "DEALBOT_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.ContractAddress, "DEALBOT_CHAIN_CONTRACT_ADDRESS")
	setUint64(&cfg.Chain.StartBlock, "DEALBOT_CHAIN_START_BLOCK")
	setDuration(&cfg.Chain.TxTimeout, "DEALBOT_CHAIN_TX_TIMEOUT")
	setStr(&cfg.Chain.PrivateKey, "DEALBOT_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "DEALBOT_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "DEALBOT_CHAIN_KEY_PASSWORD")
	setStringSlice(&cfg.Chain.AdminAddresses, "DEALBOT_CHAIN_ADMIN_ADDRESSES")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEALBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DEALBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEALBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEALBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEALBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEALBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEALBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEALBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEALBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEALBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEALBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEALBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEALBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEALBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEALBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEALBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DEALBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEALBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEALBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEALBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEALBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEALBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEALBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ReportRetentionDays, "DEALBOT_S3_REPORT_RETENTION_DAYS")

	// ── Indexer ──
	setBool(&cfg.Indexer.Enabled, "DEALBOT_INDEXER_ENABLED")
	setStr(&cfg.Indexer.Mode, "DEALBOT_INDEXER_MODE")
	setInt(&cfg.Indexer.MaxScan, "DEALBOT_INDEXER_MAX_SCAN")
	setInt(&cfg.Indexer.MissGap, "DEALBOT_INDEXER_MISS_GAP")
	setInt(&cfg.Indexer.Concurrency, "DEALBOT_INDEXER_CONCURRENCY")
	setStr(&cfg.Indexer.Schedule, "DEALBOT_INDEXER_SCHEDULE")
	setDuration(&cfg.Indexer.Interval, "DEALBOT_INDEXER_INTERVAL")
	setBool(&cfg.Indexer.ArchiveReports, "DEALBOT_INDEXER_ARCHIVE_REPORTS")
	setStr(&cfg.Indexer.RetentionSchedule, "DEALBOT_INDEXER_RETENTION_SCHEDULE")

	// ── Deal room ──
	setBool(&cfg.DealRoom.Enabled, "DEALBOT_DEALROOM_ENABLED")
	setStr(&cfg.DealRoom.Stream, "DEALBOT_DEALROOM_STREAM")
	setInt(&cfg.DealRoom.MaxAttempts, "DEALBOT_DEALROOM_MAX_ATTEMPTS")
	setDuration(&cfg.DealRoom.BackoffBase, "DEALBOT_DEALROOM_BACKOFF_BASE")
	setDuration(&cfg.DealRoom.BackoffMax, "DEALBOT_DEALROOM_BACKOFF_MAX")
	setDuration(&cfg.DealRoom.FeedInterval, "DEALBOT_DEALROOM_FEED_INTERVAL")
	setFloat64(&cfg.DealRoom.SendRate, "DEALBOT_DEALROOM_SEND_RATE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEALBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEALBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEALBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DEALBOT_SERVER_API_KEY")
	setStr(&cfg.Server.WebhookSecret, "DEALBOT_SERVER_WEBHOOK_SECRET")
	setInt(&cfg.Server.RateLimit, "DEALBOT_SERVER_RATE_LIMIT")
	setBool(&cfg.Server.SignedCallers, "DEALBOT_SERVER_SIGNED_CALLERS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEALBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEALBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEALBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEALBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEALBOT_MODE")
	setStr(&cfg.LogLevel, "DEALBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
