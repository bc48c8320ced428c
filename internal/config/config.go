// Package config defines the top-level configuration for dealbot and
// provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEALBOT_* environment variables.
type Config struct {
	Chain    ChainConfig              `toml:"chain"`
	Networks map[string]NetworkConfig `toml:"networks"`
	Postgres PostgresConfig           `toml:"postgres"`
	Redis    RedisConfig              `toml:"redis"`
	S3       S3Config                 `toml:"s3"`
	Indexer  IndexerConfig            `toml:"indexer"`
	DealRoom DealRoomConfig           `toml:"dealroom"`
	Server   ServerConfig             `toml:"server"`
	Notify   NotifyConfig             `toml:"notify"`
	Mode     string                   `toml:"mode"`
	LogLevel string                   `toml:"log_level"`
}

// ChainConfig describes the primary ledger network and the operator account
// that submits transactions on it.
type ChainConfig struct {
	Network          string   `toml:"network"`
	RPCURL           string   `toml:"rpc_url"`
	ChainID          int64    `toml:"chain_id"`
	ContractAddress  string   `toml:"contract_address"`
	StartBlock       uint64   `toml:"start_block"`
	BlockRange       uint64   `toml:"block_range"`
	TxTimeout        duration `toml:"tx_timeout"`
	PollInterval     duration `toml:"poll_interval"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	AdminAddresses   []string `toml:"admin_addresses"`
}

// NetworkConfig is an additional read-only network the indexer mirrors.
type NetworkConfig struct {
	RPCURL          string `toml:"rpc_url"`
	ChainID         int64  `toml:"chain_id"`
	ContractAddress string `toml:"contract_address"`
	StartBlock      uint64 `toml:"start_block"`
}

// PostgresConfig holds mirror database connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ReportPrefix   string `toml:"report_prefix"`
	// ReportRetentionDays prunes archived reports older than this. Zero keeps
	// them forever.
	ReportRetentionDays int `toml:"report_retention_days"`
}

// IndexerConfig controls how the mirror is kept in sync with the ledger.
type IndexerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Mode           string   `toml:"mode"` // "scan" or "events"
	MaxScan        int      `toml:"max_scan"`
	MissGap        int      `toml:"miss_gap"`
	Concurrency    int      `toml:"concurrency"`
	EventPageSize  int      `toml:"event_page_size"`
	Schedule       string   `toml:"schedule"` // standard 5-field cron
	Interval       duration `toml:"interval"` // used when schedule is empty
	LockTTL        duration `toml:"lock_ttl"`
	ArchiveReports bool     `toml:"archive_reports"`
	// RetentionSchedule is the cron schedule of the report pruning job.
	RetentionSchedule string `toml:"retention_schedule"`
}

// DealRoomConfig controls the group-messaging relay.
type DealRoomConfig struct {
	Enabled      bool     `toml:"enabled"`
	Stream       string   `toml:"stream"`
	Channel      string   `toml:"channel"`
	CursorName   string   `toml:"cursor_name"`
	BatchSize    int      `toml:"batch_size"`
	MaxAttempts  int      `toml:"max_attempts"`
	BackoffBase  duration `toml:"backoff_base"`
	BackoffMax   duration `toml:"backoff_max"`
	FeedInterval duration `toml:"feed_interval"` // ledger event poll interval
	SendRate     float64  `toml:"send_rate"`     // messages per second per room
	SendBurst    int      `toml:"send_burst"`
	HistoryLimit int      `toml:"history_limit"`
	BotIdentity  string   `toml:"bot_identity"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	WebhookSecret  string   `toml:"webhook_secret"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	MetricsEnabled bool     `toml:"metrics_enabled"`
	// SignedCallers requires write requests to carry a personal_sign
	// signature from the acting address.
	SignedCallers bool `toml:"signed_callers"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			Network:      "testnet",
			RPCURL:       "http://localhost:8545",
			BlockRange:   5000,
			TxTimeout:    duration{2 * time.Minute},
			PollInterval: duration{2 * time.Second},
		},
		Networks: map[string]NetworkConfig{},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dealbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dealbot-data",
			ForcePathStyle: true,
			ReportPrefix:   "sync-reports",

			ReportRetentionDays: 90,
		},
		Indexer: IndexerConfig{
			Enabled:        true,
			Mode:           "scan",
			MaxScan:        100,
			MissGap:        5,
			Concurrency:    4,
			EventPageSize:  500,
			Schedule:       "*/5 * * * *",
			Interval:       duration{5 * time.Minute},
			LockTTL:        duration{2 * time.Minute},
			ArchiveReports: true,

			RetentionSchedule: "0 3 * * *",
		},
		DealRoom: DealRoomConfig{
			Enabled:      true,
			Stream:       "dealbot:ledger-events",
			Channel:      "dealbot:ledger",
			CursorName:   "dealroom-relay",
			BatchSize:    50,
			MaxAttempts:  5,
			BackoffBase:  duration{500 * time.Millisecond},
			BackoffMax:   duration{30 * time.Second},
			FeedInterval: duration{2 * time.Second},
			SendRate:     2,
			SendBurst:    5,
			HistoryLimit: 100,
			BotIdentity:  "dealbot",
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:      120,
			RateWindow:     duration{time.Minute},
			MetricsEnabled: true,
		},
		Notify: NotifyConfig{
			Events: []string{"sync_error", "deal_funded", "deal_executed", "relay_dead_letter"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"indexer":     true,
	"coordinator": true,
	"server":      true,
	"full":        true,
	"simulate":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NetworkNames returns the primary network first, then the extra networks
// sorted by name.
func (c *Config) NetworkNames() []string {
	names := []string{c.Chain.Network}
	extra := make([]string, 0, len(c.Networks))
	for n := range c.Networks {
		if n != c.Chain.Network {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: indexer, coordinator, server, full, simulate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if strings.TrimSpace(c.Chain.Network) == "" {
		errs = append(errs, "chain: network must not be empty")
	}
	if mode != "simulate" {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if !common.IsHexAddress(c.Chain.ContractAddress) {
			errs = append(errs, fmt.Sprintf("chain: contract_address %q is not a valid address", c.Chain.ContractAddress))
		}
	}
	if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
		errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
	}
	if c.Chain.TxTimeout.Duration <= 0 {
		errs = append(errs, "chain: tx_timeout must be > 0")
	}
	for _, a := range c.Chain.AdminAddresses {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Sprintf("chain: admin address %q is not a valid address", a))
		}
	}
	for name, n := range c.Networks {
		if n.RPCURL == "" {
			errs = append(errs, fmt.Sprintf("networks.%s: rpc_url must not be empty", name))
		}
		if !common.IsHexAddress(n.ContractAddress) {
			errs = append(errs, fmt.Sprintf("networks.%s: contract_address is not a valid address", name))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.Indexer.ArchiveReports {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when indexer.archive_reports is set")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when indexer.archive_reports is set")
		}
	}
	if c.S3.ReportRetentionDays < 0 {
		errs = append(errs, "s3: report_retention_days must be >= 0")
	}

	// Indexer
	if c.Indexer.Mode != "scan" && c.Indexer.Mode != "events" {
		errs = append(errs, fmt.Sprintf("indexer: mode must be scan or events, got %q", c.Indexer.Mode))
	}
	if c.Indexer.MaxScan < 1 {
		errs = append(errs, "indexer: max_scan must be >= 1")
	}
	if c.Indexer.MissGap < 1 {
		errs = append(errs, "indexer: miss_gap must be >= 1")
	}
	if c.Indexer.Concurrency < 1 {
		errs = append(errs, "indexer: concurrency must be >= 1")
	}
	if c.Indexer.Schedule != "" {
		if _, err := cron.ParseStandard(c.Indexer.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("indexer: schedule %q: %v", c.Indexer.Schedule, err))
		}
	} else if c.Indexer.Interval.Duration <= 0 {
		errs = append(errs, "indexer: interval must be > 0 when schedule is empty")
	}
	if c.Indexer.RetentionSchedule != "" {
		if _, err := cron.ParseStandard(c.Indexer.RetentionSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("indexer: retention_schedule %q: %v", c.Indexer.RetentionSchedule, err))
		}
	}

	// Deal room
	if c.DealRoom.Enabled {
		if c.DealRoom.Stream == "" {
			errs = append(errs, "dealroom: stream must not be empty")
		}
		if c.DealRoom.MaxAttempts < 1 {
			errs = append(errs, "dealroom: max_attempts must be >= 1")
		}
		if c.DealRoom.BackoffBase.Duration <= 0 || c.DealRoom.BackoffMax.Duration < c.DealRoom.BackoffBase.Duration {
			errs = append(errs, "dealroom: backoff_base must be > 0 and <= backoff_max")
		}
		if c.DealRoom.SendRate <= 0 {
			errs = append(errs, "dealroom: send_rate must be > 0")
		}
		if c.DealRoom.FeedInterval.Duration <= 0 {
			errs = append(errs, "dealroom: feed_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
