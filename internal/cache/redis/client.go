// Package redis backs the coordination primitives of the deal bot with
// go-redis/v9: per-network sync locks, the ledger event bus, API rate
// limiting, deal-room storage and consumer cursors.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds the connection settings from the [redis] config section.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client is the shared connection behind every redis-backed store: sync
// locks, API rate limits, the ledger event stream, deal rooms, identities
// and the relay cursors. It is also registered as the "redis" health check.
type Client struct {
	rdb *redis.Client
}

// New dials Redis and returns an error when the server does not answer a
// ping.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping reports whether Redis answers; the health endpoint degrades when it
// does not.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the pool on shutdown.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw client for the store constructors in this
// package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
