package domain

import (
	"context"
	"time"
)

// RateLimiter counts calls per key in a trailing window. The API limits per
// client address and the deal service limits contributions per caller.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out expiring exclusive locks. Acquire fails with
// ErrLockHeld while another holder owns key; the indexer takes one lock per
// network so two sync runs never overlap.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one durable stream entry. IDs increase monotonically and
// serve as consumer cursors.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus carries ledger events from the ledger feed to asynchronous
// consumers: pub/sub for live listeners and a durable stream for consumers
// that must not miss anything.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	// StreamRead returns entries after lastID, blocking up to block when none
	// are available. A zero block returns immediately.
	StreamRead(ctx context.Context, stream string, lastID string, count int, block time.Duration) ([]StreamMessage, error)
}
