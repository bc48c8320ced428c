package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const identitiesKey = "dealbot:identities"

// IdentityDirectory maps canonical wallet addresses to registered messaging
// identities in a single hash.
type IdentityDirectory struct {
	rdb *redis.Client
}

// NewIdentityDirectory creates an IdentityDirectory backed by the given Client.
func NewIdentityDirectory(c *Client) *IdentityDirectory {
	return &IdentityDirectory{rdb: c.Underlying()}
}

// Lookup returns the identity registered for address.
func (d *IdentityDirectory) Lookup(ctx context.Context, address string) (string, bool, error) {
	id, err := d.rdb.HGet(ctx, identitiesKey, address).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis: identity lookup %s: %w", address, err)
	}
	return id, true, nil
}

// Register records the identity for address.
func (d *IdentityDirectory) Register(ctx context.Context, address, identity string) error {
	if err := d.rdb.HSet(ctx, identitiesKey, address, identity).Err(); err != nil {
		return fmt.Errorf("redis: identity register %s: %w", address, err)
	}
	return nil
}
