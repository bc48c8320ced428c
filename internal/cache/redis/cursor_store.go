package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

const cursorsKey = "dealbot:cursors"

// CursorStore implements domain.CursorStore on a single hash. The relay
// keeps its stream position here when Postgres is not configured.
type CursorStore struct {
	rdb *redis.Client
}

// NewCursorStore creates a CursorStore backed by the given Client.
func NewCursorStore(c *Client) *CursorStore {
	return &CursorStore{rdb: c.Underlying()}
}

// GetCursor returns "" for a cursor that was never set.
func (s *CursorStore) GetCursor(ctx context.Context, name string) (string, error) {
	v, err := s.rdb.HGet(ctx, cursorsKey, name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis: get cursor %s: %w", name, err)
	}
	return v, nil
}

// SetCursor stores the cursor value.
func (s *CursorStore) SetCursor(ctx context.Context, name, value string) error {
	if err := s.rdb.HSet(ctx, cursorsKey, name, value).Err(); err != nil {
		return fmt.Errorf("redis: set cursor %s: %w", name, err)
	}
	return nil
}

var _ domain.CursorStore = (*CursorStore)(nil)
