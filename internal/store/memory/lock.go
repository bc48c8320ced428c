package memory

import (
	"context"
	"sync"
	"time"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// Locks is an in-process domain.LockManager. Expired locks are taken over.
type Locks struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocks creates an empty Locks.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]time.Time), now: time.Now}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (l *Locks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, domain.ErrLockHeld
	}
	until := now.Add(ttl)
	l.held[key] = until

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key] == until {
				delete(l.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*Locks)(nil)
