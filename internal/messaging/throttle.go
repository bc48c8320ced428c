package messaging

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// Throttled wraps a provider with a per-room token bucket on Send so a burst
// of ledger events cannot flood one room.
type Throttled struct {
	domain.MessagingProvider

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottled limits sends to perSecond messages per room with the given
// burst. A non-positive rate disables throttling.
func NewThrottled(p domain.MessagingProvider, perSecond float64, burst int) *Throttled {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		MessagingProvider: p,
		limit:             limit,
		burst:             burst,
		limiters:          make(map[string]*rate.Limiter),
	}
}

func (t *Throttled) limiter(groupID string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[groupID]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[groupID] = l
	}
	return l
}

// Send waits for the room's limiter, then sends.
func (t *Throttled) Send(ctx context.Context, groupID, sender, text string) (domain.RoomMessage, error) {
	if err := t.limiter(groupID).Wait(ctx); err != nil {
		return domain.RoomMessage{}, fmt.Errorf("messaging: throttle %s: %w", groupID, domain.ErrContextDone)
	}
	return t.MessagingProvider.Send(ctx, groupID, sender, text)
}
