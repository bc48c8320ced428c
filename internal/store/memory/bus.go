package memory

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// Bus is an in-process domain.EventBus. Stream ids are decimal sequence
// numbers starting at 1.
type Bus struct {
	mu      sync.Mutex
	streams map[string][]domain.StreamMessage
	subs    map[string][]chan []byte
	changed chan struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		streams: make(map[string][]domain.StreamMessage),
		subs:    make(map[string][]chan []byte),
		changed: make(chan struct{}),
	}
}

// Publish delivers payload to every subscriber whose pattern matches
// channel. Slow subscribers miss messages rather than block the publisher.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pattern, chans := range b.subs {
		if ok, _ := path.Match(pattern, channel); !ok {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- append([]byte(nil), payload...):
			default:
			}
		}
	}
	return nil
}

// Subscribe listens on channel, which may be a glob pattern, until ctx is
// cancelled.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[channel]
		for i, c := range chans {
			if c == ch {
				b.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// StreamAppend adds an entry and wakes blocked readers.
func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.streams[stream]
	b.streams[stream] = append(entries, domain.StreamMessage{
		ID:      strconv.Itoa(len(entries) + 1),
		Payload: append([]byte(nil), payload...),
	})
	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

// StreamRead returns up to count entries after lastID, waiting up to block
// when there are none.
func (b *Bus) StreamRead(ctx context.Context, stream string, lastID string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	after, _ := strconv.Atoi(lastID)

	var deadline <-chan time.Time
	if block > 0 {
		t := time.NewTimer(block)
		defer t.Stop()
		deadline = t.C
	}
	for {
		b.mu.Lock()
		entries := b.streams[stream]
		var out []domain.StreamMessage
		if after < len(entries) {
			out = append(out, entries[after:]...)
		}
		wake := b.changed
		b.mu.Unlock()

		if count > 0 && len(out) > count {
			out = out[:count]
		}
		if len(out) > 0 || deadline == nil {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, domain.ErrContextDone
		case <-deadline:
			return nil, nil
		case <-wake:
		}
	}
}

var _ domain.EventBus = (*Bus)(nil)
