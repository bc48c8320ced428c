// Package messaging provides deal-room channel providers and the wallet to
// messaging identity resolver used by the deal-room coordinator.
package messaging

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

type memRoom struct {
	meta     domain.GroupMetadata
	members  map[string]struct{}
	messages []domain.RoomMessage
	// changed is closed and replaced on every send to wake streamers.
	changed chan struct{}
}

// MemoryProvider is an in-process domain.MessagingProvider for simulate
// mode and tests. Cursors are decimal sequence numbers.
type MemoryProvider struct {
	mu    sync.Mutex
	rooms map[string]*memRoom
	now   func() time.Time

	// SendErr, when set, is returned by Send before anything is stored.
	SendErr func(groupID, text string) error
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{rooms: make(map[string]*memRoom), now: time.Now}
}

func (p *MemoryProvider) room(groupID string) (*memRoom, error) {
	r, ok := p.rooms[groupID]
	if !ok {
		return nil, fmt.Errorf("messaging: room %s: %w", groupID, domain.ErrNotFound)
	}
	return r, nil
}

// CreateGroup creates a room with the given members.
func (p *MemoryProvider) CreateGroup(_ context.Context, members []string, meta domain.GroupMetadata) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.NewString()
	r := &memRoom{meta: meta, members: make(map[string]struct{}), changed: make(chan struct{})}
	for _, m := range members {
		r.members[m] = struct{}{}
	}
	p.rooms[id] = r
	return id, nil
}

// AddMembers adds identities; existing members are no-ops.
func (p *MemoryProvider) AddMembers(_ context.Context, groupID string, identities []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.room(groupID)
	if err != nil {
		return err
	}
	for _, id := range identities {
		r.members[id] = struct{}{}
	}
	return nil
}

// RemoveMembers drops identities.
func (p *MemoryProvider) RemoveMembers(_ context.Context, groupID string, identities []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.room(groupID)
	if err != nil {
		return err
	}
	for _, id := range identities {
		delete(r.members, id)
	}
	return nil
}

// Members returns the room's identities sorted.
func (p *MemoryProvider) Members(_ context.Context, groupID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.room(groupID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(r.members))
	for m := range r.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// Send appends a message and wakes streamers.
func (p *MemoryProvider) Send(_ context.Context, groupID, sender, text string) (domain.RoomMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.room(groupID)
	if err != nil {
		return domain.RoomMessage{}, err
	}
	if p.SendErr != nil {
		if err := p.SendErr(groupID, text); err != nil {
			return domain.RoomMessage{}, err
		}
	}
	seq := uint64(len(r.messages) + 1)
	msg := domain.RoomMessage{
		ID:      uuid.NewString(),
		GroupID: groupID,
		Seq:     seq,
		Cursor:  strconv.FormatUint(seq, 10),
		Sender:  sender,
		Text:    text,
		SentAt:  p.now().UTC(),
	}
	r.messages = append(r.messages, msg)
	close(r.changed)
	r.changed = make(chan struct{})
	return msg, nil
}

// Messages returns the latest limit messages, oldest first.
func (p *MemoryProvider) Messages(_ context.Context, groupID string, limit int) ([]domain.RoomMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.room(groupID)
	if err != nil {
		return nil, err
	}
	start := 0
	if limit > 0 && len(r.messages) > limit {
		start = len(r.messages) - limit
	}
	return append([]domain.RoomMessage(nil), r.messages[start:]...), nil
}

// Stream delivers messages after cursor until ctx is cancelled.
func (p *MemoryProvider) Stream(ctx context.Context, groupID, cursor string) (<-chan domain.RoomMessage, error) {
	var pos uint64
	if cursor != "" {
		v, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("messaging: invalid cursor %q", cursor)
		}
		pos = v
	}

	p.mu.Lock()
	_, err := p.room(groupID)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan domain.RoomMessage, 16)
	go func() {
		defer close(out)
		for {
			p.mu.Lock()
			r := p.rooms[groupID]
			var pending []domain.RoomMessage
			if pos < uint64(len(r.messages)) {
				pending = append(pending, r.messages[pos:]...)
			}
			wake := r.changed
			p.mu.Unlock()

			for _, m := range pending {
				select {
				case out <- m:
					pos = m.Seq
				case <-ctx.Done():
					return
				}
			}
			if len(pending) > 0 {
				continue
			}
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

var _ domain.MessagingProvider = (*MemoryProvider)(nil)
