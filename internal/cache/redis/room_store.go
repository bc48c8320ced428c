package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

//go:embed scripts/room_send.lua
var roomSendLua string

const (
	roomStreamMaxLen = 5000
	roomReadBlock    = time.Second
)

// RoomStore implements domain.MessagingProvider on Redis: a hash for room
// metadata, a set for membership and a stream for the message log. Stream
// entry ids are the resume cursors; Seq comes from a per-room counter bumped
// in the same script as the append.
type RoomStore struct {
	rdb    *redis.Client
	send   *redis.Script
	now    func() time.Time
	block  time.Duration
	prefix string
}

// NewRoomStore creates a RoomStore backed by the given Client.
func NewRoomStore(c *Client) *RoomStore {
	return &RoomStore{
		rdb:    c.Underlying(),
		send:   redis.NewScript(roomSendLua),
		now:    time.Now,
		block:  roomReadBlock,
		prefix: "dealroom:",
	}
}

func (s *RoomStore) metaKey(id string) string     { return s.prefix + id + ":meta" }
func (s *RoomStore) membersKey(id string) string  { return s.prefix + id + ":members" }
func (s *RoomStore) seqKey(id string) string      { return s.prefix + id + ":seq" }
func (s *RoomStore) messagesKey(id string) string { return s.prefix + id + ":messages" }

// CreateGroup creates a room seeded with members.
func (s *RoomStore) CreateGroup(ctx context.Context, members []string, meta domain.GroupMetadata) (string, error) {
	id := uuid.NewString()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.metaKey(id),
			"name", meta.Name,
			"description", meta.Description,
			"deal_id", strconv.FormatUint(meta.DealID, 10),
			"created_at", s.now().UnixMilli(),
		)
		if len(members) > 0 {
			pipe.SAdd(ctx, s.membersKey(id), toAny(members)...)
		}
		return nil
	})
	if err != nil {
		return "", domain.Transient(fmt.Errorf("redis: create room: %w", err))
	}
	return id, nil
}

func (s *RoomStore) requireRoom(ctx context.Context, groupID string) error {
	n, err := s.rdb.Exists(ctx, s.metaKey(groupID)).Result()
	if err != nil {
		return domain.Transient(fmt.Errorf("redis: room %s: %w", groupID, err))
	}
	if n == 0 {
		return fmt.Errorf("redis: room %s: %w", groupID, domain.ErrNotFound)
	}
	return nil
}

// AddMembers adds identities to the room. Existing members are no-ops.
func (s *RoomStore) AddMembers(ctx context.Context, groupID string, identities []string) error {
	if err := s.requireRoom(ctx, groupID); err != nil {
		return err
	}
	if len(identities) == 0 {
		return nil
	}
	if err := s.rdb.SAdd(ctx, s.membersKey(groupID), toAny(identities)...).Err(); err != nil {
		return domain.Transient(fmt.Errorf("redis: add members %s: %w", groupID, err))
	}
	return nil
}

// RemoveMembers drops identities from the room.
func (s *RoomStore) RemoveMembers(ctx context.Context, groupID string, identities []string) error {
	if err := s.requireRoom(ctx, groupID); err != nil {
		return err
	}
	if len(identities) == 0 {
		return nil
	}
	if err := s.rdb.SRem(ctx, s.membersKey(groupID), toAny(identities)...).Err(); err != nil {
		return domain.Transient(fmt.Errorf("redis: remove members %s: %w", groupID, err))
	}
	return nil
}

// Members lists the room's identities sorted.
func (s *RoomStore) Members(ctx context.Context, groupID string) ([]string, error) {
	if err := s.requireRoom(ctx, groupID); err != nil {
		return nil, err
	}
	members, err := s.rdb.SMembers(ctx, s.membersKey(groupID)).Result()
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("redis: members %s: %w", groupID, err))
	}
	sort.Strings(members)
	return members, nil
}

// Send appends a message to the room's log.
func (s *RoomStore) Send(ctx context.Context, groupID, sender, text string) (domain.RoomMessage, error) {
	msg := domain.RoomMessage{
		ID:      uuid.NewString(),
		GroupID: groupID,
		Sender:  sender,
		Text:    text,
		SentAt:  s.now().UTC().Truncate(time.Millisecond),
	}
	res, err := s.send.Run(ctx, s.rdb,
		[]string{s.metaKey(groupID), s.seqKey(groupID), s.messagesKey(groupID)},
		msg.ID, sender, text, msg.SentAt.UnixMilli(), roomStreamMaxLen,
	).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RoomMessage{}, fmt.Errorf("redis: send to room %s: %w", groupID, domain.ErrNotFound)
		}
		return domain.RoomMessage{}, domain.Transient(fmt.Errorf("redis: send to room %s: %w", groupID, err))
	}
	if len(res) != 2 {
		return domain.RoomMessage{}, fmt.Errorf("redis: send to room %s: unexpected reply %v", groupID, res)
	}
	seq, _ := res[0].(int64)
	cursor, _ := res[1].(string)
	msg.Seq = uint64(seq)
	msg.Cursor = cursor
	return msg, nil
}

// Messages returns the latest limit messages, oldest first.
func (s *RoomStore) Messages(ctx context.Context, groupID string, limit int) ([]domain.RoomMessage, error) {
	if err := s.requireRoom(ctx, groupID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.rdb.XRevRangeN(ctx, s.messagesKey(groupID), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("redis: messages %s: %w", groupID, err))
	}
	out := make([]domain.RoomMessage, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, decodeRoomMessage(groupID, entries[i]))
	}
	return out, nil
}

// Stream delivers messages after cursor until ctx is cancelled. Each call
// reads the stream independently, so subscribers never steal from one
// another.
func (s *RoomStore) Stream(ctx context.Context, groupID, cursor string) (<-chan domain.RoomMessage, error) {
	if err := s.requireRoom(ctx, groupID); err != nil {
		return nil, err
	}
	if cursor == "" {
		cursor = "0-0"
	}

	out := make(chan domain.RoomMessage, 64)
	go func() {
		defer close(out)
		last := cursor
		for ctx.Err() == nil {
			res, err := s.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{s.messagesKey(groupID), last},
				Count:   100,
				Block:   s.block,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.block):
				}
				continue
			}
			for _, st := range res {
				for _, entry := range st.Messages {
					select {
					case out <- decodeRoomMessage(groupID, entry):
						last = entry.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func decodeRoomMessage(groupID string, entry redis.XMessage) domain.RoomMessage {
	str := func(k string) string {
		v, _ := entry.Values[k].(string)
		return v
	}
	seq, _ := strconv.ParseUint(str("seq"), 10, 64)
	millis, _ := strconv.ParseInt(str("sent_at"), 10, 64)
	return domain.RoomMessage{
		ID:      str("id"),
		GroupID: groupID,
		Seq:     seq,
		Cursor:  entry.ID,
		Sender:  str("sender"),
		Text:    str("text"),
		SentAt:  time.UnixMilli(millis).UTC(),
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

var _ domain.MessagingProvider = (*RoomStore)(nil)
