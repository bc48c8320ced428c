package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "lock:sync:doma-testnet", lockKey("sync:doma-testnet"))
	assert.Equal(t, "ratelimit:api:10.0.0.1", rateLimitKey("api:10.0.0.1"))

	s := &RoomStore{prefix: "dealroom:"}
	assert.Equal(t, "dealroom:g1:members", s.membersKey("g1"))
	assert.Equal(t, "dealroom:g1:messages", s.messagesKey("g1"))
}

func TestDecodeRoomMessage(t *testing.T) {
	msg := decodeRoomMessage("g1", redis.XMessage{
		ID: "1700000000000-0",
		Values: map[string]any{
			"id":      "m-1",
			"seq":     "7",
			"sender":  "0xabc",
			"text":    "hello",
			"sent_at": "1700000000123",
		},
	})
	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, "g1", msg.GroupID)
	assert.Equal(t, uint64(7), msg.Seq)
	assert.Equal(t, "1700000000000-0", msg.Cursor)
	assert.Equal(t, "0xabc", msg.Sender)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), msg.SentAt)
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	_, ok = payloadBytes(42)
	assert.False(t, ok)
}

func TestScriptsEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
	assert.Contains(t, roomSendLua, "XADD")
}
