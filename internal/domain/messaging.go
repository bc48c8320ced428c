package domain

import (
	"context"
	"time"
)

// RoomMessage is one message in a deal room. Seq is assigned by the channel
// and defines order; SentAt is informational only.
type RoomMessage struct {
	ID      string    `json:"id"`
	GroupID string    `json:"groupId"`
	Seq     uint64    `json:"seq"`
	Cursor  string    `json:"cursor"`
	Sender  string    `json:"sender"`
	Text    string    `json:"text"`
	SentAt  time.Time `json:"sentAt"`
}

// GroupMetadata describes a room at creation.
type GroupMetadata struct {
	Name        string
	Description string
	DealID      uint64
}

// MessagingProvider is the capability set the deal room needs from a group
// messaging backend.
type MessagingProvider interface {
	CreateGroup(ctx context.Context, members []string, meta GroupMetadata) (string, error)
	AddMembers(ctx context.Context, groupID string, identities []string) error
	RemoveMembers(ctx context.Context, groupID string, identities []string) error
	Members(ctx context.Context, groupID string) ([]string, error)
	Send(ctx context.Context, groupID, sender, text string) (RoomMessage, error)
	// Messages returns the latest limit messages, oldest first.
	Messages(ctx context.Context, groupID string, limit int) ([]RoomMessage, error)
	// Stream delivers messages after cursor ("" = from the beginning) until
	// ctx is cancelled. Each call is an independent subscriber.
	Stream(ctx context.Context, groupID, cursor string) (<-chan RoomMessage, error)
}

// IdentityResolver maps wallet addresses to messaging identities.
type IdentityResolver interface {
	CanMessage(ctx context.Context, address string) (bool, error)
	Resolve(ctx context.Context, address string) (string, error)
}
