package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// DealStore is the off-chain mirror of ledger deals, unique on
// (network, contract deal id).
type DealStore interface {
	FindByContractID(ctx context.Context, network string, dealID uint64) (DealRecord, error)
	Create(ctx context.Context, rec DealRecord) (DealRecord, error)
	Update(ctx context.Context, rec DealRecord) error
	List(ctx context.Context, opts DealListOpts) ([]DealRecord, error)
	SetGroupID(ctx context.Context, network string, dealID uint64, groupID string) error
	UpsertParticipants(ctx context.Context, network string, dealID uint64, participants []Participant) error
	ListParticipants(ctx context.Context, network string, dealID uint64) ([]Participant, error)
}

// DomainStore persists the domain records deals point at.
type DomainStore interface {
	FindByName(ctx context.Context, name string) (DomainRecord, error)
	Create(ctx context.Context, rec DomainRecord) (DomainRecord, error)
	UpdateTokenID(ctx context.Context, id, tokenID string) error
}

// MilestoneStore remembers the highest milestone already announced per deal
// so each threshold is broadcast once.
type MilestoneStore interface {
	LastMilestone(ctx context.Context, network string, dealID uint64) (int, error)
	SetLastMilestone(ctx context.Context, network string, dealID uint64, milestone int) error
}

// CursorStore persists consumer high-water marks (indexer, relay).
type CursorStore interface {
	GetCursor(ctx context.Context, name string) (string, error)
	SetCursor(ctx context.Context, name, value string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditListOpts narrows an audit listing to one event type.
type AuditListOpts struct {
	ListOpts
	Event string
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts AuditListOpts) ([]AuditEntry, error)
}
