package domain

import "time"

// SyncAction is the per-deal outcome of an indexer run.
type SyncAction string

const (
	SyncCreated   SyncAction = "created"
	SyncUpdated   SyncAction = "updated"
	SyncUnchanged SyncAction = "unchanged"
	SyncError     SyncAction = "error"
)

// SyncItem is one line of the per-deal action log.
type SyncItem struct {
	DealID uint64     `json:"dealId"`
	Action SyncAction `json:"action"`
	Error  string     `json:"error,omitempty"`
}

// SyncReport is returned by the indexer trigger.
type SyncReport struct {
	RunID      string     `json:"runId"`
	Network    string     `json:"network"`
	Mode       string     `json:"mode"`
	Synced     int        `json:"synced"`
	Results    []SyncItem `json:"results"`
	Cursor     uint64     `json:"cursor,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
}

// Errors counts error entries.
func (r SyncReport) Errors() int {
	n := 0
	for _, it := range r.Results {
		if it.Action == SyncError {
			n++
		}
	}
	return n
}
