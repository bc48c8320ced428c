// Package memory is an in-process deal mirror used in simulate mode and by
// package tests. It implements the same store interfaces as the Postgres
// mirror, including its uniqueness and not-found behavior.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

type dealKey struct {
	network string
	id      uint64
}

// Store holds every mirror table behind one mutex.
type Store struct {
	mu           sync.Mutex
	deals        map[dealKey]domain.DealRecord
	participants map[dealKey]map[string]domain.Participant
	domains      map[string]domain.DomainRecord // by name
	cursors      map[string]string
	audit        []domain.AuditEntry
	now          func() time.Time

	// Writes counts mutating calls (Create, Update, UpsertParticipants,
	// SetGroupID) so tests can assert a re-run changed nothing.
	Writes int
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		deals:        make(map[dealKey]domain.DealRecord),
		participants: make(map[dealKey]map[string]domain.Participant),
		domains:      make(map[string]domain.DomainRecord),
		cursors:      make(map[string]string),
		now:          time.Now,
	}
}

// Deals returns the DealStore view.
func (s *Store) Deals() *DealStore { return &DealStore{s} }

// Domains returns the DomainStore view.
func (s *Store) Domains() *DomainStore { return &DomainStore{s} }

// DealStore implements domain.DealStore and domain.MilestoneStore.
type DealStore struct{ s *Store }

// FindByContractID implements domain.DealStore.
func (d *DealStore) FindByContractID(_ context.Context, network string, dealID uint64) (domain.DealRecord, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	rec, ok := d.s.deals[dealKey{network, dealID}]
	if !ok {
		return domain.DealRecord{}, domain.ErrNotFound
	}
	rec.Deal = rec.Deal.Clone()
	return rec, nil
}

// Create implements domain.DealStore.
func (d *DealStore) Create(_ context.Context, rec domain.DealRecord) (domain.DealRecord, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	k := dealKey{rec.Network, rec.Deal.ID}
	if _, ok := d.s.deals[k]; ok {
		return domain.DealRecord{}, domain.ErrAlreadyExists
	}
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}
	rec.CreatedAt = d.s.now()
	rec.UpdatedAt = rec.CreatedAt
	rec.Deal = rec.Deal.Clone()
	d.s.deals[k] = rec
	d.s.Writes++
	return rec, nil
}

// Update implements domain.DealStore. The room id and milestone are kept.
func (d *DealStore) Update(_ context.Context, rec domain.DealRecord) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	k := dealKey{rec.Network, rec.Deal.ID}
	cur, ok := d.s.deals[k]
	if !ok {
		return domain.ErrNotFound
	}
	groupID := cur.Deal.GroupID
	cur.Deal = rec.Deal.Clone()
	cur.Deal.GroupID = groupID
	cur.UpdatedAt = d.s.now()
	d.s.deals[k] = cur
	d.s.Writes++
	return nil
}

// List implements domain.DealStore.
func (d *DealStore) List(_ context.Context, opts domain.DealListOpts) ([]domain.DealRecord, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var out []domain.DealRecord
	for _, rec := range d.s.deals {
		if opts.Network != "" && rec.Network != opts.Network {
			continue
		}
		if opts.Status != nil && rec.Deal.Status != *opts.Status {
			continue
		}
		rec.Deal = rec.Deal.Clone()
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].Deal.ID > out[j].Deal.ID
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// SetGroupID implements domain.DealStore.
func (d *DealStore) SetGroupID(_ context.Context, network string, dealID uint64, groupID string) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	k := dealKey{network, dealID}
	rec, ok := d.s.deals[k]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Deal.GroupID = groupID
	d.s.deals[k] = rec
	d.s.Writes++
	return nil
}

// UpsertParticipants implements domain.DealStore.
func (d *DealStore) UpsertParticipants(_ context.Context, network string, dealID uint64, participants []domain.Participant) error {
	if len(participants) == 0 {
		return nil
	}
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	k := dealKey{network, dealID}
	if _, ok := d.s.deals[k]; !ok {
		return fmt.Errorf("memory: participants of unknown deal %s/%d: %w", network, dealID, domain.ErrNotFound)
	}
	m, ok := d.s.participants[k]
	if !ok {
		m = make(map[string]domain.Participant)
		d.s.participants[k] = m
	}
	for _, p := range participants {
		m[p.Address] = p.Clone()
	}
	d.s.Writes++
	return nil
}

// ListParticipants implements domain.DealStore.
func (d *DealStore) ListParticipants(_ context.Context, network string, dealID uint64) ([]domain.Participant, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var out []domain.Participant
	for _, p := range d.s.participants[dealKey{network, dealID}] {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

// LastMilestone implements domain.MilestoneStore.
func (d *DealStore) LastMilestone(_ context.Context, network string, dealID uint64) (int, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	rec, ok := d.s.deals[dealKey{network, dealID}]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return rec.LastMilestone, nil
}

// SetLastMilestone implements domain.MilestoneStore. It never lowers the
// stored value.
func (d *DealStore) SetLastMilestone(_ context.Context, network string, dealID uint64, milestone int) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	k := dealKey{network, dealID}
	rec, ok := d.s.deals[k]
	if !ok {
		return domain.ErrNotFound
	}
	if milestone > rec.LastMilestone {
		rec.LastMilestone = milestone
		d.s.deals[k] = rec
	}
	return nil
}

// DomainStore implements domain.DomainStore.
type DomainStore struct{ s *Store }

// FindByName implements domain.DomainStore.
func (d *DomainStore) FindByName(_ context.Context, name string) (domain.DomainRecord, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	rec, ok := d.s.domains[name]
	if !ok {
		return domain.DomainRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// Create implements domain.DomainStore.
func (d *DomainStore) Create(_ context.Context, rec domain.DomainRecord) (domain.DomainRecord, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if _, ok := d.s.domains[rec.Name]; ok {
		return domain.DomainRecord{}, domain.ErrAlreadyExists
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = d.s.now()
	rec.UpdatedAt = rec.CreatedAt
	d.s.domains[rec.Name] = rec
	return rec, nil
}

// UpdateTokenID implements domain.DomainStore.
func (d *DomainStore) UpdateTokenID(_ context.Context, id, tokenID string) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	for name, rec := range d.s.domains {
		if rec.ID == id {
			rec.TokenID = tokenID
			rec.Synthetic = false
			rec.UpdatedAt = d.s.now()
			d.s.domains[name] = rec
			return nil
		}
	}
	return domain.ErrNotFound
}

// GetCursor implements domain.CursorStore.
func (s *Store) GetCursor(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[name], nil
}

// SetCursor implements domain.CursorStore.
func (s *Store) SetCursor(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = value
	return nil
}

// Log implements domain.AuditStore.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now(),
	})
	return nil
}

// List implements domain.AuditStore, newest first.
func (s *Store) List(_ context.Context, opts domain.AuditListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if opts.Event != "" && e.Event != opts.Event {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var (
	_ domain.DealStore      = (*DealStore)(nil)
	_ domain.MilestoneStore = (*DealStore)(nil)
	_ domain.DomainStore    = (*DomainStore)(nil)
	_ domain.CursorStore    = (*Store)(nil)
	_ domain.AuditStore     = (*Store)(nil)
)
