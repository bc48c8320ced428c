package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// DomainStore implements domain.DomainStore.
type DomainStore struct {
	pool *pgxpool.Pool
}

// NewDomainStore creates a DomainStore backed by the given pool.
func NewDomainStore(pool *pgxpool.Pool) *DomainStore {
	return &DomainStore{pool: pool}
}

// FindByName returns the domain with the exact name.
func (s *DomainStore) FindByName(ctx context.Context, name string) (domain.DomainRecord, error) {
	var rec domain.DomainRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, name, token_id, synthetic, created_at, updated_at FROM domains WHERE name = $1`,
		name,
	).Scan(&rec.ID, &rec.Name, &rec.TokenID, &rec.Synthetic, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DomainRecord{}, domain.ErrNotFound
		}
		return domain.DomainRecord{}, fmt.Errorf("postgres: get domain %q: %w", name, err)
	}
	return rec, nil
}

// Create inserts a domain row. A duplicate name yields domain.ErrAlreadyExists.
func (s *DomainStore) Create(ctx context.Context, rec domain.DomainRecord) (domain.DomainRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO domains (id, name, token_id, synthetic) VALUES ($1::uuid, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		rec.ID, rec.Name, rec.TokenID, rec.Synthetic,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.DomainRecord{}, domain.ErrAlreadyExists
		}
		return domain.DomainRecord{}, fmt.Errorf("postgres: create domain %q: %w", rec.Name, err)
	}
	return rec, nil
}

// UpdateTokenID replaces a placeholder token id with the real one.
func (s *DomainStore) UpdateTokenID(ctx context.Context, id, tokenID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE domains SET token_id = $2, synthetic = FALSE, updated_at = NOW() WHERE id = $1::uuid`,
		id, tokenID)
	if err != nil {
		return fmt.Errorf("postgres: update domain token %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.DomainStore = (*DomainStore)(nil)
