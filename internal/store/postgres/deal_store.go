package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// numeric renders a wei amount for a NUMERIC(78,0) parameter.
func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid numeric %q", s)
	}
	return v, nil
}

// DealStore implements domain.DealStore and domain.MilestoneStore.
type DealStore struct {
	pool *pgxpool.Pool
}

// NewDealStore creates a DealStore backed by the given pool.
func NewDealStore(pool *pgxpool.Pool) *DealStore {
	return &DealStore{pool: pool}
}

const dealCols = `id::text, network, contract_deal_id, domain_id::text, domain_name, creator,
	target_price::text, min_contribution::text, max_participants,
	current_amount::text, participant_count, deadline, status, purchased,
	domain_token_id, fractional_token_address, xmtp_group_id, last_milestone,
	ledger_created_at, created_at, updated_at`

func scanDeal(row pgx.Row) (domain.DealRecord, error) {
	var (
		rec                              domain.DealRecord
		dealID, maxParts, partCount      int64
		target, minContribution, current string
		status                           string
	)
	err := row.Scan(
		&rec.RecordID, &rec.Network, &dealID, &rec.DomainID, &rec.Deal.DomainName, &rec.Deal.Creator,
		&target, &minContribution, &maxParts,
		&current, &partCount, &rec.Deal.Deadline, &status, &rec.Deal.Purchased,
		&rec.Deal.DomainTokenID, &rec.Deal.FractionalTokenAddress, &rec.Deal.GroupID, &rec.LastMilestone,
		&rec.Deal.CreatedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.DealRecord{}, err
	}
	rec.Deal.ID = uint64(dealID)
	rec.Deal.MaxParticipants = uint64(maxParts)
	rec.Deal.ParticipantCount = uint64(partCount)
	if rec.Deal.TargetPrice, err = parseNumeric(target); err != nil {
		return domain.DealRecord{}, err
	}
	if rec.Deal.MinContribution, err = parseNumeric(minContribution); err != nil {
		return domain.DealRecord{}, err
	}
	if rec.Deal.CurrentAmount, err = parseNumeric(current); err != nil {
		return domain.DealRecord{}, err
	}
	if rec.Deal.Status, err = domain.ParseMirrorStatus(status); err != nil {
		return domain.DealRecord{}, fmt.Errorf("postgres: %w", err)
	}
	return rec, nil
}

// FindByContractID looks a deal up by its ledger id.
func (s *DealStore) FindByContractID(ctx context.Context, network string, dealID uint64) (domain.DealRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dealCols+` FROM community_deals WHERE network = $1 AND contract_deal_id = $2`,
		network, int64(dealID))
	rec, err := scanDeal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DealRecord{}, domain.ErrNotFound
		}
		return domain.DealRecord{}, fmt.Errorf("postgres: get deal %s/%d: %w", network, dealID, err)
	}
	return rec, nil
}

// Create inserts a new mirror row. A row for the same (network, deal id)
// yields domain.ErrAlreadyExists.
func (s *DealStore) Create(ctx context.Context, rec domain.DealRecord) (domain.DealRecord, error) {
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}
	d := rec.Deal
	const query = `
		INSERT INTO community_deals (
			id, network, contract_deal_id, domain_id, domain_name, creator,
			target_price, min_contribution, max_participants,
			current_amount, participant_count, deadline, status, purchased,
			domain_token_id, fractional_token_address, xmtp_group_id, last_milestone,
			ledger_created_at
		) VALUES (
			$1::uuid, $2, $3, $4::uuid, $5, $6,
			$7::numeric, $8::numeric, $9,
			$10::numeric, $11, $12, $13, $14,
			$15, $16, $17, $18,
			$19
		)
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		rec.RecordID, rec.Network, int64(d.ID), rec.DomainID, d.DomainName, d.Creator,
		numeric(d.TargetPrice), numeric(d.MinContribution), int64(d.MaxParticipants),
		numeric(d.CurrentAmount), int64(d.ParticipantCount), d.Deadline, d.Status.MirrorName(), d.Purchased,
		d.DomainTokenID, d.FractionalTokenAddress, d.GroupID, rec.LastMilestone,
		d.CreatedAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.DealRecord{}, domain.ErrAlreadyExists
		}
		return domain.DealRecord{}, fmt.Errorf("postgres: create deal %s/%d: %w", rec.Network, d.ID, err)
	}
	return rec, nil
}

// Update overwrites the ledger-tracked fields of an existing row. The room
// id and milestone are owned by the deal room and left alone.
func (s *DealStore) Update(ctx context.Context, rec domain.DealRecord) error {
	d := rec.Deal
	const query = `
		UPDATE community_deals SET
			current_amount           = $3::numeric,
			participant_count        = $4,
			status                   = $5,
			purchased                = $6,
			domain_token_id          = $7,
			fractional_token_address = $8,
			min_contribution         = $9::numeric,
			max_participants         = $10,
			deadline                 = $11,
			updated_at               = NOW()
		WHERE network = $1 AND contract_deal_id = $2`

	tag, err := s.pool.Exec(ctx, query,
		rec.Network, int64(d.ID),
		numeric(d.CurrentAmount), int64(d.ParticipantCount), d.Status.MirrorName(), d.Purchased,
		d.DomainTokenID, d.FractionalTokenAddress,
		numeric(d.MinContribution), int64(d.MaxParticipants), d.Deadline,
	)
	if err != nil {
		return fmt.Errorf("postgres: update deal %s/%d: %w", rec.Network, d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns mirror rows, newest ledger id first.
func (s *DealStore) List(ctx context.Context, opts domain.DealListOpts) ([]domain.DealRecord, error) {
	q := newQuery(`SELECT ` + dealCols + ` FROM community_deals WHERE 1=1`)
	if opts.Network != "" {
		q.where("network = %s", opts.Network)
	}
	if opts.Status != nil {
		q.where("status = %s", opts.Status.MirrorName())
	}
	q.raw(" ORDER BY network, contract_deal_id DESC")
	q.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deals: %w", err)
	}
	defer rows.Close()

	var out []domain.DealRecord
	for rows.Next() {
		rec, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan deal: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list deals rows: %w", err)
	}
	return out, nil
}

// SetGroupID records the deal room id.
func (s *DealStore) SetGroupID(ctx context.Context, network string, dealID uint64, groupID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE community_deals SET xmtp_group_id = $3, updated_at = NOW()
		 WHERE network = $1 AND contract_deal_id = $2`,
		network, int64(dealID), groupID)
	if err != nil {
		return fmt.Errorf("postgres: set group id %s/%d: %w", network, dealID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertParticipants writes participant rows in one batch.
func (s *DealStore) UpsertParticipants(ctx context.Context, network string, dealID uint64, participants []domain.Participant) error {
	if len(participants) == 0 {
		return nil
	}
	const query = `
		INSERT INTO deal_participants (network, contract_deal_id, address, contribution, refunded, joined_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		ON CONFLICT (network, contract_deal_id, address) DO UPDATE SET
			contribution = EXCLUDED.contribution,
			refunded     = EXCLUDED.refunded,
			joined_at    = EXCLUDED.joined_at,
			updated_at   = NOW()`

	batch := &pgx.Batch{}
	for _, p := range participants {
		batch.Queue(query, network, int64(dealID), p.Address, numeric(p.Contribution), p.Refunded, p.JoinedAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range participants {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert participant %d of deal %s/%d: %w", i, network, dealID, err)
		}
	}
	return nil
}

// ListParticipants returns participant rows in join order.
func (s *DealStore) ListParticipants(ctx context.Context, network string, dealID uint64) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, contribution::text, refunded, joined_at FROM deal_participants
		 WHERE network = $1 AND contract_deal_id = $2 ORDER BY joined_at, address`,
		network, int64(dealID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list participants %s/%d: %w", network, dealID, err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var p domain.Participant
		var contribution string
		if err := rows.Scan(&p.Address, &contribution, &p.Refunded, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan participant: %w", err)
		}
		if p.Contribution, err = parseNumeric(contribution); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LastMilestone returns the highest milestone announced for the deal.
func (s *DealStore) LastMilestone(ctx context.Context, network string, dealID uint64) (int, error) {
	var m int
	err := s.pool.QueryRow(ctx,
		`SELECT last_milestone FROM community_deals WHERE network = $1 AND contract_deal_id = $2`,
		network, int64(dealID)).Scan(&m)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: last milestone %s/%d: %w", network, dealID, err)
	}
	return m, nil
}

// SetLastMilestone raises the stored milestone. It never lowers it.
func (s *DealStore) SetLastMilestone(ctx context.Context, network string, dealID uint64, milestone int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE community_deals SET last_milestone = GREATEST(last_milestone, $3), updated_at = NOW()
		 WHERE network = $1 AND contract_deal_id = $2`,
		network, int64(dealID), milestone)
	if err != nil {
		return fmt.Errorf("postgres: set milestone %s/%d: %w", network, dealID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var (
	_ domain.DealStore      = (*DealStore)(nil)
	_ domain.MilestoneStore = (*DealStore)(nil)
)
