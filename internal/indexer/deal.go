package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// syntheticTokenID stands in for the asset token until the purchase.
func syntheticTokenID(dealID uint64) string {
	return "pending-" + strconv.FormatUint(dealID, 10)
}

// syncDeal creates or refreshes one mirror row and its participants.
func (s *Syncer) syncDeal(ctx context.Context, network string, ledger domain.LedgerReader, d domain.Deal) (domain.SyncAction, error) {
	participants, err := s.participants(ctx, ledger, d.ID)
	if err != nil {
		return "", err
	}

	rec, err := s.deps.Deals.FindByContractID(ctx, network, d.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		created, err := s.create(ctx, network, d)
		if err != nil {
			return "", err
		}
		if created {
			if err := s.deps.Deals.UpsertParticipants(ctx, network, d.ID, participants); err != nil {
				return "", fmt.Errorf("participants: %w", err)
			}
			return domain.SyncCreated, nil
		}
		// Lost a create race; compare against the winner's row.
		if rec, err = s.deps.Deals.FindByContractID(ctx, network, d.ID); err != nil {
			return "", fmt.Errorf("reload mirror row: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("load mirror row: %w", err)
	}

	action := domain.SyncUnchanged
	if changed(rec.Deal, d) {
		rec.Deal = mergeTracked(rec.Deal, d)
		if err := s.deps.Deals.Update(ctx, rec); err != nil {
			return "", fmt.Errorf("update mirror row: %w", err)
		}
		if d.Purchased && d.DomainTokenID != "" {
			if err := s.confirmToken(ctx, d); err != nil {
				return "", err
			}
		}
		action = domain.SyncUpdated
	}

	stale, err := s.staleParticipants(ctx, network, d.ID, participants)
	if err != nil {
		return "", err
	}
	if len(stale) > 0 {
		if err := s.deps.Deals.UpsertParticipants(ctx, network, d.ID, stale); err != nil {
			return "", fmt.Errorf("participants: %w", err)
		}
		action = domain.SyncUpdated
	}
	return action, nil
}

// create inserts the mirror row, creating the domain record lazily. It
// reports false when another writer created the row first.
func (s *Syncer) create(ctx context.Context, network string, d domain.Deal) (bool, error) {
	dom, err := s.ensureDomain(ctx, d)
	if err != nil {
		return false, err
	}
	_, err = s.deps.Deals.Create(ctx, domain.DealRecord{
		Network:  network,
		DomainID: dom.ID,
		Deal:     d.Clone(),
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create mirror row: %w", err)
	}
	return true, nil
}

func (s *Syncer) ensureDomain(ctx context.Context, d domain.Deal) (domain.DomainRecord, error) {
	dom, err := s.deps.Domains.FindByName(ctx, d.DomainName)
	if err == nil {
		return dom, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.DomainRecord{}, fmt.Errorf("load domain %q: %w", d.DomainName, err)
	}

	rec := domain.DomainRecord{Name: d.DomainName, TokenID: d.DomainTokenID}
	if rec.TokenID == "" {
		rec.TokenID = syntheticTokenID(d.ID)
		rec.Synthetic = true
	}
	dom, err = s.deps.Domains.Create(ctx, rec)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return s.deps.Domains.FindByName(ctx, d.DomainName)
	}
	if err != nil {
		return domain.DomainRecord{}, fmt.Errorf("create domain %q: %w", d.DomainName, err)
	}
	return dom, nil
}

// confirmToken replaces a placeholder token id once the purchase lands.
func (s *Syncer) confirmToken(ctx context.Context, d domain.Deal) error {
	dom, err := s.ensureDomain(ctx, d)
	if err != nil {
		return err
	}
	if !dom.Synthetic && dom.TokenID == d.DomainTokenID {
		return nil
	}
	if err := s.deps.Domains.UpdateTokenID(ctx, dom.ID, d.DomainTokenID); err != nil {
		return fmt.Errorf("domain token %q: %w", d.DomainName, err)
	}
	return nil
}

func (s *Syncer) participants(ctx context.Context, ledger domain.LedgerReader, dealID uint64) ([]domain.Participant, error) {
	addrs, err := ledger.GetDealParticipants(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("read participants: %w", err)
	}
	out := make([]domain.Participant, 0, len(addrs))
	for _, addr := range addrs {
		p, err := ledger.GetParticipantInfo(ctx, dealID, addr)
		if err != nil {
			return nil, fmt.Errorf("read participant %s: %w", addr, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// staleParticipants returns the ledger participants whose mirror row is
// missing or differs.
func (s *Syncer) staleParticipants(ctx context.Context, network string, dealID uint64, ledger []domain.Participant) ([]domain.Participant, error) {
	mirrored, err := s.deps.Deals.ListParticipants(ctx, network, dealID)
	if err != nil {
		return nil, fmt.Errorf("list mirrored participants: %w", err)
	}
	byAddr := make(map[string]domain.Participant, len(mirrored))
	for _, p := range mirrored {
		byAddr[p.Address] = p
	}
	var stale []domain.Participant
	for _, p := range ledger {
		m, ok := byAddr[p.Address]
		if !ok || m.Refunded != p.Refunded || m.JoinedAt != p.JoinedAt || cmp(m.Contribution, p.Contribution) != 0 {
			stale = append(stale, p)
		}
	}
	return stale, nil
}

// changed compares the tracked fields only.
func changed(mirror, ledger domain.Deal) bool {
	return mirror.Status != ledger.Status ||
		cmp(mirror.CurrentAmount, ledger.CurrentAmount) != 0 ||
		mirror.ParticipantCount != ledger.ParticipantCount ||
		mirror.Purchased != ledger.Purchased ||
		mirror.DomainTokenID != ledger.DomainTokenID ||
		mirror.FractionalTokenAddress != ledger.FractionalTokenAddress
}

func mergeTracked(mirror, ledger domain.Deal) domain.Deal {
	out := mirror.Clone()
	out.Status = ledger.Status
	out.CurrentAmount = ledger.Clone().CurrentAmount
	out.ParticipantCount = ledger.ParticipantCount
	out.Purchased = ledger.Purchased
	out.DomainTokenID = ledger.DomainTokenID
	out.FractionalTokenAddress = ledger.FractionalTokenAddress
	return out
}

// cmp compares amounts treating nil as zero.
func cmp(a, b *big.Int) int {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b)
}
