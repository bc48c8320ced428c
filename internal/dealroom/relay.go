package dealroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/metrics"
	"github.com/0xshikhar/domie-sub000/internal/notify"
)

// Syncer brings a single deal's mirror row up to date.
type Syncer interface {
	SyncDeal(ctx context.Context, network string, dealID uint64) (domain.SyncItem, error)
}

// Alerter raises operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RelayConfig controls the event consumer.
type RelayConfig struct {
	Network     string
	Stream      string
	CursorName  string
	BatchSize   int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Block       time.Duration // how long one stream read waits for new events
}

// RelayDeps are the collaborators of a Relay. Syncer, Audit and Alerts are
// optional.
type RelayDeps struct {
	Bus     domain.EventBus
	Cursors domain.CursorStore
	Coord   *Coordinator
	Ledger  domain.LedgerReader
	Mirror  Mirror
	Syncer  Syncer
	Audit   domain.AuditStore
	Alerts  Alerter
	Metrics *metrics.Metrics
}

// Relay consumes ledger events from the durable stream filled by Feed and
// drives the deal rooms. It keeps its own cursor, retries failed deliveries with exponential
// backoff and dead-letters an event to the audit log once attempts run out.
// It only reads the ledger.
type Relay struct {
	cfg    RelayConfig
	deps   RelayDeps
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	// lastSeq is the highest ledger sequence handled so far. The feed may
	// append an event twice when storing its cursor fails.
	lastSeq uint64
}

// NewRelay creates a Relay.
func NewRelay(cfg RelayConfig, deps RelayDeps, logger *slog.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = max(30*time.Second, cfg.BackoffBase)
	}
	if cfg.CursorName == "" {
		cfg.CursorName = "dealroom-relay"
	}
	return &Relay{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "relay")),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run consumes until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "relay started",
		slog.String("stream", r.cfg.Stream),
		slog.String("cursor", r.cfg.CursorName),
	)
	for {
		_, err := r.ProcessOnce(ctx)
		if ctx.Err() != nil {
			r.logger.InfoContext(ctx, "relay stopped")
			return nil
		}
		if err != nil {
			r.logger.ErrorContext(ctx, "relay batch failed", slog.String("error", err.Error()))
			if r.sleep(ctx, r.cfg.BackoffBase) != nil {
				return nil
			}
		}
	}
}

// ProcessOnce reads one batch after the stored cursor and handles it. The
// cursor advances past each event once it is delivered or dead-lettered.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	cursor, err := r.deps.Cursors.GetCursor(ctx, r.cfg.CursorName)
	if err != nil {
		return 0, fmt.Errorf("dealroom: read relay cursor: %w", err)
	}
	msgs, err := r.deps.Bus.StreamRead(ctx, r.cfg.Stream, cursor, r.cfg.BatchSize, r.cfg.Block)
	if err != nil {
		return 0, fmt.Errorf("dealroom: read stream %s: %w", r.cfg.Stream, err)
	}

	done := 0
	for _, msg := range msgs {
		if err := r.handle(ctx, msg); err != nil {
			return done, err
		}
		if err := r.deps.Cursors.SetCursor(ctx, r.cfg.CursorName, msg.ID); err != nil {
			return done, fmt.Errorf("dealroom: store relay cursor: %w", err)
		}
		done++
	}
	return done, nil
}

// handle delivers one event. It only returns an error when ctx ended.
func (r *Relay) handle(ctx context.Context, msg domain.StreamMessage) error {
	var ev domain.LedgerEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		r.deadLetter(ctx, msg, ev, 0, fmt.Errorf("decode event: %w", err))
		return nil
	}

	if ev.Seq != 0 && ev.Seq <= r.lastSeq {
		r.deps.Metrics.RelayEvent(string(ev.Kind), "duplicate")
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		outcome, err := r.dispatch(ctx, ev)
		if err == nil {
			r.deps.Metrics.RelayEvent(string(ev.Kind), outcome)
			r.seen(ev)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}
		r.deps.Metrics.RelayRetry()
		wait := r.backoff(attempt)
		r.logger.WarnContext(ctx, "room delivery failed, retrying",
			slog.String("kind", string(ev.Kind)),
			slog.Uint64("deal_id", ev.DealID),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
	r.deadLetter(ctx, msg, ev, r.cfg.MaxAttempts, lastErr)
	r.seen(ev)
	return nil
}

func (r *Relay) seen(ev domain.LedgerEvent) {
	if ev.Seq > r.lastSeq {
		r.lastSeq = ev.Seq
	}
}

func retryable(err error) bool {
	if domain.IsTransient(err) {
		return true
	}
	return !domain.IsRuleViolation(err) && !errors.Is(err, domain.ErrNotFound)
}

func (r *Relay) backoff(attempt int) time.Duration {
	d := r.cfg.BackoffBase
	for i := 1; i < attempt && d < r.cfg.BackoffMax; i++ {
		d *= 2
	}
	return min(d, r.cfg.BackoffMax)
}

func (r *Relay) deadLetter(ctx context.Context, msg domain.StreamMessage, ev domain.LedgerEvent, attempts int, cause error) {
	r.deps.Metrics.RelayEvent(string(ev.Kind), "dead_letter")
	r.logger.ErrorContext(ctx, "room delivery dead-lettered",
		slog.String("stream_id", msg.ID),
		slog.String("kind", string(ev.Kind)),
		slog.Uint64("deal_id", ev.DealID),
		slog.Int("attempts", attempts),
		slog.String("error", cause.Error()),
	)
	if r.deps.Audit != nil {
		if err := r.deps.Audit.Log(ctx, "dealroom.dead_letter", map[string]any{
			"stream_id": msg.ID,
			"kind":      string(ev.Kind),
			"deal_id":   ev.DealID,
			"attempts":  attempts,
			"error":     cause.Error(),
			"payload":   string(msg.Payload),
		}); err != nil {
			r.logger.ErrorContext(ctx, "dead-letter audit failed", slog.String("error", err.Error()))
		}
	}
	if r.deps.Alerts != nil {
		if err := r.deps.Alerts.Notify(ctx, notify.EventRelayDeadLetter, "Deal room delivery dropped",
			fmt.Sprintf("%s for deal %d after %d attempts: %v", ev.Kind, ev.DealID, attempts, cause)); err != nil {
			r.logger.WarnContext(ctx, "alert failed",
				slog.String("event", notify.EventRelayDeadLetter),
				slog.String("error", err.Error()),
			)
		}
	}
}

// dispatch routes one event to the coordinator and names the outcome.
func (r *Relay) dispatch(ctx context.Context, ev domain.LedgerEvent) (string, error) {
	if ev.Kind == domain.EventVoted {
		return "skipped", nil
	}

	rec, err := r.ensureRoom(ctx, ev.DealID)
	if err != nil {
		return "", err
	}
	groupID := rec.Deal.GroupID
	name := ev.DomainName
	if name == "" {
		name = rec.Deal.DomainName
	}

	switch ev.Kind {
	case domain.EventDealCreated:
		return "delivered", nil
	case domain.EventContributed:
		target := ev.TargetPrice
		if target == nil {
			target = rec.Deal.TargetPrice
		}
		_, err = r.deps.Coord.AddParticipantOnContribution(ctx, groupID, ev.DealID, ev.Actor, ev.Amount, ev.CurrentAmount, target)
	case domain.EventRefunded:
		err = r.deps.Coord.RemoveParticipant(ctx, groupID, ev.Actor)
	case domain.EventCancelled, domain.EventExpired:
		status := domain.DealStatusCancelled
		if ev.Kind == domain.EventExpired {
			status = domain.DealStatusExpired
		}
		err = r.deps.Coord.NotifyStatus(ctx, groupID, name, status)
	case domain.EventPurchased:
		err = r.deps.Coord.NotifyDomainPurchased(ctx, groupID, name, ev.TokenID)
	case domain.EventFractionalTokenSet:
		err = r.deps.Coord.NotifyTokensDistributed(ctx, groupID, ev.TokenAddress)
	case domain.EventProposalCreated:
		var p domain.VoteProposal
		p, err = r.deps.Ledger.GetProposal(ctx, ev.DealID, ev.ProposalHash)
		if err == nil {
			_, err = r.deps.Coord.CreateVoteProposal(ctx, groupID, p)
		}
	default:
		return "skipped", nil
	}
	if err != nil {
		return "", err
	}
	return "delivered", nil
}

// ensureRoom returns the mirror row for the deal, creating and binding its
// room on first sight. A deal not yet mirrored is synced first; if it is
// still missing the event is retried later.
func (r *Relay) ensureRoom(ctx context.Context, dealID uint64) (domain.DealRecord, error) {
	rec, err := r.deps.Mirror.FindByContractID(ctx, r.cfg.Network, dealID)
	if errors.Is(err, domain.ErrNotFound) && r.deps.Syncer != nil {
		if _, serr := r.deps.Syncer.SyncDeal(ctx, r.cfg.Network, dealID); serr != nil {
			return domain.DealRecord{}, domain.Transient(fmt.Errorf("dealroom: sync deal %d: %w", dealID, serr))
		}
		rec, err = r.deps.Mirror.FindByContractID(ctx, r.cfg.Network, dealID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.DealRecord{}, domain.Transient(fmt.Errorf("dealroom: deal %d not mirrored yet: %w", dealID, err))
		}
		return domain.DealRecord{}, fmt.Errorf("dealroom: load deal %d: %w", dealID, err)
	}
	if rec.Deal.GroupID != "" {
		return rec, nil
	}

	groupID, err := r.deps.Coord.CreateDealGroup(ctx, rec.Deal.Creator, dealID, rec.Deal.DomainName, rec.Deal.TargetPrice)
	if err != nil {
		return domain.DealRecord{}, err
	}
	rec.Deal.GroupID = groupID
	return rec, nil
}
