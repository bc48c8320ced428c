// Package dealroom binds a group-messaging room to each community deal and
// keeps its membership and activity log in step with ledger events. Room
// traffic is best effort: nothing here can fail or undo a ledger write.
package dealroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/0xshikhar/domie-sub000/internal/accounting"
	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/metrics"
)

// VoteProposalPrefix marks a structured proposal announcement.
const VoteProposalPrefix = "VOTE_PROPOSAL:"

// Mirror is the part of the deal mirror the room layer reads and writes.
type Mirror interface {
	FindByContractID(ctx context.Context, network string, dealID uint64) (domain.DealRecord, error)
	SetGroupID(ctx context.Context, network string, dealID uint64, groupID string) error
}

// Config holds the coordinator settings.
type Config struct {
	Network      string
	BotIdentity  string // sender of bot posts; also seeded into every room
	HistoryLimit int
}

// Coordinator posts deal lifecycle activity to deal rooms.
type Coordinator struct {
	provider   domain.MessagingProvider
	identities domain.IdentityResolver
	mirror     Mirror
	milestones domain.MilestoneStore
	metrics    *metrics.Metrics
	cfg        Config
	logger     *slog.Logger

	mu sync.Mutex
	// unbound holds rooms created for a deal whose mirror binding failed.
	// The next CreateDealGroup for that deal rebinds the room instead of
	// creating another one.
	unbound map[uint64]string
}

// NewCoordinator creates a Coordinator. mirror may be nil, in which case room
// ids are returned but not persisted.
func NewCoordinator(
	provider domain.MessagingProvider,
	identities domain.IdentityResolver,
	mirror Mirror,
	milestones domain.MilestoneStore,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Coordinator {
	if cfg.BotIdentity == "" {
		cfg.BotIdentity = "dealbot"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return &Coordinator{
		provider:   provider,
		identities: identities,
		mirror:     mirror,
		milestones: milestones,
		metrics:    m,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "dealroom")),
		unbound:    make(map[uint64]string),
	}
}

// identity resolves a wallet to its messaging identity, falling back to the
// address itself on any failure.
func (c *Coordinator) identity(ctx context.Context, address string) string {
	if c.identities == nil {
		return address
	}
	id, err := c.identities.Resolve(ctx, address)
	if err != nil || id == "" {
		c.logger.WarnContext(ctx, "identity unresolved, using raw address",
			slog.String("address", address),
			slog.Any("error", err),
		)
		return address
	}
	return id
}

func (c *Coordinator) post(ctx context.Context, groupID, kind, text string) error {
	if _, err := c.provider.Send(ctx, groupID, c.cfg.BotIdentity, text); err != nil {
		return fmt.Errorf("dealroom: post %s to %s: %w", kind, groupID, err)
	}
	c.metrics.RoomMessage(kind)
	return nil
}

// CreateDealGroup creates the room for a deal seeded with the creator,
// persists the room id on the mirror row and posts the welcome message. When
// the binding fails the room is kept and the returned error is transient; a
// retry binds the same room.
func (c *Coordinator) CreateDealGroup(ctx context.Context, creator string, dealID uint64, dealName string, target *big.Int) (string, error) {
	c.mu.Lock()
	groupID, pending := c.unbound[dealID]
	c.mu.Unlock()

	if !pending {
		creatorID := c.identity(ctx, creator)
		members := []string{creatorID}
		if c.cfg.BotIdentity != creatorID {
			members = append(members, c.cfg.BotIdentity)
		}

		var err error
		groupID, err = c.provider.CreateGroup(ctx, members, domain.GroupMetadata{
			Name:        dealName + " community deal",
			Description: fmt.Sprintf("Pooling %s ETH to buy %s", accounting.FormatEther(target), dealName),
			DealID:      dealID,
		})
		if err != nil {
			return "", fmt.Errorf("dealroom: create room for deal %d: %w", dealID, err)
		}
	}

	if c.mirror != nil {
		if err := c.mirror.SetGroupID(ctx, c.cfg.Network, dealID, groupID); err != nil {
			c.mu.Lock()
			c.unbound[dealID] = groupID
			c.mu.Unlock()
			return groupID, domain.Transient(fmt.Errorf("dealroom: bind room %s to deal %d: %w", groupID, dealID, err))
		}
	}
	if pending {
		c.mu.Lock()
		delete(c.unbound, dealID)
		c.mu.Unlock()
	}

	welcome := fmt.Sprintf("Welcome to the community deal for %s! Target: %s ETH. Progress: 0%%.",
		dealName, accounting.FormatEther(target))
	if err := c.post(ctx, groupID, "welcome", welcome); err != nil {
		c.logger.WarnContext(ctx, "welcome message failed",
			slog.Uint64("deal_id", dealID),
			slog.String("error", err.Error()),
		)
	}

	c.logger.InfoContext(ctx, "deal room created",
		slog.Uint64("deal_id", dealID),
		slog.String("group_id", groupID),
	)
	return groupID, nil
}

// AddParticipantOnContribution adds the contributor to the room if absent,
// posts the contribution notice and announces the highest milestone newly
// crossed. It returns that milestone, or 0 when none fired.
func (c *Coordinator) AddParticipantOnContribution(
	ctx context.Context,
	groupID string,
	dealID uint64,
	participant string,
	amount, currentTotal, target *big.Int,
) (int, error) {
	progress, err := accounting.ProgressPercentage(currentTotal, target)
	if err != nil {
		return 0, fmt.Errorf("dealroom: progress of deal %d: %w", dealID, err)
	}

	// Read the high-water mark before any side effect so a missing mirror
	// row is retried cleanly.
	last, err := c.milestones.LastMilestone(ctx, c.cfg.Network, dealID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, domain.Transient(fmt.Errorf("dealroom: milestone of deal %d: %w", dealID, err))
		}
		return 0, fmt.Errorf("dealroom: milestone of deal %d: %w", dealID, err)
	}

	id := c.identity(ctx, participant)
	members, err := c.provider.Members(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("dealroom: members of %s: %w", groupID, err)
	}
	joined := !contains(members, id)
	if joined {
		if err := c.provider.AddMembers(ctx, groupID, []string{id}); err != nil {
			return 0, fmt.Errorf("dealroom: add %s to %s: %w", id, groupID, err)
		}
	}

	verb := "added"
	if joined {
		verb = "joined the deal with"
	}
	notice := fmt.Sprintf("%s %s %s ETH. Raised %s of %s ETH (%d%%).",
		shortAddress(participant), verb, accounting.FormatEther(amount),
		accounting.FormatEther(currentTotal), accounting.FormatEther(target), progress)
	if err := c.post(ctx, groupID, "contribution", notice); err != nil {
		return 0, err
	}

	milestone, ok := accounting.NextMilestone(last, progress)
	if !ok {
		return 0, nil
	}
	if err := c.post(ctx, groupID, "milestone", milestoneText(milestone, currentTotal, target)); err != nil {
		return 0, err
	}
	if err := c.milestones.SetLastMilestone(ctx, c.cfg.Network, dealID, milestone); err != nil {
		return milestone, fmt.Errorf("dealroom: persist milestone %d of deal %d: %w", milestone, dealID, err)
	}
	return milestone, nil
}

func milestoneText(m int, current, target *big.Int) string {
	if m >= 100 {
		return fmt.Sprintf("Milestone: fully funded! %s ETH raised. The domain purchase can proceed.",
			accounting.FormatEther(target))
	}
	return fmt.Sprintf("Milestone: %d%% funded (%s of %s ETH).",
		m, accounting.FormatEther(current), accounting.FormatEther(target))
}

// RemoveParticipant drops a refunded participant from the room.
func (c *Coordinator) RemoveParticipant(ctx context.Context, groupID, participant string) error {
	id := c.identity(ctx, participant)
	if err := c.provider.RemoveMembers(ctx, groupID, []string{id}); err != nil {
		return fmt.Errorf("dealroom: remove %s from %s: %w", id, groupID, err)
	}
	return c.post(ctx, groupID, "refund", fmt.Sprintf("%s was refunded and left the deal.", shortAddress(participant)))
}

// NotifyDomainPurchased announces the purchase.
func (c *Coordinator) NotifyDomainPurchased(ctx context.Context, groupID, domainName, tokenID string) error {
	return c.post(ctx, groupID, "purchased",
		fmt.Sprintf("%s has been purchased (token %s). Fractional ownership tokens are next.", domainName, tokenID))
}

// NotifyTokensDistributed announces the fractional token.
func (c *Coordinator) NotifyTokensDistributed(ctx context.Context, groupID, tokenAddress string) error {
	return c.post(ctx, groupID, "tokens_distributed",
		fmt.Sprintf("Fractional ownership tokens are live at %s. Your share matches your contribution.", tokenAddress))
}

// NotifyStatus announces a cancellation or expiry.
func (c *Coordinator) NotifyStatus(ctx context.Context, groupID, dealName string, status domain.DealStatus) error {
	var text string
	switch status {
	case domain.DealStatusCancelled:
		text = fmt.Sprintf("The deal for %s was cancelled. Participants can claim refunds.", dealName)
	case domain.DealStatusExpired:
		text = fmt.Sprintf("The deal for %s expired before reaching its target. Participants can claim refunds.", dealName)
	default:
		return nil
	}
	return c.post(ctx, groupID, status.String(), text)
}

// CreateVoteProposal posts the proposal as a VOTE_PROPOSAL: message. Votes
// are cast on the ledger, not in the room.
func (c *Coordinator) CreateVoteProposal(ctx context.Context, groupID string, p domain.VoteProposal) (domain.RoomMessage, error) {
	if p.Hash == "" {
		p.Hash = p.ComputeHash()
	}
	body, err := json.Marshal(p)
	if err != nil {
		return domain.RoomMessage{}, fmt.Errorf("dealroom: marshal proposal: %w", err)
	}
	msg, err := c.provider.Send(ctx, groupID, c.cfg.BotIdentity, VoteProposalPrefix+string(body))
	if err != nil {
		return domain.RoomMessage{}, fmt.Errorf("dealroom: post proposal to %s: %w", groupID, err)
	}
	c.metrics.RoomMessage("vote_proposal")
	return msg, nil
}

// ParseVoteProposal decodes a message produced by CreateVoteProposal. It
// reports false for any other message.
func ParseVoteProposal(text string) (domain.VoteProposal, bool) {
	rest, ok := strings.CutPrefix(text, VoteProposalPrefix)
	if !ok {
		return domain.VoteProposal{}, false
	}
	var p domain.VoteProposal
	if err := json.Unmarshal([]byte(rest), &p); err != nil {
		return domain.VoteProposal{}, false
	}
	return p, true
}

// Messages returns the latest room messages, oldest first.
func (c *Coordinator) Messages(ctx context.Context, groupID string, limit int) ([]domain.RoomMessage, error) {
	if limit <= 0 || limit > c.cfg.HistoryLimit {
		limit = c.cfg.HistoryLimit
	}
	msgs, err := c.provider.Messages(ctx, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("dealroom: messages of %s: %w", groupID, err)
	}
	return msgs, nil
}

// Stream follows a room from cursor until ctx is cancelled.
func (c *Coordinator) Stream(ctx context.Context, groupID, cursor string) (<-chan domain.RoomMessage, error) {
	ch, err := c.provider.Stream(ctx, groupID, cursor)
	if err != nil {
		return nil, fmt.Errorf("dealroom: stream %s: %w", groupID, err)
	}
	return ch, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// shortAddress renders 0x1234...abcd for room text.
func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
