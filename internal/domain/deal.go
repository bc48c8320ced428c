package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// DealStatus is the single canonical lifecycle state of a community deal.
// The ledger and the off-chain mirror each have their own vocabulary for it;
// use the mapping helpers below at those boundaries instead of parallel enums.
type DealStatus uint8

const (
	DealStatusActive DealStatus = iota
	DealStatusFunded
	DealStatusExecuted
	DealStatusCancelled
	DealStatusExpired
)

// Contract-side status codes as returned by getDealInfo.
const (
	ContractStatusActive    uint8 = 0
	ContractStatusFunded    uint8 = 1
	ContractStatusExecuted  uint8 = 2
	ContractStatusCancelled uint8 = 3
	ContractStatusRefunded  uint8 = 4
)

// String returns the canonical lower-case name used in logs and JSON.
func (s DealStatus) String() string {
	switch s {
	case DealStatusActive:
		return "active"
	case DealStatusFunded:
		return "funded"
	case DealStatusExecuted:
		return "executed"
	case DealStatusCancelled:
		return "cancelled"
	case DealStatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s DealStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the canonical, contract and mirror names.
func (s *DealStatus) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	switch name {
	case "active":
		*s = DealStatusActive
	case "funded":
		*s = DealStatusFunded
	case "executed", "completed":
		*s = DealStatusExecuted
	case "cancelled", "canceled":
		*s = DealStatusCancelled
	case "expired", "refunded":
		*s = DealStatusExpired
	default:
		return fmt.Errorf("domain: unknown deal status %q", string(text))
	}
	return nil
}

// IsTerminal reports whether no further transition is possible.
func (s DealStatus) IsTerminal() bool {
	return s == DealStatusExecuted || s == DealStatusCancelled || s == DealStatusExpired
}

// CanTransition reports whether the lifecycle graph allows s -> next.
//
//	active -> funded -> executed
//	active -> cancelled
//	active -> expired
func (s DealStatus) CanTransition(next DealStatus) bool {
	switch s {
	case DealStatusActive:
		return next == DealStatusFunded || next == DealStatusCancelled || next == DealStatusExpired
	case DealStatusFunded:
		return next == DealStatusExecuted
	default:
		return false
	}
}

// ContractCode maps to the on-chain uint8 status.
func (s DealStatus) ContractCode() uint8 {
	switch s {
	case DealStatusFunded:
		return ContractStatusFunded
	case DealStatusExecuted:
		return ContractStatusExecuted
	case DealStatusCancelled:
		return ContractStatusCancelled
	case DealStatusExpired:
		return ContractStatusRefunded
	default:
		return ContractStatusActive
	}
}

// ContractName maps to the contract vocabulary (EXECUTED / REFUNDED).
func (s DealStatus) ContractName() string {
	switch s {
	case DealStatusFunded:
		return "FUNDED"
	case DealStatusExecuted:
		return "EXECUTED"
	case DealStatusCancelled:
		return "CANCELLED"
	case DealStatusExpired:
		return "REFUNDED"
	default:
		return "ACTIVE"
	}
}

// MirrorName maps to the off-chain mirror vocabulary (COMPLETED / EXPIRED).
func (s DealStatus) MirrorName() string {
	switch s {
	case DealStatusFunded:
		return "FUNDED"
	case DealStatusExecuted:
		return "COMPLETED"
	case DealStatusCancelled:
		return "CANCELLED"
	case DealStatusExpired:
		return "EXPIRED"
	default:
		return "ACTIVE"
	}
}

// ParseContractStatus converts an on-chain status code.
func ParseContractStatus(code uint8) (DealStatus, error) {
	switch code {
	case ContractStatusActive:
		return DealStatusActive, nil
	case ContractStatusFunded:
		return DealStatusFunded, nil
	case ContractStatusExecuted:
		return DealStatusExecuted, nil
	case ContractStatusCancelled:
		return DealStatusCancelled, nil
	case ContractStatusRefunded:
		return DealStatusExpired, nil
	default:
		return 0, fmt.Errorf("domain: unknown contract status code %d", code)
	}
}

// ParseMirrorStatus converts a status column value from the mirror store.
func ParseMirrorStatus(name string) (DealStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ACTIVE":
		return DealStatusActive, nil
	case "FUNDED":
		return DealStatusFunded, nil
	case "COMPLETED":
		return DealStatusExecuted, nil
	case "CANCELLED":
		return DealStatusCancelled, nil
	case "EXPIRED":
		return DealStatusExpired, nil
	default:
		return 0, fmt.Errorf("domain: unknown mirror status %q", name)
	}
}

// Deal is the ledger's view of a single community deal. Amounts are wei.
type Deal struct {
	ID                     uint64     `json:"dealId"`
	DomainName             string     `json:"domainName"`
	Creator                string     `json:"creator"`
	TargetPrice            *big.Int   `json:"targetPrice"`
	MinContribution        *big.Int   `json:"minContribution"`
	MaxParticipants        uint64     `json:"maxParticipants"`
	CurrentAmount          *big.Int   `json:"currentAmount"`
	ParticipantCount       uint64     `json:"participantCount"`
	Deadline               int64      `json:"deadline"`
	Status                 DealStatus `json:"status"`
	Purchased              bool       `json:"purchased"`
	DomainTokenID          string     `json:"domainTokenId,omitempty"`
	FractionalTokenAddress string     `json:"fractionalTokenAddress,omitempty"`
	GroupID                string     `json:"xmtpGroupId,omitempty"`
	CreatedAt              int64      `json:"createdAt"`
}

// Exists reports whether the ledger returned a real deal. Point lookups for
// unknown ids come back zero-valued with an empty domain name.
func (d Deal) Exists() bool {
	return d.DomainName != ""
}

// Clone returns a deep copy so callers never share big.Int pointers with the
// ledger's internal state.
func (d Deal) Clone() Deal {
	c := d
	c.TargetPrice = cloneInt(d.TargetPrice)
	c.MinContribution = cloneInt(d.MinContribution)
	c.CurrentAmount = cloneInt(d.CurrentAmount)
	return c
}

// Participant is one address's position in a deal.
type Participant struct {
	Address      string   `json:"address"`
	Contribution *big.Int `json:"contribution"`
	Refunded     bool     `json:"refunded"`
	JoinedAt     int64    `json:"joinedAt"`
}

// Clone returns a deep copy.
func (p Participant) Clone() Participant {
	c := p
	c.Contribution = cloneInt(p.Contribution)
	return c
}

// CreateDealParams are the inputs to Ledger.CreateDeal.
type CreateDealParams struct {
	DomainName      string
	TargetPrice     *big.Int
	MinContribution *big.Int
	MaxParticipants uint64
	DurationDays    uint64
}

// ContributionReceipt is what a successful contribution reports back.
type ContributionReceipt struct {
	DealID           uint64     `json:"dealId"`
	Contributor      string     `json:"contributor"`
	Amount           *big.Int   `json:"amount"`
	CurrentAmount    *big.Int   `json:"currentAmount"`
	TargetPrice      *big.Int   `json:"targetPrice"`
	ParticipantCount uint64     `json:"participantCount"`
	Status           DealStatus `json:"status"`
	NewParticipant   bool       `json:"newParticipant"`
	TxHash           string     `json:"txHash,omitempty"`
}

// DomainRecord is the mirror's row for the asset a deal targets.
type DomainRecord struct {
	ID        string
	Name      string
	TokenID   string
	Synthetic bool // token id is a placeholder until the purchase happens
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DealRecord is the off-chain mirror row for a ledger deal, keyed by the
// ledger-assigned id within a network.
type DealRecord struct {
	RecordID      string
	Network       string
	DomainID      string
	Deal          Deal
	LastMilestone int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DealListOpts filters mirror listings.
type DealListOpts struct {
	Network string
	Status  *DealStatus
	Limit   int
	Offset  int
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
