// Package accounting holds the pure arithmetic shared by the ledger, the
// indexer, the deal room, and the API. Every function is side-effect free and
// works on integer wei amounts; decimal conversion is for display only.
package accounting

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// SecondsPerDay is the unit of deal durations.
const SecondsPerDay = 86400

// DefaultSuggestedParticipants is the divisor used by
// MinimumSuggestedContribution when no participant count is known.
const DefaultSuggestedParticipants = 10

// Milestones are the funding-progress thresholds that trigger a broadcast,
// highest first.
var Milestones = []int{100, 75, 50, 25}

var (
	ErrNilAmount      = errors.New("accounting: amount is nil")
	ErrNegativeAmount = errors.New("accounting: amount is negative")
	ErrZeroTarget     = errors.New("accounting: target is zero")
)

var hundred = big.NewInt(100)

func checkAmount(name string, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: %s", ErrNilAmount, name)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: %s=%s", ErrNegativeAmount, name, v)
	}
	return nil
}

// ProgressPercentage returns floor(current*100/target), capped at 100.
func ProgressPercentage(current, target *big.Int) (int64, error) {
	if err := checkAmount("current", current); err != nil {
		return 0, err
	}
	if err := checkAmount("target", target); err != nil {
		return 0, err
	}
	if target.Sign() == 0 {
		return 0, ErrZeroTarget
	}
	if current.Cmp(target) >= 0 {
		return 100, nil
	}
	p := new(big.Int).Mul(current, hundred)
	p.Quo(p, target)
	return p.Int64(), nil
}

// DaysRemaining returns ceil((deadline-now)/86400), or 0 once the deadline
// has passed.
func DaysRemaining(deadline, now int64) int64 {
	if deadline <= now {
		return 0
	}
	left := deadline - now
	return (left + SecondsPerDay - 1) / SecondsPerDay
}

// SharePercentage returns contribution*100/target (integer percent), or 0
// when target is zero.
func SharePercentage(contribution, target *big.Int) (*big.Int, error) {
	if err := checkAmount("contribution", contribution); err != nil {
		return nil, err
	}
	if err := checkAmount("target", target); err != nil {
		return nil, err
	}
	if target.Sign() == 0 {
		return new(big.Int), nil
	}
	s := new(big.Int).Mul(contribution, hundred)
	return s.Quo(s, target), nil
}

// ShareBasisPoints is SharePercentage in hundredths of a percent.
func ShareBasisPoints(contribution, target *big.Int) (*big.Int, error) {
	if err := checkAmount("contribution", contribution); err != nil {
		return nil, err
	}
	if err := checkAmount("target", target); err != nil {
		return nil, err
	}
	if target.Sign() == 0 {
		return new(big.Int), nil
	}
	s := new(big.Int).Mul(contribution, big.NewInt(10_000))
	return s.Quo(s, target), nil
}

// MinimumSuggestedContribution is target/participants. It is a UI heuristic;
// the ledger enforces only the deal's own minimum.
func MinimumSuggestedContribution(target *big.Int, participants int64) (*big.Int, error) {
	if err := checkAmount("target", target); err != nil {
		return nil, err
	}
	if participants <= 0 {
		participants = DefaultSuggestedParticipants
	}
	return new(big.Int).Quo(target, big.NewInt(participants)), nil
}

// IsRefundEligible reports whether p may pull its funds back.
func IsRefundEligible(status domain.DealStatus, p domain.Participant) bool {
	if status != domain.DealStatusCancelled && status != domain.DealStatusExpired {
		return false
	}
	return p.Contribution != nil && p.Contribution.Sign() > 0 && !p.Refunded
}

// Remaining returns target-current, floored at zero.
func Remaining(current, target *big.Int) (*big.Int, error) {
	if err := checkAmount("current", current); err != nil {
		return nil, err
	}
	if err := checkAmount("target", target); err != nil {
		return nil, err
	}
	r := new(big.Int).Sub(target, current)
	if r.Sign() < 0 {
		r.SetInt64(0)
	}
	return r, nil
}

// MilestoneFor returns the highest milestone progress has reached, or 0.
func MilestoneFor(progress int64) int {
	for _, m := range Milestones {
		if progress >= int64(m) {
			return m
		}
	}
	return 0
}

// NextMilestone returns the milestone to announce given the last announced
// one. It reports false when nothing new was crossed, so a contribution that
// jumps several thresholds announces only the highest and a lower threshold
// is never re-announced after a higher one.
func NextMilestone(last int, progress int64) (int, bool) {
	m := MilestoneFor(progress)
	if m > last {
		return m, true
	}
	return 0, false
}

// ActiveContributionSum adds up non-refunded contributions.
func ActiveContributionSum(participants []domain.Participant) *big.Int {
	sum := new(big.Int)
	for _, p := range participants {
		if p.Refunded || p.Contribution == nil {
			continue
		}
		sum.Add(sum, p.Contribution)
	}
	return sum
}
