package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrContextDone    = errors.New("context cancelled")
	ErrLockHeld       = errors.New("lock already held")
	ErrOutcomeUnknown = errors.New("transaction outcome unknown, check later")
	ErrTxReverted     = errors.New("transaction reverted")
	ErrStreamClosed   = errors.New("stream closed")
)

// Rule identifies which ledger invariant rejected an operation.
type Rule string

const (
	RuleInvalidArgument   Rule = "invalid_argument"
	RuleNotFound          Rule = "not_found"
	RuleWrongStatus       Rule = "wrong_status"
	RuleDeadlinePassed    Rule = "deadline_passed"
	RuleUnauthorized      Rule = "unauthorized"
	RuleBelowMinimum      Rule = "below_minimum"
	RuleExceedsTarget     Rule = "exceeds_target"
	RuleMaxParticipants   Rule = "max_participants"
	RuleNotParticipant    Rule = "not_participant"
	RuleAlreadyRefunded   Rule = "already_refunded"
	RuleTokenAlreadySet   Rule = "token_already_set"
	RuleDuplicateProposal Rule = "duplicate_proposal"
	RuleProposalClosed    Rule = "proposal_closed"
	RuleInvalidOption     Rule = "invalid_option"
)

// RuleError is an invariant violation. The ledger rejects the operation
// before mutating anything, so funds were not moved and retrying is pointless.
type RuleError struct {
	Rule   Rule
	Op     string
	DealID uint64
	Detail string
}

// NewRuleError builds a RuleError.
func NewRuleError(rule Rule, op string, dealID uint64, detail string) *RuleError {
	return &RuleError{Rule: rule, Op: op, DealID: dealID, Detail: detail}
}

func (e *RuleError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("ledger: %s deal %d: %s", e.Op, e.DealID, e.Rule)
	}
	return fmt.Sprintf("ledger: %s deal %d: %s: %s", e.Op, e.DealID, e.Rule, e.Detail)
}

// Is lets errors.Is match on the rule alone, e.g.
// errors.Is(err, &RuleError{Rule: RuleWrongStatus}).
func (e *RuleError) Is(target error) bool {
	t, ok := target.(*RuleError)
	if !ok {
		return false
	}
	return t.Rule == e.Rule
}

// IsRuleViolation reports whether err is (or wraps) a RuleError.
func IsRuleViolation(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}

// RuleOf returns the violated rule, or "" if err is not a RuleError.
func RuleOf(err error) Rule {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Rule
	}
	return ""
}

// TransientError marks an infrastructure failure that is safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te) || errors.Is(err, ErrOutcomeUnknown)
}

// FundsMoved describes, for a failed financial operation, whether the
// caller's funds could have moved: "no" for rule violations, "unknown" when
// the submission outcome is pending.
func FundsMoved(err error) string {
	switch {
	case err == nil:
		return "yes"
	case errors.Is(err, ErrOutcomeUnknown):
		return "unknown"
	case IsRuleViolation(err):
		return "no"
	case errors.Is(err, ErrTxReverted):
		return "no"
	default:
		return "unknown"
	}
}
