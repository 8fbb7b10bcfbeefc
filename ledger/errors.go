/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers discriminate with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Validation errors - rejected before any write
  2. Uniqueness conflicts - detected by the store at commit time
  3. Transient failures - storage contention, retried by the Engine
  4. Diagnostics - reconciliation mismatches (reported, then repaired)

SEE ALSO:
  - engine.go: retry and replay resolution built on these errors
  - store/sqlite: maps constraint violations onto the sentinels
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/stamp/loyalty-engine/rewards"
	"github.com/stamp/loyalty-engine/tier"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidEvent is returned for malformed input: zero delta, unknown
	// event type, missing identifiers. Nothing is written.
	ErrInvalidEvent = errors.New("invalid ledger event")

	// ErrDuplicateIdempotencyKey is returned by the store when a committed
	// event already carries the key. The Engine resolves this by returning
	// the original event; callers of Accrue never see it as a failure.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateEventID is returned when an event id collides. Event ids
	// are engine-generated, so this indicates a caller supplied its own id
	// twice.
	ErrDuplicateEventID = errors.New("duplicate event id")

	// ErrEventNotFound is returned when a lookup by id or idempotency key
	// matches nothing.
	ErrEventNotFound = errors.New("ledger event not found")

	// ErrTransientFailure is returned after bounded retries of a storage
	// conflict are exhausted. Safe to retry with the same idempotency key.
	ErrTransientFailure = errors.New("transient storage failure")

	// ErrInconsistentBalance is the diagnostic recorded when reconciliation
	// finds the cached balance differing from the replayed sum. The cache
	// is repaired; the mismatch is never silently ignored.
	ErrInconsistentBalance = errors.New("cached balance diverged from ledger")

	// ErrNoRules is returned when tier evaluation is requested for a
	// merchant with no configured rule set.
	ErrNoRules = errors.New("no tier rules configured")

	// ErrNoPolicy is returned when a merchant has no stored earn policy.
	// Callers that can proceed fall back to rewards.DefaultPolicy.
	ErrNoPolicy = errors.New("no earn policy configured")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidEventError reports which field of an accrual request failed
// validation.
type InvalidEventError struct {
	Field  string
	Detail string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid ledger event: %s: %s", e.Field, e.Detail)
}

func (e *InvalidEventError) Unwrap() error {
	return ErrInvalidEvent
}

// InconsistentBalanceError reports a reconciliation mismatch: what the
// cache held versus what replaying the ledger produced.
type InconsistentBalanceError struct {
	MerchantID MerchantID
	MemberRef  MemberRef
	Cached     int64
	Replayed   int64
}

func (e *InconsistentBalanceError) Error() string {
	return fmt.Sprintf("cached balance diverged from ledger: %s/%s cached=%d replayed=%d",
		e.MerchantID, e.MemberRef, e.Cached, e.Replayed)
}

func (e *InconsistentBalanceError) Unwrap() error {
	return ErrInconsistentBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientFailure)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrDuplicateEventID) ||
		errors.Is(err, tier.ErrInvalidRuleSet) ||
		errors.Is(err, rewards.ErrInvalidPolicy)
}
