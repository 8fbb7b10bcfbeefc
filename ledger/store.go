/*
store.go - Persistence contracts for the points ledger

PURPOSE:
  Defines the interface between the engine and the database. The Store
  owns the one invariant that matters: the event insert and the balance
  increment commit together or not at all.

APPEND-ONLY CONTRACT:
  - Append() is the ONLY operation that writes events or balances
  - No update or delete of events exists, anywhere
  - Corrections are new events

IDEMPOTENCY:
  Append enforces idempotency keys via a uniqueness constraint evaluated
  at commit time, never via check-then-write (that pattern has a race
  window under concurrent webhook redelivery). On conflict it returns
  ErrDuplicateIdempotencyKey and the engine fetches the original event.

BALANCE MATERIALIZATION:
  Append performs an upsert-with-increment on the cached balance row in
  the same transaction as the event insert. Increments are additive; a
  last-writer-wins overwrite would lose concurrent updates.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (same SQL shape applies to Postgres)
  - ledger/store: in-memory, for tests and dev

SEE ALSO:
  - engine.go: retry, replay resolution, and reconciliation on top of this
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/stamp/loyalty-engine/rewards"
	"github.com/stamp/loyalty-engine/tier"
)

// =============================================================================
// STORE - Event + balance persistence (append-only)
// =============================================================================

// Store persists ledger events and materializes balances.
//
// IMPORTANT: Append is the only write path for both tables. External
// collaborators must never mutate balances directly.
type Store interface {
	// Append atomically inserts the event, adds its delta to the member's
	// cached balance (creating the row if absent), and adds spendDelta to
	// the member's lifetime spend. Returns the resulting points balance.
	//
	// Fails with ErrDuplicateIdempotencyKey or ErrDuplicateEventID when a
	// uniqueness constraint trips at commit; in either case nothing is
	// written.
	Append(ctx context.Context, ev Event, spendDelta decimal.Decimal) (int64, error)

	// EventByIdempotencyKey returns the committed event carrying the key,
	// or ErrEventNotFound.
	EventByIdempotencyKey(ctx context.Context, key string) (Event, error)

	// Events returns a member's full history, oldest first. Read-only.
	Events(ctx context.Context, merchantID MerchantID, memberRef MemberRef) ([]Event, error)

	// Balance returns the cached points balance. A member with no history
	// has a well-defined zero balance, not an error.
	Balance(ctx context.Context, merchantID MerchantID, memberRef MemberRef) (int64, error)

	// LifetimeSpend returns the member's running lifetime spend
	// (zero for unknown members).
	LifetimeSpend(ctx context.Context, merchantID MerchantID, memberRef MemberRef) (decimal.Decimal, error)

	// Reconcile recomputes the member's balance from the full event
	// history inside one transaction, repairs the cached row if it
	// diverged, and reports whether a repair happened. points is the
	// replayed sum (ground truth); cached is the value found before any
	// repair.
	Reconcile(ctx context.Context, merchantID MerchantID, memberRef MemberRef) (points, cached int64, corrected bool, err error)
}

// =============================================================================
// CONFIG STORE - Merchant program configuration
// =============================================================================

// ConfigStore persists merchant program configuration: tier rule sets and
// earn policies. Both are written by the merchant admin and read at
// evaluation time only.
type ConfigStore interface {
	// SaveTierRules validates and stores a merchant's rule set, replacing
	// any previous configuration. Duplicate thresholds are rejected with
	// ErrDuplicateThreshold.
	SaveTierRules(ctx context.Context, rs tier.RuleSet) error

	// TierRules returns a merchant's rule set, or ErrNoRules when none is
	// configured.
	TierRules(ctx context.Context, merchantID MerchantID) (tier.RuleSet, error)

	// SaveEarnPolicy stores a merchant's earn policy, replacing any
	// previous one.
	SaveEarnPolicy(ctx context.Context, merchantID MerchantID, policy rewards.EarnPolicy) error

	// EarnPolicy returns a merchant's stored earn policy, or ErrNoPolicy
	// when none is configured.
	EarnPolicy(ctx context.Context, merchantID MerchantID) (rewards.EarnPolicy, error)
}
