/*
Package ledger provides the core loyalty-points accounting engine.

PURPOSE:
  This package contains the tenant-scoped types and operations for an
  append-only points ledger. Every point-affecting change a merchant makes
  for a member is an immutable Event; balances are derived state
  that the storage layer keeps in lockstep with the event log.

KEY CONCEPTS IN THIS FILE (types.go):
  - Event: an immutable ledger entry recording a points change
  - EventType: the five defined kinds of point-affecting events
  - Balance: the cached (merchant, member) -> points materialization
  - Merchant/Member identifiers: type-safe tenant scoping

DESIGN PRINCIPLES:
  1. Immutability: events are never updated or deleted, only appended
  2. Tenancy: every entity is scoped by MerchantID; nothing crosses tenants
  3. Integer points: points_delta is a signed integer, never fractional
  4. Auditability: every event carries reason, correlation refs, and an
     optional idempotency key

USAGE:
  ev := ledger.Event{
      MerchantID:  "m1",
      MemberRef:   "c1",
      Type:        ledger.EventEarn,
      PointsDelta: 100,
  }

SEE ALSO:
  - engine.go: the operations exposed to the API layer
  - store.go: persistence contracts
  - errors.go: error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// MerchantID identifies a tenant. All other entities are scoped by it.
type MerchantID string

// MemberRef is a merchant-scoped, opaque customer reference
// (email, customer id, whatever the merchant's integration supplies).
type MemberRef string

// EventID is the globally unique primary identity of a ledger event.
type EventID string

// =============================================================================
// EVENT - Atomic, immutable change to a member's points
// =============================================================================

type EventType string

const (
	EventEarn        EventType = "earn"         // Points from eligible spend (order placed)
	EventRefund      EventType = "refund"       // Order refunded; typically negative
	EventCorrection  EventType = "correction"   // Fix for a prior event; new event, never a mutation
	EventAdminGrant  EventType = "admin_grant"  // Manual admin credit
	EventAdminRevoke EventType = "admin_revoke" // Manual admin debit; typically negative
)

// KnownEventType reports whether t is one of the five defined kinds.
func KnownEventType(t EventType) bool {
	switch t {
	case EventEarn, EventRefund, EventCorrection, EventAdminGrant, EventAdminRevoke:
		return true
	}
	return false
}

// Event is an immutable ledger entry. Once committed it is never updated
// or deleted; corrections are new events.
type Event struct {
	ID          EventID
	MerchantID  MerchantID
	MemberRef   MemberRef
	Type        EventType
	PointsDelta int64

	// IdempotencyKey identifies the real-world business event this entry
	// came from (e.g. "order:1042:earn"). Globally unique when present:
	// at most one committed event may carry a given key.
	IdempotencyKey string

	// External correlation, e.g. order id and order line id.
	RelatedRef     string
	RelatedLineRef string

	Reason   string
	Metadata map[string]string

	CreatedAt time.Time
}

// =============================================================================
// BALANCE - Derived, cached state per (merchant, member)
// =============================================================================

// Balance is the materialized sum of a member's ledger deltas plus the
// running lifetime spend used for spend-based tier programs. It is a
// cache, never a source of truth: it must always be reconstructable by
// replaying events.
type Balance struct {
	MerchantID MerchantID
	MemberRef  MemberRef
	Points     int64

	// LifetimeSpend is monotonically non-decreasing and independent of
	// points. Currency-precise, hence decimal rather than float.
	LifetimeSpend decimal.Decimal

	UpdatedAt time.Time
}
