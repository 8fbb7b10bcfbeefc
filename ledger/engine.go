/*
engine.go - Operations the ledger exposes to the API layer

PURPOSE:
  The Engine is the contract between this core and the HTTP layer:
  accrue/correct points, read balances, recalculate tiers, and run the
  administrative reconciliation repair. Wire format is the API layer's
  problem; shapes live here.

ACCRUAL FLOW:
  1. Validate input (nothing is written on validation failure)
  2. Append event + balance increment as one storage transaction
  3. On idempotency conflict, fetch and return the original event
     (retried webhooks get the original outcome, not an error)
  4. On transient storage contention, retry a bounded number of times

CONCURRENCY:
  The Engine itself is stateless and safe for concurrent use; all
  serialization happens in the Store's append transaction. Two appends
  for the same member serialize; different members proceed in parallel.

SEE ALSO:
  - store.go: the persistence contracts this builds on
  - tier package: pure tier evaluation
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stamp/loyalty-engine/rewards"
	"github.com/stamp/loyalty-engine/tier"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine implements the accrual/correction surface on top of a Store.
type Engine struct {
	store   Store
	configs ConfigStore

	// maxAttempts bounds retries of transient storage conflicts.
	maxAttempts int
	retryDelay  time.Duration
}

// NewEngine creates an engine. store and configs are usually the same
// value (both interfaces are implemented by each storage backend).
func NewEngine(store Store, configs ConfigStore) *Engine {
	return &Engine{
		store:       store,
		configs:     configs,
		maxAttempts: 3,
		retryDelay:  25 * time.Millisecond,
	}
}

// =============================================================================
// ACCRUE - Append an event and materialize the balance
// =============================================================================

// AccrueInput is a request to append one point-affecting event.
type AccrueInput struct {
	MerchantID  MerchantID
	MemberRef   MemberRef
	Type        EventType
	PointsDelta int64

	// Optional. When set, retried calls with the same key return the
	// original event instead of creating a second one.
	IdempotencyKey string

	RelatedRef     string
	RelatedLineRef string
	Reason         string
	Metadata       map[string]string

	// SpendDelta is the eligible spend behind an earn event; it feeds the
	// member's lifetime spend for spend-based tier programs. Must not be
	// negative: lifetime spend never decreases.
	SpendDelta decimal.Decimal
}

// AccrueResult is the outcome of an accrual. Replayed is true when the
// idempotency key matched a previously committed event; Event is then
// that original event.
type AccrueResult struct {
	Event    Event
	Balance  int64
	Replayed bool
}

// Accrue validates and appends an event. Either the event and its
// balance update both commit, or neither does.
func (e *Engine) Accrue(ctx context.Context, in AccrueInput) (AccrueResult, error) {
	if err := validateAccrue(in); err != nil {
		return AccrueResult{}, err
	}

	ev := Event{
		ID:             EventID(uuid.NewString()),
		MerchantID:     in.MerchantID,
		MemberRef:      in.MemberRef,
		Type:           in.Type,
		PointsDelta:    in.PointsDelta,
		IdempotencyKey: in.IdempotencyKey,
		RelatedRef:     in.RelatedRef,
		RelatedLineRef: in.RelatedLineRef,
		Reason:         in.Reason,
		Metadata:       in.Metadata,
		CreatedAt:      time.Now().UTC(),
	}

	var balance int64
	var err error
	for attempt := 1; ; attempt++ {
		balance, err = e.store.Append(ctx, ev, in.SpendDelta)
		if err == nil {
			return AccrueResult{Event: ev, Balance: balance}, nil
		}
		if !IsRetryable(err) || attempt >= e.maxAttempts {
			break
		}
		select {
		case <-time.After(e.retryDelay):
		case <-ctx.Done():
			return AccrueResult{}, ctx.Err()
		}
	}

	if in.IdempotencyKey != "" && errors.Is(err, ErrDuplicateIdempotencyKey) {
		return e.replay(ctx, in.IdempotencyKey)
	}
	return AccrueResult{}, err
}

// replay resolves an idempotency conflict by returning the event that
// won the original commit. The key matched a committed row, so the
// lookup succeeding is part of the at-most-once guarantee.
func (e *Engine) replay(ctx context.Context, key string) (AccrueResult, error) {
	ev, err := e.store.EventByIdempotencyKey(ctx, key)
	if err != nil {
		return AccrueResult{}, err
	}
	balance, err := e.store.Balance(ctx, ev.MerchantID, ev.MemberRef)
	if err != nil {
		return AccrueResult{}, err
	}
	return AccrueResult{Event: ev, Balance: balance, Replayed: true}, nil
}

func validateAccrue(in AccrueInput) error {
	if in.MerchantID == "" {
		return &InvalidEventError{Field: "merchant_id", Detail: "must not be empty"}
	}
	if in.MemberRef == "" {
		return &InvalidEventError{Field: "member_ref", Detail: "must not be empty"}
	}
	if !KnownEventType(in.Type) {
		return &InvalidEventError{Field: "event_type", Detail: "unknown type " + string(in.Type)}
	}
	if in.PointsDelta == 0 {
		return &InvalidEventError{Field: "points_delta", Detail: "must not be zero"}
	}
	if in.SpendDelta.IsNegative() {
		return &InvalidEventError{Field: "spend_delta", Detail: "lifetime spend never decreases"}
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Balance returns the member's current points. A member with no history
// has balance zero.
func (e *Engine) Balance(ctx context.Context, merchantID MerchantID, memberRef MemberRef) (int64, error) {
	return e.store.Balance(ctx, merchantID, memberRef)
}

// History returns the member's events, oldest first. A limit below one
// means no limit.
func (e *Engine) History(ctx context.Context, merchantID MerchantID, memberRef MemberRef, limit int) ([]Event, error) {
	events, err := e.store.Events(ctx, merchantID, memberRef)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// LifetimeSpend returns the member's accumulated spend. A member with no
// history has zero spend.
func (e *Engine) LifetimeSpend(ctx context.Context, merchantID MerchantID, memberRef MemberRef) (decimal.Decimal, error) {
	return e.store.LifetimeSpend(ctx, merchantID, memberRef)
}

// =============================================================================
// RECONCILIATION - Administrative repair path
// =============================================================================

// ReconcileResult reports the authoritative balance and whether the
// cached row had to be repaired to match it.
type ReconcileResult struct {
	Points    int64
	Corrected bool
}

// ReconcileBalance recomputes the member's balance by replaying the
// ledger and repairs the cache if it diverged. Divergence is logged:
// it means something outside the append path touched the cache.
func (e *Engine) ReconcileBalance(ctx context.Context, merchantID MerchantID, memberRef MemberRef) (ReconcileResult, error) {
	points, cached, corrected, err := e.store.Reconcile(ctx, merchantID, memberRef)
	if err != nil {
		return ReconcileResult{}, err
	}
	if corrected {
		log.Printf("ledger: %v", &InconsistentBalanceError{
			MerchantID: merchantID,
			MemberRef:  memberRef,
			Cached:     cached,
			Replayed:   points,
		})
	}
	return ReconcileResult{Points: points, Corrected: corrected}, nil
}

// =============================================================================
// TIERS
// =============================================================================

// ConfigureTiers validates and stores a merchant's tier rule set.
func (e *Engine) ConfigureTiers(ctx context.Context, rs tier.RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	return e.configs.SaveTierRules(ctx, rs)
}

// TierRules returns a merchant's configured rule set.
func (e *Engine) TierRules(ctx context.Context, merchantID MerchantID) (tier.RuleSet, error) {
	return e.configs.TierRules(ctx, merchantID)
}

// RecalculateTier evaluates the member's current tier on demand. Pure
// read: nothing is cached or persisted. ok is false when the merchant
// has no rules or no rule qualifies.
func (e *Engine) RecalculateTier(ctx context.Context, merchantID MerchantID, memberRef MemberRef) (tier.Status, bool, error) {
	rs, err := e.configs.TierRules(ctx, merchantID)
	if err != nil {
		if errors.Is(err, ErrNoRules) {
			return tier.Status{}, false, nil
		}
		return tier.Status{}, false, err
	}

	var value decimal.Decimal
	switch rs.Basis {
	case tier.BasisSpend:
		value, err = e.store.LifetimeSpend(ctx, merchantID, memberRef)
	default:
		var points int64
		points, err = e.store.Balance(ctx, merchantID, memberRef)
		value = decimal.NewFromInt(points)
	}
	if err != nil {
		return tier.Status{}, false, err
	}

	st, ok := tier.Evaluate(rs, value)
	return st, ok, nil
}

// =============================================================================
// ORDER REWARDS - Per-line issuance and refund adjustment
// =============================================================================

// AwardResult reports the outcome of awarding an order.
type AwardResult struct {
	EligibleSpend decimal.Decimal
	Points        int64
	Balance       int64
	Events        []Event
	Replayed      int
}

// AwardOrder issues per-line earn events for a completed order.
//
// Each line's idempotency key is derived from the order and line refs,
// so redelivered order webhooks replay the original events instead of
// double-awarding. Each earn event carries its line's eligible spend as
// the lifetime spend increment.
func (e *Engine) AwardOrder(ctx context.Context, merchantID MerchantID, order rewards.Order) (AwardResult, error) {
	if order.OrderRef == "" {
		return AwardResult{}, &InvalidEventError{Field: "order_ref", Detail: "must not be empty"}
	}
	if order.MemberRef == "" {
		return AwardResult{}, &InvalidEventError{Field: "member_ref", Detail: "must not be empty"}
	}

	policy, err := e.earnPolicyOrDefault(ctx, merchantID)
	if err != nil {
		return AwardResult{}, err
	}

	allocation := rewards.AllocateOrder(policy, order)

	result := AwardResult{
		EligibleSpend: allocation.EligibleSpend,
		Points:        allocation.Points,
	}
	for _, award := range allocation.Lines {
		if award.Points <= 0 {
			continue
		}
		res, err := e.Accrue(ctx, AccrueInput{
			MerchantID:     merchantID,
			MemberRef:      MemberRef(order.MemberRef),
			Type:           EventEarn,
			PointsDelta:    award.Points,
			IdempotencyKey: fmt.Sprintf("idem:earn:%s:%s", order.OrderRef, award.LineRef),
			RelatedRef:     order.OrderRef,
			RelatedLineRef: award.LineRef,
			Reason:         "order award",
			Metadata: map[string]string{
				"currency":       order.Currency,
				"eligible_spend": award.EligibleSpend.String(),
			},
			SpendDelta: award.EligibleSpend,
		})
		if err != nil {
			return AwardResult{}, err
		}
		result.Events = append(result.Events, res.Event)
		result.Balance = res.Balance
		if res.Replayed {
			result.Replayed++
		}
	}

	if len(result.Events) == 0 {
		result.Balance, err = e.store.Balance(ctx, merchantID, MemberRef(order.MemberRef))
		if err != nil {
			return AwardResult{}, err
		}
	}
	return result, nil
}

// RefundInput describes a partial refund against a previously awarded
// order. RefundedByLine maps line refs to the refunded eligible amount.
type RefundInput struct {
	OrderRef       string
	RefundRef      string
	MemberRef      MemberRef
	RefundedByLine map[string]decimal.Decimal
}

// RefundOrder removes points proportional to the refunded share of each
// line's original award. Lifetime spend is not decremented: lifetime
// spend is lifetime.
func (e *Engine) RefundOrder(ctx context.Context, merchantID MerchantID, in RefundInput) (AwardResult, error) {
	if in.OrderRef == "" {
		return AwardResult{}, &InvalidEventError{Field: "order_ref", Detail: "must not be empty"}
	}
	if in.RefundRef == "" {
		return AwardResult{}, &InvalidEventError{Field: "refund_ref", Detail: "must not be empty"}
	}
	if in.MemberRef == "" {
		return AwardResult{}, &InvalidEventError{Field: "member_ref", Detail: "must not be empty"}
	}

	policy, err := e.earnPolicyOrDefault(ctx, merchantID)
	if err != nil {
		return AwardResult{}, err
	}

	events, err := e.store.Events(ctx, merchantID, in.MemberRef)
	if err != nil {
		return AwardResult{}, err
	}

	earnedByLine := make(map[string]int64)
	spendByLine := make(map[string]decimal.Decimal)
	for _, ev := range events {
		if ev.Type != EventEarn || ev.RelatedRef != in.OrderRef || ev.RelatedLineRef == "" {
			continue
		}
		earnedByLine[ev.RelatedLineRef] += ev.PointsDelta
		if raw, ok := ev.Metadata["eligible_spend"]; ok {
			if amt, err := decimal.NewFromString(raw); err == nil {
				spendByLine[ev.RelatedLineRef] = spendByLine[ev.RelatedLineRef].Add(amt)
			}
		}
	}

	removals := rewards.RefundAdjustment(policy, earnedByLine, spendByLine, in.RefundedByLine)

	var result AwardResult
	for _, removal := range removals {
		res, err := e.Accrue(ctx, AccrueInput{
			MerchantID:     merchantID,
			MemberRef:      in.MemberRef,
			Type:           EventRefund,
			PointsDelta:    -removal.Points,
			IdempotencyKey: fmt.Sprintf("idem:refund:%s:%s", in.RefundRef, removal.LineRef),
			RelatedRef:     in.OrderRef,
			RelatedLineRef: removal.LineRef,
			Reason:         "refund adjustment",
			Metadata: map[string]string{
				"refund_ref": in.RefundRef,
			},
		})
		if err != nil {
			return AwardResult{}, err
		}
		result.Points -= removal.Points
		result.Events = append(result.Events, res.Event)
		result.Balance = res.Balance
		if res.Replayed {
			result.Replayed++
		}
	}

	if len(result.Events) == 0 {
		result.Balance, err = e.store.Balance(ctx, merchantID, in.MemberRef)
		if err != nil {
			return AwardResult{}, err
		}
	}
	return result, nil
}

// =============================================================================
// EARN POLICY
// =============================================================================

// ConfigureEarnPolicy validates and stores a merchant's earn policy.
func (e *Engine) ConfigureEarnPolicy(ctx context.Context, merchantID MerchantID, policy rewards.EarnPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	return e.configs.SaveEarnPolicy(ctx, merchantID, policy)
}

// EarnPolicy returns the merchant's earn policy, falling back to the
// canonical defaults when none is stored.
func (e *Engine) EarnPolicy(ctx context.Context, merchantID MerchantID) (rewards.EarnPolicy, error) {
	return e.earnPolicyOrDefault(ctx, merchantID)
}

func (e *Engine) earnPolicyOrDefault(ctx context.Context, merchantID MerchantID) (rewards.EarnPolicy, error) {
	policy, err := e.configs.EarnPolicy(ctx, merchantID)
	if err != nil {
		if errors.Is(err, ErrNoPolicy) {
			return rewards.DefaultPolicy(), nil
		}
		return rewards.EarnPolicy{}, err
	}
	return policy, nil
}
