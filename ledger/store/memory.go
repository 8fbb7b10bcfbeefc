// Package store provides Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stamp/loyalty-engine/ledger"
	"github.com/stamp/loyalty-engine/rewards"
	"github.com/stamp/loyalty-engine/tier"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.Store and ledger.ConfigStore. A single mutex
// plays the role of the database transaction: every Append is atomic
// with respect to its balance increment and idempotency check.
type Memory struct {
	mu       sync.RWMutex
	events   map[key][]ledger.Event
	byIdem   map[string]ledger.Event
	eventIDs map[ledger.EventID]bool
	balances map[key]int64
	spend    map[key]decimal.Decimal
	tiers    map[ledger.MerchantID]tier.RuleSet
	policies map[ledger.MerchantID]rewards.EarnPolicy
}

type key struct {
	MerchantID ledger.MerchantID
	MemberRef  ledger.MemberRef
}

func NewMemory() *Memory {
	return &Memory{
		events:   make(map[key][]ledger.Event),
		byIdem:   make(map[string]ledger.Event),
		eventIDs: make(map[ledger.EventID]bool),
		balances: make(map[key]int64),
		spend:    make(map[key]decimal.Decimal),
		tiers:    make(map[ledger.MerchantID]tier.RuleSet),
		policies: make(map[ledger.MerchantID]rewards.EarnPolicy),
	}
}

// Append adds the event and increments the cached balance atomically.
func (m *Memory) Append(_ context.Context, ev ledger.Event, spendDelta decimal.Decimal) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.IdempotencyKey != "" {
		if _, exists := m.byIdem[ev.IdempotencyKey]; exists {
			return 0, ledger.ErrDuplicateIdempotencyKey
		}
	}
	if m.eventIDs[ev.ID] {
		return 0, ledger.ErrDuplicateEventID
	}

	k := key{MerchantID: ev.MerchantID, MemberRef: ev.MemberRef}
	m.events[k] = append(m.events[k], ev)
	m.eventIDs[ev.ID] = true
	if ev.IdempotencyKey != "" {
		m.byIdem[ev.IdempotencyKey] = ev
	}

	m.balances[k] += ev.PointsDelta
	if spendDelta.IsPositive() {
		m.spend[k] = m.spend[k].Add(spendDelta)
	}
	return m.balances[k], nil
}

func (m *Memory) EventByIdempotencyKey(_ context.Context, idempotencyKey string) (ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.byIdem[idempotencyKey]
	if !ok {
		return ledger.Event{}, ledger.ErrEventNotFound
	}
	return ev, nil
}

func (m *Memory) Events(_ context.Context, merchantID ledger.MerchantID, memberRef ledger.MemberRef) ([]ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := key{MerchantID: merchantID, MemberRef: memberRef}
	result := make([]ledger.Event, len(m.events[k]))
	copy(result, m.events[k])
	return result, nil
}

func (m *Memory) Balance(_ context.Context, merchantID ledger.MerchantID, memberRef ledger.MemberRef) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[key{MerchantID: merchantID, MemberRef: memberRef}], nil
}

func (m *Memory) LifetimeSpend(_ context.Context, merchantID ledger.MerchantID, memberRef ledger.MemberRef) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spend[key{MerchantID: merchantID, MemberRef: memberRef}], nil
}

// Reconcile replays the member's events and repairs the cached balance
// if it diverged.
func (m *Memory) Reconcile(_ context.Context, merchantID ledger.MerchantID, memberRef ledger.MemberRef) (int64, int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{MerchantID: merchantID, MemberRef: memberRef}
	var sum int64
	for _, ev := range m.events[k] {
		sum += ev.PointsDelta
	}

	cached := m.balances[k]
	if cached == sum {
		return sum, cached, false, nil
	}
	m.balances[k] = sum
	return sum, cached, true, nil
}

// OverrideBalance writes the cached balance directly, bypassing the
// append path. Exists so reconciliation tests can simulate drift.
func (m *Memory) OverrideBalance(merchantID ledger.MerchantID, memberRef ledger.MemberRef, points int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[key{MerchantID: merchantID, MemberRef: memberRef}] = points
}

// =============================================================================
// CONFIG STORE
// =============================================================================

func (m *Memory) SaveTierRules(_ context.Context, rs tier.RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copied := rs
	copied.Rules = append([]tier.Rule(nil), rs.Rules...)
	m.tiers[ledger.MerchantID(rs.MerchantID)] = copied
	return nil
}

func (m *Memory) TierRules(_ context.Context, merchantID ledger.MerchantID) (tier.RuleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rs, ok := m.tiers[merchantID]
	if !ok {
		return tier.RuleSet{}, ledger.ErrNoRules
	}
	return rs, nil
}

func (m *Memory) SaveEarnPolicy(_ context.Context, merchantID ledger.MerchantID, policy rewards.EarnPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[merchantID] = policy
	return nil
}

func (m *Memory) EarnPolicy(_ context.Context, merchantID ledger.MerchantID) (rewards.EarnPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	policy, ok := m.policies[merchantID]
	if !ok {
		return rewards.EarnPolicy{}, ledger.ErrNoPolicy
	}
	return policy, nil
}
