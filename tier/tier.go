/*
Package tier maps a member's standing to a named reward level.

PURPOSE:
  A merchant configures an ordered list of (threshold, name) rules; a
  member's tier is the rule with the greatest threshold not exceeding
  their value. The value is either the points balance or the lifetime
  spend, chosen per merchant by the rule set's Basis.

EVALUATION IS PURE:
  Evaluate has no side effects and reads no storage. The engine fetches
  the rule set and the member's value, then calls in here. Tier is never
  cached or persisted as derived state.

CONFIGURATION RULES:
  - Thresholds are unique per merchant (duplicates rejected up front)
  - Thresholds are non-negative
  - Every rule has a name

  Thresholds are decimals so the same rule shape serves both bases:
  integer points compare exactly, spend compares at currency precision.

SEE ALSO:
  - ledger/engine.go: RecalculateTier wires balance/spend into Evaluate
*/
package tier

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrInvalidRuleSet covers all configuration rejections; use errors.Is
// to detect them.
var ErrInvalidRuleSet = errors.New("invalid tier rules")

// ErrDuplicateThreshold is the sentinel behind DuplicateThresholdError.
// Wraps ErrInvalidRuleSet.
var ErrDuplicateThreshold = fmt.Errorf("%w: duplicate threshold", ErrInvalidRuleSet)

// =============================================================================
// RULES
// =============================================================================

// Basis selects which member value the rules compare against.
type Basis string

const (
	BasisPoints Basis = "points" // current points balance
	BasisSpend  Basis = "spend"  // lifetime spend
)

// KnownBasis reports whether b is a defined basis.
func KnownBasis(b Basis) bool {
	return b == BasisPoints || b == BasisSpend
}

// Rule is a single tier boundary: members at or above Threshold qualify
// for Name (unless a higher rule also qualifies).
type Rule struct {
	Threshold decimal.Decimal
	Name      string
}

// RuleSet is a merchant's complete tier configuration. Managed by the
// merchant admin, read-only to the ledger engine.
type RuleSet struct {
	MerchantID string
	Basis      Basis
	Rules      []Rule
}

// Validate checks a rule set at configuration time. Duplicate thresholds
// are a hard error: ties would make "highest qualifying rule" ambiguous.
func (rs RuleSet) Validate() error {
	if rs.MerchantID == "" {
		return fmt.Errorf("%w: merchant id is required", ErrInvalidRuleSet)
	}
	if !KnownBasis(rs.Basis) {
		return fmt.Errorf("%w: unknown basis %q", ErrInvalidRuleSet, rs.Basis)
	}
	if len(rs.Rules) == 0 {
		return fmt.Errorf("%w: at least one rule is required", ErrInvalidRuleSet)
	}

	seen := make(map[string]bool, len(rs.Rules))
	for _, r := range rs.Rules {
		if r.Name == "" {
			return fmt.Errorf("%w: rule at threshold %s has no name", ErrInvalidRuleSet, r.Threshold)
		}
		if r.Threshold.IsNegative() {
			return fmt.Errorf("%w: negative threshold %s (%s)", ErrInvalidRuleSet, r.Threshold, r.Name)
		}
		k := r.Threshold.String()
		if seen[k] {
			return &DuplicateThresholdError{Threshold: r.Threshold}
		}
		seen[k] = true
	}
	return nil
}

// Sorted returns the rules ordered by ascending threshold.
func (rs RuleSet) Sorted() []Rule {
	out := make([]Rule, len(rs.Rules))
	copy(out, rs.Rules)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Threshold.LessThan(out[j].Threshold)
	})
	return out
}

// DuplicateThresholdError reports a threshold configured twice.
type DuplicateThresholdError struct {
	Threshold decimal.Decimal
}

func (e *DuplicateThresholdError) Error() string {
	return fmt.Sprintf("duplicate tier threshold %s", e.Threshold)
}

func (e *DuplicateThresholdError) Unwrap() error {
	return ErrDuplicateThreshold
}

// =============================================================================
// EVALUATION
// =============================================================================

// Status is a snapshot of a member's tier position, including how far
// they are from the next tier. Useful for dashboards and merchant UX.
type Status struct {
	Name      string
	Threshold decimal.Decimal

	// Next tier, if any. Remaining is how much more value reaches it.
	NextName      string
	NextThreshold decimal.Decimal
	Remaining     decimal.Decimal
	IsTopTier     bool
}

// Evaluate returns the member's tier for the given value, or ok=false
// when no rule qualifies ("no tier"). Pure: no side effects.
func Evaluate(rs RuleSet, value decimal.Decimal) (Status, bool) {
	rules := rs.Sorted()

	current := -1
	for i, r := range rules {
		if r.Threshold.LessThanOrEqual(value) {
			current = i
		}
	}
	if current < 0 {
		return Status{}, false
	}

	st := Status{
		Name:      rules[current].Name,
		Threshold: rules[current].Threshold,
		IsTopTier: current == len(rules)-1,
	}
	if !st.IsTopTier {
		next := rules[current+1]
		st.NextName = next.Name
		st.NextThreshold = next.Threshold
		st.Remaining = next.Threshold.Sub(value)
	}
	return st, true
}
