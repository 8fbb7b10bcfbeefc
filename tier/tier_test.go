package tier_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/stamp/loyalty-engine/tier"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func threeTiers() tier.RuleSet {
	return tier.RuleSet{
		MerchantID: "m1",
		Basis:      tier.BasisPoints,
		Rules: []tier.Rule{
			{Threshold: dec("0"), Name: "Silver"},
			{Threshold: dec("1000"), Name: "Gold"},
			{Threshold: dec("5000"), Name: "Platinum"},
		},
	}
}

// =============================================================================
// EVALUATION TESTS
// =============================================================================

func TestEvaluate_HighestQualifyingThreshold(t *testing.T) {
	// GIVEN: Silver at 0, Gold at 1000, Platinum at 5000
	rs := threeTiers()

	cases := []struct {
		value string
		want  string
	}{
		{"0", "Silver"},
		{"999", "Silver"},
		{"1000", "Gold"}, // boundary: exactly at threshold qualifies
		{"4999", "Gold"},
		{"5000", "Platinum"},
		{"50000", "Platinum"},
	}

	for _, tc := range cases {
		st, ok := tier.Evaluate(rs, dec(tc.value))
		if !ok {
			t.Fatalf("value %s: expected a tier, got none", tc.value)
		}
		if st.Name != tc.want {
			t.Errorf("value %s: got tier %q, want %q", tc.value, st.Name, tc.want)
		}
	}
}

func TestEvaluate_NoQualifyingRule(t *testing.T) {
	// GIVEN: lowest threshold is 100
	rs := tier.RuleSet{
		MerchantID: "m1",
		Basis:      tier.BasisPoints,
		Rules:      []tier.Rule{{Threshold: dec("100"), Name: "Silver"}},
	}

	// WHEN: the member's value is below every threshold
	_, ok := tier.Evaluate(rs, dec("99"))

	// THEN: no tier, not an error
	if ok {
		t.Error("expected no tier below every threshold")
	}
}

func TestEvaluate_EmptyRuleSet(t *testing.T) {
	_, ok := tier.Evaluate(tier.RuleSet{MerchantID: "m1", Basis: tier.BasisPoints}, dec("100"))
	if ok {
		t.Error("expected no tier for empty rule set")
	}
}

func TestEvaluate_NextTierProgress(t *testing.T) {
	// GIVEN: a member at Gold with 2500 points
	rs := threeTiers()

	st, ok := tier.Evaluate(rs, dec("2500"))
	if !ok {
		t.Fatal("expected a tier")
	}

	// THEN: next tier is Platinum, 2500 remaining
	if st.Name != "Gold" {
		t.Fatalf("got tier %q, want Gold", st.Name)
	}
	if st.IsTopTier {
		t.Error("Gold is not the top tier")
	}
	if st.NextName != "Platinum" {
		t.Errorf("got next tier %q, want Platinum", st.NextName)
	}
	if !st.Remaining.Equal(dec("2500")) {
		t.Errorf("got remaining %s, want 2500", st.Remaining)
	}
}

func TestEvaluate_TopTier(t *testing.T) {
	rs := threeTiers()

	st, ok := tier.Evaluate(rs, dec("9000"))
	if !ok {
		t.Fatal("expected a tier")
	}
	if !st.IsTopTier {
		t.Error("expected top tier at 9000")
	}
	if st.NextName != "" {
		t.Errorf("top tier must have no next tier, got %q", st.NextName)
	}
}

func TestEvaluate_SpendBasisDecimalThresholds(t *testing.T) {
	// GIVEN: spend thresholds with cents
	rs := tier.RuleSet{
		MerchantID: "m1",
		Basis:      tier.BasisSpend,
		Rules: []tier.Rule{
			{Threshold: dec("0"), Name: "Bronze"},
			{Threshold: dec("499.99"), Name: "Silver"},
		},
	}

	st, ok := tier.Evaluate(rs, dec("499.99"))
	if !ok || st.Name != "Silver" {
		t.Errorf("got %v/%v, want Silver at exactly 499.99", st.Name, ok)
	}

	st, ok = tier.Evaluate(rs, dec("499.98"))
	if !ok || st.Name != "Bronze" {
		t.Errorf("got %v/%v, want Bronze just below the threshold", st.Name, ok)
	}
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate_DuplicateThresholdRejected(t *testing.T) {
	rs := tier.RuleSet{
		MerchantID: "m1",
		Basis:      tier.BasisPoints,
		Rules: []tier.Rule{
			{Threshold: dec("1000"), Name: "Gold"},
			{Threshold: dec("1000"), Name: "Platinum"},
		},
	}

	err := rs.Validate()
	if !errors.Is(err, tier.ErrDuplicateThreshold) {
		t.Errorf("got %v, want ErrDuplicateThreshold", err)
	}
}

func TestValidate_RejectsBadRuleSets(t *testing.T) {
	cases := []struct {
		name string
		rs   tier.RuleSet
	}{
		{"empty merchant", tier.RuleSet{Basis: tier.BasisPoints, Rules: []tier.Rule{{Threshold: dec("0"), Name: "Silver"}}}},
		{"unknown basis", tier.RuleSet{MerchantID: "m1", Basis: "elevation", Rules: []tier.Rule{{Threshold: dec("0"), Name: "Silver"}}}},
		{"no rules", tier.RuleSet{MerchantID: "m1", Basis: tier.BasisPoints}},
		{"unnamed rule", tier.RuleSet{MerchantID: "m1", Basis: tier.BasisPoints, Rules: []tier.Rule{{Threshold: dec("0")}}}},
		{"negative threshold", tier.RuleSet{MerchantID: "m1", Basis: tier.BasisPoints, Rules: []tier.Rule{{Threshold: dec("-1"), Name: "Silver"}}}},
	}

	for _, tc := range cases {
		if err := tc.rs.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestSorted_DoesNotMutateInput(t *testing.T) {
	rs := tier.RuleSet{
		MerchantID: "m1",
		Basis:      tier.BasisPoints,
		Rules: []tier.Rule{
			{Threshold: dec("5000"), Name: "Platinum"},
			{Threshold: dec("0"), Name: "Silver"},
		},
	}

	sorted := rs.Sorted()
	if sorted[0].Name != "Silver" {
		t.Errorf("got %q first, want Silver", sorted[0].Name)
	}
	if rs.Rules[0].Name != "Platinum" {
		t.Error("Sorted must not reorder the original slice")
	}
}
