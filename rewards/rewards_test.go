package rewards_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/stamp/loyalty-engine/rewards"
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

func line(ref, price string, qty int) rewards.OrderLine {
	return rewards.OrderLine{
		LineRef:   ref,
		UnitPrice: dec(price),
		Quantity:  qty,
		Eligible:  true,
	}
}

// =============================================================================
// EARN POLICY TESTS
// =============================================================================

func TestPointsForEligibleSpend_DefaultPolicy(t *testing.T) {
	// GIVEN: defaults (2% earn rate, 100 points per currency unit)
	policy := rewards.DefaultPolicy()

	cases := []struct {
		spend string
		want  int64
	}{
		{"50.00", 100}, // 50 * 0.02 * 100
		{"100.00", 200},
		{"0.00", 0},
		{"-5.00", 0}, // negative spend never earns
		{"0.25", 1},  // 0.5 rounds up under nearest
	}

	for _, tc := range cases {
		got := policy.PointsForEligibleSpend(dec(tc.spend))
		if got != tc.want {
			t.Errorf("spend %s: got %d points, want %d", tc.spend, got, tc.want)
		}
	}
}

func TestPointsForEligibleSpend_RoundDown(t *testing.T) {
	policy := rewards.DefaultPolicy()
	policy.Rounding = rewards.RoundDown

	// 0.25 * 0.02 * 100 = 0.5 -> 0 when truncating
	if got := policy.PointsForEligibleSpend(dec("0.25")); got != 0 {
		t.Errorf("got %d points, want 0 under round-down", got)
	}
}

func TestCurrencyValueForPoints(t *testing.T) {
	policy := rewards.DefaultPolicy()

	if got := policy.CurrencyValueForPoints(150); !got.Equal(dec("1.50")) {
		t.Errorf("got %s, want 1.50", got)
	}
	if got := policy.CurrencyValueForPoints(-10); !got.IsZero() {
		t.Errorf("got %s, want 0 for negative points", got)
	}
}

func TestEarnPolicy_Validate(t *testing.T) {
	good := rewards.DefaultPolicy()
	if err := good.Validate(); err != nil {
		t.Fatalf("default policy must validate: %v", err)
	}

	bad := []rewards.EarnPolicy{
		{PointsPerCurrencyUnit: dec("0"), EarnRate: dec("0.02"), Rounding: rewards.RoundNearest},
		{PointsPerCurrencyUnit: dec("100"), EarnRate: dec("1"), Rounding: rewards.RoundNearest},
		{PointsPerCurrencyUnit: dec("100"), EarnRate: dec("-0.1"), Rounding: rewards.RoundNearest},
		{PointsPerCurrencyUnit: dec("100"), EarnRate: dec("0.02"), Rounding: "sideways"},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("policy %d: expected validation error", i)
		}
	}
}

// =============================================================================
// ALLOCATION TESTS
// =============================================================================

func TestAllocateOrder_LineSumEqualsTotal(t *testing.T) {
	// GIVEN: three lines with awkward proportions
	policy := rewards.DefaultPolicy()
	order := rewards.Order{
		OrderRef:  "o1",
		MemberRef: "c1",
		Lines: []rewards.OrderLine{
			line("l1", "33.33", 1),
			line("l2", "33.33", 1),
			line("l3", "33.34", 1),
		},
	}

	// WHEN: allocating
	alloc := rewards.AllocateOrder(policy, order)

	// THEN: per-line points sum exactly to the order total
	var sum int64
	for _, la := range alloc.Lines {
		sum += la.Points
	}
	if sum != alloc.Points {
		t.Errorf("line sum %d != total %d", sum, alloc.Points)
	}
	if alloc.Points != policy.PointsForEligibleSpend(dec("100.00")) {
		t.Errorf("got %d points, want the whole-order conversion", alloc.Points)
	}
}

func TestAllocateOrder_IneligibleLinesEarnNothing(t *testing.T) {
	policy := rewards.DefaultPolicy()
	giftCard := line("l2", "25.00", 1)
	giftCard.Eligible = false

	alloc := rewards.AllocateOrder(policy, rewards.Order{
		OrderRef:  "o1",
		MemberRef: "c1",
		Lines:     []rewards.OrderLine{line("l1", "50.00", 1), giftCard},
	})

	if !alloc.EligibleSpend.Equal(dec("50.00")) {
		t.Errorf("got eligible spend %s, want 50.00", alloc.EligibleSpend)
	}
	for _, la := range alloc.Lines {
		if la.LineRef == "l2" && la.Points != 0 {
			t.Errorf("ineligible line earned %d points", la.Points)
		}
	}
}

func TestAllocateOrder_DiscountsReduceEligibleSpend(t *testing.T) {
	// GIVEN: $100 of lines with a $20 order-level discount
	policy := rewards.DefaultPolicy()
	alloc := rewards.AllocateOrder(policy, rewards.Order{
		OrderRef:       "o1",
		MemberRef:      "c1",
		DiscountsTotal: dec("20.00"),
		Lines:          []rewards.OrderLine{line("l1", "60.00", 1), line("l2", "40.00", 1)},
	})

	// THEN: points come from the discounted $80
	if !alloc.EligibleSpend.Equal(dec("80.00")) {
		t.Errorf("got eligible spend %s, want 80.00", alloc.EligibleSpend)
	}
	if alloc.Points != policy.PointsForEligibleSpend(dec("80.00")) {
		t.Errorf("got %d points, want conversion of 80.00", alloc.Points)
	}
}

func TestAllocateOrder_ZeroQuantityAndNegativePrice(t *testing.T) {
	policy := rewards.DefaultPolicy()
	negative := line("l2", "-10.00", 1)

	alloc := rewards.AllocateOrder(policy, rewards.Order{
		OrderRef:  "o1",
		MemberRef: "c1",
		Lines:     []rewards.OrderLine{line("l1", "10.00", 0), negative},
	})

	if alloc.Points != 0 {
		t.Errorf("got %d points, want 0", alloc.Points)
	}
}

// =============================================================================
// REFUND ADJUSTMENT TESTS
// =============================================================================

func TestRefundAdjustment_ProportionalRemoval(t *testing.T) {
	// GIVEN: a line that earned 100 points on $50.00 eligible spend
	policy := rewards.DefaultPolicy()
	earned := map[string]int64{"l1": 100}
	spend := map[string]decimal.Decimal{"l1": dec("50.00")}

	// WHEN: half the line is refunded
	removals := rewards.RefundAdjustment(policy, earned, spend, map[string]decimal.Decimal{
		"l1": dec("25.00"),
	})

	// THEN: half the points come back
	if len(removals) != 1 {
		t.Fatalf("got %d removals, want 1", len(removals))
	}
	if removals[0].Points != 50 {
		t.Errorf("got %d points removed, want 50", removals[0].Points)
	}
}

func TestRefundAdjustment_ClampedToEarned(t *testing.T) {
	policy := rewards.DefaultPolicy()
	earned := map[string]int64{"l1": 100}
	spend := map[string]decimal.Decimal{"l1": dec("50.00")}

	// Refund exceeding the original line amount
	removals := rewards.RefundAdjustment(policy, earned, spend, map[string]decimal.Decimal{
		"l1": dec("500.00"),
	})

	if removals[0].Points != 100 {
		t.Errorf("got %d points removed, want clamp at 100", removals[0].Points)
	}
}

func TestRefundAdjustment_MinimumOnePoint(t *testing.T) {
	policy := rewards.DefaultPolicy()
	earned := map[string]int64{"l1": 100}
	spend := map[string]decimal.Decimal{"l1": dec("50.00")}

	// Tiny refund still removes at least one point
	removals := rewards.RefundAdjustment(policy, earned, spend, map[string]decimal.Decimal{
		"l1": dec("0.01"),
	})

	if len(removals) != 1 || removals[0].Points != 1 {
		t.Errorf("got %v, want a single one-point removal", removals)
	}
}

func TestRefundAdjustment_SkipsUnknownAndZeroLines(t *testing.T) {
	policy := rewards.DefaultPolicy()
	earned := map[string]int64{"l1": 100}
	spend := map[string]decimal.Decimal{"l1": dec("50.00")}

	removals := rewards.RefundAdjustment(policy, earned, spend, map[string]decimal.Decimal{
		"l1":    dec("0.00"),  // nothing refunded
		"ghost": dec("10.00"), // never earned
	})

	if len(removals) != 0 {
		t.Errorf("got %v, want no removals", removals)
	}
}

func TestRefundAdjustment_FallbackToPolicyConversion(t *testing.T) {
	// GIVEN: an earn event with no recorded eligible spend
	policy := rewards.DefaultPolicy()
	earned := map[string]int64{"l1": 100}

	removals := rewards.RefundAdjustment(policy, earned, nil, map[string]decimal.Decimal{
		"l1": dec("25.00"),
	})

	// THEN: the refunded amount converts through the policy (25 * 0.02 * 100)
	if removals[0].Points != 50 {
		t.Errorf("got %d points removed, want 50 via policy conversion", removals[0].Points)
	}
}
