/*
allocator.go - Per-line points allocation and refund adjustment

PURPOSE:
  Turns an order snapshot into per-line point awards and computes the
  point removals for partial refunds. Deterministic: the same order and
  policy always produce the same awards.

ALLOCATION:
  1. Eligible spend per line (ineligible lines contribute zero)
  2. Order-level discounts distributed proportionally across eligible lines
  3. Points computed from the eligible TOTAL via the policy
  4. Points allocated back to lines proportionally, remainders to the
     largest fractional parts so the line sum equals the total

REFUNDS:
  Removal is proportional to the refunded share of the line's original
  eligible spend, clamped to the points earned on that line. A refund
  against a line with earned points always removes at least one point.

SEE ALSO:
  - policy.go: the points math
*/
package rewards

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ORDER SNAPSHOT
// =============================================================================

// OrderLine is one line of an order. Currency values are in store
// currency.
type OrderLine struct {
	LineRef    string
	ProductRef string
	Title      string
	UnitPrice  decimal.Decimal
	Quantity   int

	// Eligible marks the line as counting toward points.
	Eligible bool
}

// Subtotal returns unit price times quantity, never negative.
func (l OrderLine) Subtotal() decimal.Decimal {
	qty := l.Quantity
	if qty < 0 {
		qty = 0
	}
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(qty)))
}

// Order is the snapshot of a completed order used for issuance.
type Order struct {
	OrderRef  string
	MemberRef string
	Currency  string
	Lines     []OrderLine

	// DiscountsTotal is an order-level discount excluded from eligible
	// spend, distributed proportionally across eligible lines.
	DiscountsTotal decimal.Decimal
}

// =============================================================================
// ALLOCATION
// =============================================================================

// LineAward is the points and eligible spend attributed to one line.
type LineAward struct {
	LineRef       string
	EligibleSpend decimal.Decimal
	Points        int64
}

// Allocation is the outcome of allocating an order.
type Allocation struct {
	EligibleSpend decimal.Decimal
	Points        int64
	Lines         []LineAward
}

// AllocateOrder computes per-line point awards for an order.
func AllocateOrder(policy EarnPolicy, order Order) Allocation {
	type lineSpend struct {
		line   OrderLine
		amount decimal.Decimal
	}

	eligible := make([]lineSpend, 0, len(order.Lines))
	total := decimal.Zero
	for _, line := range order.Lines {
		amount := decimal.Zero
		if line.Eligible {
			amount = safeMoney(line.Subtotal())
		}
		eligible = append(eligible, lineSpend{line: line, amount: amount})
		total = total.Add(amount)
	}

	// Distribute order-level discounts proportionally.
	discounts := safeMoney(order.DiscountsTotal)
	if discounts.IsPositive() && total.IsPositive() {
		remaining := discounts
		for i := range eligible {
			if !eligible[i].amount.IsPositive() {
				continue
			}
			share := eligible[i].amount.Div(total).Mul(discounts)
			if share.GreaterThan(remaining) {
				share = remaining
			}
			adjusted := eligible[i].amount.Sub(share)
			if adjusted.IsNegative() {
				adjusted = decimal.Zero
			}
			eligible[i].amount = adjusted
			remaining = remaining.Sub(share)
		}
		total = decimal.Zero
		for _, ls := range eligible {
			total = total.Add(ls.amount)
		}
	}

	pointsTotal := policy.PointsForEligibleSpend(total)

	// Allocate points back to lines proportional to eligible spend,
	// floor first, remainders to the largest fractional parts.
	type alloc struct {
		idx    int
		points int64
		frac   decimal.Decimal
	}
	allocs := make([]alloc, len(eligible))
	var allocated int64
	for i, ls := range eligible {
		allocs[i] = alloc{idx: i}
		if pointsTotal == 0 || !ls.amount.IsPositive() || !total.IsPositive() {
			continue
		}
		raw := ls.amount.Div(total).Mul(decimal.NewFromInt(pointsTotal))
		pts := raw.IntPart()
		allocs[i].points = pts
		allocs[i].frac = raw.Sub(decimal.NewFromInt(pts))
		allocated += pts
	}

	remainder := pointsTotal - allocated
	if remainder > 0 {
		byFrac := make([]int, len(allocs))
		for i := range byFrac {
			byFrac[i] = i
		}
		sort.SliceStable(byFrac, func(a, b int) bool {
			return allocs[byFrac[a]].frac.GreaterThan(allocs[byFrac[b]].frac)
		})
		for i := int64(0); i < remainder && int(i) < len(byFrac); i++ {
			allocs[byFrac[i]].points++
		}
	}

	result := Allocation{EligibleSpend: total.Round(2), Points: pointsTotal}
	for i, ls := range eligible {
		result.Lines = append(result.Lines, LineAward{
			LineRef:       ls.line.LineRef,
			EligibleSpend: ls.amount.Round(2),
			Points:        allocs[i].points,
		})
	}
	return result
}

// =============================================================================
// REFUND ADJUSTMENT
// =============================================================================

// RefundLine is the points to remove for one refunded line.
type RefundLine struct {
	LineRef string
	Points  int64
}

// RefundAdjustment computes per-line point removals for a partial refund.
//
// earnedByLine and spendByLine describe the original issuance (points and
// eligible spend per line); refundedByLine maps line refs to the refunded
// eligible amount. Lines with no earned points or a non-positive refund
// are skipped. Output order is deterministic (sorted by line ref).
func RefundAdjustment(policy EarnPolicy, earnedByLine map[string]int64, spendByLine map[string]decimal.Decimal, refundedByLine map[string]decimal.Decimal) []RefundLine {
	refs := make([]string, 0, len(refundedByLine))
	for ref := range refundedByLine {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	var removals []RefundLine
	for _, ref := range refs {
		refunded := safeMoney(refundedByLine[ref])
		if !refunded.IsPositive() {
			continue
		}
		earned := earnedByLine[ref]
		if earned <= 0 {
			continue
		}

		var pts int64
		if spend, ok := spendByLine[ref]; ok && spend.IsPositive() {
			ratio := refunded.Div(spend)
			if ratio.GreaterThan(decimal.NewFromInt(1)) {
				ratio = decimal.NewFromInt(1)
			}
			pts = decimal.NewFromInt(earned).Mul(ratio).IntPart()
			if pts <= 0 {
				// Any refund against a line that earned points removes
				// at least one.
				pts = 1
			}
		} else {
			pts = policy.PointsForEligibleSpend(refunded)
		}

		if pts > earned {
			pts = earned
		}
		if pts <= 0 {
			continue
		}
		removals = append(removals, RefundLine{LineRef: ref, Points: pts})
	}
	return removals
}

// safeMoney clamps parse artifacts to non-negative currency.
func safeMoney(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
