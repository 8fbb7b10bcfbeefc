/*
Package rewards converts order spend into loyalty points.

PURPOSE:
  Pure domain rules for points issuance. No storage, no HTTP. The
  allocator turns an order snapshot into per-line point awards, and the
  earn policy owns the canonical points math:

    rewards_value = eligible_spend * earn_rate
    points        = rewards_value * points_per_currency_unit

EXAMPLE:
  With the default policy (earn_rate 0.02, 100 points per currency unit),
  a $50.00 eligible order earns 50 * 0.02 * 100 = 100 points.

DESIGN:
  Per-line awards exist so partial refunds can remove exactly the points
  a refunded line earned. The allocator distributes the order total back
  to lines proportionally; the line sum always equals the total.

SEE ALSO:
  - allocator.go: per-line allocation and refund adjustment
  - factory/: JSON program configuration
*/
package rewards

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EARN POLICY
// =============================================================================

// Rounding selects how fractional points are settled.
type Rounding string

const (
	// RoundNearest rounds half away from zero.
	RoundNearest Rounding = "nearest"
	// RoundDown truncates toward zero.
	RoundDown Rounding = "down"
)

// ErrInvalidPolicy indicates an earn policy that fails validation.
var ErrInvalidPolicy = errors.New("invalid earn policy")

// EarnPolicy is a merchant's canonical points valuation.
//
// PointsPerCurrencyUnit: if 1 point = $0.01, this is 100 ($1.00 fully
// converted to rewards value earns 100 points).
//
// EarnRate: the fraction of eligible spend that becomes rewards value.
// A merchant reserving 2% of retail for rewards uses 0.02.
type EarnPolicy struct {
	PointsPerCurrencyUnit decimal.Decimal `json:"points_per_currency_unit"`
	EarnRate              decimal.Decimal `json:"earn_rate"`
	Rounding              Rounding        `json:"rounding"`
}

// DefaultPolicy returns the policy used for merchants without a stored
// configuration: 2% earn rate, 100 points per currency unit, nearest
// rounding.
func DefaultPolicy() EarnPolicy {
	return EarnPolicy{
		PointsPerCurrencyUnit: decimal.NewFromInt(100),
		EarnRate:              decimal.NewFromFloat(0.02),
		Rounding:              RoundNearest,
	}
}

// Validate checks policy sanity.
func (p EarnPolicy) Validate() error {
	if p.PointsPerCurrencyUnit.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: points_per_currency_unit must be positive", ErrInvalidPolicy)
	}
	if p.EarnRate.IsNegative() || p.EarnRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: earn_rate must be in [0, 1)", ErrInvalidPolicy)
	}
	switch p.Rounding {
	case RoundNearest, RoundDown:
	default:
		return fmt.Errorf("%w: unknown rounding %q", ErrInvalidPolicy, p.Rounding)
	}
	return nil
}

// PointsForEligibleSpend converts eligible spend into points. Never
// negative.
func (p EarnPolicy) PointsForEligibleSpend(spend decimal.Decimal) int64 {
	if spend.LessThanOrEqual(decimal.Zero) {
		return 0
	}

	raw := spend.Mul(p.EarnRate).Mul(p.PointsPerCurrencyUnit)

	var pts int64
	if p.Rounding == RoundDown {
		pts = raw.IntPart()
	} else {
		pts = raw.Round(0).IntPart()
	}
	if pts < 0 {
		return 0
	}
	return pts
}

// CurrencyValueForPoints converts points back into currency value,
// rounded to cents.
func (p EarnPolicy) CurrencyValueForPoints(points int64) decimal.Decimal {
	if points < 0 {
		points = 0
	}
	return decimal.NewFromInt(points).Div(p.PointsPerCurrencyUnit).Round(2)
}
