/*
Package factory provides JSON to Go loyalty program conversion.

PURPOSE:
  Converts JSON program definitions into tier.RuleSet and
  rewards.EarnPolicy objects. This enables program configuration without
  code changes - merchant admins define programs in JSON, and the factory
  creates the proper Go structs.

WHY JSON?
  - Non-developers can modify programs
  - Easy integration with admin UI
  - Version control for program definitions
  - Database storage of program configs

JSON SCHEMA:
  {
    "program_name": "Exclusivity",
    "currency": "USD",
    "tier_basis": "spend",
    "tiers": [
      {"name": "Bronze", "min_threshold": "0"},
      {"name": "Silver", "min_threshold": "500"},
      {"name": "Gold", "min_threshold": "2000"}
    ],
    "points_rule": {
      "points_per_currency_unit": "100",
      "earn_rate": "0.02",
      "rounding": "nearest"
    }
  }

KEY FEATURES:
  - Validates JSON structure
  - Sets sensible defaults (missing points_rule falls back to the
    canonical defaults)
  - Round-trips back to JSON for storage

USAGE:
  program, err := factory.ParseProgram(merchantID, jsonStr)
  // program.Tiers   -> tier.RuleSet
  // program.Policy  -> rewards.EarnPolicy

SEE ALSO:
  - tier/: rule set definition and evaluation
  - rewards/: earn policy and points math
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stamp/loyalty-engine/rewards"
	"github.com/stamp/loyalty-engine/tier"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProgramJSON is the JSON representation of a merchant loyalty program.
type ProgramJSON struct {
	ProgramName string           `json:"program_name,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	TierBasis   string           `json:"tier_basis,omitempty"` // points or spend
	Tiers       []TierJSON       `json:"tiers,omitempty"`
	PointsRule  *PointsRuleJSON  `json:"points_rule,omitempty"`
}

// TierJSON represents one tier boundary.
type TierJSON struct {
	Name         string `json:"name"`
	MinThreshold string `json:"min_threshold"`
}

// PointsRuleJSON represents the points valuation configuration.
type PointsRuleJSON struct {
	PointsPerCurrencyUnit string `json:"points_per_currency_unit,omitempty"`
	EarnRate              string `json:"earn_rate,omitempty"`
	Rounding              string `json:"rounding,omitempty"`
}

// =============================================================================
// PROGRAM
// =============================================================================

// Program is the parsed, validated loyalty program.
type Program struct {
	Name     string
	Currency string
	Tiers    tier.RuleSet
	Policy   rewards.EarnPolicy
}

// ParseProgram parses a JSON string into a Program for the merchant.
func ParseProgram(merchantID, jsonStr string) (Program, error) {
	var pj ProgramJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return Program{}, fmt.Errorf("failed to parse program JSON: %w", err)
	}
	return FromJSON(merchantID, pj)
}

// FromJSON converts ProgramJSON to a validated Program.
func FromJSON(merchantID string, pj ProgramJSON) (Program, error) {
	program := Program{
		Name:     pj.ProgramName,
		Currency: pj.Currency,
	}
	if program.Name == "" {
		program.Name = "Loyalty"
	}
	if program.Currency == "" {
		program.Currency = "USD"
	}

	// Tier rules
	basis := tier.BasisSpend
	if pj.TierBasis != "" {
		basis = tier.Basis(pj.TierBasis)
	}
	rs := tier.RuleSet{MerchantID: merchantID, Basis: basis}
	for _, tj := range pj.Tiers {
		threshold, err := decimal.NewFromString(tj.MinThreshold)
		if err != nil {
			return Program{}, fmt.Errorf("invalid tier threshold %q: %w", tj.MinThreshold, err)
		}
		rs.Rules = append(rs.Rules, tier.Rule{Threshold: threshold, Name: tj.Name})
	}
	if len(rs.Rules) > 0 {
		if err := rs.Validate(); err != nil {
			return Program{}, err
		}
	}
	program.Tiers = rs

	// Earn policy (defaults for anything omitted)
	policy := rewards.DefaultPolicy()
	if pj.PointsRule != nil {
		if pj.PointsRule.PointsPerCurrencyUnit != "" {
			v, err := decimal.NewFromString(pj.PointsRule.PointsPerCurrencyUnit)
			if err != nil {
				return Program{}, fmt.Errorf("invalid points_per_currency_unit: %w", err)
			}
			policy.PointsPerCurrencyUnit = v
		}
		if pj.PointsRule.EarnRate != "" {
			v, err := decimal.NewFromString(pj.PointsRule.EarnRate)
			if err != nil {
				return Program{}, fmt.Errorf("invalid earn_rate: %w", err)
			}
			policy.EarnRate = v
		}
		if pj.PointsRule.Rounding != "" {
			policy.Rounding = rewards.Rounding(pj.PointsRule.Rounding)
		}
	}
	if err := policy.Validate(); err != nil {
		return Program{}, err
	}
	program.Policy = policy

	return program, nil
}

// ToJSON converts a Program back to its JSON representation.
func ToJSON(p Program) ProgramJSON {
	pj := ProgramJSON{
		ProgramName: p.Name,
		Currency:    p.Currency,
		TierBasis:   string(p.Tiers.Basis),
		PointsRule: &PointsRuleJSON{
			PointsPerCurrencyUnit: p.Policy.PointsPerCurrencyUnit.String(),
			EarnRate:              p.Policy.EarnRate.String(),
			Rounding:              string(p.Policy.Rounding),
		},
	}
	for _, r := range p.Tiers.Sorted() {
		pj.Tiers = append(pj.Tiers, TierJSON{Name: r.Name, MinThreshold: r.Threshold.String()})
	}
	return pj
}
