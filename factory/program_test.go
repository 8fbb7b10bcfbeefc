package factory_test

import (
	"errors"
	"testing"

	"github.com/stamp/loyalty-engine/factory"
	"github.com/stamp/loyalty-engine/rewards"
	"github.com/stamp/loyalty-engine/tier"
)

const exampleProgram = `{
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
		"earn_rate": "0.05",
		"rounding": "down"
	}
}`

func TestParseProgram_FullDocument(t *testing.T) {
	// GIVEN: a complete program definition
	program, err := factory.ParseProgram("m1", exampleProgram)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	// THEN: every section is populated
	if program.Name != "Exclusivity" || program.Currency != "USD" {
		t.Errorf("got %s/%s, want Exclusivity/USD", program.Name, program.Currency)
	}
	if program.Tiers.Basis != tier.BasisSpend {
		t.Errorf("basis %s, want spend", program.Tiers.Basis)
	}
	if len(program.Tiers.Rules) != 3 {
		t.Fatalf("got %d tiers, want 3", len(program.Tiers.Rules))
	}
	if program.Policy.Rounding != rewards.RoundDown {
		t.Errorf("rounding %s, want down", program.Policy.Rounding)
	}
	if got := program.Policy.EarnRate.String(); got != "0.05" {
		t.Errorf("earn rate %s, want 0.05", got)
	}
}

func TestParseProgram_DefaultsForOmittedSections(t *testing.T) {
	// A minimal document gets the canonical defaults
	program, err := factory.ParseProgram("m1", `{}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if program.Name != "Loyalty" {
		t.Errorf("name %s, want the default", program.Name)
	}
	if program.Currency != "USD" {
		t.Errorf("currency %s, want USD", program.Currency)
	}
	def := rewards.DefaultPolicy()
	if !program.Policy.EarnRate.Equal(def.EarnRate) {
		t.Errorf("earn rate %s, want the default %s", program.Policy.EarnRate, def.EarnRate)
	}
	if len(program.Tiers.Rules) != 0 {
		t.Errorf("got %d tiers, want none", len(program.Tiers.Rules))
	}
}

func TestParseProgram_PartialPointsRule(t *testing.T) {
	// Only the earn rate overridden; the rest stays default
	program, err := factory.ParseProgram("m1", `{"points_rule": {"earn_rate": "0.10"}}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	def := rewards.DefaultPolicy()
	if got := program.Policy.EarnRate.String(); got != "0.1" {
		t.Errorf("earn rate %s, want 0.1", got)
	}
	if !program.Policy.PointsPerCurrencyUnit.Equal(def.PointsPerCurrencyUnit) {
		t.Error("points_per_currency_unit must keep its default")
	}
}

func TestParseProgram_Rejections(t *testing.T) {
	cases := map[string]string{
		"malformed JSON":     `{`,
		"bad threshold":      `{"tier_basis": "points", "tiers": [{"name": "Gold", "min_threshold": "lots"}]}`,
		"bad earn rate":      `{"points_rule": {"earn_rate": "1.5"}}`,
		"unknown rounding":   `{"points_rule": {"rounding": "banker"}}`,
		"unknown tier basis": `{"tier_basis": "vibes", "tiers": [{"name": "Gold", "min_threshold": "0"}]}`,
	}

	for name, doc := range cases {
		if _, err := factory.ParseProgram("m1", doc); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestParseProgram_DuplicateTierThresholds(t *testing.T) {
	doc := `{
		"tier_basis": "points",
		"tiers": [
			{"name": "Gold", "min_threshold": "100"},
			{"name": "Platinum", "min_threshold": "100"}
		]
	}`

	_, err := factory.ParseProgram("m1", doc)
	if !errors.Is(err, tier.ErrDuplicateThreshold) {
		t.Errorf("got %v, want ErrDuplicateThreshold", err)
	}
}

func TestToJSON_RoundTrip(t *testing.T) {
	program, err := factory.ParseProgram("m1", exampleProgram)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pj := factory.ToJSON(program)
	if pj.ProgramName != "Exclusivity" || pj.TierBasis != "spend" {
		t.Errorf("got %s/%s, want Exclusivity/spend", pj.ProgramName, pj.TierBasis)
	}
	if len(pj.Tiers) != 3 || pj.Tiers[0].Name != "Bronze" {
		t.Error("tiers must round-trip sorted by threshold")
	}
	if pj.PointsRule == nil || pj.PointsRule.EarnRate != "0.05" {
		t.Error("points rule must round-trip")
	}

	// And the emitted JSON parses back to the same program
	back, err := factory.FromJSON("m1", pj)
	if err != nil {
		t.Fatalf("round-trip parse failed: %v", err)
	}
	if !back.Policy.EarnRate.Equal(program.Policy.EarnRate) {
		t.Error("earn rate changed across the round trip")
	}
}
