/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Structural validation (JSON decoding, decimal parsing) happens here;
  domain validation belongs to the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stamp/loyalty-engine/ledger"
	"github.com/stamp/loyalty-engine/rewards"
	"github.com/stamp/loyalty-engine/tier"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AccrueRequest is the request to append one point-affecting event.
type AccrueRequest struct {
	EventType      string            `json:"event_type"`
	PointsDelta    int64             `json:"points_delta"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	RelatedRef     string            `json:"related_ref,omitempty"`
	RelatedLineRef string            `json:"related_line_ref,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	SpendAmount    string            `json:"spend_amount,omitempty"` // decimal string
}

// AccrueResponseDTO reports the committed (or replayed) event and the
// resulting balance.
type AccrueResponseDTO struct {
	EventID          string `json:"event_id"`
	ResultingBalance int64  `json:"resulting_balance"`
	Replayed         bool   `json:"replayed"`
}

// BalanceDTO is a member's current standing.
type BalanceDTO struct {
	MerchantID    string `json:"merchant_id"`
	MemberRef     string `json:"member_ref"`
	Points        int64  `json:"points"`
	LifetimeSpend string `json:"lifetime_spend,omitempty"`
}

// EventDTO represents one ledger event.
type EventDTO struct {
	EventID        string            `json:"event_id"`
	MerchantID     string            `json:"merchant_id"`
	MemberRef      string            `json:"member_ref"`
	EventType      string            `json:"event_type"`
	PointsDelta    int64             `json:"points_delta"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	RelatedRef     string            `json:"related_ref,omitempty"`
	RelatedLineRef string            `json:"related_line_ref,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      string            `json:"created_at"`
}

// TierDTO is the result of an on-demand tier evaluation. Tier is null
// when no rule qualifies.
type TierDTO struct {
	Tier          *string `json:"tier"`
	Threshold     string  `json:"threshold,omitempty"`
	NextTier      string  `json:"next_tier,omitempty"`
	NextThreshold string  `json:"next_threshold,omitempty"`
	Remaining     string  `json:"remaining,omitempty"`
	IsTopTier     bool    `json:"is_top_tier,omitempty"`
}

// TierRuleDTO is one (threshold, name) boundary.
type TierRuleDTO struct {
	Threshold string `json:"threshold"`
	Name      string `json:"name"`
}

// TierRulesRequest configures a merchant's tier program.
type TierRulesRequest struct {
	Basis string        `json:"basis"` // "points" or "spend"
	Rules []TierRuleDTO `json:"rules"`
}

// TierRulesDTO is a merchant's current configuration.
type TierRulesDTO struct {
	MerchantID string        `json:"merchant_id"`
	Basis      string        `json:"basis"`
	Rules      []TierRuleDTO `json:"rules"`
}

// ReconcileDTO reports the administrative repair outcome.
type ReconcileDTO struct {
	Points    int64 `json:"points"`
	Corrected bool  `json:"corrected"`
}

// OrderLineRequest is one line of an order award request.
type OrderLineRequest struct {
	LineRef    string `json:"line_ref"`
	ProductRef string `json:"product_ref,omitempty"`
	Title      string `json:"title,omitempty"`
	UnitPrice  string `json:"unit_price"` // decimal string
	Quantity   int    `json:"quantity"`
	Ineligible bool   `json:"ineligible,omitempty"`
}

// AwardOrderRequest requests per-line point issuance for an order.
type AwardOrderRequest struct {
	OrderRef       string             `json:"order_ref"`
	MemberRef      string             `json:"member_ref"`
	Currency       string             `json:"currency,omitempty"`
	DiscountsTotal string             `json:"discounts_total,omitempty"` // decimal string
	Lines          []OrderLineRequest `json:"lines"`
}

// RefundOrderRequest requests point removal for a partial refund.
type RefundOrderRequest struct {
	OrderRef       string            `json:"order_ref"`
	RefundRef      string            `json:"refund_ref"`
	MemberRef      string            `json:"member_ref"`
	RefundedByLine map[string]string `json:"refunded_by_line"` // line_ref -> decimal string
}

// AwardDTO reports the outcome of an order award or refund adjustment.
type AwardDTO struct {
	EligibleSpend    string     `json:"eligible_spend,omitempty"`
	Points           int64      `json:"points"`
	ResultingBalance int64      `json:"resulting_balance"`
	Events           []EventDTO `json:"events"`
	Replayed         int        `json:"replayed,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toEventDTO(ev ledger.Event) EventDTO {
	return EventDTO{
		EventID:        string(ev.ID),
		MerchantID:     string(ev.MerchantID),
		MemberRef:      string(ev.MemberRef),
		EventType:      string(ev.Type),
		PointsDelta:    ev.PointsDelta,
		IdempotencyKey: ev.IdempotencyKey,
		RelatedRef:     ev.RelatedRef,
		RelatedLineRef: ev.RelatedLineRef,
		Reason:         ev.Reason,
		Metadata:       ev.Metadata,
		CreatedAt:      ev.CreatedAt.Format(time.RFC3339),
	}
}

func toEventDTOs(events []ledger.Event) []EventDTO {
	dtos := make([]EventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toEventDTO(ev)
	}
	return dtos
}

func toTierDTO(st tier.Status, ok bool) TierDTO {
	if !ok {
		return TierDTO{Tier: nil}
	}
	name := st.Name
	dto := TierDTO{
		Tier:      &name,
		Threshold: st.Threshold.String(),
		IsTopTier: st.IsTopTier,
	}
	if !st.IsTopTier {
		dto.NextTier = st.NextName
		dto.NextThreshold = st.NextThreshold.String()
		dto.Remaining = st.Remaining.String()
	}
	return dto
}

func toRuleSet(merchantID string, req TierRulesRequest) (tier.RuleSet, error) {
	rs := tier.RuleSet{MerchantID: merchantID, Basis: tier.Basis(req.Basis)}
	for _, r := range req.Rules {
		threshold, err := decimal.NewFromString(r.Threshold)
		if err != nil {
			return tier.RuleSet{}, err
		}
		rs.Rules = append(rs.Rules, tier.Rule{Threshold: threshold, Name: r.Name})
	}
	return rs, nil
}

func toOrder(req AwardOrderRequest) (rewards.Order, error) {
	order := rewards.Order{
		OrderRef:  req.OrderRef,
		MemberRef: req.MemberRef,
		Currency:  req.Currency,
	}
	if req.DiscountsTotal != "" {
		d, err := decimal.NewFromString(req.DiscountsTotal)
		if err != nil {
			return rewards.Order{}, err
		}
		order.DiscountsTotal = d
	}
	for _, lr := range req.Lines {
		price, err := decimal.NewFromString(lr.UnitPrice)
		if err != nil {
			return rewards.Order{}, err
		}
		order.Lines = append(order.Lines, rewards.OrderLine{
			LineRef:    lr.LineRef,
			ProductRef: lr.ProductRef,
			Title:      lr.Title,
			UnitPrice:  price,
			Quantity:   lr.Quantity,
			Eligible:   !lr.Ineligible,
		})
	}
	return order, nil
}

func toAwardDTO(res ledger.AwardResult) AwardDTO {
	dto := AwardDTO{
		Points:           res.Points,
		ResultingBalance: res.Balance,
		Events:           toEventDTOs(res.Events),
		Replayed:         res.Replayed,
	}
	if !res.EligibleSpend.IsZero() {
		dto.EligibleSpend = res.EligibleSpend.String()
	}
	if dto.Events == nil {
		dto.Events = []EventDTO{}
	}
	return dto
}

func toTierRulesDTO(rs tier.RuleSet) TierRulesDTO {
	dto := TierRulesDTO{MerchantID: rs.MerchantID, Basis: string(rs.Basis)}
	for _, r := range rs.Sorted() {
		dto.Rules = append(dto.Rules, TierRuleDTO{Threshold: r.Threshold.String(), Name: r.Name})
	}
	return dto
}
