/*
handlers.go - HTTP API handlers for the loyalty points engine

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Members:
    POST /api/merchants/{merchantID}/members/{memberRef}/accrue     Append event
    GET  /api/merchants/{merchantID}/members/{memberRef}/balance    Current balance
    GET  /api/merchants/{merchantID}/members/{memberRef}/events     Event history
    GET  /api/merchants/{merchantID}/members/{memberRef}/tier       Tier evaluation
    POST /api/merchants/{merchantID}/members/{memberRef}/reconcile  Repair cache

  Orders:
    POST /api/merchants/{merchantID}/orders/award    Per-line point issuance
    POST /api/merchants/{merchantID}/orders/refund   Partial refund adjustment

  Program configuration:
    GET  /api/merchants/{merchantID}/program  Full program (policy + tiers)
    PUT  /api/merchants/{merchantID}/program  Replace program from JSON
    GET  /api/merchants/{merchantID}/tiers    Current rule set
    PUT  /api/merchants/{merchantID}/tiers    Replace rule set

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Missing tier configuration
  - 409: Conflicting event ID
  - 503: Transient storage failure (safe to retry)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stamp/loyalty-engine/factory"
	"github.com/stamp/loyalty-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
}

// NewHandler creates a new handler backed by the given engine.
func NewHandler(engine *ledger.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// Accrue appends one point-affecting event to a member's ledger.
// POST /api/merchants/{merchantID}/members/{memberRef}/accrue
func (h *Handler) Accrue(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	memberRef := chi.URLParam(r, "memberRef")

	var req AccrueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	spend := decimal.Zero
	if req.SpendAmount != "" {
		var err error
		spend, err = decimal.NewFromString(req.SpendAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid spend_amount", err)
			return
		}
	}

	result, err := h.Engine.Accrue(r.Context(), ledger.AccrueInput{
		MerchantID:     ledger.MerchantID(merchantID),
		MemberRef:      ledger.MemberRef(memberRef),
		Type:           ledger.EventType(req.EventType),
		PointsDelta:    req.PointsDelta,
		IdempotencyKey: req.IdempotencyKey,
		RelatedRef:     req.RelatedRef,
		RelatedLineRef: req.RelatedLineRef,
		Reason:         req.Reason,
		Metadata:       req.Metadata,
		SpendDelta:     spend,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, AccrueResponseDTO{
		EventID:          string(result.Event.ID),
		ResultingBalance: result.Balance,
		Replayed:         result.Replayed,
	})
}

// GetBalance returns a member's current points balance.
// GET /api/merchants/{merchantID}/members/{memberRef}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	memberRef := chi.URLParam(r, "memberRef")

	points, err := h.Engine.Balance(r.Context(), ledger.MerchantID(merchantID), ledger.MemberRef(memberRef))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	spend, err := h.Engine.LifetimeSpend(r.Context(), ledger.MerchantID(merchantID), ledger.MemberRef(memberRef))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		MerchantID:    merchantID,
		MemberRef:     memberRef,
		Points:        points,
		LifetimeSpend: spend.String(),
	})
}

// GetEvents returns a member's most recent events, oldest first.
// GET /api/merchants/{merchantID}/members/{memberRef}/events?limit=N
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	memberRef := chi.URLParam(r, "memberRef")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	events, err := h.Engine.History(r.Context(), ledger.MerchantID(merchantID), ledger.MemberRef(memberRef), limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEventDTOs(events))
}

// GetTier evaluates the member's current tier on demand.
// GET /api/merchants/{merchantID}/members/{memberRef}/tier
func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	memberRef := chi.URLParam(r, "memberRef")

	st, ok, err := h.Engine.RecalculateTier(r.Context(), ledger.MerchantID(merchantID), ledger.MemberRef(memberRef))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTierDTO(st, ok))
}

// Reconcile replays the member's ledger and repairs the cached balance.
// POST /api/merchants/{merchantID}/members/{memberRef}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	memberRef := chi.URLParam(r, "memberRef")

	result, err := h.Engine.ReconcileBalance(r.Context(), ledger.MerchantID(merchantID), ledger.MemberRef(memberRef))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ReconcileDTO{
		Points:    result.Points,
		Corrected: result.Corrected,
	})
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// AwardOrder issues per-line earn events for a completed order.
// POST /api/merchants/{merchantID}/orders/award
func (h *Handler) AwardOrder(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")

	var req AwardOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	order, err := toOrder(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	result, err := h.Engine.AwardOrder(r.Context(), ledger.MerchantID(merchantID), order)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAwardDTO(result))
}

// RefundOrder removes points for a partial refund against an order.
// POST /api/merchants/{merchantID}/orders/refund
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")

	var req RefundOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	refunded := make(map[string]decimal.Decimal, len(req.RefundedByLine))
	for lineRef, raw := range req.RefundedByLine {
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid refund amount", err)
			return
		}
		refunded[lineRef] = amt
	}

	result, err := h.Engine.RefundOrder(r.Context(), ledger.MerchantID(merchantID), ledger.RefundInput{
		OrderRef:       req.OrderRef,
		RefundRef:      req.RefundRef,
		MemberRef:      ledger.MemberRef(req.MemberRef),
		RefundedByLine: refunded,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAwardDTO(result))
}

// =============================================================================
// PROGRAM HANDLERS
// =============================================================================

// GetProgram returns the merchant's full program (earn policy + tiers).
// GET /api/merchants/{merchantID}/program
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")

	policy, err := h.Engine.EarnPolicy(r.Context(), ledger.MerchantID(merchantID))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	program := factory.Program{Policy: policy}
	rs, err := h.Engine.TierRules(r.Context(), ledger.MerchantID(merchantID))
	if err != nil && !errors.Is(err, ledger.ErrNoRules) {
		writeLedgerError(w, err)
		return
	}
	program.Tiers = rs

	writeJSON(w, http.StatusOK, factory.ToJSON(program))
}

// PutProgram replaces the merchant's program from one JSON document.
// PUT /api/merchants/{merchantID}/program
func (h *Handler) PutProgram(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")

	var pj factory.ProgramJSON
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	program, err := factory.FromJSON(merchantID, pj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid program", err)
		return
	}

	if err := h.Engine.ConfigureEarnPolicy(r.Context(), ledger.MerchantID(merchantID), program.Policy); err != nil {
		writeLedgerError(w, err)
		return
	}
	if len(program.Tiers.Rules) > 0 {
		if err := h.Engine.ConfigureTiers(r.Context(), program.Tiers); err != nil {
			writeLedgerError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, factory.ToJSON(program))
}

// =============================================================================
// TIER CONFIGURATION HANDLERS
// =============================================================================

// GetTierRules returns a merchant's tier configuration.
// GET /api/merchants/{merchantID}/tiers
func (h *Handler) GetTierRules(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")

	rs, err := h.Engine.TierRules(r.Context(), ledger.MerchantID(merchantID))
	if err != nil {
		if errors.Is(err, ledger.ErrNoRules) {
			writeError(w, http.StatusNotFound, "No tier rules configured", err)
			return
		}
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTierRulesDTO(rs))
}

// PutTierRules replaces a merchant's tier configuration.
// PUT /api/merchants/{merchantID}/tiers
func (h *Handler) PutTierRules(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")

	var req TierRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rs, err := toRuleSet(merchantID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid threshold", err)
		return
	}

	if err := h.Engine.ConfigureTiers(r.Context(), rs); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTierRulesDTO(rs))
}

// =============================================================================
// HELPERS
// =============================================================================

// writeLedgerError maps engine errors to HTTP status codes.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrDuplicateEventID):
		writeError(w, http.StatusConflict, "Conflicting event ID", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, "Storage busy, retry later", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
