package cart

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/vaayugo-api/internal/common"
	"github.com/noah-isme/vaayugo-api/internal/pricing"
)

// Handler exposes cart pricing over HTTP.
type Handler struct {
	Svc *Service
	// Currency is the ISO code echoed with every breakdown.
	Currency string
}

// ItemID accepts product ids sent either as JSON strings or numbers.
type ItemID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ItemID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ItemID(n.String())
	return nil
}

// ItemRequest is one cart line as sent by clients.
type ItemRequest struct {
	ID       ItemID          `json:"id"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	IsXerox  bool            `json:"is_xerox"`
}

// CalculateRequest is the body of POST /cart/calculate.
type CalculateRequest struct {
	Items    []ItemRequest `json:"items"`
	ShopID   int64         `json:"shop_id"`
	Category string        `json:"category"`
}

var maxQuantity = decimal.NewFromInt(math.MaxInt32)

// Input converts the request into service input. Quantities may arrive as 2 or 2.0 but must be
// whole numbers; sign checks are left to pricing.ValidateCart.
func (r CalculateRequest) Input() (CalculateInput, error) {
	items := make([]pricing.CartItem, 0, len(r.Items))
	for i, it := range r.Items {
		if !it.Quantity.IsInteger() {
			return CalculateInput{}, fmt.Errorf("item %d: quantity must be a whole number: %w", i, pricing.ErrInvalidInput)
		}
		if it.Quantity.Abs().GreaterThan(maxQuantity) {
			return CalculateInput{}, fmt.Errorf("item %d: quantity is too large: %w", i, pricing.ErrInvalidInput)
		}
		items = append(items, pricing.CartItem{
			ID:       string(it.ID),
			Price:    it.Price,
			Quantity: int(it.Quantity.IntPart()),
			IsXerox:  it.IsXerox,
		})
	}
	return CalculateInput{Items: items, ShopID: r.ShopID, Category: r.Category}, nil
}

// AppliedRuleResponse describes a discount shown on the checkout screen.
type AppliedRuleResponse struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Value       json.Number `json:"value"`
	CreatorType string      `json:"creator_type"`
	TargetType  string      `json:"target_type"`
	Amount      json.Number `json:"amount"`
}

// CalculateResponse is the rendered breakdown. Amounts carry two fractional digits.
type CalculateResponse struct {
	SubtotalAmount         json.Number `json:"subtotal_amount"`
	ShopDiscountAmount     json.Number `json:"shop_discount_amount"`
	PlatformDiscountAmount json.Number `json:"platform_discount_amount"`
	DeliveryFee            json.Number `json:"delivery_fee"`
	IsSmallOrder           bool        `json:"is_small_order"`
	TotalPayable           json.Number `json:"total_payable"`
	AppliedRules           struct {
		Shop     *AppliedRuleResponse `json:"shop"`
		Platform *AppliedRuleResponse `json:"platform"`
	} `json:"applied_rules"`
	ShopDeliveryShare     json.Number `json:"shop_delivery_share"`
	PlatformDeliveryShare json.Number `json:"platform_delivery_share"`
	CommissionPercent     json.Number `json:"commission_percent"`
	CommissionAmount      json.Number `json:"commission_amount"`
	ShopPayout            json.Number `json:"shop_payout"`
	DeliveryRuleID        int64       `json:"delivery_rule_id"`
	LocationID            int64       `json:"location_id"`
	Category              string      `json:"category"`
	Currency              string      `json:"currency,omitempty"`
}

// NewCalculateResponse rounds a quote half-up to two digits for display.
func NewCalculateResponse(q Quote) CalculateResponse {
	b := q.Breakdown.Rounded()
	resp := CalculateResponse{
		SubtotalAmount:         amount(b.Subtotal),
		ShopDiscountAmount:     amount(b.ShopDiscount),
		PlatformDiscountAmount: amount(b.PlatformDiscount),
		DeliveryFee:            amount(b.DeliveryFee),
		IsSmallOrder:           b.IsSmallOrder,
		TotalPayable:           amount(b.TotalPayable),
		ShopDeliveryShare:      amount(b.ShopDeliveryShare),
		PlatformDeliveryShare:  amount(b.PlatformDeliveryShare),
		CommissionPercent:      amount(b.CommissionPercent),
		CommissionAmount:       amount(b.CommissionAmount),
		ShopPayout:             amount(b.ShopPayout),
		DeliveryRuleID:         b.DeliveryRuleID,
		LocationID:             q.Scope.LocationID,
		Category:               q.Scope.CategoryKey(),
	}
	resp.AppliedRules.Shop = appliedRule(b.AppliedRules.Shop)
	resp.AppliedRules.Platform = appliedRule(b.AppliedRules.Platform)
	return resp
}

func appliedRule(r *pricing.AppliedRule) *AppliedRuleResponse {
	if r == nil {
		return nil
	}
	return &AppliedRuleResponse{
		ID:          r.ID,
		Name:        r.Name,
		Type:        string(r.Type),
		Value:       amount(r.Value),
		CreatorType: string(r.CreatorType),
		TargetType:  string(r.TargetType),
		Amount:      amount(r.Amount),
	}
}

func amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// Calculate handles POST /cart/calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONMessage(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured")
		return
	}
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONMessage(w, http.StatusBadRequest, "INVALID_INPUT", "invalid cart payload")
		return
	}
	in, err := req.Input()
	if err != nil {
		WriteError(w, r, err)
		return
	}
	callerID, _ := common.UserIDInt(r.Context())
	quote, err := h.Svc.Calculate(r.Context(), in, callerID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	resp := NewCalculateResponse(quote)
	resp.Currency = h.Currency
	common.JSON(w, http.StatusOK, resp)
}

// WriteError renders a calculation failure as a flat {"error": message} body.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pricing.ErrInvalidInput):
		common.JSONMessage(w, http.StatusBadRequest, "INVALID_INPUT", strings.TrimSuffix(err.Error(), ": "+pricing.ErrInvalidInput.Error()))
	case errors.Is(err, ErrNotFound):
		common.JSONMessage(w, http.StatusNotFound, "NOT_FOUND", retryMessage)
	case errors.Is(err, pricing.ErrOrderBelowMinimum):
		common.JSONMessage(w, http.StatusUnprocessableEntity, "ORDER_BELOW_MINIMUM", err.Error())
	case errors.Is(err, pricing.ErrDeliveryUnavailable):
		common.JSONMessage(w, http.StatusUnprocessableEntity, "DELIVERY_UNAVAILABLE", err.Error())
	case errors.Is(err, ErrRulesUnavailable):
		common.JSONMessage(w, http.StatusServiceUnavailable, "UNAVAILABLE", retryMessage)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("cart calculation failed")
		common.JSONMessage(w, http.StatusInternalServerError, "INTERNAL", retryMessage)
	}
}
