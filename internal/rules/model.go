package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/vaayugo-api/internal/pricing"
)

var (
	// ErrNotFound indicates the requested rule does not exist or is not visible to the caller.
	ErrNotFound = errors.New("rule not found")
	// ErrInvalidRule is returned when a rule payload fails validation.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrRuleConflict flags rule data that would break a pricing invariant, such as delivery
	// shares that do not add up to the delivery fee.
	ErrRuleConflict = errors.New("rule conflict")
	// ErrForbidden is returned when a shop tries to manage a rule it does not own.
	ErrForbidden = errors.New("rule belongs to another owner")
)

// DiscountRecord is a stored discount rule with bookkeeping timestamps.
type DiscountRecord struct {
	pricing.DiscountRule
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeliveryRecord is a stored delivery fee rule with bookkeeping timestamps.
type DeliveryRecord struct {
	pricing.DeliveryFeeRule
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lookup describes which rules a calculation needs: everything matching the scope plus
// product rules for the items in the cart.
type Lookup struct {
	Scope      pricing.Scope
	ProductIDs []string
}

// NewLookup builds a lookup for the cart lines, de-duplicating product ids.
func NewLookup(scope pricing.Scope, items []pricing.CartItem) Lookup {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.ID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Lookup{Scope: scope, ProductIDs: ids}
}

// CacheKey returns a stable key for the lookup, scoped by the rule set version.
func (l Lookup) CacheKey(version int64) string {
	var b strings.Builder
	b.WriteString("rules:v")
	b.WriteString(strconv.FormatInt(version, 10))
	b.WriteString(":s")
	b.WriteString(l.Scope.ShopKey())
	b.WriteString(":l")
	b.WriteString(l.Scope.LocationKey())
	b.WriteString(":c")
	b.WriteString(l.Scope.CategoryKey())
	if len(l.ProductIDs) > 0 {
		sum := sha256.Sum256([]byte(strings.Join(l.ProductIDs, ",")))
		b.WriteString(":p")
		b.WriteString(hex.EncodeToString(sum[:8]))
	}
	return b.String()
}

// DiscountPayload is the JSON body accepted when creating or updating a discount rule.
type DiscountPayload struct {
	Name              string           `json:"name" validate:"required,max=120"`
	Type              string           `json:"type" validate:"required,oneof=PERCENTAGE FLAT"`
	Value             decimal.Decimal  `json:"value"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount"`
	MinOrderValue     *decimal.Decimal `json:"min_order_value"`
	CreatorType       string           `json:"creator_type" validate:"omitempty,oneof=SHOP ADMIN"`
	CreatorID         *int64           `json:"creator_id" validate:"omitempty,gt=0"`
	TargetType        string           `json:"target_type" validate:"required,oneof=GLOBAL LOCATION CATEGORY SHOP PRODUCT"`
	TargetID          *string          `json:"target_id" validate:"omitempty,max=120"`
	ValidFrom         *time.Time       `json:"valid_from"`
	ValidUntil        *time.Time       `json:"valid_until"`
	IsActive          *bool            `json:"is_active"`
}

// DeliveryPayload is the JSON body accepted when creating or updating a delivery fee rule.
type DeliveryPayload struct {
	TargetType            string           `json:"target_type" validate:"required,oneof=GLOBAL LOCATION CATEGORY SHOP"`
	TargetID              *string          `json:"target_id" validate:"omitempty,max=120"`
	DeliveryFee           decimal.Decimal  `json:"delivery_fee"`
	ShopDeliveryShare     decimal.Decimal  `json:"shop_delivery_share"`
	VaayugoDeliveryShare  decimal.Decimal  `json:"vaayugo_delivery_share"`
	CommissionPercent     decimal.Decimal  `json:"commission_percent"`
	MinOrderValue         decimal.Decimal  `json:"min_order_value"`
	SmallOrderDeliveryFee *decimal.Decimal `json:"small_order_delivery_fee"`
	IsActive              *bool            `json:"is_active"`
}

// DiscountFilter narrows discount rule listings.
type DiscountFilter struct {
	CreatorType string
	CreatorID   *int64
	TargetType  string
	Limit       int
	Offset      int
}

// DeliveryFilter narrows delivery rule listings.
type DeliveryFilter struct {
	TargetType string
	Limit      int
	Offset     int
}

func normalizeTarget(t pricing.TargetType, id *string) *string {
	if t == pricing.TargetGlobal || id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	if t == pricing.TargetCategory {
		trimmed = pricing.NormalizeCategory(trimmed)
	}
	return &trimmed
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
