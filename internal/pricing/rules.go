package pricing

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType enumerates how a discount value is interpreted.
type DiscountType string

const (
	// DiscountPercentage interprets Value as percentage points of the base amount.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFlat interprets Value as a currency amount.
	DiscountFlat DiscountType = "FLAT"
)

// CreatorType identifies who owns a discount rule.
type CreatorType string

const (
	// CreatorShop marks a discount funded by the shop itself.
	CreatorShop CreatorType = "SHOP"
	// CreatorAdmin marks a platform-wide discount.
	CreatorAdmin CreatorType = "ADMIN"
)

// TargetType is the scope a rule is attached to.
type TargetType string

const (
	TargetGlobal   TargetType = "GLOBAL"
	TargetLocation TargetType = "LOCATION"
	TargetCategory TargetType = "CATEGORY"
	TargetShop     TargetType = "SHOP"
	TargetProduct  TargetType = "PRODUCT"
)

// Specificity returns the precedence rank of a target. Higher wins.
func (t TargetType) Specificity() int {
	switch t {
	case TargetShop, TargetProduct:
		return 3
	case TargetCategory:
		return 2
	case TargetLocation:
		return 1
	case TargetGlobal:
		return 0
	default:
		return -1
	}
}

// Valid reports whether t is a known target type.
func (t TargetType) Valid() bool { return t.Specificity() >= 0 }

// Scope identifies the shop, category and location an order is priced for.
type Scope struct {
	ShopID     int64
	Category   string
	LocationID int64
}

// ShopKey returns the shop id in the textual form used by rule targets.
func (s Scope) ShopKey() string { return strconv.FormatInt(s.ShopID, 10) }

// LocationKey returns the location id in the textual form used by rule targets.
func (s Scope) LocationKey() string { return strconv.FormatInt(s.LocationID, 10) }

// CategoryKey returns the normalised category used for matching.
func (s Scope) CategoryKey() string { return NormalizeCategory(s.Category) }

// NormalizeCategory trims and lower-cases a category name.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

// DiscountRule is a persisted price reduction read by the resolver.
type DiscountRule struct {
	ID                int64            `json:"id"`
	Name              string           `json:"name"`
	Type              DiscountType     `json:"type"`
	Value             decimal.Decimal  `json:"value"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty"`
	MinOrderValue     *decimal.Decimal `json:"min_order_value,omitempty"`
	CreatorType       CreatorType      `json:"creator_type"`
	CreatorID         *int64           `json:"creator_id,omitempty"`
	TargetType        TargetType       `json:"target_type"`
	TargetID          *string          `json:"target_id,omitempty"`
	ValidFrom         *time.Time       `json:"valid_from,omitempty"`
	ValidUntil        *time.Time       `json:"valid_until,omitempty"`
	IsActive          bool             `json:"is_active"`
}

// ActiveAt reports whether the rule is switched on and inside its validity window.
// Null bounds are unbounded and both bounds are inclusive.
func (r DiscountRule) ActiveAt(now time.Time) bool {
	return r.IsActive && withinWindow(now, r.ValidFrom, r.ValidUntil)
}

// DeliveryFeeRule describes the delivery fee charged for a scope and how it is shared.
type DeliveryFeeRule struct {
	ID                    int64            `json:"id"`
	TargetType            TargetType       `json:"target_type"`
	TargetID              *string          `json:"target_id,omitempty"`
	DeliveryFee           decimal.Decimal  `json:"delivery_fee"`
	ShopDeliveryShare     decimal.Decimal  `json:"shop_delivery_share"`
	VaayugoDeliveryShare  decimal.Decimal  `json:"vaayugo_delivery_share"`
	CommissionPercent     decimal.Decimal  `json:"commission_percent"`
	MinOrderValue         decimal.Decimal  `json:"min_order_value"`
	SmallOrderDeliveryFee *decimal.Decimal `json:"small_order_delivery_fee,omitempty"`
	IsActive              bool             `json:"is_active"`
}

// RuleSet bundles the rule rows fetched for a single calculation.
type RuleSet struct {
	Discounts []DiscountRule    `json:"discounts"`
	Delivery  []DeliveryFeeRule `json:"delivery"`
}

func withinWindow(now time.Time, from, until *time.Time) bool {
	if from != nil && now.Before(*from) {
		return false
	}
	if until != nil && now.After(*until) {
		return false
	}
	return true
}

func targetMatches(t TargetType, id *string, scope Scope) bool {
	switch t {
	case TargetGlobal:
		return true
	case TargetShop:
		return id != nil && strings.TrimSpace(*id) == scope.ShopKey()
	case TargetLocation:
		return id != nil && strings.TrimSpace(*id) == scope.LocationKey()
	case TargetCategory:
		return id != nil && scope.CategoryKey() != "" && NormalizeCategory(*id) == scope.CategoryKey()
	default:
		return false
	}
}
