package pricing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput is returned for malformed carts or missing scope identifiers.
	ErrInvalidInput = errors.New("invalid input")
	// ErrOrderBelowMinimum blocks checkout when the subtotal is under the delivery minimum
	// and the matching rule has no small-order fee.
	ErrOrderBelowMinimum = errors.New("order below minimum, no small-order fee configured")
	// ErrDeliveryUnavailable indicates no delivery fee rule covers the scope.
	ErrDeliveryUnavailable = errors.New("delivery not available for this shop")
)

// Money is a decimal currency amount carried at full precision.
type Money = decimal.Decimal

var hundred = decimal.NewFromInt(100)

// CartItem is a single client-supplied cart line.
type CartItem struct {
	ID       string
	Price    Money
	Quantity int
	IsXerox  bool
}

// Subtotal returns price * quantity for the line.
func (it CartItem) Subtotal() Money {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// AppliedRule summarises a discount rule that contributed to the breakdown.
type AppliedRule struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Type        DiscountType `json:"type"`
	Value       Money        `json:"value"`
	CreatorType CreatorType  `json:"creator_type"`
	TargetType  TargetType   `json:"target_type"`
	Amount      Money        `json:"amount"`
}

// AppliedRules holds at most one shop and one platform discount.
type AppliedRules struct {
	Shop     *AppliedRule `json:"shop"`
	Platform *AppliedRule `json:"platform"`
}

// Breakdown is the itemised result of a calculation.
type Breakdown struct {
	Subtotal              Money
	ShopDiscount          Money
	PlatformDiscount      Money
	DeliveryFee           Money
	IsSmallOrder          bool
	TotalPayable          Money
	ShopDeliveryShare     Money
	PlatformDeliveryShare Money
	CommissionPercent     Money
	CommissionAmount      Money
	ShopPayout            Money
	DeliveryRuleID        int64
	AppliedRules          AppliedRules
}

// Rounded returns a copy with every currency amount rounded half-up to two fractional digits.
func (b Breakdown) Rounded() Breakdown {
	out := b
	out.Subtotal = round2(b.Subtotal)
	out.ShopDiscount = round2(b.ShopDiscount)
	out.PlatformDiscount = round2(b.PlatformDiscount)
	out.DeliveryFee = round2(b.DeliveryFee)
	out.TotalPayable = round2(b.TotalPayable)
	out.ShopDeliveryShare = round2(b.ShopDeliveryShare)
	out.PlatformDeliveryShare = round2(b.PlatformDeliveryShare)
	out.CommissionAmount = round2(b.CommissionAmount)
	out.ShopPayout = round2(b.ShopPayout)
	if b.AppliedRules.Shop != nil {
		r := *b.AppliedRules.Shop
		r.Amount = round2(r.Amount)
		out.AppliedRules.Shop = &r
	}
	if b.AppliedRules.Platform != nil {
		r := *b.AppliedRules.Platform
		r.Amount = round2(r.Amount)
		out.AppliedRules.Platform = &r
	}
	return out
}

// ValidateCart checks the cart and scope before any rule lookup happens.
func ValidateCart(items []CartItem, scope Scope) error {
	if scope.ShopID <= 0 {
		return fmt.Errorf("shop_id is required: %w", ErrInvalidInput)
	}
	if len(items) == 0 {
		return fmt.Errorf("cart is empty: %w", ErrInvalidInput)
	}
	for i, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return fmt.Errorf("item %d: id is required: %w", i, ErrInvalidInput)
		}
		if !it.Price.IsPositive() {
			return fmt.Errorf("item %d: price must be positive: %w", i, ErrInvalidInput)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive: %w", i, ErrInvalidInput)
		}
	}
	return nil
}

// Calculate prices a cart against the supplied rule set. It holds no state and performs no I/O,
// so identical inputs always produce identical output.
func Calculate(items []CartItem, scope Scope, rules RuleSet, now time.Time) (Breakdown, error) {
	if err := ValidateCart(items, scope); err != nil {
		return Breakdown{}, err
	}
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Subtotal())
	}

	var out Breakdown
	out.Subtotal = subtotal
	out.ShopDiscount = decimal.Zero
	out.PlatformDiscount = decimal.Zero

	if shop := selectDiscount(rules.Discounts, CreatorShop, items, scope, subtotal, now); shop != nil {
		out.ShopDiscount = shop.Amount
		out.AppliedRules.Shop = shop
	}
	if platform := selectDiscount(rules.Discounts, CreatorAdmin, items, scope, subtotal, now); platform != nil {
		out.PlatformDiscount = platform.Amount
		out.AppliedRules.Platform = platform
	}

	rule, ok := SelectDeliveryRule(rules.Delivery, scope)
	if !ok {
		return Breakdown{}, ErrDeliveryUnavailable
	}
	if err := applyDelivery(&out, rule, subtotal); err != nil {
		return Breakdown{}, err
	}

	discounted := subtotal.Sub(out.ShopDiscount).Sub(out.PlatformDiscount)
	if discounted.IsNegative() {
		discounted = decimal.Zero
	}
	out.TotalPayable = discounted.Add(out.DeliveryFee)
	out.CommissionPercent = rule.CommissionPercent
	out.CommissionAmount = subtotal.Mul(rule.CommissionPercent).Div(hundred)
	out.ShopPayout = subtotal.Sub(out.ShopDiscount).Sub(out.CommissionAmount).Add(out.ShopDeliveryShare)
	return out, nil
}

// DiscountAmount computes what a rule takes off the given base amount. Percentage discounts honour
// the optional cap and no discount ever exceeds the base.
func DiscountAmount(r DiscountRule, base Money) Money {
	if !base.IsPositive() || !r.Value.IsPositive() {
		return decimal.Zero
	}
	var amount Money
	switch r.Type {
	case DiscountPercentage:
		amount = base.Mul(r.Value).Div(hundred)
		if r.MaxDiscountAmount != nil && !r.MaxDiscountAmount.IsNegative() && amount.GreaterThan(*r.MaxDiscountAmount) {
			amount = *r.MaxDiscountAmount
		}
	case DiscountFlat:
		amount = r.Value
	default:
		return decimal.Zero
	}
	if amount.GreaterThan(base) {
		amount = base
	}
	return amount
}

func selectDiscount(rules []DiscountRule, creator CreatorType, items []CartItem, scope Scope, subtotal Money, now time.Time) *AppliedRule {
	var (
		best     *AppliedRule
		bestRank int
	)
	for _, r := range rules {
		if r.CreatorType != creator || !r.ActiveAt(now) {
			continue
		}
		if creator == CreatorShop && (r.CreatorID == nil || *r.CreatorID != scope.ShopID) {
			continue
		}
		if r.MinOrderValue != nil && subtotal.LessThan(*r.MinOrderValue) {
			continue
		}
		base, ok := discountBase(r, items, scope, subtotal)
		if !ok {
			continue
		}
		amount := DiscountAmount(r, base)
		rank := r.TargetType.Specificity()
		if best != nil && !outranks(rank, amount, r.ID, bestRank, best.Amount, best.ID) {
			continue
		}
		best = &AppliedRule{
			ID:          r.ID,
			Name:        r.Name,
			Type:        r.Type,
			Value:       r.Value,
			CreatorType: r.CreatorType,
			TargetType:  r.TargetType,
			Amount:      amount,
		}
		bestRank = rank
	}
	return best
}

// discountBase returns the amount a rule applies to and whether the rule targets this order at all.
// Product rules only discount the matching lines.
func discountBase(r DiscountRule, items []CartItem, scope Scope, subtotal Money) (Money, bool) {
	if r.TargetType != TargetProduct {
		return subtotal, targetMatches(r.TargetType, r.TargetID, scope)
	}
	if r.TargetID == nil {
		return decimal.Zero, false
	}
	target := strings.TrimSpace(*r.TargetID)
	eligible := decimal.Zero
	matched := false
	for _, it := range items {
		if strings.TrimSpace(it.ID) == target {
			eligible = eligible.Add(it.Subtotal())
			matched = true
		}
	}
	return eligible, matched
}

// outranks orders candidates by specificity, then discount amount, then lowest id.
func outranks(rank int, amount Money, id int64, bestRank int, bestAmount Money, bestID int64) bool {
	if rank != bestRank {
		return rank > bestRank
	}
	if cmp := amount.Cmp(bestAmount); cmp != 0 {
		return cmp > 0
	}
	return id < bestID
}

// SelectDeliveryRule picks the most specific active delivery rule for the scope.
// Equally specific rules resolve to the lowest id.
func SelectDeliveryRule(rules []DeliveryFeeRule, scope Scope) (DeliveryFeeRule, bool) {
	var (
		best  DeliveryFeeRule
		found bool
	)
	for _, r := range rules {
		if !r.IsActive || r.TargetType == TargetProduct || !targetMatches(r.TargetType, r.TargetID, scope) {
			continue
		}
		if found {
			rank, bestRank := r.TargetType.Specificity(), best.TargetType.Specificity()
			if rank < bestRank || (rank == bestRank && r.ID > best.ID) {
				continue
			}
		}
		best = r
		found = true
	}
	return best, found
}

func applyDelivery(out *Breakdown, rule DeliveryFeeRule, subtotal Money) error {
	out.DeliveryRuleID = rule.ID
	if subtotal.GreaterThanOrEqual(rule.MinOrderValue) {
		out.DeliveryFee = rule.DeliveryFee
		out.ShopDeliveryShare = rule.ShopDeliveryShare
		out.PlatformDeliveryShare = rule.VaayugoDeliveryShare
		return nil
	}
	if rule.SmallOrderDeliveryFee == nil {
		return fmt.Errorf("%w (minimum order value %s)", ErrOrderBelowMinimum, rule.MinOrderValue.StringFixed(2))
	}
	fee := *rule.SmallOrderDeliveryFee
	out.DeliveryFee = fee
	out.IsSmallOrder = true
	if rule.DeliveryFee.IsPositive() {
		out.ShopDeliveryShare = fee.Mul(rule.ShopDeliveryShare).Div(rule.DeliveryFee)
	} else {
		out.ShopDeliveryShare = decimal.Zero
	}
	out.PlatformDeliveryShare = fee.Sub(out.ShopDeliveryShare)
	return nil
}

var half = decimal.New(5, -1)

// round2 rounds half-up (toward positive infinity on ties), so -2.345 becomes -2.34. decimal.Round
// would round that tie away from zero, which matters for a negative shop payout.
func round2(d Money) Money {
	return d.Shift(2).Add(half).Floor().Shift(-2)
}
