package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/vaayugo-api/internal/obs"
	"github.com/noah-isme/vaayugo-api/internal/pricing"
	"github.com/noah-isme/vaayugo-api/internal/resilience"
	"github.com/noah-isme/vaayugo-api/internal/rules"
	"github.com/noah-isme/vaayugo-api/internal/shop"
)

// retryMessage is shown to shoppers for failures they cannot fix themselves.
const retryMessage = "unable to calculate - try again"

var (
	// ErrNotFound indicates the shop or the delivery location could not be resolved.
	ErrNotFound = errors.New(retryMessage)
	// ErrRulesUnavailable is returned when the rule store keeps failing after the retry.
	ErrRulesUnavailable = errors.New("pricing rules temporarily unavailable")
)

// ShopDirectory resolves the shop and caller details a calculation is scoped by.
type ShopDirectory interface {
	Shop(ctx context.Context, id int64) (shop.Shop, error)
	ProfileLocation(ctx context.Context, userID int64) (int64, bool, error)
	LocationExists(ctx context.Context, id int64) (bool, error)
}

// RuleLoader fetches the rules relevant to a calculation.
type RuleLoader interface {
	Load(ctx context.Context, l rules.Lookup) (pricing.RuleSet, error)
}

// CalculateInput is a cart submitted for pricing.
type CalculateInput struct {
	Items    []pricing.CartItem
	ShopID   int64
	Category string
}

// Quote is a priced cart together with the scope it was priced for. Amounts are at full precision.
type Quote struct {
	Shop      shop.Shop
	Scope     pricing.Scope
	Breakdown pricing.Breakdown
}

// Service prices carts against the persisted rule set.
type Service struct {
	Shops ShopDirectory
	Rules RuleLoader
	Retry resilience.Retry
	Now   func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Calculate validates the cart, resolves its scope and prices it. The caller's profile location is
// preferred over the shop's own location; callerID 0 means an anonymous caller.
func (s *Service) Calculate(ctx context.Context, in CalculateInput, callerID int64) (Quote, error) {
	if s == nil || s.Shops == nil || s.Rules == nil {
		return Quote{}, errors.New("cart service not configured")
	}
	started := time.Now()
	quote, err := s.calculate(ctx, in, callerID)
	result := resultLabel(err)
	obs.ObserveCalculation(result, float64(time.Since(started).Microseconds())/1000)

	logger := zerolog.Ctx(ctx)
	if err != nil {
		evt := logger.Info()
		if result == "error" || result == "rules_unavailable" {
			evt = logger.Error()
		}
		evt.Err(err).Int64("shop_id", in.ShopID).Str("result", result).Msg("cart calculation rejected")
		return Quote{}, err
	}
	b := quote.Breakdown
	evt := logger.Info().
		Int64("shop_id", quote.Scope.ShopID).
		Int64("location_id", quote.Scope.LocationID).
		Str("category", quote.Scope.CategoryKey()).
		Str("subtotal", b.Subtotal.StringFixed(2)).
		Str("total_payable", b.TotalPayable.StringFixed(2)).
		Bool("small_order", b.IsSmallOrder).
		Int64("delivery_rule_id", b.DeliveryRuleID)
	if b.AppliedRules.Shop != nil {
		evt = evt.Int64("shop_rule_id", b.AppliedRules.Shop.ID)
	}
	if b.AppliedRules.Platform != nil {
		evt = evt.Int64("platform_rule_id", b.AppliedRules.Platform.ID)
	}
	evt.Msg("cart calculated")
	return quote, nil
}

func (s *Service) calculate(ctx context.Context, in CalculateInput, callerID int64) (Quote, error) {
	if err := pricing.ValidateCart(in.Items, pricing.Scope{ShopID: in.ShopID}); err != nil {
		return Quote{}, err
	}
	sh, err := s.Shops.Shop(ctx, in.ShopID)
	if err != nil {
		if errors.Is(err, shop.ErrNotFound) {
			return Quote{}, fmt.Errorf("shop %d: %w", in.ShopID, ErrNotFound)
		}
		return Quote{}, err
	}
	locationID := sh.LocationID
	if callerID > 0 {
		loc, ok, err := s.Shops.ProfileLocation(ctx, callerID)
		if err != nil {
			return Quote{}, err
		}
		if ok {
			known, err := s.Shops.LocationExists(ctx, loc)
			if err != nil {
				return Quote{}, err
			}
			if !known {
				return Quote{}, fmt.Errorf("profile location %d: %w", loc, ErrNotFound)
			}
			locationID = loc
		}
	}
	if locationID <= 0 {
		return Quote{}, fmt.Errorf("no delivery location for shop %d: %w", in.ShopID, ErrNotFound)
	}
	// the shop's own category prices the cart; a client value may only echo it
	if claimed := pricing.NormalizeCategory(in.Category); claimed != "" && claimed != pricing.NormalizeCategory(sh.Category) {
		return Quote{}, fmt.Errorf("category %q does not match shop %d: %w", strings.TrimSpace(in.Category), sh.ID, pricing.ErrInvalidInput)
	}
	scope := pricing.Scope{ShopID: sh.ID, Category: sh.Category, LocationID: locationID}

	set, err := s.loadRules(ctx, rules.NewLookup(scope, in.Items))
	if err != nil {
		return Quote{}, err
	}
	b, err := pricing.Calculate(in.Items, scope, set, s.now())
	if err != nil {
		return Quote{}, err
	}
	return Quote{Shop: sh, Scope: scope, Breakdown: b}, nil
}

// loadRules fetches the rule set, retrying a transient failure once.
func (s *Service) loadRules(ctx context.Context, l rules.Lookup) (pricing.RuleSet, error) {
	retry := s.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 2
	}
	if retry.BaseBackoff <= 0 {
		retry.BaseBackoff = 50 * time.Millisecond
	}
	if retry.Retryable == nil {
		retry.Retryable = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	onRetry := retry.OnRetry
	retry.OnRetry = func(ctx context.Context, attempt int, err error) {
		obs.CountRuleStoreRetry()
		zerolog.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("rule store read failed, retrying")
		if onRetry != nil {
			onRetry(ctx, attempt, err)
		}
	}
	set, err := resilience.Call(ctx, retry, func(ctx context.Context) (pricing.RuleSet, error) {
		return s.Rules.Load(ctx, l)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return pricing.RuleSet{}, err
		}
		return pricing.RuleSet{}, fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}
	return set, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, pricing.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, pricing.ErrOrderBelowMinimum):
		return "below_minimum"
	case errors.Is(err, pricing.ErrDeliveryUnavailable):
		return "delivery_unavailable"
	case errors.Is(err, ErrRulesUnavailable):
		return "rules_unavailable"
	default:
		return "error"
	}
}
