package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/vaayugo-api/internal/cart"
	"github.com/noah-isme/vaayugo-api/internal/events"
	"github.com/noah-isme/vaayugo-api/internal/lock"
	"github.com/noah-isme/vaayugo-api/internal/obs"
)

// Pricer prices a cart. *cart.Service satisfies it.
type Pricer interface {
	Calculate(ctx context.Context, in cart.CalculateInput, callerID int64) (cart.Quote, error)
}

// Repository persists orders.
type Repository interface {
	Insert(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id, userID int64) (Order, error)
	ListForUser(ctx context.Context, userID int64, limit, offset int) ([]Order, int64, error)
	UpdateStatus(ctx context.Context, id int64, next Status) (Status, error)
}

// Publisher emits domain events. *events.Bus satisfies it.
type Publisher interface {
	Emit(ctx context.Context, topic string, aggregateID int64, payload any) (events.Event, error)
}

// Locker serialises work per key. lock.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// PlaceInput is a checkout request: the cart plus delivery details.
type PlaceInput struct {
	Cart    cart.CalculateInput
	Address string
	Notes   *string
}

// Service places and reads orders.
type Service struct {
	Pricer  Pricer
	Store   Repository
	Events  Publisher
	Locker  Locker
	LockTTL time.Duration
}

// Place re-prices the cart server-side and stores the order as cash on delivery. Client supplied
// totals are never trusted. Placement for a single user is serialised when a locker is configured.
func (s *Service) Place(ctx context.Context, userID int64, in PlaceInput) (Order, error) {
	if s == nil || s.Pricer == nil || s.Store == nil {
		return Order{}, errors.New("order service not configured")
	}
	if userID <= 0 {
		return Order{}, fmt.Errorf("user is required: %w", ErrInvalidInput)
	}
	in.Address = strings.TrimSpace(in.Address)
	if in.Address == "" {
		return Order{}, fmt.Errorf("address is required: %w", ErrInvalidInput)
	}
	if in.Notes != nil {
		trimmed := strings.TrimSpace(*in.Notes)
		if trimmed == "" {
			in.Notes = nil
		} else {
			in.Notes = &trimmed
		}
	}

	var placed Order
	place := func(ctx context.Context) error {
		quote, err := s.Pricer.Calculate(ctx, in.Cart, userID)
		if err != nil {
			return err
		}
		placed, err = s.Store.Insert(ctx, newOrder(userID, in, quote))
		return err
	}
	var err error
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, lock.OrderPlacementKey(userID), s.lockTTL(), place)
	} else {
		err = place(ctx)
	}
	if err != nil {
		obs.CountOrderPlaced("rejected")
		return Order{}, err
	}
	obs.CountOrderPlaced("placed")

	logger := zerolog.Ctx(ctx)
	logger.Info().
		Int64("order_id", placed.ID).
		Int64("shop_id", placed.ShopID).
		Str("total_payable", placed.TotalPayable.StringFixed(2)).
		Msg("order placed")
	if s.Events != nil {
		_, err := s.Events.Emit(ctx, events.TopicOrderPlaced, placed.ID, events.OrderPlaced{
			OrderID:      placed.ID,
			ShopID:       placed.ShopID,
			UserID:       placed.UserID,
			TotalPayable: placed.TotalPayable.StringFixed(2),
			IsSmallOrder: placed.IsSmallOrder,
		})
		if err != nil {
			logger.Error().Err(err).Int64("order_id", placed.ID).Msg("publish order placed")
		}
	}
	return placed, nil
}

// Get returns one of the user's orders.
func (s *Service) Get(ctx context.Context, userID, id int64) (Order, error) {
	if s == nil || s.Store == nil {
		return Order{}, errors.New("order service not configured")
	}
	if userID <= 0 {
		return Order{}, ErrNotFound
	}
	return s.Store.Get(ctx, id, userID)
}

// List returns a page of the user's orders.
func (s *Service) List(ctx context.Context, userID int64, limit, offset int) ([]Order, int64, error) {
	if s == nil || s.Store == nil {
		return nil, 0, errors.New("order service not configured")
	}
	return s.Store.ListForUser(ctx, userID, limit, offset)
}

// UpdateStatus moves an order along its lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, id int64, next Status) (Status, error) {
	if s == nil || s.Store == nil {
		return "", errors.New("order service not configured")
	}
	if next.rank() < 0 {
		return "", fmt.Errorf("unknown status %q: %w", next, ErrInvalidInput)
	}
	return s.Store.UpdateStatus(ctx, id, next)
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 10 * time.Second
	}
	return s.LockTTL
}

func newOrder(userID int64, in PlaceInput, q cart.Quote) Order {
	b := q.Breakdown.Rounded()
	o := Order{
		UserID:           userID,
		ShopID:           q.Scope.ShopID,
		LocationID:       q.Scope.LocationID,
		Category:         q.Scope.CategoryKey(),
		Status:           StatusPlaced,
		PaymentMethod:    PaymentCOD,
		Subtotal:         b.Subtotal,
		ShopDiscount:     b.ShopDiscount,
		PlatformDiscount: b.PlatformDiscount,
		DeliveryFee:      b.DeliveryFee,
		IsSmallOrder:     b.IsSmallOrder,
		CommissionAmount: b.CommissionAmount,
		ShopPayout:       b.ShopPayout,
		TotalPayable:     b.TotalPayable,
		DeliveryRuleID:   b.DeliveryRuleID,
		Address:          in.Address,
		Notes:            in.Notes,
		Items:            make([]Item, 0, len(in.Cart.Items)),
	}
	if b.AppliedRules.Shop != nil {
		id := b.AppliedRules.Shop.ID
		o.ShopRuleID = &id
	}
	if b.AppliedRules.Platform != nil {
		id := b.AppliedRules.Platform.ID
		o.PlatformRuleID = &id
	}
	for _, it := range in.Cart.Items {
		o.Items = append(o.Items, Item{
			ProductID: strings.TrimSpace(it.ID),
			Price:     it.Price,
			Quantity:  it.Quantity,
			IsXerox:   it.IsXerox,
			LineTotal: it.Subtotal().Round(2),
		})
	}
	return o
}
