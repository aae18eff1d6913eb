package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an order does not exist or belongs to someone else.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidInput is returned for order details the cart calculation does not cover.
	ErrInvalidInput = errors.New("invalid order")
	// ErrInvalidTransition is returned when a status change is not allowed from the current state.
	ErrInvalidTransition = errors.New("order status transition not allowed")
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPlaced         Status = "PLACED"
	StatusAccepted       Status = "ACCEPTED"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
)

// PaymentCOD is the only payment method: cash on delivery.
const PaymentCOD = "COD"

func (s Status) rank() int {
	switch s {
	case StatusPlaced:
		return 0
	case StatusAccepted:
		return 1
	case StatusOutForDelivery:
		return 2
	case StatusDelivered:
		return 3
	case StatusCancelled:
		return 4
	default:
		return -1
	}
}

// CanTransition reports whether an order may move from s to next. Orders only move forward and
// can be cancelled until they leave the shop.
func (s Status) CanTransition(next Status) bool {
	if next.rank() < 0 || s.rank() < 0 {
		return false
	}
	if next == StatusCancelled {
		return s == StatusPlaced || s == StatusAccepted
	}
	if s == StatusCancelled || s == StatusDelivered {
		return false
	}
	return next.rank() > s.rank()
}

// Item is a persisted order line.
type Item struct {
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	IsXerox   bool            `json:"is_xerox"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Order is a placed cash-on-delivery order with the amounts it was priced at.
type Order struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"user_id"`
	ShopID           int64           `json:"shop_id"`
	LocationID       int64           `json:"location_id"`
	Category         string          `json:"category"`
	Status           Status          `json:"status"`
	PaymentMethod    string          `json:"payment_method"`
	Subtotal         decimal.Decimal `json:"subtotal_amount"`
	ShopDiscount     decimal.Decimal `json:"shop_discount_amount"`
	PlatformDiscount decimal.Decimal `json:"platform_discount_amount"`
	DeliveryFee      decimal.Decimal `json:"delivery_fee"`
	IsSmallOrder     bool            `json:"is_small_order"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	ShopPayout       decimal.Decimal `json:"shop_payout"`
	TotalPayable     decimal.Decimal `json:"total_payable"`
	ShopRuleID       *int64          `json:"shop_rule_id,omitempty"`
	PlatformRuleID   *int64          `json:"platform_rule_id,omitempty"`
	DeliveryRuleID   int64           `json:"delivery_rule_id"`
	Address          string          `json:"address"`
	Notes            *string         `json:"notes,omitempty"`
	Items            []Item          `json:"items"`
	CreatedAt        time.Time       `json:"created_at"`
}
