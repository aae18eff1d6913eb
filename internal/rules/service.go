package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/vaayugo-api/internal/pricing"
)

// Querier captures the persistence operations used by the rule service.
type Querier interface {
	ListDiscountRules(ctx context.Context, f DiscountFilter) ([]DiscountRecord, error)
	GetDiscountRule(ctx context.Context, id int64) (DiscountRecord, error)
	CreateDiscountRule(ctx context.Context, r pricing.DiscountRule) (DiscountRecord, error)
	UpdateDiscountRule(ctx context.Context, r pricing.DiscountRule) (DiscountRecord, error)
	DeleteDiscountRule(ctx context.Context, id int64) error
	ListDeliveryRules(ctx context.Context, f DeliveryFilter) ([]DeliveryRecord, error)
	GetDeliveryRule(ctx context.Context, id int64) (DeliveryRecord, error)
	CreateDeliveryRule(ctx context.Context, r pricing.DeliveryFeeRule) (DeliveryRecord, error)
	UpdateDeliveryRule(ctx context.Context, r pricing.DeliveryFeeRule) (DeliveryRecord, error)
	DeleteDeliveryRule(ctx context.Context, id int64) error
}

// Invalidator drops cached rule sets after a write.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Owner identifies who is managing discount rules. A zero ShopID means a platform admin.
type Owner struct {
	ShopID int64
}

// IsShop reports whether the owner is a shop rather than the platform.
func (o Owner) IsShop() bool { return o.ShopID > 0 }

// ValidationError lists the payload fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, field+" "+e.Fields[field])
	}
	return "invalid rule: " + strings.Join(parts, "; ")
}

// Unwrap lets callers match ErrInvalidRule.
func (e *ValidationError) Unwrap() error { return ErrInvalidRule }

// Service manages discount and delivery fee rules.
type Service struct {
	Q        Querier
	Cache    Invalidator
	Validate *validator.Validate
}

// NewService constructs a rule service with a default validator.
func NewService(q Querier, cache Invalidator) *Service {
	return &Service{Q: q, Cache: cache, Validate: validator.New(validator.WithRequiredStructEnabled())}
}

// ListDiscounts lists discount rules. Shop owners only see their own rules.
func (s *Service) ListDiscounts(ctx context.Context, owner Owner, f DiscountFilter) ([]DiscountRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if owner.IsShop() {
		shopID := owner.ShopID
		f.CreatorType = string(pricing.CreatorShop)
		f.CreatorID = &shopID
	}
	return s.Q.ListDiscountRules(ctx, f)
}

// GetDiscount returns a single discount rule visible to the owner.
func (s *Service) GetDiscount(ctx context.Context, owner Owner, id int64) (DiscountRecord, error) {
	if err := s.ready(); err != nil {
		return DiscountRecord{}, err
	}
	rec, err := s.Q.GetDiscountRule(ctx, id)
	if err != nil {
		return DiscountRecord{}, err
	}
	if err := checkOwnership(owner, rec.DiscountRule); err != nil {
		return DiscountRecord{}, err
	}
	return rec, nil
}

// CreateDiscount validates and stores a new discount rule.
func (s *Service) CreateDiscount(ctx context.Context, owner Owner, p DiscountPayload) (DiscountRecord, error) {
	if err := s.ready(); err != nil {
		return DiscountRecord{}, err
	}
	rule, err := s.buildDiscount(owner, p)
	if err != nil {
		return DiscountRecord{}, err
	}
	rec, err := s.Q.CreateDiscountRule(ctx, rule)
	if err != nil {
		return DiscountRecord{}, err
	}
	s.invalidate(ctx)
	return rec, nil
}

// UpdateDiscount replaces an existing discount rule.
func (s *Service) UpdateDiscount(ctx context.Context, owner Owner, id int64, p DiscountPayload) (DiscountRecord, error) {
	if _, err := s.GetDiscount(ctx, owner, id); err != nil {
		return DiscountRecord{}, err
	}
	rule, err := s.buildDiscount(owner, p)
	if err != nil {
		return DiscountRecord{}, err
	}
	rule.ID = id
	rec, err := s.Q.UpdateDiscountRule(ctx, rule)
	if err != nil {
		return DiscountRecord{}, err
	}
	s.invalidate(ctx)
	return rec, nil
}

// DeleteDiscount removes a discount rule.
func (s *Service) DeleteDiscount(ctx context.Context, owner Owner, id int64) error {
	if _, err := s.GetDiscount(ctx, owner, id); err != nil {
		return err
	}
	if err := s.Q.DeleteDiscountRule(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// ListDelivery lists delivery fee rules.
func (s *Service) ListDelivery(ctx context.Context, f DeliveryFilter) ([]DeliveryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.Q.ListDeliveryRules(ctx, f)
}

// GetDelivery returns a delivery fee rule.
func (s *Service) GetDelivery(ctx context.Context, id int64) (DeliveryRecord, error) {
	if err := s.ready(); err != nil {
		return DeliveryRecord{}, err
	}
	return s.Q.GetDeliveryRule(ctx, id)
}

// CreateDelivery validates and stores a delivery fee rule.
func (s *Service) CreateDelivery(ctx context.Context, p DeliveryPayload) (DeliveryRecord, error) {
	if err := s.ready(); err != nil {
		return DeliveryRecord{}, err
	}
	rule, err := s.buildDelivery(p)
	if err != nil {
		return DeliveryRecord{}, err
	}
	rec, err := s.Q.CreateDeliveryRule(ctx, rule)
	if err != nil {
		return DeliveryRecord{}, err
	}
	s.invalidate(ctx)
	return rec, nil
}

// UpdateDelivery replaces a delivery fee rule.
func (s *Service) UpdateDelivery(ctx context.Context, id int64, p DeliveryPayload) (DeliveryRecord, error) {
	if err := s.ready(); err != nil {
		return DeliveryRecord{}, err
	}
	rule, err := s.buildDelivery(p)
	if err != nil {
		return DeliveryRecord{}, err
	}
	rule.ID = id
	rec, err := s.Q.UpdateDeliveryRule(ctx, rule)
	if err != nil {
		return DeliveryRecord{}, err
	}
	s.invalidate(ctx)
	return rec, nil
}

// DeleteDelivery removes a delivery fee rule.
func (s *Service) DeleteDelivery(ctx context.Context, id int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.Q.DeleteDeliveryRule(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) ready() error {
	if s == nil || s.Q == nil {
		return errors.New("rules: service not configured")
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	// a failed bump leaves stale entries until their TTL runs out
	_ = s.Cache.Invalidate(ctx)
}

func (s *Service) structValidator() *validator.Validate {
	if s.Validate == nil {
		s.Validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return s.Validate
}

func (s *Service) buildDiscount(owner Owner, p DiscountPayload) (pricing.DiscountRule, error) {
	if err := s.validateStruct(p); err != nil {
		return pricing.DiscountRule{}, err
	}
	fields := map[string]string{}
	rule := pricing.DiscountRule{
		Name:              strings.TrimSpace(p.Name),
		Type:              pricing.DiscountType(p.Type),
		Value:             p.Value,
		MaxDiscountAmount: p.MaxDiscountAmount,
		MinOrderValue:     p.MinOrderValue,
		CreatorType:       pricing.CreatorType(p.CreatorType),
		CreatorID:         p.CreatorID,
		TargetType:        pricing.TargetType(p.TargetType),
		ValidFrom:         p.ValidFrom,
		ValidUntil:        p.ValidUntil,
		IsActive:          boolOr(p.IsActive, true),
	}
	rule.TargetID = normalizeTarget(rule.TargetType, p.TargetID)

	if owner.IsShop() {
		shopID := owner.ShopID
		rule.CreatorType = pricing.CreatorShop
		rule.CreatorID = &shopID
		switch rule.TargetType {
		case pricing.TargetShop:
			key := strconv.FormatInt(shopID, 10)
			if rule.TargetID != nil && *rule.TargetID != key {
				fields["target_id"] = "must reference your own shop"
			}
			rule.TargetID = &key
		case pricing.TargetProduct:
		default:
			fields["target_type"] = "shops may only target SHOP or PRODUCT"
		}
	} else if rule.CreatorType == "" {
		rule.CreatorType = pricing.CreatorAdmin
	}
	if rule.CreatorType == pricing.CreatorShop && rule.CreatorID == nil {
		fields["creator_id"] = "is required for SHOP rules"
	}
	if rule.CreatorType == pricing.CreatorAdmin {
		rule.CreatorID = nil
	}

	if !rule.Value.IsPositive() {
		fields["value"] = "must be greater than zero"
	} else if rule.Type == pricing.DiscountPercentage && rule.Value.GreaterThan(decimal.NewFromInt(100)) {
		fields["value"] = "percentage must not exceed 100"
	}
	if rule.MaxDiscountAmount != nil && rule.MaxDiscountAmount.IsNegative() {
		fields["max_discount_amount"] = "must not be negative"
	}
	if rule.MinOrderValue != nil && rule.MinOrderValue.IsNegative() {
		fields["min_order_value"] = "must not be negative"
	}
	checkTarget(fields, rule.TargetType, p.TargetID, rule.TargetID)
	if rule.ValidFrom != nil && rule.ValidUntil != nil && rule.ValidFrom.After(*rule.ValidUntil) {
		fields["valid_until"] = "must not be before valid_from"
	}
	if len(fields) > 0 {
		return pricing.DiscountRule{}, &ValidationError{Fields: fields}
	}
	return rule, nil
}

func (s *Service) buildDelivery(p DeliveryPayload) (pricing.DeliveryFeeRule, error) {
	if err := s.validateStruct(p); err != nil {
		return pricing.DeliveryFeeRule{}, err
	}
	fields := map[string]string{}
	rule := pricing.DeliveryFeeRule{
		TargetType:            pricing.TargetType(p.TargetType),
		DeliveryFee:           p.DeliveryFee,
		ShopDeliveryShare:     p.ShopDeliveryShare,
		VaayugoDeliveryShare:  p.VaayugoDeliveryShare,
		CommissionPercent:     p.CommissionPercent,
		MinOrderValue:         p.MinOrderValue,
		SmallOrderDeliveryFee: p.SmallOrderDeliveryFee,
		IsActive:              boolOr(p.IsActive, true),
	}
	rule.TargetID = normalizeTarget(rule.TargetType, p.TargetID)
	checkTarget(fields, rule.TargetType, p.TargetID, rule.TargetID)

	for name, v := range map[string]decimal.Decimal{
		"delivery_fee":           rule.DeliveryFee,
		"shop_delivery_share":    rule.ShopDeliveryShare,
		"vaayugo_delivery_share": rule.VaayugoDeliveryShare,
		"commission_percent":     rule.CommissionPercent,
		"min_order_value":        rule.MinOrderValue,
	} {
		if v.IsNegative() {
			fields[name] = "must not be negative"
		}
	}
	if rule.CommissionPercent.GreaterThan(decimal.NewFromInt(100)) {
		fields["commission_percent"] = "must not exceed 100"
	}
	if rule.SmallOrderDeliveryFee != nil && rule.SmallOrderDeliveryFee.IsNegative() {
		fields["small_order_delivery_fee"] = "must not be negative"
	}
	if len(fields) > 0 {
		return pricing.DeliveryFeeRule{}, &ValidationError{Fields: fields}
	}
	if !rule.ShopDeliveryShare.Add(rule.VaayugoDeliveryShare).Equal(rule.DeliveryFee) {
		return pricing.DeliveryFeeRule{}, fmt.Errorf("%w: shop_delivery_share + vaayugo_delivery_share must equal delivery_fee (%s + %s != %s)",
			ErrRuleConflict, rule.ShopDeliveryShare, rule.VaayugoDeliveryShare, rule.DeliveryFee)
	}
	return rule, nil
}

func (s *Service) validateStruct(v any) error {
	err := s.structValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[jsonField(fe.Field())] = describeTag(fe)
	}
	return &ValidationError{Fields: fields}
}

func checkTarget(fields map[string]string, t pricing.TargetType, raw, normalized *string) {
	if t == pricing.TargetGlobal {
		if raw != nil && strings.TrimSpace(*raw) != "" {
			fields["target_id"] = "must be empty for GLOBAL rules"
		}
		return
	}
	if normalized == nil {
		fields["target_id"] = "is required for " + string(t) + " rules"
		return
	}
	if t == pricing.TargetShop || t == pricing.TargetLocation {
		if id, err := strconv.ParseInt(*normalized, 10, 64); err != nil || id <= 0 {
			fields["target_id"] = "must be a positive numeric id"
		}
	}
}

func checkOwnership(owner Owner, r pricing.DiscountRule) error {
	if !owner.IsShop() {
		return nil
	}
	if r.CreatorType != pricing.CreatorShop || r.CreatorID == nil || *r.CreatorID != owner.ShopID {
		return ErrForbidden
	}
	return nil
}

var fieldNames = map[string]string{
	"Name":                  "name",
	"Type":                  "type",
	"CreatorType":           "creator_type",
	"CreatorID":             "creator_id",
	"TargetType":            "target_type",
	"TargetID":              "target_id",
	"MaxDiscountAmount":     "max_discount_amount",
	"MinOrderValue":         "min_order_value",
	"DeliveryFee":           "delivery_fee",
	"ShopDeliveryShare":     "shop_delivery_share",
	"VaayugoDeliveryShare":  "vaayugo_delivery_share",
	"CommissionPercent":     "commission_percent",
	"SmallOrderDeliveryFee": "small_order_delivery_fee",
}

func jsonField(name string) string {
	if mapped, ok := fieldNames[name]; ok {
		return mapped
	}
	return strings.ToLower(name)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "is invalid"
	}
}
