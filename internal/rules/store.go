package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/vaayugo-api/internal/pricing"
)

// DB is the subset of pgx used by the store. Both *pgxpool.Pool and pgx.Tx satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store reads and writes rule rows in Postgres.
type Store struct {
	db  DB
	now func() time.Time
}

// NewStore constructs a Store on top of a pgx pool or transaction.
func NewStore(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

const discountColumns = `id, name, type, value::text, max_discount_amount::text, min_order_value::text,
creator_type, creator_id, target_type, target_id, valid_from, valid_until, is_active, created_at, updated_at`

const deliveryColumns = `id, target_type, target_id, delivery_fee::text, shop_delivery_share::text,
vaayugo_delivery_share::text, commission_percent::text, min_order_value::text,
small_order_delivery_fee::text, is_active, created_at, updated_at`

// Load returns the active rules relevant to the lookup. Validity windows are re-checked by the
// resolver; the query only drops rules that are switched off or already expired.
func (s *Store) Load(ctx context.Context, l Lookup) (pricing.RuleSet, error) {
	if s == nil || s.db == nil {
		return pricing.RuleSet{}, errors.New("rules: store not configured")
	}
	discounts, err := s.ActiveDiscountRules(ctx, l)
	if err != nil {
		return pricing.RuleSet{}, err
	}
	delivery, err := s.ActiveDeliveryRules(ctx, l.Scope)
	if err != nil {
		return pricing.RuleSet{}, err
	}
	return pricing.RuleSet{Discounts: discounts, Delivery: delivery}, nil
}

// ActiveDiscountRules returns switched-on, unexpired discount rules targeting the lookup scope or its products.
func (s *Store) ActiveDiscountRules(ctx context.Context, l Lookup) ([]pricing.DiscountRule, error) {
	productIDs := l.ProductIDs
	if productIDs == nil {
		productIDs = []string{}
	}
	rows, err := s.db.Query(ctx, `SELECT `+discountColumns+`
FROM discount_rules
WHERE is_active
  AND (valid_until IS NULL OR valid_until >= $5)
  AND (
    target_type = 'GLOBAL'
    OR (target_type = 'SHOP' AND target_id = $1)
    OR (target_type = 'LOCATION' AND target_id = $2)
    OR (target_type = 'CATEGORY' AND target_id = $3)
    OR (target_type = 'PRODUCT' AND target_id = ANY($4))
  )
ORDER BY id`, l.Scope.ShopKey(), l.Scope.LocationKey(), l.Scope.CategoryKey(), productIDs, s.now())
	if err != nil {
		return nil, fmt.Errorf("query discount rules: %w", err)
	}
	defer rows.Close()
	var out []pricing.DiscountRule
	for rows.Next() {
		rec, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.DiscountRule)
	}
	return out, rows.Err()
}

// ActiveDeliveryRules returns active delivery fee rules targeting the scope or GLOBAL.
func (s *Store) ActiveDeliveryRules(ctx context.Context, scope pricing.Scope) ([]pricing.DeliveryFeeRule, error) {
	rows, err := s.db.Query(ctx, `SELECT `+deliveryColumns+`
FROM delivery_fee_rules
WHERE is_active
  AND (
    target_type = 'GLOBAL'
    OR (target_type = 'SHOP' AND target_id = $1)
    OR (target_type = 'LOCATION' AND target_id = $2)
    OR (target_type = 'CATEGORY' AND target_id = $3)
  )
ORDER BY id`, scope.ShopKey(), scope.LocationKey(), scope.CategoryKey())
	if err != nil {
		return nil, fmt.Errorf("query delivery rules: %w", err)
	}
	defer rows.Close()
	var out []pricing.DeliveryFeeRule
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.DeliveryFeeRule)
	}
	return out, rows.Err()
}

// ListDiscountRules returns discount rules matching the filter, newest first.
func (s *Store) ListDiscountRules(ctx context.Context, f DiscountFilter) ([]DiscountRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.CreatorType != "" {
		args = append(args, f.CreatorType)
		where = append(where, fmt.Sprintf("creator_type = $%d", len(args)))
	}
	if f.CreatorID != nil {
		args = append(args, *f.CreatorID)
		where = append(where, fmt.Sprintf("creator_id = $%d", len(args)))
	}
	if f.TargetType != "" {
		args = append(args, f.TargetType)
		where = append(where, fmt.Sprintf("target_type = $%d", len(args)))
	}
	query := `SELECT ` + discountColumns + ` FROM discount_rules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOrDefault(f.Limit), f.Offset)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DiscountRecord{}
	for rows.Next() {
		rec, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetDiscountRule loads a discount rule by id.
func (s *Store) GetDiscountRule(ctx context.Context, id int64) (DiscountRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+discountColumns+` FROM discount_rules WHERE id = $1`, id)
	rec, err := scanDiscount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return DiscountRecord{}, ErrNotFound
	}
	return rec, err
}

// CreateDiscountRule inserts a discount rule and returns the stored row.
func (s *Store) CreateDiscountRule(ctx context.Context, r pricing.DiscountRule) (DiscountRecord, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO discount_rules
  (name, type, value, max_discount_amount, min_order_value, creator_type, creator_id,
   target_type, target_id, valid_from, valid_until, is_active)
VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
RETURNING `+discountColumns,
		r.Name, string(r.Type), r.Value.String(), decimalText(r.MaxDiscountAmount), decimalText(r.MinOrderValue),
		string(r.CreatorType), r.CreatorID, string(r.TargetType), r.TargetID, r.ValidFrom, r.ValidUntil, r.IsActive)
	return scanDiscount(row)
}

// UpdateDiscountRule overwrites a discount rule.
func (s *Store) UpdateDiscountRule(ctx context.Context, r pricing.DiscountRule) (DiscountRecord, error) {
	row := s.db.QueryRow(ctx, `UPDATE discount_rules SET
  name = $2, type = $3, value = $4::numeric, max_discount_amount = $5::numeric, min_order_value = $6::numeric,
  creator_type = $7, creator_id = $8, target_type = $9, target_id = $10, valid_from = $11,
  valid_until = $12, is_active = $13, updated_at = now()
WHERE id = $1
RETURNING `+discountColumns,
		r.ID, r.Name, string(r.Type), r.Value.String(), decimalText(r.MaxDiscountAmount), decimalText(r.MinOrderValue),
		string(r.CreatorType), r.CreatorID, string(r.TargetType), r.TargetID, r.ValidFrom, r.ValidUntil, r.IsActive)
	rec, err := scanDiscount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return DiscountRecord{}, ErrNotFound
	}
	return rec, err
}

// DeleteDiscountRule removes a discount rule.
func (s *Store) DeleteDiscountRule(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM discount_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDeliveryRules returns delivery fee rules matching the filter, newest first.
func (s *Store) ListDeliveryRules(ctx context.Context, f DeliveryFilter) ([]DeliveryRecord, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_fee_rules`
	args := []any{}
	if f.TargetType != "" {
		args = append(args, f.TargetType)
		query += " WHERE target_type = $1"
	}
	args = append(args, limitOrDefault(f.Limit), f.Offset)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DeliveryRecord{}
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetDeliveryRule loads a delivery fee rule by id.
func (s *Store) GetDeliveryRule(ctx context.Context, id int64) (DeliveryRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM delivery_fee_rules WHERE id = $1`, id)
	rec, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeliveryRecord{}, ErrNotFound
	}
	return rec, err
}

// CreateDeliveryRule inserts a delivery fee rule.
func (s *Store) CreateDeliveryRule(ctx context.Context, r pricing.DeliveryFeeRule) (DeliveryRecord, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO delivery_fee_rules
  (target_type, target_id, delivery_fee, shop_delivery_share, vaayugo_delivery_share,
   commission_percent, min_order_value, small_order_delivery_fee, is_active)
VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9)
RETURNING `+deliveryColumns,
		string(r.TargetType), r.TargetID, r.DeliveryFee.String(), r.ShopDeliveryShare.String(), r.VaayugoDeliveryShare.String(),
		r.CommissionPercent.String(), r.MinOrderValue.String(), decimalText(r.SmallOrderDeliveryFee), r.IsActive)
	return scanDelivery(row)
}

// UpdateDeliveryRule overwrites a delivery fee rule.
func (s *Store) UpdateDeliveryRule(ctx context.Context, r pricing.DeliveryFeeRule) (DeliveryRecord, error) {
	row := s.db.QueryRow(ctx, `UPDATE delivery_fee_rules SET
  target_type = $2, target_id = $3, delivery_fee = $4::numeric, shop_delivery_share = $5::numeric,
  vaayugo_delivery_share = $6::numeric, commission_percent = $7::numeric, min_order_value = $8::numeric,
  small_order_delivery_fee = $9::numeric, is_active = $10, updated_at = now()
WHERE id = $1
RETURNING `+deliveryColumns,
		r.ID, string(r.TargetType), r.TargetID, r.DeliveryFee.String(), r.ShopDeliveryShare.String(), r.VaayugoDeliveryShare.String(),
		r.CommissionPercent.String(), r.MinOrderValue.String(), decimalText(r.SmallOrderDeliveryFee), r.IsActive)
	rec, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeliveryRecord{}, ErrNotFound
	}
	return rec, err
}

// DeleteDeliveryRule removes a delivery fee rule.
func (s *Store) DeleteDeliveryRule(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM delivery_fee_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDiscount(row scanner) (DiscountRecord, error) {
	var (
		rec                      DiscountRecord
		kind, creator, target    string
		value                    string
		maxAmount, minOrderValue *string
	)
	err := row.Scan(&rec.ID, &rec.Name, &kind, &value, &maxAmount, &minOrderValue,
		&creator, &rec.CreatorID, &target, &rec.TargetID, &rec.ValidFrom, &rec.ValidUntil,
		&rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return DiscountRecord{}, err
	}
	rec.Type = pricing.DiscountType(kind)
	rec.CreatorType = pricing.CreatorType(creator)
	rec.TargetType = pricing.TargetType(target)
	if rec.Value, err = decimal.NewFromString(value); err != nil {
		return DiscountRecord{}, fmt.Errorf("discount rule %d value: %w", rec.ID, err)
	}
	if rec.MaxDiscountAmount, err = parseNullableDecimal(maxAmount); err != nil {
		return DiscountRecord{}, fmt.Errorf("discount rule %d max amount: %w", rec.ID, err)
	}
	if rec.MinOrderValue, err = parseNullableDecimal(minOrderValue); err != nil {
		return DiscountRecord{}, fmt.Errorf("discount rule %d min order value: %w", rec.ID, err)
	}
	return rec, nil
}

func scanDelivery(row scanner) (DeliveryRecord, error) {
	var (
		rec                                 DeliveryRecord
		target                              string
		fee, shopShare, platformShare, comm string
		minOrder                            string
		smallFee                            *string
	)
	err := row.Scan(&rec.ID, &target, &rec.TargetID, &fee, &shopShare, &platformShare, &comm,
		&minOrder, &smallFee, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return DeliveryRecord{}, err
	}
	rec.TargetType = pricing.TargetType(target)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&rec.DeliveryFee, fee},
		{&rec.ShopDeliveryShare, shopShare},
		{&rec.VaayugoDeliveryShare, platformShare},
		{&rec.CommissionPercent, comm},
		{&rec.MinOrderValue, minOrder},
	} {
		parsed, err := decimal.NewFromString(f.src)
		if err != nil {
			return DeliveryRecord{}, fmt.Errorf("delivery rule %d: %w", rec.ID, err)
		}
		*f.dst = parsed
	}
	if rec.SmallOrderDeliveryFee, err = parseNullableDecimal(smallFee); err != nil {
		return DeliveryRecord{}, fmt.Errorf("delivery rule %d small order fee: %w", rec.ID, err)
	}
	return rec, nil
}

func parseNullableDecimal(v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
