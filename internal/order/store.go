package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DB is the subset of *pgxpool.Pool used by the store.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists orders in Postgres.
type Store struct {
	DB DB
}

const orderColumns = `id, user_id, shop_id, location_id, category, status, payment_method,
subtotal::text, shop_discount::text, platform_discount::text, delivery_fee::text, is_small_order,
commission::text, shop_payout::text, total_payable::text, shop_rule_id, platform_rule_id,
delivery_rule_id, address, notes, created_at`

// Insert writes the order and its lines in one transaction.
func (s Store) Insert(ctx context.Context, o Order) (Order, error) {
	if s.DB == nil {
		return Order{}, errors.New("order store not configured")
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = tx.QueryRow(ctx, `INSERT INTO orders (user_id, shop_id, location_id, category, status, payment_method,
  subtotal, shop_discount, platform_discount, delivery_fee, is_small_order, commission, shop_payout,
  total_payable, shop_rule_id, platform_rule_id, delivery_rule_id, address, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11, $12::numeric,
  $13::numeric, $14::numeric, $15, $16, $17, $18, $19)
RETURNING id, created_at`,
		o.UserID, o.ShopID, o.LocationID, o.Category, string(o.Status), o.PaymentMethod,
		o.Subtotal.String(), o.ShopDiscount.String(), o.PlatformDiscount.String(), o.DeliveryFee.String(),
		o.IsSmallOrder, o.CommissionAmount.String(), o.ShopPayout.String(), o.TotalPayable.String(),
		o.ShopRuleID, o.PlatformRuleID, o.DeliveryRuleID, o.Address, o.Notes,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`INSERT INTO order_items (order_id, product_id, price, quantity, is_xerox, line_total)
VALUES ($1, $2, $3::numeric, $4, $5, $6::numeric)`, o.ID, it.ProductID, it.Price.String(), it.Quantity, it.IsXerox, it.LineTotal.String())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return Order{}, fmt.Errorf("insert order items: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Get loads an order with its lines. A non-zero userID restricts the lookup to that customer.
func (s Store) Get(ctx context.Context, id, userID int64) (Order, error) {
	if s.DB == nil {
		return Order{}, errors.New("order store not configured")
	}
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+`
FROM orders WHERE id = $1 AND ($2::bigint = 0 OR user_id = $2::bigint)`, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	rows, err := s.DB.Query(ctx, `SELECT product_id, price::text, quantity, is_xerox, line_total::text
FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return Order{}, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()
	o.Items = []Item{}
	for rows.Next() {
		var (
			it           Item
			price, total string
		)
		if err := rows.Scan(&it.ProductID, &price, &it.Quantity, &it.IsXerox, &total); err != nil {
			return Order{}, err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return Order{}, err
		}
		if it.LineTotal, err = decimal.NewFromString(total); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// ListForUser returns a page of the customer's orders, newest first, without lines.
func (s Store) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]Order, int64, error) {
	if s.DB == nil {
		return nil, 0, errors.New("order store not configured")
	}
	var total int64
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+`
FROM orders WHERE user_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// UpdateStatus moves an order to next when the current status allows it.
func (s Store) UpdateStatus(ctx context.Context, id int64, next Status) (Status, error) {
	if s.DB == nil {
		return "", errors.New("order store not configured")
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	var current string
	if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	if !Status(current).CanTransition(next) {
		return Status(current), fmt.Errorf("%s to %s: %w", current, next, ErrInvalidTransition)
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, string(next)); err != nil {
		return "", err
	}
	return next, tx.Commit(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (Order, error) {
	var (
		o                                     Order
		status                                string
		subtotal, shopDisc, platformDisc, fee string
		commission, payout, total             string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.ShopID, &o.LocationID, &o.Category, &status, &o.PaymentMethod,
		&subtotal, &shopDisc, &platformDisc, &fee, &o.IsSmallOrder, &commission, &payout, &total,
		&o.ShopRuleID, &o.PlatformRuleID, &o.DeliveryRuleID, &o.Address, &o.Notes, &o.CreatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.Subtotal, subtotal},
		{&o.ShopDiscount, shopDisc},
		{&o.PlatformDiscount, platformDisc},
		{&o.DeliveryFee, fee},
		{&o.CommissionAmount, commission},
		{&o.ShopPayout, payout},
		{&o.TotalPayable, total},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return Order{}, fmt.Errorf("order %d amounts: %w", o.ID, err)
		}
	}
	return o, nil
}
