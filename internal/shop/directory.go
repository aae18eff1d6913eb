package shop

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when a shop is missing or no longer trading.
	ErrNotFound = errors.New("shop not found")
	// ErrUserNotFound is returned when a user id has no profile row.
	ErrUserNotFound = errors.New("user not found")
)

// Roles recognised by the API.
const (
	RoleCustomer  = "customer"
	RoleShopOwner = "shop_owner"
	RoleAdmin     = "admin"
)

// Row is the subset of pgx used by the directory.
type Row interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Shop is the pricing-relevant view of a shop.
type Shop struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	LocationID  int64  `json:"location_id"`
	OwnerUserID int64  `json:"owner_user_id"`
}

// Directory resolves shops, users and locations from Postgres.
type Directory struct {
	DB Row
}

// NewDirectory constructs a Directory over a pgx pool.
func NewDirectory(db Row) *Directory {
	return &Directory{DB: db}
}

func (d *Directory) ready() error {
	if d == nil || d.DB == nil {
		return errors.New("shop directory not configured")
	}
	return nil
}

// Shop returns an active shop by id.
func (d *Directory) Shop(ctx context.Context, id int64) (Shop, error) {
	if err := d.ready(); err != nil {
		return Shop{}, err
	}
	var s Shop
	err := d.DB.QueryRow(ctx, `SELECT id, name, category, location_id, owner_user_id
FROM shops WHERE id = $1 AND is_active`, id).Scan(&s.ID, &s.Name, &s.Category, &s.LocationID, &s.OwnerUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shop{}, ErrNotFound
		}
		return Shop{}, fmt.Errorf("load shop %d: %w", id, err)
	}
	return s, nil
}

// ProfileLocation returns the location saved on the user's profile. ok is false when the user has
// none or does not exist.
func (d *Directory) ProfileLocation(ctx context.Context, userID int64) (int64, bool, error) {
	if err := d.ready(); err != nil {
		return 0, false, err
	}
	var loc *int64
	err := d.DB.QueryRow(ctx, `SELECT location_id FROM users WHERE id = $1`, userID).Scan(&loc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load profile location: %w", err)
	}
	if loc == nil {
		return 0, false, nil
	}
	return *loc, true, nil
}

// LocationExists reports whether a location id is known.
func (d *Directory) LocationExists(ctx context.Context, id int64) (bool, error) {
	if err := d.ready(); err != nil {
		return false, err
	}
	var exists bool
	if err := d.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM locations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check location: %w", err)
	}
	return exists, nil
}

// OwnsShop reports whether userID is the registered owner of shopID.
func (d *Directory) OwnsShop(ctx context.Context, shopID, userID int64) (bool, error) {
	if err := d.ready(); err != nil {
		return false, err
	}
	var owns bool
	err := d.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shops WHERE id = $1 AND owner_user_id = $2)`,
		shopID, userID).Scan(&owns)
	if err != nil {
		return false, fmt.Errorf("check shop owner: %w", err)
	}
	return owns, nil
}

// UserRole returns the role stored for a user.
func (d *Directory) UserRole(ctx context.Context, userID int64) (string, error) {
	if err := d.ready(); err != nil {
		return "", err
	}
	var role string
	err := d.DB.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("load user role: %w", err)
	}
	return role, nil
}
