package shop

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(r.vals[i]))
	}
	return nil
}

// fakeDB answers queries by matching the first table name in the SQL.
type fakeDB struct {
	rows  map[string]fakeRow
	calls []string
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.calls = append(f.calls, sql)
	for table, row := range f.rows {
		if strings.Contains(sql, table) {
			return row
		}
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func TestShopLookup(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{
		"FROM shops": {vals: []any{int64(7), "Sharma Kirana", "Grocery", int64(3), int64(42)}},
	}}
	dir := NewDirectory(db)

	s, err := dir.Shop(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "Grocery", s.Category)
	require.Equal(t, int64(3), s.LocationID)
	require.Contains(t, db.calls[0], "is_active")

	_, err = NewDirectory(&fakeDB{}).Shop(context.Background(), 9)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProfileLocation(t *testing.T) {
	loc := int64(5)
	dir := NewDirectory(&fakeDB{rows: map[string]fakeRow{"FROM users": {vals: []any{&loc}}}})
	got, ok, err := dir.ProfileLocation(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), got)

	var none *int64
	dir = NewDirectory(&fakeDB{rows: map[string]fakeRow{"FROM users": {vals: []any{none}}}})
	_, ok, err = dir.ProfileLocation(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = NewDirectory(&fakeDB{}).ProfileLocation(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOwnershipAndRoles(t *testing.T) {
	dir := NewDirectory(&fakeDB{rows: map[string]fakeRow{
		"FROM shops":     {vals: []any{true}},
		"FROM users":     {vals: []any{RoleShopOwner}},
		"FROM locations": {vals: []any{false}},
	}})
	ctx := context.Background()

	owns, err := dir.OwnsShop(ctx, 7, 42)
	require.NoError(t, err)
	require.True(t, owns)

	role, err := dir.UserRole(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, RoleShopOwner, role)

	exists, err := dir.LocationExists(ctx, 99)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = NewDirectory(&fakeDB{}).UserRole(ctx, 1)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestDirectoryWrapsDriverErrors(t *testing.T) {
	boom := errors.New("connection reset")
	dir := NewDirectory(&fakeDB{rows: map[string]fakeRow{"FROM shops": {err: boom}}})
	_, err := dir.Shop(context.Background(), 7)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrNotFound)

	var nilDir *Directory
	_, err = nilDir.Shop(context.Background(), 7)
	require.Error(t, err)
}
