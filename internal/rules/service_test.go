package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/vaayugo-api/internal/pricing"
)

func TestCreateDiscountDefaultsToAdmin(t *testing.T) {
	inv := &countingInvalidator{}
	svc := NewService(newMemQuerier(), inv)

	rec, err := svc.CreateDiscount(context.Background(), Owner{}, validDiscount())
	require.NoError(t, err)
	require.Equal(t, pricing.CreatorAdmin, rec.CreatorType)
	require.Nil(t, rec.CreatorID)
	require.Nil(t, rec.TargetID)
	require.True(t, rec.IsActive)
	require.Equal(t, 1, inv.calls)
}

func TestCreateDiscountValidation(t *testing.T) {
	svc := NewService(newMemQuerier(), nil)
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(-time.Hour)

	cases := map[string]struct {
		mutate func(*DiscountPayload)
		field  string
	}{
		"missing name":            {func(p *DiscountPayload) { p.Name = "" }, "name"},
		"unknown type":            {func(p *DiscountPayload) { p.Type = "BOGO" }, "type"},
		"zero value":              {func(p *DiscountPayload) { p.Value = dec("0") }, "value"},
		"percentage above 100":    {func(p *DiscountPayload) { p.Value = dec("120") }, "value"},
		"global with target":      {func(p *DiscountPayload) { p.TargetID = strPtr("4") }, "target_id"},
		"location without target": {func(p *DiscountPayload) { p.TargetType = "LOCATION" }, "target_id"},
		"non numeric shop target": {func(p *DiscountPayload) { p.TargetType = "SHOP"; p.TargetID = strPtr("abc") }, "target_id"},
		"inverted window":         {func(p *DiscountPayload) { p.ValidFrom = &from; p.ValidUntil = &until }, "valid_until"},
		"shop rule without owner": {func(p *DiscountPayload) { p.CreatorType = "SHOP" }, "creator_id"},
		"negative cap":            {func(p *DiscountPayload) { p.MaxDiscountAmount = decPtr("-1") }, "max_discount_amount"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p := validDiscount()
			tc.mutate(&p)
			_, err := svc.CreateDiscount(context.Background(), Owner{}, p)
			require.ErrorIs(t, err, ErrInvalidRule)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Contains(t, verr.Fields, tc.field)
		})
	}
}

func TestCategoryTargetIsNormalised(t *testing.T) {
	svc := NewService(newMemQuerier(), nil)
	p := validDiscount()
	p.TargetType = "CATEGORY"
	p.TargetID = strPtr("  Grocery ")
	rec, err := svc.CreateDiscount(context.Background(), Owner{}, p)
	require.NoError(t, err)
	require.Equal(t, "grocery", *rec.TargetID)
}

func TestShopOwnedDiscounts(t *testing.T) {
	q := newMemQuerier()
	svc := NewService(q, nil)
	ctx := context.Background()
	owner := Owner{ShopID: 7}

	p := validDiscount()
	p.TargetType = "SHOP"
	p.CreatorType = "ADMIN"
	rec, err := svc.CreateDiscount(ctx, owner, p)
	require.NoError(t, err)
	require.Equal(t, pricing.CreatorShop, rec.CreatorType)
	require.Equal(t, int64(7), *rec.CreatorID)
	require.Equal(t, "7", *rec.TargetID)

	p.TargetID = strPtr("8")
	_, err = svc.CreateDiscount(ctx, owner, p)
	require.ErrorIs(t, err, ErrInvalidRule)

	p.TargetType = "LOCATION"
	p.TargetID = strPtr("3")
	_, err = svc.CreateDiscount(ctx, owner, p)
	require.ErrorIs(t, err, ErrInvalidRule)

	platform, err := svc.CreateDiscount(ctx, Owner{}, validDiscount())
	require.NoError(t, err)

	_, err = svc.UpdateDiscount(ctx, owner, platform.ID, validDiscount())
	require.ErrorIs(t, err, ErrForbidden)
	require.ErrorIs(t, svc.DeleteDiscount(ctx, Owner{ShopID: 9}, rec.ID), ErrForbidden)

	listed, err := svc.ListDiscounts(ctx, owner, DiscountFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, rec.ID, listed[0].ID)

	require.NoError(t, svc.DeleteDiscount(ctx, owner, rec.ID))
	_, err = svc.GetDiscount(ctx, owner, rec.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeliveryShareInvariant(t *testing.T) {
	inv := &countingInvalidator{}
	svc := NewService(newMemQuerier(), inv)
	ctx := context.Background()

	rec, err := svc.CreateDelivery(ctx, validDelivery())
	require.NoError(t, err)
	require.Equal(t, 1, inv.calls)

	bad := validDelivery()
	bad.ShopDeliveryShare = dec("6")
	_, err = svc.CreateDelivery(ctx, bad)
	require.ErrorIs(t, err, ErrRuleConflict)

	_, err = svc.UpdateDelivery(ctx, rec.ID, bad)
	require.ErrorIs(t, err, ErrRuleConflict)
	require.Equal(t, 1, inv.calls)

	fine := validDelivery()
	fine.DeliveryFee = dec("25")
	fine.ShopDeliveryShare = dec("10")
	updated, err := svc.UpdateDelivery(ctx, rec.ID, fine)
	require.NoError(t, err)
	requireDecimal(t, "25", updated.DeliveryFee)
	require.Equal(t, 2, inv.calls)
}

func TestDeliveryValidation(t *testing.T) {
	svc := NewService(newMemQuerier(), nil)
	cases := map[string]func(*DeliveryPayload){
		"product target":       func(p *DeliveryPayload) { p.TargetType = "PRODUCT"; p.TargetID = strPtr("p-1") },
		"commission above 100": func(p *DeliveryPayload) { p.CommissionPercent = dec("101") },
		"negative min order":   func(p *DeliveryPayload) { p.MinOrderValue = dec("-5") },
		"negative small fee":   func(p *DeliveryPayload) { p.SmallOrderDeliveryFee = decPtr("-1") },
		"shop without target":  func(p *DeliveryPayload) { p.TargetType = "SHOP" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := validDelivery()
			mutate(&p)
			_, err := svc.CreateDelivery(context.Background(), p)
			require.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestServiceNotConfigured(t *testing.T) {
	var svc *Service
	_, err := svc.ListDelivery(context.Background(), DeliveryFilter{})
	require.Error(t, err)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "expected %s, got %s", want, got.String())
}
