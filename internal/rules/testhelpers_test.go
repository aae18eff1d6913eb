package rules

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/vaayugo-api/internal/pricing"
)

type memQuerier struct {
	mu        sync.Mutex
	nextID    int64
	discounts map[int64]DiscountRecord
	delivery  map[int64]DeliveryRecord
}

func newMemQuerier() *memQuerier {
	return &memQuerier{discounts: map[int64]DiscountRecord{}, delivery: map[int64]DeliveryRecord{}}
}

func (m *memQuerier) ListDiscountRules(_ context.Context, f DiscountFilter) ([]DiscountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []DiscountRecord{}
	for _, rec := range m.discounts {
		if f.CreatorType != "" && string(rec.CreatorType) != f.CreatorType {
			continue
		}
		if f.CreatorID != nil && (rec.CreatorID == nil || *rec.CreatorID != *f.CreatorID) {
			continue
		}
		if f.TargetType != "" && string(rec.TargetType) != f.TargetType {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memQuerier) GetDiscountRule(_ context.Context, id int64) (DiscountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.discounts[id]
	if !ok {
		return DiscountRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *memQuerier) CreateDiscountRule(_ context.Context, r pricing.DiscountRule) (DiscountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	rec := DiscountRecord{DiscountRule: r, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.discounts[r.ID] = rec
	return rec, nil
}

func (m *memQuerier) UpdateDiscountRule(_ context.Context, r pricing.DiscountRule) (DiscountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.discounts[r.ID]
	if !ok {
		return DiscountRecord{}, ErrNotFound
	}
	existing.DiscountRule = r
	existing.UpdatedAt = time.Now()
	m.discounts[r.ID] = existing
	return existing, nil
}

func (m *memQuerier) DeleteDiscountRule(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.discounts[id]; !ok {
		return ErrNotFound
	}
	delete(m.discounts, id)
	return nil
}

func (m *memQuerier) ListDeliveryRules(_ context.Context, f DeliveryFilter) ([]DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []DeliveryRecord{}
	for _, rec := range m.delivery {
		if f.TargetType != "" && string(rec.TargetType) != f.TargetType {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memQuerier) GetDeliveryRule(_ context.Context, id int64) (DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.delivery[id]
	if !ok {
		return DeliveryRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *memQuerier) CreateDeliveryRule(_ context.Context, r pricing.DeliveryFeeRule) (DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	rec := DeliveryRecord{DeliveryFeeRule: r, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.delivery[r.ID] = rec
	return rec, nil
}

func (m *memQuerier) UpdateDeliveryRule(_ context.Context, r pricing.DeliveryFeeRule) (DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.delivery[r.ID]
	if !ok {
		return DeliveryRecord{}, ErrNotFound
	}
	existing.DeliveryFeeRule = r
	m.delivery[r.ID] = existing
	return existing, nil
}

func (m *memQuerier) DeleteDeliveryRule(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.delivery[id]; !ok {
		return ErrNotFound
	}
	delete(m.delivery, id)
	return nil
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func strPtr(v string) *string { return &v }

func validDelivery() DeliveryPayload {
	return DeliveryPayload{
		TargetType:           "GLOBAL",
		DeliveryFee:          dec("20"),
		ShopDeliveryShare:    dec("5"),
		VaayugoDeliveryShare: dec("15"),
		CommissionPercent:    dec("10"),
		MinOrderValue:        dec("100"),
	}
}

func validDiscount() DiscountPayload {
	return DiscountPayload{
		Name:       "weekend sale",
		Type:       "PERCENTAGE",
		Value:      dec("10"),
		TargetType: "GLOBAL",
	}
}
