package order

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/vaayugo-api/internal/cart"
	"github.com/noah-isme/vaayugo-api/internal/events"
	"github.com/noah-isme/vaayugo-api/internal/lock"
	"github.com/noah-isme/vaayugo-api/internal/pricing"
	"github.com/noah-isme/vaayugo-api/internal/shop"
)

type fakePricer struct {
	mu     sync.Mutex
	err    error
	calls  int
	caller int64
}

func (f *fakePricer) Calculate(_ context.Context, in cart.CalculateInput, callerID int64) (cart.Quote, error) {
	f.mu.Lock()
	f.calls++
	f.caller = callerID
	f.mu.Unlock()
	if f.err != nil {
		return cart.Quote{}, f.err
	}
	subtotal := decimal.Zero
	for _, it := range in.Items {
		subtotal = subtotal.Add(it.Subtotal())
	}
	platform := subtotal.Mul(decimal.RequireFromString("0.1"))
	fee := decimal.NewFromInt(20)
	return cart.Quote{
		Shop:  shop.Shop{ID: in.ShopID, Category: "Grocery", LocationID: 3},
		Scope: pricing.Scope{ShopID: in.ShopID, Category: "Grocery", LocationID: 3},
		Breakdown: pricing.Breakdown{
			Subtotal:         subtotal,
			ShopDiscount:     decimal.Zero,
			PlatformDiscount: platform,
			DeliveryFee:      fee,
			TotalPayable:     subtotal.Sub(platform).Add(fee),
			CommissionAmount: subtotal.Mul(decimal.RequireFromString("0.1")),
			ShopPayout:       subtotal,
			DeliveryRuleID:   1,
			AppliedRules: pricing.AppliedRules{
				Platform: &pricing.AppliedRule{ID: 11, Name: "Festive 10"},
			},
		},
	}, nil
}

type memRepo struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]Order
}

func newMemRepo() *memRepo { return &memRepo{orders: map[int64]Order{}} }

func (m *memRepo) Insert(_ context.Context, o Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now()
	m.orders[o.ID] = o
	return o, nil
}

func (m *memRepo) Get(_ context.Context, id, userID int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || (userID != 0 && o.UserID != userID) {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (m *memRepo) ListForUser(_ context.Context, userID int64, limit, offset int) ([]Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Order{}
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := int64(len(out))
	if offset >= len(out) {
		return []Order{}, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id int64, next Status) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return "", ErrNotFound
	}
	if !o.Status.CanTransition(next) {
		return o.Status, ErrInvalidTransition
	}
	o.Status = next
	m.orders[id] = o
	return next, nil
}

type capturePublisher struct {
	topics   []string
	payloads []any
	err      error
}

func (c *capturePublisher) Emit(_ context.Context, topic string, aggregateID int64, payload any) (events.Event, error) {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload)
	return events.Event{Topic: topic, AggregateID: aggregateID}, c.err
}

func sampleInput() PlaceInput {
	return PlaceInput{
		Cart: cart.CalculateInput{
			Items:  []pricing.CartItem{{ID: " p-1 ", Price: decimal.RequireFromString("125.555"), Quantity: 4}},
			ShopID: 7,
		},
		Address: " 12 MG Road, Indore ",
	}
}

func newLocker(t *testing.T) lock.Locker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
}

func TestPlaceStoresRoundedCODOrder(t *testing.T) {
	pricer := &fakePricer{}
	pub := &capturePublisher{}
	repo := newMemRepo()
	svc := &Service{Pricer: pricer, Store: repo, Events: pub, Locker: newLocker(t)}

	o, err := svc.Place(context.Background(), 100, sampleInput())
	require.NoError(t, err)
	require.Equal(t, int64(100), pricer.caller)
	require.Equal(t, StatusPlaced, o.Status)
	require.Equal(t, PaymentCOD, o.PaymentMethod)
	require.Equal(t, "12 MG Road, Indore", o.Address)
	require.Equal(t, "502.22", o.Subtotal.StringFixed(2))
	require.True(t, o.Subtotal.Equal(decimal.RequireFromString("502.22")))
	require.Equal(t, "p-1", o.Items[0].ProductID)
	require.Equal(t, int64(11), *o.PlatformRuleID)
	require.Nil(t, o.ShopRuleID)

	require.Equal(t, []string{events.TopicOrderPlaced}, pub.topics)
	payload := pub.payloads[0].(events.OrderPlaced)
	require.Equal(t, o.ID, payload.OrderID)
	require.Equal(t, o.TotalPayable.StringFixed(2), payload.TotalPayable)
}

func TestPlaceValidatesBeforePricing(t *testing.T) {
	pricer := &fakePricer{}
	svc := &Service{Pricer: pricer, Store: newMemRepo()}

	in := sampleInput()
	in.Address = "   "
	_, err := svc.Place(context.Background(), 100, in)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Place(context.Background(), 0, sampleInput())
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Zero(t, pricer.calls)
}

func TestPlaceSurfacesPricingErrors(t *testing.T) {
	repo := newMemRepo()
	pub := &capturePublisher{}
	svc := &Service{Pricer: &fakePricer{err: pricing.ErrOrderBelowMinimum}, Store: repo, Events: pub}
	_, err := svc.Place(context.Background(), 100, sampleInput())
	require.ErrorIs(t, err, pricing.ErrOrderBelowMinimum)
	require.Empty(t, repo.orders)
	require.Empty(t, pub.topics)
}

func TestPlaceSucceedsWhenPublishFails(t *testing.T) {
	svc := &Service{Pricer: &fakePricer{}, Store: newMemRepo(), Events: &capturePublisher{err: errors.New("queue down")}}
	o, err := svc.Place(context.Background(), 100, sampleInput())
	require.NoError(t, err)
	require.NotZero(t, o.ID)
}

func TestPlaceSerialisesPerUser(t *testing.T) {
	repo := newMemRepo()
	svc := &Service{Pricer: &fakePricer{}, Store: repo, Locker: newLocker(t), LockTTL: time.Second}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Place(context.Background(), 100, sampleInput())
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Len(t, repo.orders, 4)
}

func TestGetIsScopedToOwner(t *testing.T) {
	svc := &Service{Pricer: &fakePricer{}, Store: newMemRepo()}
	o, err := svc.Place(context.Background(), 100, sampleInput())
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), 100, o.ID)
	require.NoError(t, err)
	require.Equal(t, o.ID, got.ID)

	_, err = svc.Get(context.Background(), 101, o.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPlaced, StatusAccepted, true},
		{StatusPlaced, StatusDelivered, true},
		{StatusAccepted, StatusCancelled, true},
		{StatusOutForDelivery, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusAccepted, StatusPlaced, false},
		{StatusCancelled, StatusAccepted, false},
		{StatusPlaced, Status("LOST"), false},
	}
	for _, tc := range cases {
		require.Equalf(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}

	svc := &Service{Pricer: &fakePricer{}, Store: newMemRepo()}
	o, err := svc.Place(context.Background(), 100, sampleInput())
	require.NoError(t, err)
	_, err = svc.UpdateStatus(context.Background(), o.ID, Status("LOST"))
	require.ErrorIs(t, err, ErrInvalidInput)
	st, err := svc.UpdateStatus(context.Background(), o.ID, StatusAccepted)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, st)
}
