package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/noah-isme/vaayugo-api/internal/obs"
)

// NotificationKindNewOrder marks a shop notification raised for a newly placed order.
const NotificationKindNewOrder = "NEW_ORDER"

// NotificationStore records notifications for shops.
type NotificationStore interface {
	InsertShopNotification(ctx context.Context, shopID, orderID int64, kind string) (bool, error)
}

// Execer is the subset of pgx used by PGNotificationStore.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGNotificationStore writes to the shop_notifications table.
type PGNotificationStore struct {
	DB Execer
}

// InsertShopNotification inserts a notification and reports whether a new row was created.
func (s PGNotificationStore) InsertShopNotification(ctx context.Context, shopID, orderID int64, kind string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `INSERT INTO shop_notifications (shop_id, order_id, kind)
VALUES ($1, $2, $3)
ON CONFLICT (order_id, kind) DO NOTHING`, shopID, orderID, kind)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// OrderPlacedHandler consumes TopicOrderPlaced tasks.
type OrderPlacedHandler struct {
	Store NotificationStore
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h OrderPlacedHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var p OrderPlaced
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		obs.CountShopNotification("invalid")
		return fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	if p.OrderID <= 0 || p.ShopID <= 0 {
		obs.CountShopNotification("invalid")
		return fmt.Errorf("%s payload missing ids: %w", task.Type(), asynq.SkipRetry)
	}
	created, err := h.Store.InsertShopNotification(ctx, p.ShopID, p.OrderID, NotificationKindNewOrder)
	if err != nil {
		obs.CountShopNotification("error")
		return fmt.Errorf("insert shop notification: %w", err)
	}
	result := "created"
	if !created {
		result = "duplicate"
	}
	obs.CountShopNotification(result)
	zerolog.Ctx(ctx).Info().
		Int64("order_id", p.OrderID).
		Int64("shop_id", p.ShopID).
		Str("result", result).
		Msg("shop notified of new order")
	return nil
}

// NewServeMux routes event tasks to their handlers.
func NewServeMux(store NotificationStore) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TopicOrderPlaced, OrderPlacedHandler{Store: store})
	return mux
}
