package events

// Topic constants for domain events emitted by the platform. Topics double as asynq task types.
const (
	TopicOrderPlaced = "order:placed"
)

// DefaultTopics returns the canonical list of topics the worker consumes.
func DefaultTopics() []string {
	return []string{TopicOrderPlaced}
}

// OrderPlaced is the payload of TopicOrderPlaced.
type OrderPlaced struct {
	OrderID      int64  `json:"order_id"`
	ShopID       int64  `json:"shop_id"`
	UserID       int64  `json:"user_id"`
	TotalPayable string `json:"total_payable"`
	IsSmallOrder bool   `json:"is_small_order"`
}
