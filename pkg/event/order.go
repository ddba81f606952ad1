package event

import "time"

const (
	OrderItemsTopic       = "orders.items"
	EventOrderItemCreated = "order.item.created"

	OrdersTopic       = "orders.orders"
	EventOrderCreated = "order.created"
	EventOrderClosed  = "order.closed"
)

// OrderItemEvent represents an order item event published to NATS.
// The kitchen turns the ones that need production into pending items.
type OrderItemEvent struct {
	EventType          string    `json:"event_type"`
	OccurredAt         time.Time `json:"occurred_at"`
	OrderID            string    `json:"order_id"`
	OrderItemID        string    `json:"order_item_id"`
	MenuItemID         string    `json:"menu_item_id"`
	Quantity           int       `json:"quantity"`
	Notes              string    `json:"notes,omitempty"`
	RequiresProduction bool      `json:"requires_production"`
	ProductionStation  string    `json:"production_station,omitempty"`

	// Denormalized data for Kitchen display
	MenuItemName string `json:"menu_item_name,omitempty"`
}

// OrderEvent carries the read-only order metadata shown on sous-chef cards.
type OrderEvent struct {
	EventType     string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	OrderID       string    `json:"order_id"`
	DisplayNumber string    `json:"display_number,omitempty"`
	TableLabel    string    `json:"table_label,omitempty"`
	StaffName     string    `json:"staff_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
