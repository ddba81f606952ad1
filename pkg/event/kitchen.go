package event

import (
	"strings"
	"time"
)

const (
	KitchenItemsTopic = "kitchen.items"

	EventKitchenItemCreated        = "kitchen.item.created"
	EventKitchenItemStatusChanged  = "kitchen.item.status_changed"
	EventKitchenItemUrgencyChanged = "kitchen.item.urgency_changed"
	EventKitchenItemRecalled       = "kitchen.item.recalled"
)

// StationTopic returns the per-station subject for kitchen item events.
func StationTopic(station string) string {
	return KitchenItemsTopic + "." + strings.ToLower(station)
}

// StatusChangeEvent is published on every item mutation. It carries the full
// item state so consumers can rebuild displays from the event alone, but
// displays are expected to treat it as a hint and re-pull their view.
type StatusChangeEvent struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	OrderID    string    `json:"order_id"`
	ItemID     string    `json:"item_id"`
	ActorID    string    `json:"actor_id,omitempty"`

	NewStatus      string `json:"new_status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	IsUrgent       bool   `json:"is_urgent"`

	// Denormalized data for display
	MenuItemID   string `json:"menu_item_id,omitempty"`
	MenuItemName string `json:"menu_item_name,omitempty"`
	Station      string `json:"station"`
	Quantity     int    `json:"quantity,omitempty"`
	Notes        string `json:"notes,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
