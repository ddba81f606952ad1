package kitchen

import (
	"time"

	"github.com/appetiteclub/expo/pkg/enums/kitchenstatus"
	"github.com/google/uuid"
)

type ItemID = uuid.UUID
type OrderID = uuid.UUID
type MenuItemID = uuid.UUID

type Status = kitchenstatus.Status

// OrderTicketItem is one ordered line routed to a station. Station and
// MenuItemID never change after creation; only Status, IsUrgent and the two
// progress timestamps mutate, and only through an ItemStore.
type OrderTicketItem struct {
	ID           ItemID     `json:"id"`
	OrderID      OrderID    `json:"order_id"`
	MenuItemID   MenuItemID `json:"menu_item_id"`
	MenuItemName string     `json:"menu_item_name"`
	Quantity     int        `json:"quantity"`
	Station      string     `json:"station"`
	Notes        string     `json:"notes,omitempty"`
	Status       Status     `json:"status"`
	IsUrgent     bool       `json:"is_urgent"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers never share timestamp pointers with the store.
func (i OrderTicketItem) Clone() OrderTicketItem {
	c := i
	if i.StartedAt != nil {
		t := *i.StartedAt
		c.StartedAt = &t
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// IsActive reports whether the item still needs station work.
func (i OrderTicketItem) IsActive() bool {
	return i.Status.IsActive()
}

// OrderInfo is the read-only order metadata owned by the order system.
type OrderInfo struct {
	OrderID       OrderID   `json:"order_id"`
	DisplayNumber string    `json:"display_number"`
	TableLabel    string    `json:"table_label"`
	StaffName     string    `json:"staff_name"`
	CreatedAt     time.Time `json:"created_at"`
}

// ItemFilter narrows a store snapshot. Zero values match everything.
type ItemFilter struct {
	Station        string
	OrderID        *OrderID
	Status         *Status
	ActiveOnly     bool
	CompletedSince *time.Time
}

// Matches reports whether the item passes the filter.
func (f ItemFilter) Matches(item *OrderTicketItem) bool {
	if f.Station != "" && item.Station != f.Station {
		return false
	}
	if f.OrderID != nil && item.OrderID != *f.OrderID {
		return false
	}
	if f.Status != nil && item.Status != *f.Status {
		return false
	}
	if f.ActiveOnly && !item.IsActive() {
		return false
	}
	if f.CompletedSince != nil {
		if item.CompletedAt == nil || item.CompletedAt.Before(*f.CompletedSince) {
			return false
		}
	}
	return true
}
