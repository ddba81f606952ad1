package kitchen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ItemStore is the authoritative record of item cooking state. CompareAndSet
// is the only mutator of Status and is atomic per item; SetUrgent is last
// writer wins. Implementations return ErrNotFound for unknown ids and
// ErrConflict when the stored status differs from expected.
type ItemStore interface {
	Create(ctx context.Context, item *OrderTicketItem) error
	Get(ctx context.Context, id ItemID) (*OrderTicketItem, error)
	CompareAndSet(ctx context.Context, id ItemID, expected, next Status, at time.Time) (*OrderTicketItem, error)
	SetUrgent(ctx context.Context, id ItemID, urgent bool) (*OrderTicketItem, error)
	List(ctx context.Context, filter ItemFilter) ([]OrderTicketItem, error)
}

// ItemLister is the read side used to warm an in-memory store from a
// persistent backend.
type ItemLister interface {
	List(ctx context.Context, filter ItemFilter) ([]OrderTicketItem, error)
}

// stationForbidden are the characters that would break a station's subject
// on the event broker.
const stationForbidden = ".*> \t\r\n"

// NormalizeStation returns the canonical form of a station code. Items,
// channels and filters all compare stations in this form.
func NormalizeStation(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// ValidateNewItem checks the fields an intake must supply before Create and
// normalizes the station code.
func ValidateNewItem(item *OrderTicketItem) error {
	if item == nil {
		return fmt.Errorf("%w: nil item", ErrInvalidItem)
	}
	if item.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidItem)
	}
	item.Station = NormalizeStation(item.Station)
	if item.Station == "" {
		return fmt.Errorf("%w: missing station", ErrInvalidItem)
	}
	if strings.ContainsAny(item.Station, stationForbidden) {
		return fmt.Errorf("%w: station %q contains a reserved character", ErrInvalidItem, item.Station)
	}
	if item.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidItem)
	}
	if item.Status.IsZero() {
		item.Status = statuses.Pending
	}
	if item.Status != statuses.Pending || item.StartedAt != nil || item.CompletedAt != nil {
		return fmt.Errorf("%w: new items must be pending without progress stamps", ErrInvalidItem)
	}
	return nil
}
