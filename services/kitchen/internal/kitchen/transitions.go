package kitchen

import (
	"time"

	"github.com/appetiteclub/expo/pkg/enums/kitchenstatus"
)

var statuses = kitchenstatus.Statuses

// Stamp lists the field writes implied by moving an item from one status to
// another. Every store backend applies the same table so the timestamp
// invariants hold regardless of storage.
type Stamp struct {
	SetStarted     bool
	SetCompleted   bool
	ClearCompleted bool
	ClearUrgent    bool
}

// StampFor returns the writes for a storable edge. It accepts the two
// privileged edges (pending->done for the sous-chef override and done->cooking
// for recall) in addition to the normal ones; callers decide who may use them.
func StampFor(from, to Status) (Stamp, error) {
	switch {
	case from == statuses.Pending && to == statuses.Cooking:
		return Stamp{SetStarted: true}, nil
	case from == statuses.Cooking && to == statuses.Done:
		return Stamp{SetCompleted: true, ClearUrgent: true}, nil
	case from == statuses.Pending && to == statuses.Done:
		return Stamp{SetStarted: true, SetCompleted: true, ClearUrgent: true}, nil
	case from == statuses.Done && to == statuses.Cooking:
		return Stamp{ClearCompleted: true}, nil
	default:
		return Stamp{}, &InvalidTransitionError{Current: from, Requested: to}
	}
}

// Apply writes the stamped fields and the new status onto item.
func (s Stamp) Apply(item *OrderTicketItem, to Status, at time.Time) {
	item.Status = to
	if s.SetStarted {
		t := at
		item.StartedAt = &t
	}
	if s.SetCompleted {
		t := at
		item.CompletedAt = &t
	}
	if s.ClearCompleted {
		item.CompletedAt = nil
	}
	if s.ClearUrgent {
		item.IsUrgent = false
	}
}

// CanUpdateStatus evaluates the station-facing rule: only pending->cooking and
// cooking->done are allowed. Done must be reached through cooking.
func CanUpdateStatus(current, target Status) error {
	if current == statuses.Pending && target == statuses.Cooking {
		return nil
	}
	if current == statuses.Cooking && target == statuses.Done {
		return nil
	}
	return &InvalidTransitionError{Current: current, Requested: target}
}
