package kitchen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/expo/pkg/event"
	"golang.org/x/sync/errgroup"
)

const completeOrderParallelism = 8

// StatusUpdate is a station request to move one item forward. Expected, when
// set, must match the stored status or the update fails with ErrConflict.
type StatusUpdate struct {
	ItemID   ItemID
	Target   Status
	Expected *Status
	ActorID  string
}

// TransitionResult describes the item after a command. Changed is false when
// the command was an idempotent no-op.
type TransitionResult struct {
	Item     OrderTicketItem `json:"item"`
	Previous Status          `json:"previous_status"`
	Changed  bool            `json:"changed"`
}

type ItemOutcome string

const (
	OutcomeCompleted   ItemOutcome = "completed"
	OutcomeAlreadyDone ItemOutcome = "already_done"
	OutcomeConflict    ItemOutcome = "conflict"
	OutcomeNotFound    ItemOutcome = "not_found"
	OutcomeFailed      ItemOutcome = "failed"
)

// ItemCompletion is the per-item result of a sous-chef override.
type ItemCompletion struct {
	ItemID   ItemID      `json:"item_id"`
	Previous Status      `json:"previous_status"`
	Outcome  ItemOutcome `json:"outcome"`
	Error    string      `json:"error,omitempty"`
}

// CompletionReport lists what CompleteOrder did to each item of the order.
// Partial success is normal.
type CompletionReport struct {
	OrderID     OrderID          `json:"order_id"`
	CompletedAt time.Time        `json:"completed_at"`
	Items       []ItemCompletion `json:"items"`
}

// Completed returns how many items were moved to done by this override.
func (r *CompletionReport) Completed() int {
	var n int
	for _, item := range r.Items {
		if item.Outcome == OutcomeCompleted {
			n++
		}
	}
	return n
}

// Engine applies commands against an ItemStore and announces every
// successful mutation through a Notifier. It never retries.
type Engine struct {
	store    ItemStore
	notifier Notifier
	clock    Clock
	settings Settings
	metrics  *Metrics
	logger   apt.Logger
}

func NewEngine(store ItemStore, notifier Notifier, clock Clock, settings Settings, metrics *Metrics, logger apt.Logger) *Engine {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		clock:    clock,
		settings: settings,
		metrics:  metrics,
		logger:   logger,
	}
}

func (e *Engine) Settings() Settings {
	return e.settings
}

// CreateItem registers a new pending item handed over by the order system.
func (e *Engine) CreateItem(ctx context.Context, item *OrderTicketItem, actorID string) error {
	if item != nil && item.CreatedAt.IsZero() {
		item.CreatedAt = e.clock.Now()
	}
	if err := e.store.Create(ctx, item); err != nil {
		return err
	}

	e.emit(event.EventKitchenItemCreated, *item, Status{}, actorID)
	return nil
}

func (e *Engine) UpdateItemStatus(ctx context.Context, req StatusUpdate) (*TransitionResult, error) {
	const op = "update_status"

	item, err := e.store.Get(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}

	if req.Expected != nil && item.Status != *req.Expected {
		e.metrics.RecordConflict(op)
		return nil, ErrConflict
	}

	// Duplicate taps are harmless.
	if item.Status == req.Target {
		return &TransitionResult{Item: *item, Previous: item.Status}, nil
	}

	if err := CanUpdateStatus(item.Status, req.Target); err != nil {
		e.metrics.RecordRejection(op, "invalid_transition")
		return nil, err
	}

	previous := item.Status
	updated, err := e.store.CompareAndSet(ctx, req.ItemID, previous, req.Target, e.clock.Now())
	if err != nil {
		if errors.Is(err, ErrConflict) {
			e.metrics.RecordConflict(op)
		}
		return nil, err
	}

	e.metrics.RecordTransition(previous, req.Target)
	e.logger.Debug("item status updated", "item_id", req.ItemID, "from", previous.Code(), "to", req.Target.Code(), "actor_id", req.ActorID)
	e.emit(event.EventKitchenItemStatusChanged, *updated, previous, req.ActorID)

	return &TransitionResult{Item: *updated, Previous: previous, Changed: true}, nil
}

// CompleteOrder forces every non-done item of the order to done. Each item is
// a separate compare-and-set; all of them share the override timestamp.
func (e *Engine) CompleteOrder(ctx context.Context, orderID OrderID, actorID string) (*CompletionReport, error) {
	items, err := e.store.List(ctx, ItemFilter{OrderID: &orderID})
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}

	now := e.clock.Now()
	report := &CompletionReport{
		OrderID:     orderID,
		CompletedAt: now,
		Items:       make([]ItemCompletion, len(items)),
	}

	var g errgroup.Group
	g.SetLimit(completeOrderParallelism)

	for i := range items {
		item := items[i]
		g.Go(func() error {
			report.Items[i] = e.forceDone(ctx, item, now, actorID)
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info("order completed by override", "order_id", orderID, "actor_id", actorID, "items", len(items), "completed", report.Completed())
	return report, nil
}

func (e *Engine) forceDone(ctx context.Context, item OrderTicketItem, at time.Time, actorID string) ItemCompletion {
	const op = "complete_order"

	result := ItemCompletion{ItemID: item.ID, Previous: item.Status}
	if item.Status == statuses.Done {
		result.Outcome = OutcomeAlreadyDone
		return result
	}

	updated, err := e.store.CompareAndSet(ctx, item.ID, item.Status, statuses.Done, at)
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		e.metrics.RecordConflict(op)
		result.Outcome = OutcomeConflict
		result.Error = err.Error()
		return result
	case errors.Is(err, ErrNotFound):
		result.Outcome = OutcomeNotFound
		result.Error = err.Error()
		return result
	default:
		e.logger.Error("cannot complete item", "item_id", item.ID, "error", err)
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		return result
	}

	e.metrics.RecordTransition(item.Status, statuses.Done)
	e.emit(event.EventKitchenItemStatusChanged, *updated, item.Status, actorID)
	result.Outcome = OutcomeCompleted
	return result
}

// MarkUrgent sets or clears the urgent flag. Done items stay non-urgent.
func (e *Engine) MarkUrgent(ctx context.Context, itemID ItemID, urgent bool, actorID string) (*OrderTicketItem, error) {
	before, err := e.store.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	updated, err := e.store.SetUrgent(ctx, itemID, urgent)
	if err != nil {
		return nil, err
	}

	if updated.IsUrgent != before.IsUrgent {
		e.emit(event.EventKitchenItemUrgencyChanged, *updated, updated.Status, actorID)
	}
	return updated, nil
}

// Recall moves a done item back to cooking while it is still inside the
// recall window. StartedAt is kept.
func (e *Engine) Recall(ctx context.Context, itemID ItemID, actorID string) (*OrderTicketItem, error) {
	const op = "recall"

	item, err := e.store.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if item.Status != statuses.Done {
		e.metrics.RecordRecall("not_recallable")
		return nil, ErrNotRecallable
	}

	now := e.clock.Now()
	if !withinRecallWindow(*item, now, e.settings.RecallWindow) {
		e.metrics.RecordRecall("window_expired")
		return nil, ErrWindowExpired
	}

	updated, err := e.store.CompareAndSet(ctx, itemID, statuses.Done, statuses.Cooking, now)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			e.metrics.RecordConflict(op)
		}
		return nil, err
	}

	e.metrics.RecordRecall("recalled")
	e.metrics.RecordTransition(statuses.Done, statuses.Cooking)
	e.logger.Info("item recalled", "item_id", itemID, "actor_id", actorID)
	e.emit(event.EventKitchenItemRecalled, *updated, statuses.Done, actorID)

	return updated, nil
}

func (e *Engine) emit(eventType string, item OrderTicketItem, previous Status, actorID string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(NewStatusChangeEvent(eventType, item, previous, actorID, e.clock.Now()))
}

// NewStatusChangeEvent builds the wire event for an item state.
func NewStatusChangeEvent(eventType string, item OrderTicketItem, previous Status, actorID string, at time.Time) event.StatusChangeEvent {
	item = item.Clone()
	return event.StatusChangeEvent{
		EventType:      eventType,
		OccurredAt:     at,
		OrderID:        item.OrderID.String(),
		ItemID:         item.ID.String(),
		ActorID:        actorID,
		NewStatus:      item.Status.Code(),
		PreviousStatus: previous.Code(),
		IsUrgent:       item.IsUrgent,
		MenuItemID:     item.MenuItemID.String(),
		MenuItemName:   item.MenuItemName,
		Station:        item.Station,
		Quantity:       item.Quantity,
		Notes:          item.Notes,
		CreatedAt:      item.CreatedAt,
		StartedAt:      item.StartedAt,
		CompletedAt:    item.CompletedAt,
	}
}
