package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/expo/pkg/event"
	"github.com/appetiteclub/expo/services/kitchen/internal/kitchen"
	"github.com/google/uuid"
)

const (
	intakeActor     = "order-intake"
	replayBatchSize = 500
)

// ItemCreator registers new pending items. *kitchen.Engine satisfies it.
type ItemCreator interface {
	CreateItem(ctx context.Context, item *kitchen.OrderTicketItem, actorID string) error
}

// OrderItemSubscriber turns order items that need production into pending
// kitchen items. Redelivered events are ignored, so intake is idempotent on
// the order item id.
type OrderItemSubscriber struct {
	subscriber events.Subscriber
	creator    ItemCreator
	logger     apt.Logger
}

func NewOrderItemSubscriber(subscriber events.Subscriber, creator ItemCreator, logger apt.Logger) *OrderItemSubscriber {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OrderItemSubscriber{
		subscriber: subscriber,
		creator:    creator,
		logger:     logger,
	}
}

func (s *OrderItemSubscriber) Start(ctx context.Context) error {
	s.logger.Info("Starting OrderItemSubscriber for topic: " + event.OrderItemsTopic)

	if err := s.subscriber.Subscribe(ctx, event.OrderItemsTopic, s.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", event.OrderItemsTopic, err)
	}

	s.logger.Info("OrderItemSubscriber started successfully")
	return nil
}

func (s *OrderItemSubscriber) handleEvent(ctx context.Context, msg []byte) error {
	var evt event.OrderItemEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Errorf("Failed to unmarshal order item event: %v", err)
		return nil
	}

	if !evt.RequiresProduction {
		return nil
	}

	switch evt.EventType {
	case event.EventOrderItemCreated:
		return s.handleCreated(ctx, &evt)
	default:
		s.logger.Debug("ignoring order item event", "event_type", evt.EventType)
	}

	return nil
}

func (s *OrderItemSubscriber) handleCreated(ctx context.Context, evt *event.OrderItemEvent) error {
	item, err := itemFromOrderEvent(evt)
	if err != nil {
		s.logger.Errorf("Invalid order item event %s: %v", evt.OrderItemID, err)
		return nil
	}

	err = s.creator.CreateItem(ctx, item, intakeActor)
	switch {
	case err == nil:
		s.logger.Info("created kitchen item", "item_id", item.ID, "order_id", item.OrderID, "station", item.Station)
		return nil
	case errors.Is(err, kitchen.ErrAlreadyExists):
		return nil
	case errors.Is(err, kitchen.ErrInvalidItem):
		s.logger.Errorf("Rejected order item %s: %v", evt.OrderItemID, err)
		return nil
	default:
		s.logger.Errorf("Failed to create kitchen item %s: %v", evt.OrderItemID, err)
		return err
	}
}

// itemFromOrderEvent maps an order item to a pending kitchen item. The order
// item id doubles as the kitchen item id.
func itemFromOrderEvent(evt *event.OrderItemEvent) (*kitchen.OrderTicketItem, error) {
	id, err := uuid.Parse(evt.OrderItemID)
	if err != nil {
		return nil, fmt.Errorf("invalid order_item_id: %w", err)
	}
	orderID, err := uuid.Parse(evt.OrderID)
	if err != nil {
		return nil, fmt.Errorf("invalid order_id: %w", err)
	}
	menuItemID, err := uuid.Parse(evt.MenuItemID)
	if err != nil {
		return nil, fmt.Errorf("invalid menu_item_id: %w", err)
	}

	return &kitchen.OrderTicketItem{
		ID:           id,
		OrderID:      orderID,
		MenuItemID:   menuItemID,
		MenuItemName: evt.MenuItemName,
		Quantity:     evt.Quantity,
		Station:      evt.ProductionStation,
		Notes:        evt.Notes,
		CreatedAt:    evt.OccurredAt,
	}, nil
}

// OrderSubscriber keeps the order directory in sync with order lifecycle
// events.
type OrderSubscriber struct {
	subscriber events.Subscriber
	orders     *kitchen.OrderDirectory
	logger     apt.Logger
}

func NewOrderSubscriber(subscriber events.Subscriber, orders *kitchen.OrderDirectory, logger apt.Logger) *OrderSubscriber {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OrderSubscriber{
		subscriber: subscriber,
		orders:     orders,
		logger:     logger,
	}
}

func (s *OrderSubscriber) Start(ctx context.Context) error {
	s.logger.Info("Starting OrderSubscriber for topic: " + event.OrdersTopic)

	if err := s.subscriber.Subscribe(ctx, event.OrdersTopic, s.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", event.OrdersTopic, err)
	}
	return nil
}

func (s *OrderSubscriber) handleEvent(ctx context.Context, msg []byte) error {
	var evt event.OrderEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Errorf("Failed to unmarshal order event: %v", err)
		return nil
	}

	orderID, err := uuid.Parse(evt.OrderID)
	if err != nil {
		s.logger.Errorf("Invalid order_id %q: %v", evt.OrderID, err)
		return nil
	}

	switch evt.EventType {
	case event.EventOrderCreated:
		createdAt := evt.CreatedAt
		if createdAt.IsZero() {
			createdAt = evt.OccurredAt
		}
		err = s.orders.Record(ctx, kitchen.OrderInfo{
			OrderID:       orderID,
			DisplayNumber: evt.DisplayNumber,
			TableLabel:    evt.TableLabel,
			StaffName:     evt.StaffName,
			CreatedAt:     createdAt,
		})
	case event.EventOrderClosed:
		err = s.orders.Drop(ctx, orderID)
	default:
		s.logger.Debug("ignoring order event", "event_type", evt.EventType)
	}

	if err != nil {
		s.logger.Errorf("Failed to persist order %s: %v", orderID, err)
	}
	return nil
}

// Replay rebuilds the directory from retained order events, oldest first.
func (s *OrderSubscriber) Replay(ctx context.Context, stream events.StreamConsumer) error {
	messages, err := stream.Fetch(ctx, replayBatchSize)
	if err != nil {
		return fmt.Errorf("failed to replay %s: %w", event.OrdersTopic, err)
	}
	for _, msg := range messages {
		_ = s.handleEvent(ctx, msg.Data)
	}
	s.logger.Info("order directory replayed", "events", len(messages), "orders", s.orders.Len())
	return nil
}
