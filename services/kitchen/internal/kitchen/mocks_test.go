package kitchen

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/expo/pkg/event"
	"github.com/google/uuid"
)

var testEpoch = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// fakeClock is a settable Clock for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockItemStore delegates to an in-memory store unless a Func override is set.
type MockItemStore struct {
	*MemoryItemStore
	GetFunc           func(ctx context.Context, id ItemID) (*OrderTicketItem, error)
	CompareAndSetFunc func(ctx context.Context, id ItemID, expected, next Status, at time.Time) (*OrderTicketItem, error)
	SetUrgentFunc     func(ctx context.Context, id ItemID, urgent bool) (*OrderTicketItem, error)
	ListFunc          func(ctx context.Context, filter ItemFilter) ([]OrderTicketItem, error)
}

func NewMockItemStore() *MockItemStore {
	return &MockItemStore{MemoryItemStore: NewMemoryItemStore(nil, nil, apt.NewNoopLogger())}
}

func (m *MockItemStore) Get(ctx context.Context, id ItemID) (*OrderTicketItem, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return m.MemoryItemStore.Get(ctx, id)
}

func (m *MockItemStore) CompareAndSet(ctx context.Context, id ItemID, expected, next Status, at time.Time) (*OrderTicketItem, error) {
	if m.CompareAndSetFunc != nil {
		return m.CompareAndSetFunc(ctx, id, expected, next, at)
	}
	return m.MemoryItemStore.CompareAndSet(ctx, id, expected, next, at)
}

func (m *MockItemStore) SetUrgent(ctx context.Context, id ItemID, urgent bool) (*OrderTicketItem, error) {
	if m.SetUrgentFunc != nil {
		return m.SetUrgentFunc(ctx, id, urgent)
	}
	return m.MemoryItemStore.SetUrgent(ctx, id, urgent)
}

func (m *MockItemStore) List(ctx context.Context, filter ItemFilter) ([]OrderTicketItem, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return m.MemoryItemStore.List(ctx, filter)
}

// recordingNotifier keeps every event it is handed.
type recordingNotifier struct {
	mu     sync.Mutex
	events []event.StatusChangeEvent
}

func (n *recordingNotifier) Notify(evt event.StatusChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

func (n *recordingNotifier) Events() []event.StatusChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]event.StatusChangeEvent, len(n.events))
	copy(out, n.events)
	return out
}

// MockPublisher is a test mock for events.Publisher
type MockPublisher struct {
	mu              sync.Mutex
	PublishedEvents []PublishedEvent
	PublishFunc     func(ctx context.Context, topic string, data []byte) error
}

type PublishedEvent struct {
	Topic string
	Data  []byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		PublishedEvents: make([]PublishedEvent, 0),
	}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedEvents = append(m.PublishedEvents, PublishedEvent{Topic: topic, Data: data})
	return nil
}

func (m *MockPublisher) Published() []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishedEvent, len(m.PublishedEvents))
	copy(out, m.PublishedEvents)
	return out
}

// MockStreamConsumer is a test mock for events.StreamConsumer
type MockStreamConsumer struct {
	messages            []events.StreamMessage
	FetchFunc           func(ctx context.Context, maxMessages int) ([]events.StreamMessage, error)
	SubscribeStreamFunc func(ctx context.Context, handler events.HandlerFunc) error
}

func NewMockStreamConsumer() *MockStreamConsumer {
	return &MockStreamConsumer{
		messages: make([]events.StreamMessage, 0),
	}
}

func (m *MockStreamConsumer) Fetch(ctx context.Context, maxMessages int) ([]events.StreamMessage, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, maxMessages)
	}
	return m.messages, nil
}

func (m *MockStreamConsumer) SubscribeStream(ctx context.Context, handler events.HandlerFunc) error {
	if m.SubscribeStreamFunc != nil {
		return m.SubscribeStreamFunc(ctx, handler)
	}
	return nil
}

func (m *MockStreamConsumer) AddMessage(data []byte) {
	m.messages = append(m.messages, events.StreamMessage{Data: data})
}

// MockItemLister serves a fixed list of items.
type MockItemLister struct {
	Items    []OrderTicketItem
	ListFunc func(ctx context.Context, filter ItemFilter) ([]OrderTicketItem, error)
}

func (m *MockItemLister) List(ctx context.Context, filter ItemFilter) ([]OrderTicketItem, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return m.Items, nil
}

// newPendingItem builds a valid pending item created at createdAt.
func newPendingItem(orderID OrderID, stationCode string, createdAt time.Time) *OrderTicketItem {
	return &OrderTicketItem{
		ID:           uuid.New(),
		OrderID:      orderID,
		MenuItemID:   uuid.New(),
		MenuItemName: "Burger",
		Quantity:     1,
		Station:      stationCode,
		CreatedAt:    createdAt,
	}
}
