package kitchen

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/expo/pkg/enums/kitchenstatus"
	"github.com/appetiteclub/expo/pkg/event"
	"github.com/google/uuid"
)

// warmBatchSize bounds each pull while replaying the event stream.
const warmBatchSize = 500

type itemEntry struct {
	mu   sync.Mutex
	item OrderTicketItem
}

func (e *itemEntry) snapshot() OrderTicketItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item.Clone()
}

// MemoryItemStore keeps item state in memory, indexed by station and order.
// The map lock only guards membership; each item carries its own lock, so
// transitions on different items never contend.
type MemoryItemStore struct {
	mu        sync.RWMutex
	items     map[ItemID]*itemEntry
	byStation map[string][]ItemID
	byOrder   map[OrderID][]ItemID

	stream events.StreamConsumer // For event replay on startup
	repo   ItemLister            // Fallback when the stream is unavailable
	logger apt.Logger
}

// NewMemoryItemStore creates an empty store. stream and repo are optional
// sources used by Warm.
func NewMemoryItemStore(stream events.StreamConsumer, repo ItemLister, logger apt.Logger) *MemoryItemStore {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &MemoryItemStore{
		items:     make(map[ItemID]*itemEntry),
		byStation: make(map[string][]ItemID),
		byOrder:   make(map[OrderID][]ItemID),
		stream:    stream,
		repo:      repo,
		logger:    logger,
	}
}

func (s *MemoryItemStore) Create(ctx context.Context, item *OrderTicketItem) error {
	if err := ValidateNewItem(item); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; exists {
		return ErrAlreadyExists
	}
	s.insertLocked(item.Clone())
	return nil
}

func (s *MemoryItemStore) Get(ctx context.Context, id ItemID) (*OrderTicketItem, error) {
	e := s.entry(id)
	if e == nil {
		return nil, ErrNotFound
	}
	item := e.snapshot()
	return &item, nil
}

func (s *MemoryItemStore) CompareAndSet(ctx context.Context, id ItemID, expected, next Status, at time.Time) (*OrderTicketItem, error) {
	stamp, err := StampFor(expected, next)
	if err != nil {
		return nil, err
	}

	e := s.entry(id)
	if e == nil {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.item.Status != expected {
		return nil, ErrConflict
	}
	stamp.Apply(&e.item, next, at)

	item := e.item.Clone()
	return &item, nil
}

func (s *MemoryItemStore) SetUrgent(ctx context.Context, id ItemID, urgent bool) (*OrderTicketItem, error) {
	e := s.entry(id)
	if e == nil {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// A finished item never needs urgent attention.
	e.item.IsUrgent = urgent && e.item.Status != statuses.Done

	item := e.item.Clone()
	return &item, nil
}

// List returns a snapshot of matching items ordered by CreatedAt (oldest
// first). Items are copied one at a time, so the list may mix states from
// different instants but never holds a torn item.
func (s *MemoryItemStore) List(ctx context.Context, filter ItemFilter) ([]OrderTicketItem, error) {
	s.mu.RLock()
	var candidates []*itemEntry
	switch {
	case filter.OrderID != nil:
		candidates = s.entriesLocked(s.byOrder[*filter.OrderID])
	case filter.Station != "":
		candidates = s.entriesLocked(s.byStation[filter.Station])
	default:
		candidates = make([]*itemEntry, 0, len(s.items))
		for _, e := range s.items {
			candidates = append(candidates, e)
		}
	}
	s.mu.RUnlock()

	result := make([]OrderTicketItem, 0, len(candidates))
	for _, e := range candidates {
		item := e.snapshot()
		if filter.Matches(&item) {
			result = append(result, item)
		}
	}

	SortByCreatedAt(result)
	return result, nil
}

// Count returns the number of items in the store
func (s *MemoryItemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// PruneCompleted drops done items completed before cutoff and returns how
// many were removed. Active items are never pruned.
func (s *MemoryItemStore) PruneCompleted(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, e := range s.items {
		item := e.snapshot()
		if item.Status != statuses.Done || item.CompletedAt == nil || !item.CompletedAt.Before(cutoff) {
			continue
		}
		s.removeFromIndex(s.byStation, item.Station, id)
		s.removeFromOrderIndex(item.OrderID, id)
		delete(s.items, id)
		removed++
	}
	return removed
}

// Warm loads items using event replay from the stream. Falls back to the
// repository listing if the stream is unavailable.
func (s *MemoryItemStore) Warm(ctx context.Context) error {
	if s.stream != nil {
		if err := s.warmFromStream(ctx); err != nil {
			s.logger.Info("stream replay failed, falling back to repository", "error", err)
		} else {
			return nil
		}
	}

	if s.repo == nil {
		s.logger.Info("neither stream nor repo configured, store starts empty")
		return nil
	}

	return s.WarmFromRepo(ctx)
}

// WarmFromRepo loads items directly from the repository, bypassing the event
// stream. Useful after seeding data without publishing events.
func (s *MemoryItemStore) WarmFromRepo(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	s.logger.Info("warming item store from repository")

	items, err := s.repo.List(ctx, ItemFilter{})
	if err != nil {
		s.logger.Info("failed to warm item store from repository, store remains empty", "error", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range items {
		s.restoreLocked(items[i])
	}

	s.logger.Info("item store warmed from repository", "count", len(items))
	return nil
}

func (s *MemoryItemStore) warmFromStream(ctx context.Context) error {
	s.logger.Info("warming item store from event stream")

	messages, err := s.stream.Fetch(ctx, warmBatchSize)
	if err != nil {
		return err
	}

	s.logger.Info("fetched events from stream", "count", len(messages))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range messages {
		s.applyEventLocked(msg.Data)
	}

	s.logger.Info("item store warmed from stream", "items", len(s.items))
	return nil
}

// applyEventLocked replays one event. Events carry the full item state, so
// every known type is an upsert. Must be called with s.mu locked.
func (s *MemoryItemStore) applyEventLocked(data []byte) {
	var evt event.StatusChangeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Error("failed to unmarshal kitchen event", "error", err)
		return
	}

	switch evt.EventType {
	case event.EventKitchenItemCreated,
		event.EventKitchenItemStatusChanged,
		event.EventKitchenItemUrgencyChanged,
		event.EventKitchenItemRecalled:
	default:
		// Silently ignore unknown event types (forward compatibility)
		return
	}

	item, ok := itemFromEvent(evt)
	if !ok {
		s.logger.Debug("skipping kitchen event with invalid ids", "item_id", evt.ItemID)
		return
	}
	s.restoreLocked(item)
}

func itemFromEvent(evt event.StatusChangeEvent) (OrderTicketItem, bool) {
	itemID, err := uuid.Parse(evt.ItemID)
	if err != nil {
		return OrderTicketItem{}, false
	}
	orderID, err := uuid.Parse(evt.OrderID)
	if err != nil {
		return OrderTicketItem{}, false
	}
	menuItemID, _ := uuid.Parse(evt.MenuItemID)

	status := kitchenstatus.ByName(evt.NewStatus)
	if status == nil {
		return OrderTicketItem{}, false
	}

	item := OrderTicketItem{
		ID:           itemID,
		OrderID:      orderID,
		MenuItemID:   menuItemID,
		MenuItemName: evt.MenuItemName,
		Quantity:     evt.Quantity,
		Station:      evt.Station,
		Notes:        evt.Notes,
		Status:       *status,
		IsUrgent:     evt.IsUrgent,
		CreatedAt:    evt.CreatedAt,
		StartedAt:    evt.StartedAt,
		CompletedAt:  evt.CompletedAt,
	}
	return item.Clone(), true
}

// restoreLocked upserts a full item state. Station and order of an existing
// item are kept, they never change after creation.
func (s *MemoryItemStore) restoreLocked(item OrderTicketItem) {
	if e, exists := s.items[item.ID]; exists {
		e.mu.Lock()
		item.Station = e.item.Station
		item.OrderID = e.item.OrderID
		item.MenuItemID = e.item.MenuItemID
		e.item = item.Clone()
		e.mu.Unlock()
		return
	}
	s.insertLocked(item.Clone())
}

func (s *MemoryItemStore) insertLocked(item OrderTicketItem) {
	s.items[item.ID] = &itemEntry{item: item}
	s.byStation[item.Station] = append(s.byStation[item.Station], item.ID)
	s.byOrder[item.OrderID] = append(s.byOrder[item.OrderID], item.ID)
}

func (s *MemoryItemStore) entry(id ItemID) *itemEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[id]
}

func (s *MemoryItemStore) entriesLocked(ids []ItemID) []*itemEntry {
	result := make([]*itemEntry, 0, len(ids))
	for _, id := range ids {
		if e := s.items[id]; e != nil {
			result = append(result, e)
		}
	}
	return result
}

// Helper functions for index management

func (s *MemoryItemStore) removeFromIndex(index map[string][]ItemID, key string, id ItemID) {
	ids := index[key]
	for i, existing := range ids {
		if existing == id {
			index[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(index[key]) == 0 {
		delete(index, key)
	}
}

func (s *MemoryItemStore) removeFromOrderIndex(orderID OrderID, id ItemID) {
	ids := s.byOrder[orderID]
	for i, existing := range ids {
		if existing == id {
			s.byOrder[orderID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byOrder[orderID]) == 0 {
		delete(s.byOrder, orderID)
	}
}

// SortByCreatedAt orders items oldest first, breaking ties by id so the order
// is stable across reads.
func SortByCreatedAt(items []OrderTicketItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
}
