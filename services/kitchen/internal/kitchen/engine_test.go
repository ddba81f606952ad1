package kitchen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/expo/pkg/event"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine   *Engine
	store    *MockItemStore
	clock    *fakeClock
	notifier *recordingNotifier
	metrics  *Metrics
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:    NewMockItemStore(),
		clock:    newFakeClock(testEpoch),
		notifier: &recordingNotifier{},
		metrics:  NewMetrics(),
	}
	f.engine = NewEngine(f.store, f.notifier, f.clock, DefaultSettings(), f.metrics, apt.NewNoopLogger())
	return f
}

func (f *engineFixture) addPending(t *testing.T, orderID OrderID, stationCode string) *OrderTicketItem {
	t.Helper()
	item := newPendingItem(orderID, stationCode, f.clock.Now())
	require.NoError(t, f.store.Create(context.Background(), item))
	return item
}

func (f *engineFixture) move(t *testing.T, id ItemID, target Status) *OrderTicketItem {
	t.Helper()
	result, err := f.engine.UpdateItemStatus(context.Background(), StatusUpdate{ItemID: id, Target: target, ActorID: "station"})
	require.NoError(t, err)
	return &result.Item
}

func assertStampInvariants(t *testing.T, item OrderTicketItem) {
	t.Helper()
	switch item.Status {
	case statuses.Pending:
		assert.Nil(t, item.StartedAt, "pending item must not have startedAt")
		assert.Nil(t, item.CompletedAt, "pending item must not have completedAt")
	case statuses.Cooking:
		assert.NotNil(t, item.StartedAt, "cooking item must have startedAt")
		assert.Nil(t, item.CompletedAt, "cooking item must not have completedAt")
	case statuses.Done:
		assert.NotNil(t, item.StartedAt, "done item must have startedAt")
		assert.NotNil(t, item.CompletedAt, "done item must have completedAt")
		assert.False(t, item.IsUrgent, "done item must not be urgent")
	}
}

func TestEngineLifecycleWithRecall(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	t0 := f.clock.Now()

	item := f.addPending(t, uuid.New(), "grill")

	f.clock.Set(t0.Add(1 * time.Minute))
	cooking := f.move(t, item.ID, statuses.Cooking)
	require.NotNil(t, cooking.StartedAt)
	assert.True(t, cooking.StartedAt.Equal(t0.Add(1*time.Minute)))
	assertStampInvariants(t, *cooking)

	f.clock.Set(t0.Add(6 * time.Minute))
	done := f.move(t, item.ID, statuses.Done)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(t0.Add(6*time.Minute)))
	assertStampInvariants(t, *done)

	f.clock.Set(t0.Add(10 * time.Minute))
	recalled, err := f.engine.Recall(ctx, item.ID, "sous-chef")
	require.NoError(t, err)
	assert.Equal(t, statuses.Cooking, recalled.Status)
	assert.Nil(t, recalled.CompletedAt)
	require.NotNil(t, recalled.StartedAt)
	assert.True(t, recalled.StartedAt.Equal(t0.Add(1*time.Minute)), "recall keeps startedAt")
	assertStampInvariants(t, *recalled)

	f.clock.Set(t0.Add(12 * time.Minute))
	f.move(t, item.ID, statuses.Done)

	f.clock.Set(t0.Add(25 * time.Minute))
	_, err = f.engine.Recall(ctx, item.ID, "sous-chef")
	assert.ErrorIs(t, err, ErrWindowExpired)

	stored, err := f.store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, statuses.Done, stored.Status)

	types := make([]string, 0)
	for _, evt := range f.notifier.Events() {
		types = append(types, evt.EventType)
	}
	assert.Equal(t, []string{
		event.EventKitchenItemStatusChanged,
		event.EventKitchenItemStatusChanged,
		event.EventKitchenItemRecalled,
		event.EventKitchenItemStatusChanged,
	}, types)
}

func TestEngineRecallWindowRestartsAfterRedo(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	t0 := f.clock.Now()

	item := f.addPending(t, uuid.New(), "grill")
	f.clock.Set(t0.Add(1 * time.Minute))
	f.move(t, item.ID, statuses.Cooking)
	f.clock.Set(t0.Add(6 * time.Minute))
	f.move(t, item.ID, statuses.Done)

	f.clock.Set(t0.Add(10 * time.Minute))
	_, err := f.engine.Recall(ctx, item.ID, "sous-chef")
	require.NoError(t, err)
	f.clock.Set(t0.Add(12 * time.Minute))
	f.move(t, item.ID, statuses.Done)

	// 15 minutes after the first completion, 9 after the second.
	f.clock.Set(t0.Add(21 * time.Minute))
	recalled, err := f.engine.Recall(ctx, item.ID, "sous-chef")
	require.NoError(t, err)
	assert.Equal(t, statuses.Cooking, recalled.Status)
}

func TestEngineRecallWithoutPriorRecallExpires(t *testing.T) {
	f := newEngineFixture(t)
	t0 := f.clock.Now()

	item := f.addPending(t, uuid.New(), "grill")
	f.clock.Set(t0.Add(1 * time.Minute))
	f.move(t, item.ID, statuses.Cooking)
	f.clock.Set(t0.Add(6 * time.Minute))
	f.move(t, item.ID, statuses.Done)

	f.clock.Set(t0.Add(25 * time.Minute))
	_, err := f.engine.Recall(context.Background(), item.ID, "sous-chef")
	assert.ErrorIs(t, err, ErrWindowExpired)
}

func TestEngineRecallWindowBoundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{name: "justCompleted", elapsed: 0},
		{name: "exactlyAtWindow", elapsed: DefaultRecallWindow},
		{name: "oneSecondPastWindow", elapsed: DefaultRecallWindow + time.Second, wantErr: ErrWindowExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			item := f.addPending(t, uuid.New(), "fry")
			f.move(t, item.ID, statuses.Cooking)
			f.move(t, item.ID, statuses.Done)

			f.clock.Advance(tt.elapsed)
			_, err := f.engine.Recall(context.Background(), item.ID, "sous-chef")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEngineRecallPreconditions(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	pending := f.addPending(t, uuid.New(), "fry")
	_, err := f.engine.Recall(ctx, pending.ID, "sous-chef")
	assert.ErrorIs(t, err, ErrNotRecallable)

	cooking := f.addPending(t, uuid.New(), "fry")
	f.move(t, cooking.ID, statuses.Cooking)
	_, err = f.engine.Recall(ctx, cooking.ID, "sous-chef")
	assert.ErrorIs(t, err, ErrNotRecallable)

	_, err = f.engine.Recall(ctx, uuid.New(), "sous-chef")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, f.notifier.Events(), 1, "failed recalls must not emit events")
}

func TestEngineRecallLosesRace(t *testing.T) {
	f := newEngineFixture(t)
	item := f.addPending(t, uuid.New(), "fry")
	f.move(t, item.ID, statuses.Cooking)
	f.move(t, item.ID, statuses.Done)

	f.store.CompareAndSetFunc = func(ctx context.Context, id ItemID, expected, next Status, at time.Time) (*OrderTicketItem, error) {
		return nil, ErrConflict
	}

	_, err := f.engine.Recall(context.Background(), item.ID, "sous-chef")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestEngineUpdateItemStatusIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	item := f.addPending(t, uuid.New(), "grill")

	first := f.move(t, item.ID, statuses.Cooking)
	f.clock.Advance(time.Minute)

	result, err := f.engine.UpdateItemStatus(context.Background(), StatusUpdate{ItemID: item.ID, Target: statuses.Cooking})
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, first.StartedAt, result.Item.StartedAt, "second tap must not restamp")
	assert.Len(t, f.notifier.Events(), 1, "no-op must not emit")
}

func TestEngineUpdateItemStatusRejectsInvalidEdges(t *testing.T) {
	tests := []struct {
		name    string
		prepare []Status
		target  Status
	}{
		{name: "pendingToDone", target: statuses.Done},
		{name: "cookingToPending", prepare: []Status{statuses.Cooking}, target: statuses.Pending},
		{name: "doneToCooking", prepare: []Status{statuses.Cooking, statuses.Done}, target: statuses.Cooking},
		{name: "doneToPending", prepare: []Status{statuses.Cooking, statuses.Done}, target: statuses.Pending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			item := f.addPending(t, uuid.New(), "grill")
			current := statuses.Pending
			for _, s := range tt.prepare {
				f.move(t, item.ID, s)
				current = s
			}

			_, err := f.engine.UpdateItemStatus(context.Background(), StatusUpdate{ItemID: item.ID, Target: tt.target})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTransition)

			var transition *InvalidTransitionError
			require.True(t, errors.As(err, &transition))
			assert.Equal(t, current, transition.Current)
			assert.Equal(t, tt.target, transition.Requested)

			stored, err := f.store.Get(context.Background(), item.ID)
			require.NoError(t, err)
			assert.Equal(t, current, stored.Status)
		})
	}
}

func TestEngineUpdateItemStatusNotFound(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.UpdateItemStatus(context.Background(), StatusUpdate{ItemID: uuid.New(), Target: statuses.Cooking})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngineUpdateItemStatusExpectedMismatch(t *testing.T) {
	f := newEngineFixture(t)
	item := f.addPending(t, uuid.New(), "grill")
	f.move(t, item.ID, statuses.Cooking)

	expected := statuses.Pending
	_, err := f.engine.UpdateItemStatus(context.Background(), StatusUpdate{
		ItemID:   item.ID,
		Target:   statuses.Cooking,
		Expected: &expected,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestEngineConcurrentStartExactlyOneWins(t *testing.T) {
	f := newEngineFixture(t)
	item := f.addPending(t, uuid.New(), "grill")

	const stations = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	start := make(chan struct{})
	for i := 0; i < stations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			expected := statuses.Pending
			_, err := f.engine.UpdateItemStatus(context.Background(), StatusUpdate{
				ItemID:   item.ID,
				Target:   statuses.Cooking,
				Expected: &expected,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, stations-1, conflicts)
	assert.Len(t, f.notifier.Events(), 1)
}

func TestEngineCompleteOrderForcesDone(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	orderID := uuid.New()

	pending := f.addPending(t, orderID, "grill")
	cooking := f.addPending(t, orderID, "fry")
	done := f.addPending(t, orderID, "cold")
	f.move(t, cooking.ID, statuses.Cooking)
	f.move(t, done.ID, statuses.Cooking)
	f.move(t, done.ID, statuses.Done)

	f.clock.Advance(3 * time.Minute)
	overrideAt := f.clock.Now()
	eventsBefore := len(f.notifier.Events())

	report, err := f.engine.CompleteOrder(ctx, orderID, "sous-chef")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Completed())
	assert.True(t, report.CompletedAt.Equal(overrideAt))

	outcomes := make(map[ItemID]ItemOutcome)
	for _, r := range report.Items {
		outcomes[r.ItemID] = r.Outcome
	}
	assert.Equal(t, OutcomeCompleted, outcomes[pending.ID])
	assert.Equal(t, OutcomeCompleted, outcomes[cooking.ID])
	assert.Equal(t, OutcomeAlreadyDone, outcomes[done.ID])

	forced, err := f.store.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, statuses.Done, forced.Status)
	require.NotNil(t, forced.StartedAt)
	require.NotNil(t, forced.CompletedAt)
	assert.True(t, forced.StartedAt.Equal(overrideAt))
	assert.True(t, forced.CompletedAt.Equal(overrideAt))

	items, err := f.store.List(ctx, ItemFilter{OrderID: &orderID})
	require.NoError(t, err)
	for _, item := range items {
		assert.Equal(t, statuses.Done, item.Status)
		assertStampInvariants(t, item)
	}

	assert.Len(t, f.notifier.Events()[eventsBefore:], 2)
}

func TestEngineCompleteOrderPartialSuccess(t *testing.T) {
	f := newEngineFixture(t)
	orderID := uuid.New()
	racing := f.addPending(t, orderID, "grill")
	other := f.addPending(t, orderID, "fry")

	f.store.CompareAndSetFunc = func(ctx context.Context, id ItemID, expected, next Status, at time.Time) (*OrderTicketItem, error) {
		if id == racing.ID {
			return nil, ErrConflict
		}
		return f.store.MemoryItemStore.CompareAndSet(ctx, id, expected, next, at)
	}

	report, err := f.engine.CompleteOrder(context.Background(), orderID, "sous-chef")
	require.NoError(t, err)

	for _, r := range report.Items {
		switch r.ItemID {
		case racing.ID:
			assert.Equal(t, OutcomeConflict, r.Outcome)
			assert.NotEmpty(t, r.Error)
		case other.ID:
			assert.Equal(t, OutcomeCompleted, r.Outcome)
		}
	}
	assert.Equal(t, 1, report.Completed())
}

func TestEngineCompleteOrderUnknownOrder(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.CompleteOrder(context.Background(), uuid.New(), "sous-chef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngineMarkUrgent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	item := f.addPending(t, uuid.New(), "saute")

	marked, err := f.engine.MarkUrgent(ctx, item.ID, true, "sous-chef")
	require.NoError(t, err)
	assert.True(t, marked.IsUrgent)

	// Same value again is not a change.
	_, err = f.engine.MarkUrgent(ctx, item.ID, true, "sous-chef")
	require.NoError(t, err)
	assert.Len(t, f.notifier.Events(), 1)

	f.move(t, item.ID, statuses.Cooking)
	done := f.move(t, item.ID, statuses.Done)
	assert.False(t, done.IsUrgent, "reaching done clears urgency")

	again, err := f.engine.MarkUrgent(ctx, item.ID, true, "sous-chef")
	require.NoError(t, err)
	assert.False(t, again.IsUrgent, "done items cannot be urgent")

	_, err = f.engine.MarkUrgent(ctx, uuid.New(), true, "sous-chef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngineCreateItem(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	item := newPendingItem(uuid.New(), "bar", time.Time{})
	require.NoError(t, f.engine.CreateItem(ctx, item, "orders"))
	assert.True(t, item.CreatedAt.Equal(testEpoch), "zero createdAt defaults to now")

	evts := f.notifier.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, event.EventKitchenItemCreated, evts[0].EventType)
	assert.Equal(t, "pending", evts[0].NewStatus)

	err := f.engine.CreateItem(ctx, item, "orders")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = f.engine.CreateItem(ctx, &OrderTicketItem{ID: uuid.New(), Quantity: 1}, "orders")
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestEngineBroadcastFailureDoesNotFailCommand(t *testing.T) {
	publisher := NewMockPublisher()
	publisher.PublishFunc = func(ctx context.Context, topic string, data []byte) error {
		return errors.New("broker down")
	}

	metrics := NewMetrics()
	broadcaster := NewBroadcaster(publisher, 4, metrics, apt.NewNoopLogger())
	require.NoError(t, broadcaster.Start(context.Background()))
	defer broadcaster.Stop(context.Background())

	store := NewMemoryItemStore(nil, nil, nil)
	clock := newFakeClock(testEpoch)
	engine := NewEngine(store, broadcaster, clock, DefaultSettings(), metrics, nil)

	item := newPendingItem(uuid.New(), "grill", testEpoch)
	require.NoError(t, store.Create(context.Background(), item))

	result, err := engine.UpdateItemStatus(context.Background(), StatusUpdate{ItemID: item.ID, Target: statuses.Cooking})
	require.NoError(t, err)
	assert.True(t, result.Changed)
}

func TestNewStatusChangeEvent(t *testing.T) {
	started := testEpoch.Add(time.Minute)
	item := OrderTicketItem{
		ID:           uuid.New(),
		OrderID:      uuid.New(),
		MenuItemID:   uuid.New(),
		MenuItemName: "Fries",
		Quantity:     2,
		Station:      "fry",
		Status:       statuses.Cooking,
		CreatedAt:    testEpoch,
		StartedAt:    &started,
	}

	evt := NewStatusChangeEvent(event.EventKitchenItemStatusChanged, item, statuses.Pending, "cook-1", started)

	assert.Equal(t, item.ID.String(), evt.ItemID)
	assert.Equal(t, item.OrderID.String(), evt.OrderID)
	assert.Equal(t, "cooking", evt.NewStatus)
	assert.Equal(t, "pending", evt.PreviousStatus)
	assert.Equal(t, "cook-1", evt.ActorID)
	assert.Equal(t, "fry", evt.Station)
	require.NotNil(t, evt.StartedAt)
	assert.NotSame(t, item.StartedAt, evt.StartedAt, "event must not share timestamps with the item")
}
