package kitchen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/seed"
	"github.com/appetiteclub/expo/pkg/enums/station"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
)

const kitchenDemoSeedApplication = "kitchen_demo"

var demoNamespace = uuid.MustParse("6f1c9a52-43de-4c8e-9a0b-1d7e2f5b8c31")

type demoOrder struct {
	display string
	table   string
	staff   string
	age     time.Duration
	lines   []demoLine
}

type demoLine struct {
	dish     string
	station  string
	quantity int
	notes    string
	status   Status
	urgent   bool
}

// ApplyDemoSeeds creates a tracked set of demo items across stations and
// states. Each item is created pending and then moved through the regular
// compare-and-set edges, so the timestamps follow the same rules as live data.
func ApplyDemoSeeds(ctx context.Context, store ItemStore, orders *OrderDirectory, db *mongo.Database, clock Clock, logger apt.Logger) error {
	if db == nil {
		return errors.New("database is required for demo seeding")
	}
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if clock == nil {
		clock = SystemClock{}
	}

	tracker := seed.NewMongoTracker(db)
	demoSeeds := buildDemoKitchenSeeds(store, clock, logger)

	logger.Info("Applying demo kitchen seeds")
	if err := seed.Apply(ctx, tracker, demoSeeds, kitchenDemoSeedApplication); err != nil {
		return err
	}
	logger.Info("Demo kitchen seeds applied successfully")

	// The seed body runs once per database; the directory needs the demo
	// orders on every start.
	return registerDemoOrders(ctx, store, orders, logger)
}

func buildDemoKitchenSeeds(store ItemStore, clock Clock, logger apt.Logger) []seed.Seed {
	return []seed.Seed{
		{
			ID:          "2026-10-01_demo_kitchen_items_v1",
			Description: "Create demo kitchen items for every station",
			Run: func(ctx context.Context) error {
				return seedDemoItems(ctx, store, clock.Now(), logger)
			},
		},
	}
}

func demoOrderID(display string) OrderID {
	return uuid.NewSHA1(demoNamespace, []byte("order:"+display))
}

func seedDemoItems(ctx context.Context, store ItemStore, now time.Time, logger apt.Logger) error {
	var created int
	for _, order := range demoOrders() {
		orderID := demoOrderID(order.display)
		orderCreated := now.Add(-order.age)

		for i, line := range order.lines {
			item := &OrderTicketItem{
				ID:           uuid.NewSHA1(demoNamespace, []byte(fmt.Sprintf("item:%s:%d", order.display, i))),
				OrderID:      orderID,
				MenuItemID:   uuid.NewSHA1(demoNamespace, []byte("dish:"+line.dish)),
				MenuItemName: line.dish,
				Quantity:     line.quantity,
				Station:      line.station,
				Notes:        line.notes,
				CreatedAt:    orderCreated,
			}

			if err := store.Create(ctx, item); err != nil {
				if errors.Is(err, ErrAlreadyExists) {
					continue
				}
				return fmt.Errorf("create demo item %s: %w", line.dish, err)
			}

			if err := advanceDemoItem(ctx, store, item, line, orderCreated, now); err != nil {
				return fmt.Errorf("advance demo item %s: %w", line.dish, err)
			}
			created++
		}
	}

	logger.Info("Created demo kitchen items", "count", created)
	return nil
}

// registerDemoOrders records directory entries for demo orders that still
// have items and are not known yet. The order time is taken from the oldest
// stored item.
func registerDemoOrders(ctx context.Context, store ItemLister, orders *OrderDirectory, logger apt.Logger) error {
	if orders == nil {
		return nil
	}

	var registered int
	for _, order := range demoOrders() {
		orderID := demoOrderID(order.display)
		if _, ok := orders.Lookup(orderID); ok {
			continue
		}

		items, err := store.List(ctx, ItemFilter{OrderID: &orderID})
		if err != nil {
			return fmt.Errorf("list demo order %s: %w", order.display, err)
		}
		if len(items) == 0 {
			continue
		}
		createdAt := items[0].CreatedAt
		for _, item := range items[1:] {
			if item.CreatedAt.Before(createdAt) {
				createdAt = item.CreatedAt
			}
		}

		err = orders.Record(ctx, OrderInfo{
			OrderID:       orderID,
			DisplayNumber: order.display,
			TableLabel:    order.table,
			StaffName:     order.staff,
			CreatedAt:     createdAt,
		})
		if err != nil {
			return err
		}
		registered++
	}

	logger.Info("Registered demo orders", "count", registered)
	return nil
}

func advanceDemoItem(ctx context.Context, store ItemStore, item *OrderTicketItem, line demoLine, createdAt, now time.Time) error {
	startAt := minTime(createdAt.Add(2*time.Minute), now)
	doneAt := minTime(createdAt.Add(8*time.Minute), now)

	if line.status != statuses.Pending {
		if _, err := store.CompareAndSet(ctx, item.ID, statuses.Pending, statuses.Cooking, startAt); err != nil {
			return err
		}
	}
	if line.status == statuses.Done {
		if _, err := store.CompareAndSet(ctx, item.ID, statuses.Cooking, statuses.Done, doneAt); err != nil {
			return err
		}
	}
	if line.urgent {
		if _, err := store.SetUrgent(ctx, item.ID, true); err != nil {
			return err
		}
	}
	return nil
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func demoOrders() []demoOrder {
	s := station.Stations
	return []demoOrder{
		{
			display: "101", table: "T1", staff: "Marta", age: 24 * time.Minute,
			lines: []demoLine{
				{dish: "Ribeye Steak", station: s.Grill.Code(), quantity: 2, notes: "medium rare", status: statuses.Cooking, urgent: true},
				{dish: "Fries", station: s.Fry.Code(), quantity: 2, status: statuses.Done},
				{dish: "Caesar Salad", station: s.Cold.Code(), quantity: 1, status: statuses.Done},
			},
		},
		{
			display: "102", table: "T4", staff: "Jonas", age: 13 * time.Minute,
			lines: []demoLine{
				{dish: "Mushroom Risotto", station: s.Saute.Code(), quantity: 1, status: statuses.Cooking},
				{dish: "Burger", station: s.Grill.Code(), quantity: 3, notes: "no onions", status: statuses.Pending},
				{dish: "Fries", station: s.Fry.Code(), quantity: 3, status: statuses.Pending},
			},
		},
		{
			display: "103", table: "Bar 2", staff: "Ana", age: 4 * time.Minute,
			lines: []demoLine{
				{dish: "Negroni", station: s.Bar.Code(), quantity: 2, status: statuses.Pending},
				{dish: "Burger", station: s.Grill.Code(), quantity: 1, status: statuses.Pending},
			},
		},
		{
			display: "104", table: "T7", staff: "Marta", age: 9 * time.Minute,
			lines: []demoLine{
				{dish: "Tiramisu", station: s.Dessert.Code(), quantity: 2, status: statuses.Done},
				{dish: "Panna Cotta", station: s.Dessert.Code(), quantity: 1, status: statuses.Done},
			},
		},
	}
}

// DemoSeedingFunc returns an apt lifecycle OnStart-compatible function for demo seeding.
func DemoSeedingFunc(seedCtx context.Context, store ItemStore, orders *OrderDirectory, db *mongo.Database, clock Clock, logger apt.Logger) func(ctx context.Context) error {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	return func(ctx context.Context) error {
		logger.Info("Starting demo kitchen seeding in background")
		go func() {
			if err := ApplyDemoSeeds(seedCtx, store, orders, db, clock, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Demo kitchen seeds failed: %v", err)
			} else if err == nil {
				logger.Info("Demo kitchen seeding completed successfully")
			}
		}()
		return nil
	}
}
