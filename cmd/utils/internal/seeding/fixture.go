// Package seeding loads the demo dinner service published by expo-utils.
package seeding

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/appetiteclub/expo/pkg/enums/station"
	"github.com/appetiteclub/expo/pkg/event"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Every id derived from the fixture lives in this namespace.
var demoNamespace = uuid.MustParse("0b7d3c1e-5a9f-4e62-8d2c-7f41a6e9b053")

//go:embed demo.yaml
var demoFixture []byte

type Fixture struct {
	Orders []Order `yaml:"orders"`
}

type Order struct {
	Display string        `yaml:"display"`
	Table   string        `yaml:"table"`
	Staff   string        `yaml:"staff"`
	Age     time.Duration `yaml:"age"`
	Items   []Item        `yaml:"items"`
}

type Item struct {
	Dish       string `yaml:"dish"`
	Station    string `yaml:"station"`
	Quantity   int    `yaml:"quantity"`
	Notes      string `yaml:"notes"`
	Production *bool  `yaml:"production"`
}

// RequiresProduction defaults to true; drinks poured at the pass opt out.
func (i Item) RequiresProduction() bool {
	return i.Production == nil || *i.Production
}

// Batch is what a single seed run publishes.
type Batch struct {
	Orders []event.OrderEvent
	Items  []event.OrderItemEvent
}

// LoadDemo parses the embedded fixture.
func LoadDemo() (*Fixture, error) {
	return Parse(demoFixture)
}

// Parse decodes and validates a fixture document.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cannot parse fixture: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Fixture) Validate() error {
	if len(f.Orders) == 0 {
		return fmt.Errorf("fixture has no orders")
	}
	seen := make(map[string]bool)
	for _, o := range f.Orders {
		if o.Display == "" {
			return fmt.Errorf("order without display number")
		}
		if seen[o.Display] {
			return fmt.Errorf("duplicate order %s", o.Display)
		}
		seen[o.Display] = true
		if o.Age < 0 {
			return fmt.Errorf("order %s: negative age %s", o.Display, o.Age)
		}
		for _, it := range o.Items {
			if it.Dish == "" {
				return fmt.Errorf("order %s: item without dish", o.Display)
			}
			if it.Quantity <= 0 {
				return fmt.Errorf("order %s: %s quantity must be positive", o.Display, it.Dish)
			}
			if it.RequiresProduction() && station.ByName(it.Station) == nil {
				return fmt.Errorf("order %s: %s has unknown station %q", o.Display, it.Dish, it.Station)
			}
		}
	}
	return nil
}

// OrderID is stable per display number so repeated runs target the same
// kitchen items.
func OrderID(display string) uuid.UUID {
	return uuid.NewSHA1(demoNamespace, []byte("order:"+display))
}

func OrderIDs(f *Fixture) []string {
	ids := make([]string, 0, len(f.Orders))
	for _, o := range f.Orders {
		ids = append(ids, OrderID(o.Display).String())
	}
	return ids
}

// Events builds the order and order item events for the fixture, with
// timestamps relative to now.
func (f *Fixture) Events(now time.Time) Batch {
	var batch Batch
	for _, o := range f.Orders {
		orderID := OrderID(o.Display)
		createdAt := now.Add(-o.Age).UTC()

		batch.Orders = append(batch.Orders, event.OrderEvent{
			EventType:     event.EventOrderCreated,
			OccurredAt:    createdAt,
			OrderID:       orderID.String(),
			DisplayNumber: o.Display,
			TableLabel:    o.Table,
			StaffName:     o.Staff,
			CreatedAt:     createdAt,
		})

		for i, it := range o.Items {
			batch.Items = append(batch.Items, event.OrderItemEvent{
				EventType:          event.EventOrderItemCreated,
				OccurredAt:         createdAt,
				OrderID:            orderID.String(),
				OrderItemID:        uuid.NewSHA1(demoNamespace, []byte(fmt.Sprintf("item:%s:%d", o.Display, i))).String(),
				MenuItemID:         uuid.NewSHA1(demoNamespace, []byte("dish:"+it.Dish)).String(),
				Quantity:           it.Quantity,
				Notes:              it.Notes,
				RequiresProduction: it.RequiresProduction(),
				ProductionStation:  it.Station,
				MenuItemName:       it.Dish,
			})
		}
	}
	return batch
}
