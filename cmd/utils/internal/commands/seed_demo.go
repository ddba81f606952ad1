package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/expo/cmd/utils/internal/seeding"
	"github.com/appetiteclub/expo/pkg"
	"github.com/appetiteclub/expo/pkg/event"
	"github.com/spf13/cobra"
)

func SeedDemoCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-demo",
		Short: "Publish a demo dinner service to the kitchen",
		Long: `Publishes the embedded demo orders as order.created and order.item.created
events. The kitchen picks them up like live traffic. Ids are stable, so running
it twice does not duplicate kitchen items.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			natsURL := e.setting(cmd, "nats-url", "nats.url", defaultNATSURL)

			fixture, err := seeding.LoadDemo()
			if err != nil {
				return err
			}

			publisher, err := pkg.NewNATSPublisher(natsURL)
			if err != nil {
				return fmt.Errorf("cannot connect to NATS: %w", err)
			}
			defer publisher.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			batch := fixture.Events(time.Now())
			if err := publishBatch(ctx, publisher, batch); err != nil {
				return err
			}
			if err := publisher.Flush(ctx); err != nil {
				return fmt.Errorf("flush NATS: %w", err)
			}

			e.logger.Info("Demo service published", "orders", len(batch.Orders), "items", len(batch.Items))
			return nil
		},
	}

	cmd.Flags().String("nats-url", defaultNATSURL, "NATS server URL")
	return cmd
}

// publishBatch sends orders before their items so cards have their labels
// by the time the first item shows up.
func publishBatch(ctx context.Context, publisher events.Publisher, batch seeding.Batch) error {
	for _, o := range batch.Orders {
		if err := publishJSON(ctx, publisher, event.OrdersTopic, o); err != nil {
			return fmt.Errorf("publish order %s: %w", o.DisplayNumber, err)
		}
	}
	for _, it := range batch.Items {
		if err := publishJSON(ctx, publisher, event.OrderItemsTopic, it); err != nil {
			return fmt.Errorf("publish item %s: %w", it.MenuItemName, err)
		}
	}
	return nil
}

func publishJSON(ctx context.Context, publisher events.Publisher, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return publisher.Publish(ctx, topic, data)
}
