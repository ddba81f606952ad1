package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/expo/cmd/utils/internal/seeding"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	itemsCollection  = "kitchen_items"
	ordersCollection = "kitchen_orders"
	seedsCollection  = "_seeds"
	kitchenDemoSeed  = "2026-10-01_demo_kitchen_items_v1"
)

func ClearDemoCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-demo",
		Short: "Remove demo kitchen items from the Mongo store",
		Long: `Deletes the items and order metadata published by seed-demo and resets
the tracker of the service's own demo seed so it runs again on the next start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			client, err := e.connectMongo(ctx, cmd)
			if err != nil {
				return err
			}
			defer client.Disconnect(ctx)

			fixture, err := seeding.LoadDemo()
			if err != nil {
				return err
			}

			dbName := e.setting(cmd, "db", "mongo.db", defaultMongoDB)
			return clearDemo(ctx, client.Database(dbName), seeding.OrderIDs(fixture), e.logger)
		},
	}

	addMongoFlags(cmd)
	return cmd
}

func clearDemo(ctx context.Context, db *mongo.Database, orderIDs []string, logger apt.Logger) error {
	logger.Info("Clearing kitchen demo data...")

	result, err := db.Collection(itemsCollection).DeleteMany(ctx, bson.M{"order_id": bson.M{"$in": orderIDs}})
	if err != nil {
		return fmt.Errorf("delete demo items: %w", err)
	}
	logger.Info("Deleted demo kitchen items", "count", result.DeletedCount)

	orders, err := db.Collection(ordersCollection).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": orderIDs}})
	if err != nil {
		return fmt.Errorf("delete demo orders: %w", err)
	}
	logger.Info("Deleted demo order metadata", "count", orders.DeletedCount)

	tracker, err := db.Collection(seedsCollection).DeleteOne(ctx, bson.M{"_id": kitchenDemoSeed})
	if err != nil {
		return fmt.Errorf("delete kitchen seed tracker: %w", err)
	}
	logger.Info("Cleared kitchen seed tracker", "deleted", tracker.DeletedCount)

	return nil
}
