package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
)

func ResetDBCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-db",
		Short: "Drop the kitchen database (USE WITH CAUTION)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			confirmed, _ := cmd.Flags().GetBool("yes")
			dbName := e.setting(cmd, "db", "mongo.db", defaultMongoDB)
			if !confirmed {
				return fmt.Errorf("refusing to drop %s without --yes", dbName)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			client, err := e.connectMongo(ctx, cmd)
			if err != nil {
				return err
			}
			defer client.Disconnect(ctx)

			e.logger.Infof("Dropping database %s", dbName)
			result := client.Database(dbName).RunCommand(ctx, bson.D{{Key: "dropDatabase", Value: 1}})
			if err := result.Err(); err != nil {
				return fmt.Errorf("drop database %s: %w", dbName, err)
			}

			e.logger.Info("Database dropped", "database", dbName)
			return nil
		},
	}

	addMongoFlags(cmd)
	cmd.Flags().Bool("yes", false, "Confirm dropping the database")
	return cmd
}
