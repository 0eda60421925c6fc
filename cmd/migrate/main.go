package main

import (
	"context"
	"time"

	mongoMigration "reslock/internal/migrations/mongo"
	postgresMigration "reslock/internal/migrations/postgres"
	"reslock/pkg/config"
)

const JobName = "lock-migration"

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()
	cfg := config.Load(JobName)
	defer cfg.GracefulShutdown()

	switch cfg.LockStore {
	case config.StoreMongo:
		cfg.SetMongo()
		cfg.Log.Info("Starting Mongo migration job")
		if err := mongoMigration.RunMigration(ctx, cfg.Client.Mongo, cfg.MongoDatabaseName, cfg.Log); err != nil {
			cfg.GracefulShutdown()
			cfg.Log.Fatal("Migration failed", "error", err)
		}
	case config.StorePostgres:
		cfg.SetPostgres()
		cfg.Log.Info("Starting Postgres migration job")
		if err := postgresMigration.RunMigration(ctx, cfg.Client.Postgres, cfg.Log); err != nil {
			cfg.GracefulShutdown()
			cfg.Log.Fatal("Migration failed", "error", err)
		}
	default:
		cfg.Log.Info("Nothing to migrate for lock store", "store", cfg.LockStore)
		return
	}

	cfg.Log.Info("Migration completed successfully")
}
