package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"reslock/internal/locks/repository"
	"reslock/internal/migrations/mongo/validators"
	"reslock/pkg/logger"
	"reslock/pkg/model"
)

var activeOnly = bson.M{"status": string(model.LockStatusActive)}

// LocksIndexes enforce one ACTIVE lock per resource and per holder. The partial filter keeps
// terminal records out of the uniqueness check so they can stay as an audit trail.
var LocksIndexes = []mongo.IndexModel{
	{
		Keys: bson.D{{Key: "resource_id", Value: 1}},
		Options: options.Index().
			SetName(repository.ResourceIndexName).
			SetUnique(true).
			SetPartialFilterExpression(activeOnly),
	},
	{
		Keys: bson.D{{Key: "holder_id", Value: 1}},
		Options: options.Index().
			SetName(repository.HolderIndexName).
			SetUnique(true).
			SetPartialFilterExpression(activeOnly),
	},
	{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
		Options: options.Index().SetName("locks_sweep_idx"),
	},
}

func RunMigration(ctx context.Context, client *mongo.Client, dbName string, log *logger.Logger) error {
	db := client.Database(dbName)
	log.Info("Running Mongo migrations", "database", dbName)

	collections := map[string]struct {
		Indexes   []mongo.IndexModel
		Validator bson.M
	}{
		repository.CollectionName: {
			Indexes:   LocksIndexes,
			Validator: validators.LockValidator,
		},
	}

	for name, def := range collections {
		if err := ensureCollection(ctx, db, name, def.Validator, log); err != nil {
			return fmt.Errorf("failed to ensure collection %s: %w", name, err)
		}
		if err := ensureIndexes(ctx, db, name, def.Indexes, log); err != nil {
			return fmt.Errorf("failed to ensure indexes for %s: %w", name, err)
		}
	}

	log.Info("All Mongo migrations applied")
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, validator bson.M, log *logger.Logger) error {
	existing, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		log.Info("Creating collection", "collection", name)
		opts := options.CreateCollection().SetValidator(validator)
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("failed creating %s: %w", name, err)
		}
		return nil
	}

	log.Info("Collection already exists, updating validator", "collection", name)
	command := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
	}
	if err := db.RunCommand(ctx, command).Err(); err != nil {
		log.Warn("Failed updating validator", "collection", name, "error", err)
	}
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database, name string, models []mongo.IndexModel, log *logger.Logger) error {
	coll := db.Collection(name)
	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		return err
	}
	log.Info("Ensured indexes", "collection", name, "count", len(models))
	return nil
}
