package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lockserrors "reslock/internal/locks/errors"
	"reslock/pkg/config"
	mongotx "reslock/pkg/db/mongo"
	"reslock/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Locks"
)

type mongoLockRepository struct {
	cfg        *config.Config
	client     *mongo.Client
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

// NewMongoLockRepository stores locks in the Locks collection. The collection and its
// unique partial indexes are created by cmd/migrate.
func NewMongoLockRepository(cfg *config.Config) LockRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoLockRepository{
		cfg:        cfg,
		client:     cfg.Client.Mongo,
		collection: db.Collection(CollectionName),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// withTimeout wraps the context with a timeout if not already in a transaction.
// A SessionContext cannot be wrapped without losing the session, so it is returned as is.
func (r *mongoLockRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}

	remaining := time.Until(deadline)
	if remaining < timeout {
		return context.WithTimeout(ctx, remaining)
	}

	return context.WithTimeout(ctx, timeout)
}

func (r *mongoLockRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if sessCtx, ok := ctx.(mongo.SessionContext); ok {
		return fn(sessCtx)
	}
	return r.txManager.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx)
	})
}

func (r *mongoLockRepository) Insert(ctx context.Context, lock *model.Lock) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	_, err := r.collection.InsertOne(ctx, lock)
	if err != nil {
		if conflict := classifyDuplicateKey(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("failed to insert lock: %w", err)
	}
	return nil
}

// classifyDuplicateKey maps a unique index violation to the invariant it protects.
func classifyDuplicateKey(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return nil
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		for _, we := range writeErr.WriteErrors {
			if strings.Contains(we.Message, HolderIndexName) {
				return lockserrors.ErrHolderConflict
			}
		}
	}
	if strings.Contains(err.Error(), HolderIndexName) {
		return lockserrors.ErrHolderConflict
	}
	return lockserrors.ErrResourceConflict
}

func (r *mongoLockRepository) FindByID(ctx context.Context, id string) (*model.Lock, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongoLockRepository) FindActiveByResource(ctx context.Context, resourceID string) (*model.Lock, error) {
	return r.findOne(ctx, bson.M{"resource_id": resourceID, "status": model.LockStatusActive})
}

func (r *mongoLockRepository) FindActiveByHolder(ctx context.Context, holderID string) (*model.Lock, error) {
	return r.findOne(ctx, bson.M{"holder_id": holderID, "status": model.LockStatusActive})
}

func (r *mongoLockRepository) findOne(ctx context.Context, filter bson.M) (*model.Lock, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var lock model.Lock
	err := r.collection.FindOne(ctx, filter).Decode(&lock)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, lockserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find lock: %w", err)
	}
	return &lock, nil
}

func (r *mongoLockRepository) Transition(ctx context.Context, id string, to model.LockStatus, at time.Time) error {
	if !to.IsTerminal() {
		return fmt.Errorf("transition lock %s: %s is not a terminal status", id, to)
	}
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "status": model.LockStatusActive}
	update := bson.M{
		"$set": bson.M{
			"status":     to,
			"updated_at": at,
			"closed_at":  at,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to transition lock: %w", err)
	}
	if result.MatchedCount == 1 {
		return nil
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check lock existence: %w", err)
	}
	if count == 0 {
		return lockserrors.ErrNotFound
	}
	return lockserrors.ErrStaleTransition
}

func (r *mongoLockRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Lock, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"status":     model.LockStatusActive,
		"expires_at": bson.M{"$lte": now},
	}
	opts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired locks: %w", err)
	}
	defer cursor.Close(ctx)

	var locks []*model.Lock
	if err = cursor.All(ctx, &locks); err != nil {
		return nil, fmt.Errorf("failed to decode expired locks: %w", err)
	}
	return locks, nil
}

func (r *mongoLockRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}
