package repository

import (
	"context"
	"time"

	"reslock/pkg/model"
)

// LockRepository is the lock store. Uniqueness of ACTIVE locks per resource and per holder
// is enforced by the store itself (unique partial indexes or an equivalent guard), so a
// racing Insert fails instead of creating a second active record.
type LockRepository interface {
	// WithTx runs fn as one critical section. Nested calls reuse the outer section.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Insert persists a new ACTIVE lock. Returns ErrResourceConflict or ErrHolderConflict
	// when another ACTIVE lock already occupies the resource or the holder.
	Insert(ctx context.Context, lock *model.Lock) error

	FindByID(ctx context.Context, id string) (*model.Lock, error)
	FindActiveByResource(ctx context.Context, resourceID string) (*model.Lock, error)
	FindActiveByHolder(ctx context.Context, holderID string) (*model.Lock, error)

	// Transition moves an ACTIVE lock to a terminal status (compare-and-set on status).
	// Returns ErrStaleTransition if the lock is no longer ACTIVE and ErrNotFound if it never existed.
	Transition(ctx context.Context, id string, to model.LockStatus, at time.Time) error

	// FindExpired lists ACTIVE locks with expires_at <= now, oldest first.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Lock, error)

	Ping(ctx context.Context) error
}

// Names of the unique partial indexes guarding ACTIVE locks; shared with the migrations.
const (
	ResourceIndexName = "locks_active_resource_uidx"
	HolderIndexName   = "locks_active_holder_uidx"
)
