package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lockserrors "reslock/internal/locks/errors"
	"reslock/pkg/model"
)

type memoryTxKey struct{}

// MemoryLockRepository keeps locks in process. A single mutex is the critical section;
// WithTx holds it for the whole callback.
type MemoryLockRepository struct {
	mu               sync.Mutex
	locks            map[string]*model.Lock
	activeByResource map[string]string
	activeByHolder   map[string]string
}

func NewMemoryLockRepository() *MemoryLockRepository {
	return &MemoryLockRepository{
		locks:            make(map[string]*model.Lock),
		activeByResource: make(map[string]string),
		activeByHolder:   make(map[string]string),
	}
}

func (r *MemoryLockRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.inTx(ctx) {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(context.WithValue(ctx, memoryTxKey{}, r))
}

func (r *MemoryLockRepository) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(memoryTxKey{}).(*MemoryLockRepository)
	return owner == r
}

// acquire takes the mutex unless the caller already holds it through WithTx.
func (r *MemoryLockRepository) acquire(ctx context.Context) func() {
	if r.inTx(ctx) {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *MemoryLockRepository) Insert(ctx context.Context, lock *model.Lock) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	release := r.acquire(ctx)
	defer release()

	if lock.Status != model.LockStatusActive {
		return fmt.Errorf("insert lock %s: status must be %s, got %s", lock.ID, model.LockStatusActive, lock.Status)
	}
	if _, exists := r.locks[lock.ID]; exists {
		return fmt.Errorf("insert lock %s: duplicate id", lock.ID)
	}
	if _, held := r.activeByResource[lock.ResourceID]; held {
		return lockserrors.ErrResourceConflict
	}
	if _, held := r.activeByHolder[lock.HolderID]; held {
		return lockserrors.ErrHolderConflict
	}

	r.locks[lock.ID] = lock.Clone()
	r.activeByResource[lock.ResourceID] = lock.ID
	r.activeByHolder[lock.HolderID] = lock.ID
	return nil
}

func (r *MemoryLockRepository) FindByID(ctx context.Context, id string) (*model.Lock, error) {
	release := r.acquire(ctx)
	defer release()

	lock, ok := r.locks[id]
	if !ok {
		return nil, lockserrors.ErrNotFound
	}
	return lock.Clone(), nil
}

func (r *MemoryLockRepository) FindActiveByResource(ctx context.Context, resourceID string) (*model.Lock, error) {
	release := r.acquire(ctx)
	defer release()
	return r.findIndexed(r.activeByResource, resourceID)
}

func (r *MemoryLockRepository) FindActiveByHolder(ctx context.Context, holderID string) (*model.Lock, error) {
	release := r.acquire(ctx)
	defer release()
	return r.findIndexed(r.activeByHolder, holderID)
}

func (r *MemoryLockRepository) findIndexed(index map[string]string, key string) (*model.Lock, error) {
	id, ok := index[key]
	if !ok {
		return nil, lockserrors.ErrNotFound
	}
	return r.locks[id].Clone(), nil
}

func (r *MemoryLockRepository) Transition(ctx context.Context, id string, to model.LockStatus, at time.Time) error {
	if !to.IsTerminal() {
		return fmt.Errorf("transition lock %s: %s is not a terminal status", id, to)
	}
	release := r.acquire(ctx)
	defer release()

	lock, ok := r.locks[id]
	if !ok {
		return lockserrors.ErrNotFound
	}
	if lock.Status != model.LockStatusActive {
		return lockserrors.ErrStaleTransition
	}

	closedAt := at
	lock.Status = to
	lock.UpdatedAt = at
	lock.ClosedAt = &closedAt
	delete(r.activeByResource, lock.ResourceID)
	delete(r.activeByHolder, lock.HolderID)
	return nil
}

func (r *MemoryLockRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Lock, error) {
	release := r.acquire(ctx)
	defer release()

	var expired []*model.Lock
	for _, id := range r.activeByResource {
		lock := r.locks[id]
		if lock.ExpiredAt(now) {
			expired = append(expired, lock.Clone())
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (r *MemoryLockRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Locks returns a copy of every record, terminal ones included.
func (r *MemoryLockRepository) Locks() []*model.Lock {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*model.Lock, 0, len(r.locks))
	for _, lock := range r.locks {
		all = append(all, lock.Clone())
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all
}
