package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	lockserrors "reslock/internal/locks/errors"
	"reslock/internal/locks/events"
	"reslock/internal/locks/repository"
	"reslock/pkg/config"
	apperrors "reslock/pkg/errors"
	"reslock/pkg/logger"
	"reslock/pkg/model"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// LockManager owns every lock state change. Refusals are returned as *lockserrors.LockError;
// anything else is an *apperrors.AppError.
type LockManager interface {
	Acquire(ctx context.Context, resourceID, holderID string, window model.Window) (*model.Lock, error)
	Release(ctx context.Context, resourceID, holderID string) error
	Convert(ctx context.Context, resourceID, holderID string, payload json.RawMessage) (*model.ConversionHandle, error)

	// GetActiveByHolder and GetActiveByResource return nil without error when nothing is held.
	GetActiveByHolder(ctx context.Context, holderID string) (*model.Lock, error)
	GetActiveByResource(ctx context.Context, resourceID string) (*model.Lock, error)

	// Sweep expires lock if it is still ACTIVE and past its deadline. It reports whether
	// this call performed the transition.
	Sweep(ctx context.Context, lock *model.Lock) (bool, error)
	// ExpireDue sweeps up to limit overdue locks and returns the ones it expired.
	ExpireDue(ctx context.Context, limit int) ([]*model.Lock, error)

	Now() time.Time
}

type Option func(*lockManager)

func WithTTL(ttl time.Duration) Option {
	return func(m *lockManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(m *lockManager) {
		if publisher != nil {
			m.publisher = publisher
		}
	}
}

type lockManager struct {
	repo      repository.LockRepository
	clock     clock.Clock
	ttl       time.Duration
	publisher events.Publisher
	log       *logger.Logger
}

func NewLockManager(repo repository.LockRepository, clk clock.Clock, cfg *config.Config, opts ...Option) LockManager {
	if clk == nil {
		clk = clock.New()
	}
	m := &lockManager{
		repo:      repo,
		clock:     clk,
		ttl:       cfg.LockTTL,
		publisher: events.NoopPublisher{},
		log:       cfg.Log,
	}
	if m.ttl <= 0 {
		m.ttl = config.DefaultLockTTL
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now is the authoritative time. Millisecond precision matches what the stores keep.
func (m *lockManager) Now() time.Time {
	return m.clock.Now().UTC().Truncate(time.Millisecond)
}

func (m *lockManager) Acquire(ctx context.Context, resourceID, holderID string, window model.Window) (*model.Lock, error) {
	if resourceID == "" {
		return nil, apperrors.InvalidInput("Resource ID cannot be empty")
	}
	if holderID == "" {
		return nil, apperrors.InvalidInput("Holder ID cannot be empty")
	}

	now := m.Now()
	if err := validateWindow(window, now); err != nil {
		return nil, err
	}

	var (
		acquired *model.Lock
		refusal  error
		swept    []*model.Lock
	)
	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		// The callback may run again on a transaction retry.
		acquired, refusal, swept = nil, nil, nil

		held, err := m.loadActive(txCtx, now, &swept, func(c context.Context) (*model.Lock, error) {
			return m.repo.FindActiveByResource(c, resourceID)
		})
		if err != nil {
			return err
		}
		if held != nil {
			if held.HolderID == holderID {
				refusal = lockserrors.HolderAlreadyHasActiveLock(resourceID)
			} else {
				refusal = lockserrors.ResourceAlreadyHeld(resourceID)
			}
			return nil
		}

		mine, err := m.loadActive(txCtx, now, &swept, func(c context.Context) (*model.Lock, error) {
			return m.repo.FindActiveByHolder(c, holderID)
		})
		if err != nil {
			return err
		}
		if mine != nil {
			refusal = lockserrors.HolderAlreadyHasActiveLock(mine.ResourceID)
			return nil
		}

		lock := &model.Lock{
			ID:         uuid.NewString(),
			ResourceID: resourceID,
			HolderID:   holderID,
			Window:     window,
			Status:     model.LockStatusActive,
			CreatedAt:  now,
			ExpiresAt:  now.Add(m.ttl),
			UpdatedAt:  now,
		}
		if err := m.repo.Insert(txCtx, lock); err != nil {
			return err
		}
		acquired = lock
		return nil
	})
	if err != nil {
		if errors.Is(err, lockserrors.ErrResourceConflict) || errors.Is(err, lockserrors.ErrHolderConflict) {
			refusal = m.raceRefusal(ctx, resourceID, holderID, err)
			m.log.Info("Lock acquisition lost a race",
				"resource_id", resourceID,
				"holder_id", holderID,
				"refusal", refusal,
			)
			return nil, refusal
		}
		m.log.Error("Failed to acquire lock",
			"resource_id", resourceID,
			"holder_id", holderID,
			"error", err,
		)
		return nil, apperrors.Internal("Failed to acquire lock", err)
	}

	m.publishExpired(ctx, swept, now)
	if refusal != nil {
		m.log.Info("Lock acquisition refused",
			"resource_id", resourceID,
			"holder_id", holderID,
			"refusal", refusal,
		)
		return nil, refusal
	}

	m.log.Info("Lock acquired",
		"lock_id", acquired.ID,
		"resource_id", acquired.ResourceID,
		"holder_id", acquired.HolderID,
		"expires_at", acquired.ExpiresAt,
	)
	m.publish(ctx, events.LockAcquired, acquired, nil, now)
	return acquired, nil
}

// raceRefusal turns a unique index violation into the refusal the read path would have
// produced, had the competing insert committed first.
func (m *lockManager) raceRefusal(ctx context.Context, resourceID, holderID string, conflict error) error {
	if errors.Is(conflict, lockserrors.ErrHolderConflict) {
		existing, err := m.repo.FindActiveByHolder(ctx, holderID)
		if err == nil {
			return lockserrors.HolderAlreadyHasActiveLock(existing.ResourceID)
		}
		return lockserrors.HolderAlreadyHasActiveLock("")
	}

	existing, err := m.repo.FindActiveByResource(ctx, resourceID)
	if err == nil && existing.HolderID == holderID {
		return lockserrors.HolderAlreadyHasActiveLock(resourceID)
	}
	return lockserrors.ResourceAlreadyHeld(resourceID)
}

func (m *lockManager) Release(ctx context.Context, resourceID, holderID string) error {
	if resourceID == "" {
		return apperrors.InvalidInput("Resource ID cannot be empty")
	}
	if holderID == "" {
		return apperrors.InvalidInput("Holder ID cannot be empty")
	}

	now := m.Now()
	var (
		released *model.Lock
		refusal  error
		swept    []*model.Lock
	)
	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		released, refusal, swept = nil, nil, nil

		held, err := m.loadActive(txCtx, now, &swept, func(c context.Context) (*model.Lock, error) {
			return m.repo.FindActiveByResource(c, resourceID)
		})
		if err != nil {
			return err
		}
		if held == nil {
			return nil
		}
		if held.HolderID != holderID {
			refusal = lockserrors.NotOwner(resourceID)
			return nil
		}

		err = m.repo.Transition(txCtx, held.ID, model.LockStatusReleased, now)
		if errors.Is(err, lockserrors.ErrStaleTransition) {
			return nil
		}
		if err != nil {
			return err
		}
		released = closeLock(held, model.LockStatusReleased, now)
		return nil
	})
	if err != nil {
		m.log.Error("Failed to release lock",
			"resource_id", resourceID,
			"holder_id", holderID,
			"error", err,
		)
		return apperrors.Internal("Failed to release lock", err)
	}

	m.publishExpired(ctx, swept, now)
	if refusal != nil {
		m.log.Warn("Release refused, lock held by another holder",
			"resource_id", resourceID,
			"holder_id", holderID,
		)
		return refusal
	}

	if released == nil {
		m.log.Debug("Release found nothing to release",
			"resource_id", resourceID,
			"holder_id", holderID,
		)
		return nil
	}

	m.log.Info("Lock released",
		"lock_id", released.ID,
		"resource_id", resourceID,
		"holder_id", holderID,
	)
	m.publish(ctx, events.LockReleased, released, nil, now)
	return nil
}

func (m *lockManager) Convert(ctx context.Context, resourceID, holderID string, payload json.RawMessage) (*model.ConversionHandle, error) {
	if resourceID == "" {
		return nil, apperrors.InvalidInput("Resource ID cannot be empty")
	}
	if holderID == "" {
		return nil, apperrors.InvalidInput("Holder ID cannot be empty")
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, apperrors.InvalidInput("Conversion payload must be valid JSON")
	}

	now := m.Now()
	var (
		converted *model.Lock
		swept     []*model.Lock
	)
	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		converted, swept = nil, nil

		held, err := m.loadActive(txCtx, now, &swept, func(c context.Context) (*model.Lock, error) {
			return m.repo.FindActiveByResource(c, resourceID)
		})
		if err != nil {
			return err
		}
		if held == nil || held.HolderID != holderID {
			return nil
		}

		err = m.repo.Transition(txCtx, held.ID, model.LockStatusConverted, now)
		if errors.Is(err, lockserrors.ErrStaleTransition) {
			return nil
		}
		if err != nil {
			return err
		}
		converted = closeLock(held, model.LockStatusConverted, now)
		return nil
	})
	if err != nil {
		m.log.Error("Failed to convert lock",
			"resource_id", resourceID,
			"holder_id", holderID,
			"error", err,
		)
		return nil, apperrors.Internal("Failed to convert lock", err)
	}

	m.publishExpired(ctx, swept, now)
	if converted == nil {
		m.log.Info("Conversion refused, no active hold",
			"resource_id", resourceID,
			"holder_id", holderID,
		)
		return nil, lockserrors.LockNotActive(resourceID)
	}

	m.log.Info("Lock converted",
		"lock_id", converted.ID,
		"resource_id", resourceID,
		"holder_id", holderID,
	)
	m.publish(ctx, events.LockConverted, converted, payload, now)

	return &model.ConversionHandle{
		LockID:      converted.ID,
		ResourceID:  converted.ResourceID,
		HolderID:    converted.HolderID,
		Window:      converted.Window,
		ConvertedAt: now,
		Payload:     payload,
	}, nil
}

func (m *lockManager) GetActiveByHolder(ctx context.Context, holderID string) (*model.Lock, error) {
	if holderID == "" {
		return nil, apperrors.InvalidInput("Holder ID cannot be empty")
	}
	return m.lookup(ctx, "holder_id", holderID, func(c context.Context) (*model.Lock, error) {
		return m.repo.FindActiveByHolder(c, holderID)
	})
}

func (m *lockManager) GetActiveByResource(ctx context.Context, resourceID string) (*model.Lock, error) {
	if resourceID == "" {
		return nil, apperrors.InvalidInput("Resource ID cannot be empty")
	}
	return m.lookup(ctx, "resource_id", resourceID, func(c context.Context) (*model.Lock, error) {
		return m.repo.FindActiveByResource(c, resourceID)
	})
}

func (m *lockManager) lookup(ctx context.Context, key, value string, find func(context.Context) (*model.Lock, error)) (*model.Lock, error) {
	now := m.Now()
	var (
		found *model.Lock
		swept []*model.Lock
	)
	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		found, swept = nil, nil
		lock, err := m.loadActive(txCtx, now, &swept, find)
		if err != nil {
			return err
		}
		found = lock
		return nil
	})
	if err != nil {
		m.log.Error("Failed to look up active lock", key, value, "error", err)
		return nil, apperrors.Internal("Failed to look up active lock", err)
	}

	m.publishExpired(ctx, swept, now)
	return found, nil
}

func (m *lockManager) Sweep(ctx context.Context, lock *model.Lock) (bool, error) {
	if lock == nil {
		return false, nil
	}

	now := m.Now()
	var expired *model.Lock
	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		expired = nil

		current, err := m.repo.FindByID(txCtx, lock.ID)
		if errors.Is(err, lockserrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !current.IsActive() || !current.ExpiredAt(now) {
			return nil
		}
		ok, err := m.expire(txCtx, current, now)
		if err != nil {
			return err
		}
		if ok {
			expired = current
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired == nil {
		return false, nil
	}

	m.publishExpired(ctx, []*model.Lock{expired}, now)
	return true, nil
}

func (m *lockManager) ExpireDue(ctx context.Context, limit int) ([]*model.Lock, error) {
	due, err := m.repo.FindExpired(ctx, m.Now(), limit)
	if err != nil {
		return nil, err
	}

	var (
		expired []*model.Lock
		errs    []error
	)
	for _, lock := range due {
		ok, err := m.Sweep(ctx, lock)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			expired = append(expired, lock)
		}
	}
	return expired, errors.Join(errs...)
}

// loadActive reads an ACTIVE lock through find and expires it in place when its deadline
// has passed, reporting it as absent. Locks this call expired are appended to swept.
func (m *lockManager) loadActive(ctx context.Context, now time.Time, swept *[]*model.Lock, find func(context.Context) (*model.Lock, error)) (*model.Lock, error) {
	lock, err := find(ctx)
	if errors.Is(err, lockserrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !lock.IsActive() {
		return nil, nil
	}
	if !lock.ExpiredAt(now) {
		return lock, nil
	}

	ok, err := m.expire(ctx, lock, now)
	if err != nil {
		return nil, err
	}
	if ok {
		*swept = append(*swept, lock)
	}
	return nil, nil
}

// expire moves lock to EXPIRED. A lock another caller already closed is not an error.
func (m *lockManager) expire(ctx context.Context, lock *model.Lock, now time.Time) (bool, error) {
	err := m.repo.Transition(ctx, lock.ID, model.LockStatusExpired, now)
	if errors.Is(err, lockserrors.ErrStaleTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closeLock(lock, model.LockStatusExpired, now)
	return true, nil
}

func closeLock(lock *model.Lock, status model.LockStatus, at time.Time) *model.Lock {
	closedAt := at
	lock.Status = status
	lock.UpdatedAt = at
	lock.ClosedAt = &closedAt
	return lock
}

// validateWindow requires check_out after check_in and check_in no earlier than today (UTC).
// The comparison is by calendar date, so a same-day check-in is accepted.
func validateWindow(window model.Window, now time.Time) error {
	if !window.Valid() {
		return lockserrors.InvalidWindow("check_out must be after check_in")
	}
	if window.CheckIn.Before(model.TruncateToDate(now)) {
		return lockserrors.InvalidWindow("check_in cannot be in the past")
	}
	return nil
}

func (m *lockManager) publishExpired(ctx context.Context, locks []*model.Lock, now time.Time) {
	for _, lock := range locks {
		m.log.Info("Lock expired",
			"lock_id", lock.ID,
			"resource_id", lock.ResourceID,
			"holder_id", lock.HolderID,
			"expires_at", lock.ExpiresAt,
		)
		m.publish(ctx, events.LockExpired, lock, nil, now)
	}
}

// publish runs after commit. Events are advisory, so failures are only logged. The
// publisher must not wait on the broker; cmd/locks puts an AsyncPublisher in front of Kafka.
func (m *lockManager) publish(ctx context.Context, eventType events.EventType, lock *model.Lock, payload json.RawMessage, now time.Time) {
	event := events.LockEvent{
		Type:       eventType,
		Lock:       lock.Clone(),
		Payload:    payload,
		OccurredAt: now,
	}
	if err := m.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		m.log.Warn("Failed to publish lock event",
			"event_type", eventType,
			"lock_id", lock.ID,
			"resource_id", lock.ResourceID,
			"error", err,
		)
	}
}
