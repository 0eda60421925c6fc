package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	lockserrors "reslock/internal/locks/errors"
	"reslock/pkg/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const lockColumns = `id, resource_id, holder_id, check_in, check_out, status, created_at, expires_at, updated_at, closed_at`

type txKey struct{}

type PostgresLockRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresLockRepository(pool *pgxpool.Pool) *PostgresLockRepository {
	return &PostgresLockRepository{pool: pool}
}

const (
	maxTxAttempts = 3
	txRetryDelay  = 10 * time.Millisecond
)

// WithTx runs fn in one transaction. Deadlocks and serialization failures roll back and
// rerun fn, so fn must not keep state from an earlier attempt.
func (r *PostgresLockRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = r.runTx(ctx, fn)
		if !isRetryableTxError(err) || attempt == maxTxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(txRetryDelay * time.Duration(attempt)):
		}
	}
	return err
}

func (r *PostgresLockRepository) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// isRetryableTxError matches deadlock_detected (40P01) and serialization_failure (40001).
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40P01" || pgErr.Code == "40001"
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func (r *PostgresLockRepository) Insert(ctx context.Context, lock *model.Lock) error {
	const stmt = `
INSERT INTO locks (id, resource_id, holder_id, check_in, check_out, status, created_at, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.exec(ctx, stmt,
		lock.ID,
		lock.ResourceID,
		lock.HolderID,
		lock.Window.CheckIn,
		lock.Window.CheckOut,
		string(lock.Status),
		lock.CreatedAt,
		lock.ExpiresAt,
		lock.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == HolderIndexName {
				return lockserrors.ErrHolderConflict
			}
			return lockserrors.ErrResourceConflict
		}
		return fmt.Errorf("insert lock: %w", err)
	}
	return nil
}

func (r *PostgresLockRepository) FindByID(ctx context.Context, id string) (*model.Lock, error) {
	return r.findOne(ctx, `SELECT `+lockColumns+` FROM locks WHERE id = $1`, id)
}

func (r *PostgresLockRepository) FindActiveByResource(ctx context.Context, resourceID string) (*model.Lock, error) {
	return r.findOne(ctx, `SELECT `+lockColumns+` FROM locks WHERE resource_id = $1 AND status = 'ACTIVE'`, resourceID)
}

func (r *PostgresLockRepository) FindActiveByHolder(ctx context.Context, holderID string) (*model.Lock, error) {
	return r.findOne(ctx, `SELECT `+lockColumns+` FROM locks WHERE holder_id = $1 AND status = 'ACTIVE'`, holderID)
}

func (r *PostgresLockRepository) findOne(ctx context.Context, query string, args ...any) (*model.Lock, error) {
	// Rows read inside a critical section are locked until commit.
	if txFromContext(ctx) != nil {
		query += ` FOR UPDATE`
	}
	lock, err := scanLock(r.queryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lockserrors.ErrNotFound
		}
		return nil, fmt.Errorf("find lock: %w", err)
	}
	return lock, nil
}

func (r *PostgresLockRepository) Transition(ctx context.Context, id string, to model.LockStatus, at time.Time) error {
	if !to.IsTerminal() {
		return fmt.Errorf("transition lock %s: %s is not a terminal status", id, to)
	}

	const stmt = `
UPDATE locks SET status = $2, updated_at = $3, closed_at = $3
WHERE id = $1 AND status = 'ACTIVE'`

	tag, err := r.exec(ctx, stmt, id, string(to), at)
	if err != nil {
		return fmt.Errorf("transition lock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM locks WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check lock existence: %w", err)
	}
	if !exists {
		return lockserrors.ErrNotFound
	}
	return lockserrors.ErrStaleTransition
}

func (r *PostgresLockRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Lock, error) {
	query := `SELECT ` + lockColumns + ` FROM locks WHERE status = 'ACTIVE' AND expires_at <= $1 ORDER BY expires_at`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var (
		rows pgx.Rows
		err  error
	)
	if tx := txFromContext(ctx); tx != nil {
		rows, err = tx.Query(ctx, query, args...)
	} else {
		rows, err = r.pool.Query(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("find expired locks: %w", err)
	}
	defer rows.Close()

	var locks []*model.Lock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired lock: %w", err)
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired locks: %w", err)
	}
	return locks, nil
}

func (r *PostgresLockRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanLock(row pgx.Row) (*model.Lock, error) {
	var (
		l      model.Lock
		status string
	)
	err := row.Scan(
		&l.ID,
		&l.ResourceID,
		&l.HolderID,
		&l.Window.CheckIn,
		&l.Window.CheckOut,
		&status,
		&l.CreatedAt,
		&l.ExpiresAt,
		&l.UpdatedAt,
		&l.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Status = model.LockStatus(status)
	l.Window = model.NewWindow(l.Window.CheckIn, l.Window.CheckOut)
	l.CreatedAt = l.CreatedAt.UTC()
	l.ExpiresAt = l.ExpiresAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	if l.ClosedAt != nil {
		closed := l.ClosedAt.UTC()
		l.ClosedAt = &closed
	}
	return &l, nil
}

func (r *PostgresLockRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *PostgresLockRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}
