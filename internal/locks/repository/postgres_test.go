package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	lockserrors "reslock/internal/locks/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableTxError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "wrapped deadlock", err: fmt.Errorf("find lock: %w", &pgconn.PgError{Code: "40P01"}), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "domain error", err: lockserrors.ErrResourceConflict, want: false},
		{name: "plain error", err: errors.New("connection reset"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableTxError(tt.err))
		})
	}
}

func TestPostgresWithTx_RerunsAfterDeadlock(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	repo := NewPostgresLockRepository(pool)

	t.Run("retryable error reruns the callback", func(t *testing.T) {
		calls := 0
		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			calls++
			if calls == 1 {
				return &pgconn.PgError{Code: "40P01"}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("gives up after the attempt limit", func(t *testing.T) {
		calls := 0
		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			calls++
			return &pgconn.PgError{Code: "40001"}
		})
		assert.True(t, isRetryableTxError(err))
		assert.Equal(t, maxTxAttempts, calls)
	})

	t.Run("other errors are returned at once", func(t *testing.T) {
		calls := 0
		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			calls++
			return lockserrors.ErrHolderConflict
		})
		assert.ErrorIs(t, err, lockserrors.ErrHolderConflict)
		assert.Equal(t, 1, calls)
	})
}
