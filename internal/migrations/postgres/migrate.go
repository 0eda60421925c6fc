package postgres

import (
	"context"
	"fmt"

	"reslock/internal/locks/repository"
	"reslock/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Statements are idempotent so the job can run on every deploy.
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS locks (
	id          TEXT PRIMARY KEY,
	resource_id TEXT NOT NULL,
	holder_id   TEXT NOT NULL,
	check_in    DATE NOT NULL,
	check_out   DATE NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	closed_at   TIMESTAMPTZ,
	CONSTRAINT locks_window_chk CHECK (check_out > check_in),
	CONSTRAINT locks_status_chk CHECK (status IN ('ACTIVE', 'CONVERTED', 'RELEASED', 'EXPIRED')),
	CONSTRAINT locks_expiry_chk CHECK (expires_at > created_at)
)`,
	fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON locks (resource_id) WHERE status = 'ACTIVE'`, repository.ResourceIndexName),
	fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON locks (holder_id) WHERE status = 'ACTIVE'`, repository.HolderIndexName),
	`CREATE INDEX IF NOT EXISTS locks_sweep_idx ON locks (expires_at) WHERE status = 'ACTIVE'`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool, log *logger.Logger) error {
	log.Info("Running Postgres migrations")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, stmt := range Statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	log.Info("All Postgres migrations applied", "statements", len(Statements))
	return nil
}
