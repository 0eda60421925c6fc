package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"reslock/internal/locks/repository"
	"reslock/internal/locks/service"
	"reslock/pkg/config"
	"reslock/pkg/logger"
	"reslock/pkg/model"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ttl = 15 * time.Minute

func setup(t *testing.T) (service.LockManager, *repository.MemoryLockRepository, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC))
	repo := repository.NewMemoryLockRepository()
	cfg := &config.Config{Log: logger.Nop(), LockTTL: ttl}
	return service.NewLockManager(repo, clk, cfg), repo, clk
}

func window() model.Window {
	return model.NewWindow(
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
	)
}

func TestSweepOnce(t *testing.T) {
	manager, repo, clk := setup(t)
	ctx := context.Background()
	s := New(manager, clk, 30*time.Second, 2, logger.Nop())

	for i := 0; i < 5; i++ {
		_, err := manager.Acquire(ctx, fmt.Sprintf("R%d", i), fmt.Sprintf("H%d", i), window())
		require.NoError(t, err)
	}

	n, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "Expected nothing to expire before the TTL")

	clk.Add(ttl)
	n, err = s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n, "Expected all batches to be drained in one pass")

	for _, l := range repo.Locks() {
		assert.Equal(t, model.LockStatusExpired, l.Status)
	}
	assert.Equal(t, Stats{Passes: 2, Expired: 5}, s.Stats())
}

func TestRun_ExpiresOnTick(t *testing.T) {
	manager, repo, clk := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(manager, clk, 30*time.Second, DefaultBatchSize, logger.Nop())
	go s.Run(ctx)
	<-s.Started()

	lock, err := manager.Acquire(ctx, "R1", "A", window())
	require.NoError(t, err)

	clk.Add(ttl)
	require.Eventually(t, func() bool {
		stored, err := repo.FindByID(context.Background(), lock.ID)
		return err == nil && stored.Status == model.LockStatusExpired
	}, time.Second, 5*time.Millisecond, "Expected sweeper to expire the lock")

	s.Stop()
	s.Stop()
}

type failingManager struct {
	service.LockManager
	calls atomic.Int32
}

func (m *failingManager) ExpireDue(ctx context.Context, limit int) ([]*model.Lock, error) {
	m.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestRun_FailureIsRetriedNextInterval(t *testing.T) {
	clk := clock.NewMock()
	manager := &failingManager{}
	s := New(manager, clk, time.Minute, DefaultBatchSize, logger.Nop())

	_, err := s.SweepOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), s.Stats().Failures)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	<-s.Started()

	clk.Add(time.Minute)
	require.Eventually(t, func() bool { return manager.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	clk.Add(time.Minute)
	require.Eventually(t, func() bool { return manager.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	cancel()
	s.Stop()
}

func TestStop_BeforeRun(t *testing.T) {
	manager, _, clk := setup(t)
	s := New(manager, clk, time.Minute, 0, logger.Nop())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked although Run was never started")
	}
}
