package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/repository"
)

func TestRequestLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, 1)
	first := f.task(t, domain.TaskKindSimple)
	f.task(t, domain.TaskKindSimple)

	lease, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
	require.NoError(t, err)
	assert.Equal(t, first.ID, lease.TaskID, "lowest id first")
	assert.Equal(t, domain.LeaseStateLeased, lease.State)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), lease.ExpiresAt)
	assert.False(t, f.getTask(t, first.ID).Available)
}

func TestRequestLeaseErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown kind", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.leases.RequestLease(ctx, 1, "video")
		assert.ErrorIs(t, err, domain.ErrUnknownTaskKind)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		f.task(t, domain.TaskKindSimple)
		_, err := f.leases.RequestLease(ctx, 404, domain.TaskKindSimple)
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("empty pool", func(t *testing.T) {
		f := newFixture(t)
		f.user(t, 1)
		f.task(t, domain.TaskKindPhone)
		_, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
		assert.ErrorIs(t, err, domain.ErrNoTaskAvailable)
	})

	t.Run("cap", func(t *testing.T) {
		f := newFixture(t, func(r *config.Rules) { r.MaxActiveLeases = 2 })
		f.user(t, 1)
		for range 3 {
			f.task(t, domain.TaskKindSimple)
		}
		for range 2 {
			_, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
			require.NoError(t, err)
		}
		_, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
		assert.ErrorIs(t, err, domain.ErrLeaseLimitExceeded)
	})

	t.Run("submitted leases do not count toward the cap", func(t *testing.T) {
		f := newFixture(t, func(r *config.Rules) { r.MaxActiveLeases = 1 })
		f.user(t, 1)
		f.task(t, domain.TaskKindSimple)
		f.task(t, domain.TaskKindSimple)

		f.submitted(t, 1, domain.TaskKindSimple)
		_, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
		assert.NoError(t, err)
	})

	t.Run("every flip lost", func(t *testing.T) {
		f := newFixtureWithStore(t, contendedStore{repository.NewMemoryStore()})
		f.user(t, 1)
		f.task(t, domain.TaskKindSimple)
		_, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
		assert.ErrorIs(t, err, domain.ErrTaskContention)
	})
}

func TestRequestLeaseConcurrentSingleTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const callers = 8
	for i := range callers {
		f.user(t, int64(i+1))
	}
	task := f.task(t, domain.TaskKindSimple)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []*domain.Lease
		failed  []error
	)
	for i := range callers {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			lease, err := f.leases.RequestLease(ctx, userID, domain.TaskKindSimple)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, err)
				return
			}
			granted = append(granted, lease)
		}(int64(i + 1))
	}
	wg.Wait()

	require.Len(t, granted, 1)
	assert.Equal(t, task.ID, granted[0].TaskID)
	for _, err := range failed {
		assert.ErrorIs(t, err, domain.ErrNoTaskAvailable)
	}
	assert.False(t, f.getTask(t, task.ID).Available)
}

func TestRequestLeaseReclaimsExpiredFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, 1)
	f.user(t, 2)
	task := f.task(t, domain.TaskKindSimple)

	stale, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
	require.NoError(t, err)

	_, err = f.leases.RequestLease(ctx, 2, domain.TaskKindSimple)
	require.ErrorIs(t, err, domain.ErrNoTaskAvailable)

	f.clock.Advance(24*time.Hour + time.Second)
	lease, err := f.leases.RequestLease(ctx, 2, domain.TaskKindSimple)
	require.NoError(t, err)
	assert.Equal(t, task.ID, lease.TaskID)
	assert.Equal(t, domain.LeaseStateExpired, f.getLease(t, stale.ID).State)
}

func TestListActiveLeases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, 1)
	f.task(t, domain.TaskKindSimple)
	f.task(t, domain.TaskKindSimple)
	f.task(t, domain.TaskKindSimple)

	a, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	b, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
	require.NoError(t, err)
	f.submitted(t, 1, domain.TaskKindSimple)

	active, err := f.leases.ListActiveLeases(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, b.ID, active[1].ID)

	f.clock.Advance(23*time.Hour + time.Minute)
	active, err = f.leases.ListActiveLeases(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)
}

func TestGetLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, 1)
	f.user(t, 2)
	f.task(t, domain.TaskKindSimple)
	lease, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
	require.NoError(t, err)

	got, err := f.leases.GetLease(ctx, lease.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, got.Task)
	assert.Equal(t, int64(50), got.Task.Price)

	_, err = f.leases.GetLease(ctx, lease.ID, 2)
	assert.ErrorIs(t, err, domain.ErrLeaseNotOwned)

	_, err = f.leases.GetLease(ctx, 999, 1)
	assert.ErrorIs(t, err, domain.ErrLeaseNotFound)
}

func TestGetActiveLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, 1)
	f.task(t, domain.TaskKindSimple)
	f.task(t, domain.TaskKindSimple)
	lease, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
	require.NoError(t, err)

	got, err := f.leases.GetActiveLease(ctx, lease.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, lease.ID, got.ID)

	submitted := f.submitted(t, 1, domain.TaskKindSimple)
	_, err = f.leases.GetActiveLease(ctx, submitted.ID, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidLeaseState)

	f.clock.Advance(f.rules.LeaseDuration + time.Second)
	_, err = f.leases.GetActiveLease(ctx, lease.ID, 1)
	assert.ErrorIs(t, err, domain.ErrLeaseExpired)
}

func TestCancelLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, 1)
	f.user(t, 2)
	task := f.task(t, domain.TaskKindSimple)

	lease, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
	require.NoError(t, err)

	_, err = f.leases.CancelLease(ctx, lease.ID, 2)
	assert.ErrorIs(t, err, domain.ErrLeaseNotOwned)

	cancelled, err := f.leases.CancelLease(ctx, lease.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseStateCancelled, cancelled.State)
	assert.True(t, f.getTask(t, task.ID).Available)
	assert.NotNil(t, f.getLease(t, lease.ID).ResolvedAt)

	_, err = f.leases.CancelLease(ctx, lease.ID, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidLeaseState)

	n, err := f.reclaim.DrainDiscards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{lease.AttachmentPrefix()}, f.files.Discarded())
}

func TestCancelExpiredLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, 1)
	task := f.task(t, domain.TaskKindSimple)

	lease, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	_, err = f.leases.CancelLease(ctx, lease.ID, 1)
	assert.ErrorIs(t, err, domain.ErrLeaseExpired)
	assert.Equal(t, domain.LeaseStateLeased, f.getLease(t, lease.ID).State, "cancel leaves expiry to the sweep")
	assert.False(t, f.getTask(t, task.ID).Available)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "no_task_available", failureReason(domain.ErrNoTaskAvailable))
	assert.Equal(t, "task_contention", failureReason(errors.Wrap(domain.ErrTaskContention, "x")))
	assert.Equal(t, "error", failureReason(errors.New("db down")))
}
