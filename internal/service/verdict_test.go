package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
)

func priced(price int64) func(r *config.Rules) {
	return func(r *config.Rules) { r.SimpleTaskPrice = price }
}

// Scenario: approve without a referrer.
func TestApproveWithoutReferrer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, priced(100))
	f.user(t, 1)
	task := f.task(t, domain.TaskKindSimple)
	lease := f.submitted(t, 1, domain.TaskKindSimple)

	res, err := f.verdicts.ApplyVerdict(ctx, lease.ID, domain.VerdictApprove)
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Credited)
	assert.Zero(t, res.Commission)
	assert.Nil(t, res.ReferrerID)

	assert.Equal(t, int64(100), f.getUser(t, 1).EarningsBalance)
	assert.True(t, f.getTask(t, task.ID).Available)
	assert.Equal(t, domain.LeaseStateApproved, f.getLease(t, lease.ID).State)
}

// Scenario: approve with a referrer at 50%.
func TestApproveWithReferrer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, priced(100))
	f.user(t, 2)
	f.user(t, 1, 2)
	f.task(t, domain.TaskKindSimple)
	lease := f.submitted(t, 1, domain.TaskKindSimple)

	res, err := f.verdicts.ApplyVerdict(ctx, lease.ID, domain.VerdictApprove)
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Commission)
	require.NotNil(t, res.ReferrerID)
	assert.Equal(t, int64(2), *res.ReferrerID)

	assert.Equal(t, int64(100), f.getUser(t, 1).EarningsBalance)
	referrer := f.getUser(t, 2)
	assert.Equal(t, int64(50), referrer.ReferralBalance)
	assert.Zero(t, referrer.EarningsBalance)

	postings, err := f.users.ListCommissions(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, int64(50), postings[0].Amount)
	assert.Equal(t, lease.ID, postings[0].SourceLeaseID)
	assert.Equal(t, int64(1), postings[0].ReferredID)
}

func TestApproveReferrerWithLowerID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, priced(100))
	f.user(t, 9)
	f.user(t, 3, 9)
	f.user(t, 20, 3)
	f.task(t, domain.TaskKindSimple)
	f.task(t, domain.TaskKindSimple)

	a := f.submitted(t, 3, domain.TaskKindSimple)
	b := f.submitted(t, 20, domain.TaskKindSimple)
	_, err := f.verdicts.ApplyVerdict(ctx, a.ID, domain.VerdictApprove)
	require.NoError(t, err)
	_, err = f.verdicts.ApplyVerdict(ctx, b.ID, domain.VerdictApprove)
	require.NoError(t, err)

	assert.Equal(t, int64(50), f.getUser(t, 9).ReferralBalance)
	assert.Equal(t, int64(50), f.getUser(t, 3).ReferralBalance)
	assert.Equal(t, int64(100), f.getUser(t, 3).EarningsBalance)
}

// Scenario: a second verdict on the same lease changes nothing.
func TestApproveTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, priced(100))
	f.user(t, 2)
	f.user(t, 1, 2)
	f.task(t, domain.TaskKindSimple)
	lease := f.submitted(t, 1, domain.TaskKindSimple)

	_, err := f.verdicts.ApplyVerdict(ctx, lease.ID, domain.VerdictApprove)
	require.NoError(t, err)
	_, err = f.verdicts.ApplyVerdict(ctx, lease.ID, domain.VerdictApprove)
	assert.ErrorIs(t, err, domain.ErrInvalidLeaseState)
	_, err = f.verdicts.ApplyVerdict(ctx, lease.ID, domain.VerdictReject)
	assert.ErrorIs(t, err, domain.ErrInvalidLeaseState)

	assert.Equal(t, int64(100), f.getUser(t, 1).EarningsBalance)
	assert.Equal(t, int64(50), f.getUser(t, 2).ReferralBalance)
	assert.Equal(t, 1, f.commissionCount(t, 2))
}

func TestApproveConcurrently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, priced(100))
	f.user(t, 2)
	f.user(t, 1, 2)
	f.task(t, domain.TaskKindSimple)
	lease := f.submitted(t, 1, domain.TaskKindSimple)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.verdicts.ApplyVerdict(ctx, lease.ID, domain.VerdictApprove)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInvalidLeaseState)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, f.commissionCount(t, 2))
	assert.Equal(t, int64(100), f.getUser(t, 1).EarningsBalance)
	assert.Equal(t, int64(50), f.getUser(t, 2).ReferralBalance)
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, 2)
	f.user(t, 1, 2)
	task := f.task(t, domain.TaskKindSimple)
	lease := f.submitted(t, 1, domain.TaskKindSimple)

	res, err := f.verdicts.ApplyVerdict(ctx, lease.ID, domain.VerdictReject)
	require.NoError(t, err)
	assert.Zero(t, res.Credited)
	assert.Equal(t, domain.LeaseStateRejected, res.Lease.State)

	got := f.getLease(t, lease.ID)
	assert.Equal(t, domain.LeaseStateRejected, got.State)
	assert.Equal(t, lease.Attachments, got.Attachments, "attachments kept for audit")
	assert.True(t, f.getTask(t, task.ID).Available)
	assert.Zero(t, f.getUser(t, 1).EarningsBalance)
	assert.Zero(t, f.commissionCount(t, 2))

	drained, err := f.reclaim.DrainDiscards(ctx)
	require.NoError(t, err)
	assert.Zero(t, drained)
}

func TestVerdictPreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, 1)
	f.task(t, domain.TaskKindSimple)
	lease, err := f.leases.RequestLease(ctx, 1, domain.TaskKindSimple)
	require.NoError(t, err)

	_, err = f.verdicts.ApplyVerdict(ctx, lease.ID, "maybe")
	assert.ErrorIs(t, err, domain.ErrInvalidVerdict)

	_, err = f.verdicts.ApplyVerdict(ctx, lease.ID, domain.VerdictApprove)
	assert.ErrorIs(t, err, domain.ErrInvalidLeaseState, "not submitted yet")

	_, err = f.verdicts.ApplyVerdict(ctx, 999, domain.VerdictApprove)
	assert.ErrorIs(t, err, domain.ErrLeaseNotFound)
}

func TestApproveOverflow(t *testing.T) {
	ctx := context.Background()

	t.Run("performer", func(t *testing.T) {
		f := newFixture(t, priced(100), func(r *config.Rules) { r.BalanceCeiling = 1000 })
		f.user(t, 1)
		f.credit(t, 1, 950, 0)
		f.task(t, domain.TaskKindSimple)
		lease := f.submitted(t, 1, domain.TaskKindSimple)

		_, err := f.verdicts.ApplyVerdict(ctx, lease.ID, domain.VerdictApprove)
		require.ErrorIs(t, err, domain.ErrBalanceOverflow)
		assert.Equal(t, domain.LeaseStateSubmitted, f.getLease(t, lease.ID).State)
		assert.Equal(t, int64(950), f.getUser(t, 1).EarningsBalance)
	})

	t.Run("exactly at the ceiling", func(t *testing.T) {
		f := newFixture(t, priced(100), func(r *config.Rules) { r.BalanceCeiling = 1000 })
		f.user(t, 1)
		f.credit(t, 1, 900, 0)
		f.task(t, domain.TaskKindSimple)
		lease := f.submitted(t, 1, domain.TaskKindSimple)

		_, err := f.verdicts.ApplyVerdict(ctx, lease.ID, domain.VerdictApprove)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), f.getUser(t, 1).EarningsBalance)
	})

	t.Run("referrer", func(t *testing.T) {
		f := newFixture(t, priced(100), func(r *config.Rules) { r.BalanceCeiling = 1000 })
		f.user(t, 2)
		f.user(t, 1, 2)
		f.credit(t, 2, 0, 990)
		f.task(t, domain.TaskKindSimple)
		lease := f.submitted(t, 1, domain.TaskKindSimple)

		_, err := f.verdicts.ApplyVerdict(ctx, lease.ID, domain.VerdictApprove)
		require.ErrorIs(t, err, domain.ErrBalanceOverflow)
		assert.Equal(t, domain.LeaseStateSubmitted, f.getLease(t, lease.ID).State)
		assert.Zero(t, f.getUser(t, 1).EarningsBalance, "performer credit rolled back too")
		assert.Zero(t, f.commissionCount(t, 2))
	})
}

func TestCommissionRounding(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, int64(50), f.verdicts.commissionFor(100))
	assert.Equal(t, int64(2), f.verdicts.commissionFor(5), "2.5 rounds to even")
	assert.Equal(t, int64(4), f.verdicts.commissionFor(7), "3.5 rounds to even")
	assert.Equal(t, int64(75), f.verdicts.commissionFor(150))

	zero := newFixture(t, func(r *config.Rules) { r.CommissionRate = decimal.Zero })
	assert.Zero(t, zero.verdicts.commissionFor(150))
}

func TestZeroCommissionPostsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(r *config.Rules) { r.CommissionRate = decimal.Zero })
	f.user(t, 2)
	f.user(t, 1, 2)
	f.task(t, domain.TaskKindSimple)
	lease := f.submitted(t, 1, domain.TaskKindSimple)

	res, err := f.verdicts.ApplyVerdict(ctx, lease.ID, domain.VerdictApprove)
	require.NoError(t, err)
	assert.Zero(t, res.Commission)
	assert.Zero(t, f.commissionCount(t, 2))
}
