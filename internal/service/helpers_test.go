package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/metrics"
	"github.com/set-night/tasker/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFiles struct {
	mu        sync.Mutex
	discarded []string
	err       error
}

func (f *fakeFiles) Discard(_ context.Context, refs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.discarded = append(f.discarded, refs...)
	return nil
}

func (f *fakeFiles) Discarded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.discarded...)
}

type fixture struct {
	store   repository.Store
	rules   config.Rules
	clock   *fakeClock
	files   *fakeFiles
	metrics *metrics.Metrics

	reclaim     *ReclaimService
	leases      *LeaseService
	submissions *SubmissionService
	verdicts    *VerdictService
	withdrawals *WithdrawalService
	users       *UserService
	tasks       *TaskService
}

func newFixture(t *testing.T, tweak ...func(r *config.Rules)) *fixture {
	t.Helper()
	return newFixtureWithStore(t, repository.NewMemoryStore(), tweak...)
}

func newFixtureWithStore(t *testing.T, store repository.Store, tweak ...func(r *config.Rules)) *fixture {
	t.Helper()

	rules := config.DefaultRules()
	for _, fn := range tweak {
		fn(&rules)
	}
	require.NoError(t, rules.Validate())

	cfg := &config.Config{BotUsername: "tasker_test_bot", Rules: rules}
	logger := zap.NewNop()
	f := &fixture{
		store:   store,
		rules:   rules,
		clock:   &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		files:   &fakeFiles{},
		metrics: metrics.NewNop(),
	}

	f.reclaim = NewReclaimService(store, rules, f.files, f.metrics, logger)
	f.reclaim.now = f.clock.Now
	f.leases = NewLeaseService(store, rules, f.reclaim, f.metrics, logger)
	f.leases.now = f.clock.Now
	f.submissions = NewSubmissionService(store, f.metrics, logger)
	f.submissions.now = f.clock.Now
	f.verdicts = NewVerdictService(store, rules, f.metrics, logger)
	f.verdicts.now = f.clock.Now
	f.withdrawals = NewWithdrawalService(store, rules, f.metrics, logger)
	f.withdrawals.now = f.clock.Now
	f.users = NewUserService(store, cfg, logger)
	f.tasks = NewTaskService(store, rules, logger)
	return f
}

func (f *fixture) user(t *testing.T, id int64, referrer ...int64) *domain.User {
	t.Helper()
	p := RegisterParams{ID: id, Username: "user"}
	if len(referrer) > 0 {
		p.ReferrerID = &referrer[0]
	}
	u, _, err := f.users.Register(context.Background(), p)
	require.NoError(t, err)
	return u
}

func (f *fixture) task(t *testing.T, kind domain.TaskKind) *domain.Task {
	t.Helper()
	task, err := f.tasks.CreateTask(context.Background(), kind, "https://www.avito.ru/item/1", "hello")
	require.NoError(t, err)
	return task
}

func (f *fixture) credit(t *testing.T, userID, earnings, referral int64) {
	t.Helper()
	require.NoError(t, f.store.InTx(context.Background(), func(q repository.Querier) error {
		if err := q.AddEarnings(context.Background(), userID, earnings); err != nil {
			return err
		}
		return q.AddReferralBalance(context.Background(), userID, referral)
	}))
}

func (f *fixture) getUser(t *testing.T, id int64) *domain.User {
	t.Helper()
	u, err := f.users.Get(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) getTask(t *testing.T, id int64) *domain.Task {
	t.Helper()
	var task *domain.Task
	require.NoError(t, f.store.Read(context.Background(), func(q repository.Querier) error {
		var err error
		task, err = q.GetTask(context.Background(), id)
		return err
	}))
	return task
}

func (f *fixture) getLease(t *testing.T, id int64) *domain.Lease {
	t.Helper()
	var lease *domain.Lease
	require.NoError(t, f.store.Read(context.Background(), func(q repository.Querier) error {
		var err error
		lease, err = q.GetLease(context.Background(), id)
		return err
	}))
	return lease
}

func (f *fixture) commissionCount(t *testing.T, referrerID int64) int {
	t.Helper()
	list, err := f.users.ListCommissions(context.Background(), referrerID, 100)
	require.NoError(t, err)
	return len(list)
}

// submitted leases a task of kind for userID and submits one attachment.
func (f *fixture) submitted(t *testing.T, userID int64, kind domain.TaskKind) *domain.Lease {
	t.Helper()
	ctx := context.Background()
	lease, err := f.leases.RequestLease(ctx, userID, kind)
	require.NoError(t, err)

	p := SubmitParams{LeaseID: lease.ID, UserID: userID, Attachments: []string{lease.AttachmentPrefix() + "/a.png"}}
	if kind == domain.TaskKindPhone {
		p.Value = "+79991234567"
	}
	lease, err = f.submissions.Submit(ctx, p)
	require.NoError(t, err)
	return lease
}

func cardDetails() json.RawMessage {
	return json.RawMessage(`{"card_number":"1234567890123456","cardholder_name":"IVAN PETROV"}`)
}

// contendedStore loses every conditional flip, as if another caller always
// got there first.
type contendedStore struct {
	repository.Store
}

func (s contendedStore) InTx(ctx context.Context, fn func(q repository.Querier) error) error {
	return s.Store.InTx(ctx, func(q repository.Querier) error {
		return fn(contendedQuerier{q})
	})
}

type contendedQuerier struct {
	repository.Querier
}

func (contendedQuerier) ClaimTask(context.Context, int64) (bool, error) {
	return false, nil
}
