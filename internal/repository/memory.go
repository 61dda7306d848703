package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/set-night/tasker/internal/domain"
)

// MemoryStore keeps the ledger in process memory. A single mutex serializes
// every unit of work; each transaction runs on a copy of the state that
// replaces the live one only when fn succeeds, so a failed transaction never
// leaves partial writes behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	users       map[int64]domain.User
	tasks       map[int64]domain.Task
	leases      map[int64]domain.Lease
	withdrawals map[int64]domain.WithdrawalRequest
	commissions map[int64]domain.CommissionPosting
	discards    map[int64]memDiscard

	taskSeq, leaseSeq, withdrawalSeq, commissionSeq, discardSeq int64
}

type memDiscard struct {
	domain.PendingDiscard
	processedAt *time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			users:       make(map[int64]domain.User),
			tasks:       make(map[int64]domain.Task),
			leases:      make(map[int64]domain.Lease),
			withdrawals: make(map[int64]domain.WithdrawalRequest),
			commissions: make(map[int64]domain.CommissionPosting),
			discards:    make(map[int64]memDiscard),
		},
		now: time.Now,
	}
}

func (st *memState) clone() *memState {
	c := *st
	c.users = maps.Clone(st.users)
	c.tasks = maps.Clone(st.tasks)
	c.leases = make(map[int64]domain.Lease, len(st.leases))
	for id, l := range st.leases {
		l.Attachments = slices.Clone(l.Attachments)
		c.leases[id] = l
	}
	c.withdrawals = maps.Clone(st.withdrawals)
	c.commissions = maps.Clone(st.commissions)
	c.discards = maps.Clone(st.discards)
	return &c
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&memQueries{st: snapshot, now: s.now}); err != nil {
		return err
	}
	s.state = snapshot
	return nil
}

// Read runs fn on a throwaway copy; anything it writes is dropped.
func (s *MemoryStore) Read(ctx context.Context, fn func(q Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memQueries{st: s.state.clone(), now: s.now})
}

type memQueries struct {
	st  *memState
	now func() time.Time
}

var _ Querier = (*memQueries)(nil)

func (q *memQueries) GetUser(_ context.Context, id int64) (*domain.User, error) {
	u, ok := q.st.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (q *memQueries) GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error) {
	return q.GetUser(ctx, id)
}

func (q *memQueries) UpsertUser(_ context.Context, arg UpsertUserParams) (*domain.User, bool, error) {
	now := q.now()
	u, ok := q.st.users[arg.ID]
	if !ok {
		u = domain.User{ID: arg.ID, CreatedAt: now}
	}
	u.Username = arg.Username
	u.FirstName = arg.FirstName
	u.UpdatedAt = now
	q.st.users[arg.ID] = u
	return &u, !ok, nil
}

func (q *memQueries) SetReferredBy(_ context.Context, userID, referrerID int64) (bool, error) {
	u, ok := q.st.users[userID]
	if !ok || u.ReferredBy != nil || userID == referrerID {
		return false, nil
	}
	if _, ok := q.st.users[referrerID]; !ok {
		return false, domain.ErrReferrerNotFound
	}
	ref := referrerID
	u.ReferredBy = &ref
	u.UpdatedAt = q.now()
	q.st.users[userID] = u
	return true, nil
}

func (q *memQueries) updateUser(userID int64, fn func(u *domain.User) error) error {
	u, ok := q.st.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if err := fn(&u); err != nil {
		return err
	}
	u.UpdatedAt = q.now()
	q.st.users[userID] = u
	return nil
}

func (q *memQueries) AddEarnings(_ context.Context, userID, amount int64) error {
	return q.updateUser(userID, func(u *domain.User) error {
		if u.EarningsBalance+amount < 0 {
			return domain.ErrInsufficientBalance
		}
		u.EarningsBalance += amount
		return nil
	})
}

func (q *memQueries) AddReferralBalance(_ context.Context, userID, amount int64) error {
	return q.updateUser(userID, func(u *domain.User) error {
		if u.ReferralBalance+amount < 0 {
			return domain.ErrInsufficientBalance
		}
		u.ReferralBalance += amount
		return nil
	})
}

func (q *memQueries) DebitBalances(_ context.Context, userID, earnings, referral int64) error {
	return q.updateUser(userID, func(u *domain.User) error {
		if u.EarningsBalance-earnings < 0 || u.ReferralBalance-referral < 0 {
			return domain.ErrInsufficientBalance
		}
		u.EarningsBalance -= earnings
		u.ReferralBalance -= referral
		return nil
	})
}

func (q *memQueries) CountReferrals(_ context.Context, referrerID int64) (int, error) {
	n := 0
	for _, u := range q.st.users {
		if u.ReferredBy != nil && *u.ReferredBy == referrerID {
			n++
		}
	}
	return n, nil
}

func (q *memQueries) CreateTask(_ context.Context, arg CreateTaskParams) (*domain.Task, error) {
	q.st.taskSeq++
	now := q.now()
	t := domain.Task{
		ID:          q.st.taskSeq,
		Kind:        arg.Kind,
		URL:         arg.URL,
		MessageText: arg.MessageText,
		Price:       arg.Price,
		Available:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q.st.tasks[t.ID] = t
	return &t, nil
}

func (q *memQueries) GetTask(_ context.Context, id int64) (*domain.Task, error) {
	t, ok := q.st.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return &t, nil
}

func (q *memQueries) FindAvailableTaskIDs(_ context.Context, kind domain.TaskKind, limit int) ([]int64, error) {
	var ids []int64
	for _, t := range q.st.tasks {
		if t.Kind == kind && t.Available {
			ids = append(ids, t.ID)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (q *memQueries) setAvailable(id int64, from, to bool) bool {
	t, ok := q.st.tasks[id]
	if !ok || t.Available != from {
		return false
	}
	t.Available = to
	t.UpdatedAt = q.now()
	q.st.tasks[id] = t
	return true
}

func (q *memQueries) ClaimTask(_ context.Context, id int64) (bool, error) {
	return q.setAvailable(id, true, false), nil
}

func (q *memQueries) ReleaseTask(_ context.Context, id int64) (bool, error) {
	return q.setAvailable(id, false, true), nil
}

func (q *memQueries) CountAvailableTasks(_ context.Context) (map[domain.TaskKind]int, error) {
	out := map[domain.TaskKind]int{}
	for _, t := range q.st.tasks {
		if t.Available {
			out[t.Kind]++
		}
	}
	return out, nil
}

// withTask returns a copy of l with the joined task attached.
func (q *memQueries) withTask(l domain.Lease) domain.Lease {
	l.Attachments = slices.Clone(l.Attachments)
	if t, ok := q.st.tasks[l.TaskID]; ok {
		l.Task = &t
	}
	return l
}

func (q *memQueries) InsertLease(_ context.Context, arg InsertLeaseParams) (*domain.Lease, error) {
	for _, l := range q.st.leases {
		if l.TaskID == arg.TaskID && l.State == domain.LeaseStateLeased {
			return nil, domain.ErrDuplicateActiveLease
		}
	}
	if _, ok := q.st.users[arg.UserID]; !ok {
		return nil, domain.ErrUserNotFound
	}
	if _, ok := q.st.tasks[arg.TaskID]; !ok {
		return nil, domain.ErrTaskNotFound
	}
	q.st.leaseSeq++
	l := domain.Lease{
		ID:          q.st.leaseSeq,
		TaskID:      arg.TaskID,
		UserID:      arg.UserID,
		State:       domain.LeaseStateLeased,
		ExpiresAt:   arg.ExpiresAt,
		CreatedAt:   arg.CreatedAt,
		Attachments: []string{},
	}
	q.st.leases[l.ID] = l
	out := q.withTask(l)
	return &out, nil
}

func (q *memQueries) GetLease(_ context.Context, id int64) (*domain.Lease, error) {
	l, ok := q.st.leases[id]
	if !ok {
		return nil, domain.ErrLeaseNotFound
	}
	out := q.withTask(l)
	return &out, nil
}

func (q *memQueries) GetLeaseForUpdate(ctx context.Context, id int64) (*domain.Lease, error) {
	return q.GetLease(ctx, id)
}

func (q *memQueries) CountLeasesByState(_ context.Context, userID int64, state domain.LeaseState) (int, error) {
	n := 0
	for _, l := range q.st.leases {
		if l.UserID == userID && l.State == state {
			n++
		}
	}
	return n, nil
}

func (q *memQueries) TransitionLease(_ context.Context, arg TransitionLeaseParams) (bool, error) {
	l, ok := q.st.leases[arg.ID]
	if !ok || l.State != arg.From {
		return false, nil
	}
	if arg.To == domain.LeaseStateLeased {
		for id, other := range q.st.leases {
			if id != l.ID && other.TaskID == l.TaskID && other.State == domain.LeaseStateLeased {
				return false, domain.ErrDuplicateActiveLease
			}
		}
	}
	l.State = arg.To
	if arg.To.Terminal() {
		at := arg.At
		l.ResolvedAt = &at
	}
	q.st.leases[l.ID] = l
	return true, nil
}

func (q *memQueries) MarkLeaseSubmitted(_ context.Context, arg MarkLeaseSubmittedParams) (bool, error) {
	l, ok := q.st.leases[arg.ID]
	if !ok || l.State != domain.LeaseStateLeased {
		return false, nil
	}
	at := arg.At
	l.State = domain.LeaseStateSubmitted
	l.Attachments = slices.Clone(arg.Attachments)
	l.DisclosedValue = arg.DisclosedValue
	l.SubmittedAt = &at
	q.st.leases[l.ID] = l
	return true, nil
}

func (q *memQueries) ClaimExpiredLeases(_ context.Context, now time.Time, limit int) ([]domain.Lease, error) {
	var out []domain.Lease
	for _, l := range q.st.leases {
		if l.State == domain.LeaseStateLeased && l.ExpiredAt(now) {
			out = append(out, q.withTask(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueries) ListUserLeases(_ context.Context, userID int64, state domain.LeaseState) ([]domain.Lease, error) {
	var out []domain.Lease
	for _, l := range q.st.leases {
		if l.UserID == userID && l.State == state {
			out = append(out, q.withTask(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (q *memQueries) ListSubmittedLeases(_ context.Context, limit int) ([]domain.Lease, error) {
	var out []domain.Lease
	for _, l := range q.st.leases {
		if l.State == domain.LeaseStateSubmitted {
			out = append(out, q.withTask(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SubmittedAt, out[j].SubmittedAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueries) InsertCommission(_ context.Context, arg InsertCommissionParams) (bool, error) {
	for _, c := range q.st.commissions {
		if c.SourceLeaseID == arg.SourceLeaseID {
			return false, nil
		}
	}
	q.st.commissionSeq++
	q.st.commissions[q.st.commissionSeq] = domain.CommissionPosting{
		ID:            q.st.commissionSeq,
		ReferrerID:    arg.ReferrerID,
		ReferredID:    arg.ReferredID,
		SourceLeaseID: arg.SourceLeaseID,
		Amount:        arg.Amount,
		TaskKind:      arg.TaskKind,
		CreatedAt:     arg.CreatedAt,
	}
	return true, nil
}

func (q *memQueries) SumCommissions(_ context.Context, referrerID int64) (int64, error) {
	var total int64
	for _, c := range q.st.commissions {
		if c.ReferrerID == referrerID {
			total += c.Amount
		}
	}
	return total, nil
}

func (q *memQueries) ListCommissions(_ context.Context, referrerID int64, limit int) ([]domain.CommissionPosting, error) {
	var out []domain.CommissionPosting
	for _, c := range q.st.commissions {
		if c.ReferrerID == referrerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueries) SumPendingWithdrawals(_ context.Context, userID int64) (int64, error) {
	var total int64
	for _, w := range q.st.withdrawals {
		if w.UserID == userID && w.Status == domain.WithdrawalStatusPending {
			total += w.Amount
		}
	}
	return total, nil
}

func (q *memQueries) CountPendingWithdrawals(_ context.Context, userID int64) (int, error) {
	n := 0
	for _, w := range q.st.withdrawals {
		if w.UserID == userID && w.Status == domain.WithdrawalStatusPending {
			n++
		}
	}
	return n, nil
}

func (q *memQueries) InsertWithdrawal(ctx context.Context, arg InsertWithdrawalParams) (*domain.WithdrawalRequest, error) {
	if n, _ := q.CountPendingWithdrawals(ctx, arg.UserID); n > 0 {
		return nil, domain.ErrWithdrawalPending
	}
	if _, ok := q.st.users[arg.UserID]; !ok {
		return nil, domain.ErrUserNotFound
	}
	q.st.withdrawalSeq++
	w := domain.WithdrawalRequest{
		ID:        q.st.withdrawalSeq,
		UserID:    arg.UserID,
		Amount:    arg.Amount,
		Method:    arg.Method,
		Details:   slices.Clone(arg.Details),
		Status:    domain.WithdrawalStatusPending,
		CreatedAt: arg.CreatedAt,
	}
	q.st.withdrawals[w.ID] = w
	return &w, nil
}

func (q *memQueries) GetWithdrawalForUpdate(_ context.Context, id int64) (*domain.WithdrawalRequest, error) {
	w, ok := q.st.withdrawals[id]
	if !ok {
		return nil, domain.ErrWithdrawalNotFound
	}
	return &w, nil
}

func (q *memQueries) ResolveWithdrawal(_ context.Context, id int64, status domain.WithdrawalStatus, at time.Time) (bool, error) {
	w, ok := q.st.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalStatusPending {
		return false, nil
	}
	w.Status = status
	w.ResolvedAt = &at
	q.st.withdrawals[id] = w
	return true, nil
}

func (q *memQueries) ListWithdrawals(_ context.Context, userID int64) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	for _, w := range q.st.withdrawals {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (q *memQueries) ListPendingWithdrawals(_ context.Context, limit int) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	for _, w := range q.st.withdrawals {
		if w.Status == domain.WithdrawalStatusPending {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueries) EnqueueDiscards(_ context.Context, leaseID int64, refs []string) error {
	for _, ref := range refs {
		dup := false
		for _, d := range q.st.discards {
			if d.LeaseID == leaseID && d.Ref == ref {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		q.st.discardSeq++
		q.st.discards[q.st.discardSeq] = memDiscard{
			PendingDiscard: domain.PendingDiscard{ID: q.st.discardSeq, LeaseID: leaseID, Ref: ref},
		}
	}
	return nil
}

func (q *memQueries) ClaimPendingDiscards(_ context.Context, limit int) ([]domain.PendingDiscard, error) {
	var out []domain.PendingDiscard
	for _, d := range q.st.discards {
		if d.processedAt == nil {
			out = append(out, d.PendingDiscard)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueries) MarkDiscardsDone(_ context.Context, ids []int64, at time.Time) error {
	for _, id := range ids {
		d, ok := q.st.discards[id]
		if !ok || d.processedAt != nil {
			continue
		}
		d.processedAt = &at
		q.st.discards[id] = d
	}
	return nil
}
