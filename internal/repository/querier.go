package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/set-night/tasker/internal/domain"
)

// Store runs units of work against the ledger. InTx commits only when fn
// returns nil; nothing fn wrote is visible otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(q Querier) error) error
	Read(ctx context.Context, fn func(q Querier) error) error
}

// Querier is every statement the engine issues. Methods named ForUpdate
// take a row lock held until the surrounding transaction ends.
type Querier interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error)
	UpsertUser(ctx context.Context, arg UpsertUserParams) (*domain.User, bool, error)
	SetReferredBy(ctx context.Context, userID, referrerID int64) (bool, error)
	AddEarnings(ctx context.Context, userID, amount int64) error
	AddReferralBalance(ctx context.Context, userID, amount int64) error
	DebitBalances(ctx context.Context, userID, earnings, referral int64) error
	CountReferrals(ctx context.Context, referrerID int64) (int, error)

	CreateTask(ctx context.Context, arg CreateTaskParams) (*domain.Task, error)
	GetTask(ctx context.Context, id int64) (*domain.Task, error)
	FindAvailableTaskIDs(ctx context.Context, kind domain.TaskKind, limit int) ([]int64, error)
	ClaimTask(ctx context.Context, id int64) (bool, error)
	ReleaseTask(ctx context.Context, id int64) (bool, error)
	CountAvailableTasks(ctx context.Context) (map[domain.TaskKind]int, error)

	InsertLease(ctx context.Context, arg InsertLeaseParams) (*domain.Lease, error)
	GetLease(ctx context.Context, id int64) (*domain.Lease, error)
	GetLeaseForUpdate(ctx context.Context, id int64) (*domain.Lease, error)
	CountLeasesByState(ctx context.Context, userID int64, state domain.LeaseState) (int, error)
	TransitionLease(ctx context.Context, arg TransitionLeaseParams) (bool, error)
	MarkLeaseSubmitted(ctx context.Context, arg MarkLeaseSubmittedParams) (bool, error)
	ClaimExpiredLeases(ctx context.Context, now time.Time, limit int) ([]domain.Lease, error)
	ListUserLeases(ctx context.Context, userID int64, state domain.LeaseState) ([]domain.Lease, error)
	ListSubmittedLeases(ctx context.Context, limit int) ([]domain.Lease, error)

	InsertCommission(ctx context.Context, arg InsertCommissionParams) (bool, error)
	SumCommissions(ctx context.Context, referrerID int64) (int64, error)
	ListCommissions(ctx context.Context, referrerID int64, limit int) ([]domain.CommissionPosting, error)

	SumPendingWithdrawals(ctx context.Context, userID int64) (int64, error)
	CountPendingWithdrawals(ctx context.Context, userID int64) (int, error)
	InsertWithdrawal(ctx context.Context, arg InsertWithdrawalParams) (*domain.WithdrawalRequest, error)
	GetWithdrawalForUpdate(ctx context.Context, id int64) (*domain.WithdrawalRequest, error)
	ResolveWithdrawal(ctx context.Context, id int64, status domain.WithdrawalStatus, at time.Time) (bool, error)
	ListWithdrawals(ctx context.Context, userID int64) ([]domain.WithdrawalRequest, error)
	ListPendingWithdrawals(ctx context.Context, limit int) ([]domain.WithdrawalRequest, error)

	EnqueueDiscards(ctx context.Context, leaseID int64, refs []string) error
	ClaimPendingDiscards(ctx context.Context, limit int) ([]domain.PendingDiscard, error)
	MarkDiscardsDone(ctx context.Context, ids []int64, at time.Time) error
}

type UpsertUserParams struct {
	ID        int64
	Username  string
	FirstName string
}

type CreateTaskParams struct {
	Kind        domain.TaskKind
	URL         string
	MessageText string
	Price       int64
}

type InsertLeaseParams struct {
	TaskID    int64
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TransitionLeaseParams moves a lease From -> To only if it is still in From.
type TransitionLeaseParams struct {
	ID   int64
	From domain.LeaseState
	To   domain.LeaseState
	At   time.Time
}

type MarkLeaseSubmittedParams struct {
	ID             int64
	Attachments    []string
	DisclosedValue *string
	At             time.Time
}

type InsertCommissionParams struct {
	ReferrerID    int64
	ReferredID    int64
	SourceLeaseID int64
	Amount        int64
	TaskKind      domain.TaskKind
	CreatedAt     time.Time
}

type InsertWithdrawalParams struct {
	UserID    int64
	Amount    int64
	Method    domain.PayoutMethod
	Details   json.RawMessage
	CreatedAt time.Time
}
