package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/set-night/tasker/internal/domain"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

var _ Querier = (*Queries)(nil)

// PGStore is the Postgres-backed Store.
type PGStore struct {
	pool    *pgxpool.Pool
	queries *Queries
	timeout time.Duration
}

func NewPGStore(pool *pgxpool.Pool, timeout time.Duration) *PGStore {
	return &PGStore{pool: pool, queries: New(pool), timeout: timeout}
}

func (s *PGStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// Read runs fn in a read-only repeatable-read transaction, so every
// statement in fn sees the same snapshot.
func (s *PGStore) Read(ctx context.Context, fn func(q Querier) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return errors.Wrap(err, "begin read tx")
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit read tx")
	}
	return nil
}

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"

	constraintActiveLease       = "uq_leases_task_leased"
	constraintPendingWithdrawal = "uq_withdrawals_pending"
	constraintEarningsBalance   = "users_earnings_balance_check"
	constraintReferralBalance   = "users_referral_balance_check"
)

// mapError turns constraint violations the engine relies on into domain
// errors and wraps everything else.
func mapError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraintActiveLease:
			return domain.ErrDuplicateActiveLease
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraintPendingWithdrawal:
			return domain.ErrWithdrawalPending
		case pgErr.Code == pgCheckViolation && (pgErr.ConstraintName == constraintEarningsBalance || pgErr.ConstraintName == constraintReferralBalance):
			return errors.Wrap(domain.ErrInsufficientBalance, pgErr.ConstraintName)
		}
	}
	return errors.Wrap(err, msg)
}

func notFound(err error, sentinel error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return errors.Wrap(err, msg)
}
