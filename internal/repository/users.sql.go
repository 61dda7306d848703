package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/set-night/tasker/internal/domain"
)

const userColumns = `id, username, first_name, earnings_balance, referral_balance, referred_by, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.EarningsBalance, &u.ReferralBalance,
		&u.ReferredBy, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const getUser = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, getUser, id))
	if err != nil {
		return nil, notFound(err, domain.ErrUserNotFound, "get user")
	}
	return u, nil
}

const getUserForUpdate = `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`

func (q *Queries) GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, getUserForUpdate, id))
	if err != nil {
		return nil, notFound(err, domain.ErrUserNotFound, "lock user")
	}
	return u, nil
}

// xmax = 0 only for a freshly inserted row.
const upsertUser = `
INSERT INTO users (id, username, first_name)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET username = EXCLUDED.username, first_name = EXCLUDED.first_name, updated_at = now()
RETURNING ` + userColumns + `, (xmax = 0) AS created`

func (q *Queries) UpsertUser(ctx context.Context, arg UpsertUserParams) (*domain.User, bool, error) {
	var (
		u       domain.User
		created bool
	)
	err := q.db.QueryRow(ctx, upsertUser, arg.ID, arg.Username, arg.FirstName).Scan(
		&u.ID, &u.Username, &u.FirstName, &u.EarningsBalance, &u.ReferralBalance,
		&u.ReferredBy, &u.CreatedAt, &u.UpdatedAt, &created)
	if err != nil {
		return nil, false, errors.Wrap(err, "upsert user")
	}
	return &u, created, nil
}

const setReferredBy = `
UPDATE users SET referred_by = $2, updated_at = now()
WHERE id = $1 AND referred_by IS NULL AND id <> $2`

func (q *Queries) SetReferredBy(ctx context.Context, userID, referrerID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, setReferredBy, userID, referrerID)
	if err != nil {
		return false, errors.Wrap(err, "set referred_by")
	}
	return tag.RowsAffected() == 1, nil
}

const addEarnings = `UPDATE users SET earnings_balance = earnings_balance + $2, updated_at = now() WHERE id = $1`

func (q *Queries) AddEarnings(ctx context.Context, userID, amount int64) error {
	tag, err := q.db.Exec(ctx, addEarnings, userID, amount)
	if err != nil {
		return mapError(err, "add earnings")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

const addReferralBalance = `UPDATE users SET referral_balance = referral_balance + $2, updated_at = now() WHERE id = $1`

func (q *Queries) AddReferralBalance(ctx context.Context, userID, amount int64) error {
	tag, err := q.db.Exec(ctx, addReferralBalance, userID, amount)
	if err != nil {
		return mapError(err, "add referral balance")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

const debitBalances = `
UPDATE users
SET earnings_balance = earnings_balance - $2,
    referral_balance = referral_balance - $3,
    updated_at = now()
WHERE id = $1`

func (q *Queries) DebitBalances(ctx context.Context, userID, earnings, referral int64) error {
	tag, err := q.db.Exec(ctx, debitBalances, userID, earnings, referral)
	if err != nil {
		return mapError(err, "debit balances")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

const countReferrals = `SELECT count(*) FROM users WHERE referred_by = $1`

func (q *Queries) CountReferrals(ctx context.Context, referrerID int64) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, countReferrals, referrerID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count referrals")
	}
	return n, nil
}
