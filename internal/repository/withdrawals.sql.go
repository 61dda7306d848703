package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/set-night/tasker/internal/domain"
)

const withdrawalColumns = `id, user_id, amount, method, details, status, created_at, resolved_at`

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var (
		w      domain.WithdrawalRequest
		method string
		status string
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.Amount, &method, &w.Details, &status, &w.CreatedAt, &w.ResolvedAt); err != nil {
		return nil, err
	}
	w.Method = domain.PayoutMethod(method)
	w.Status = domain.WithdrawalStatus(status)
	return &w, nil
}

func collectWithdrawals(rows pgx.Rows) ([]domain.WithdrawalRequest, error) {
	defer rows.Close()
	var out []domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan withdrawal")
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate withdrawals")
	}
	return out, nil
}

const sumPendingWithdrawals = `SELECT COALESCE(sum(amount), 0)::bigint FROM withdrawal_requests WHERE user_id = $1 AND status = 'pending'`

func (q *Queries) SumPendingWithdrawals(ctx context.Context, userID int64) (int64, error) {
	var total int64
	if err := q.db.QueryRow(ctx, sumPendingWithdrawals, userID).Scan(&total); err != nil {
		return 0, errors.Wrap(err, "sum pending withdrawals")
	}
	return total, nil
}

const countPendingWithdrawals = `SELECT count(*) FROM withdrawal_requests WHERE user_id = $1 AND status = 'pending'`

func (q *Queries) CountPendingWithdrawals(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, countPendingWithdrawals, userID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count pending withdrawals")
	}
	return n, nil
}

const insertWithdrawal = `
INSERT INTO withdrawal_requests (user_id, amount, method, details, status, created_at)
VALUES ($1, $2, $3, $4::jsonb, 'pending', $5)
RETURNING ` + withdrawalColumns

func (q *Queries) InsertWithdrawal(ctx context.Context, arg InsertWithdrawalParams) (*domain.WithdrawalRequest, error) {
	w, err := scanWithdrawal(q.db.QueryRow(ctx, insertWithdrawal, arg.UserID, arg.Amount, string(arg.Method),
		string(arg.Details), arg.CreatedAt))
	if err != nil {
		return nil, mapError(err, "insert withdrawal")
	}
	return w, nil
}

const getWithdrawalForUpdate = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`

func (q *Queries) GetWithdrawalForUpdate(ctx context.Context, id int64) (*domain.WithdrawalRequest, error) {
	w, err := scanWithdrawal(q.db.QueryRow(ctx, getWithdrawalForUpdate, id))
	if err != nil {
		return nil, notFound(err, domain.ErrWithdrawalNotFound, "lock withdrawal")
	}
	return w, nil
}

const resolveWithdrawal = `UPDATE withdrawal_requests SET status = $2, resolved_at = $3 WHERE id = $1 AND status = 'pending'`

func (q *Queries) ResolveWithdrawal(ctx context.Context, id int64, status domain.WithdrawalStatus, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, resolveWithdrawal, id, string(status), at)
	if err != nil {
		return false, errors.Wrap(err, "resolve withdrawal")
	}
	return tag.RowsAffected() == 1, nil
}

const listWithdrawals = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

func (q *Queries) ListWithdrawals(ctx context.Context, userID int64) ([]domain.WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, listWithdrawals, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list withdrawals")
	}
	return collectWithdrawals(rows)
}

const listPendingWithdrawals = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE status = 'pending' ORDER BY created_at, id LIMIT $1`

func (q *Queries) ListPendingWithdrawals(ctx context.Context, limit int) ([]domain.WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, listPendingWithdrawals, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list pending withdrawals")
	}
	return collectWithdrawals(rows)
}
