package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/set-night/tasker/internal/domain"
)

// The unique source_lease_id makes a replayed approval a no-op.
const insertCommission = `
INSERT INTO commission_postings (referrer_id, referred_id, source_lease_id, amount, task_kind, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_lease_id) DO NOTHING`

func (q *Queries) InsertCommission(ctx context.Context, arg InsertCommissionParams) (bool, error) {
	tag, err := q.db.Exec(ctx, insertCommission, arg.ReferrerID, arg.ReferredID, arg.SourceLeaseID,
		arg.Amount, string(arg.TaskKind), arg.CreatedAt)
	if err != nil {
		return false, errors.Wrap(err, "insert commission")
	}
	return tag.RowsAffected() == 1, nil
}

const sumCommissions = `SELECT COALESCE(sum(amount), 0)::bigint FROM commission_postings WHERE referrer_id = $1`

func (q *Queries) SumCommissions(ctx context.Context, referrerID int64) (int64, error) {
	var total int64
	if err := q.db.QueryRow(ctx, sumCommissions, referrerID).Scan(&total); err != nil {
		return 0, errors.Wrap(err, "sum commissions")
	}
	return total, nil
}

const listCommissions = `
SELECT id, referrer_id, referred_id, source_lease_id, amount, task_kind, created_at
FROM commission_postings
WHERE referrer_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

func (q *Queries) ListCommissions(ctx context.Context, referrerID int64, limit int) ([]domain.CommissionPosting, error) {
	rows, err := q.db.Query(ctx, listCommissions, referrerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list commissions")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CommissionPosting, error) {
		var (
			c    domain.CommissionPosting
			kind string
		)
		err := row.Scan(&c.ID, &c.ReferrerID, &c.ReferredID, &c.SourceLeaseID, &c.Amount, &kind, &c.CreatedAt)
		c.TaskKind = domain.TaskKind(kind)
		return c, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect commissions")
	}
	return out, nil
}
