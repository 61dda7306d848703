package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/set-night/tasker/internal/domain"
)

const enqueueDiscards = `
INSERT INTO attachment_discards (lease_id, ref)
SELECT $1::bigint, unnest($2::text[])
ON CONFLICT (lease_id, ref) DO NOTHING`

func (q *Queries) EnqueueDiscards(ctx context.Context, leaseID int64, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	if _, err := q.db.Exec(ctx, enqueueDiscards, leaseID, refs); err != nil {
		return errors.Wrap(err, "enqueue discards")
	}
	return nil
}

const claimPendingDiscards = `
SELECT id, lease_id, ref FROM attachment_discards
WHERE processed_at IS NULL
ORDER BY id
LIMIT $1
FOR UPDATE SKIP LOCKED`

func (q *Queries) ClaimPendingDiscards(ctx context.Context, limit int) ([]domain.PendingDiscard, error) {
	rows, err := q.db.Query(ctx, claimPendingDiscards, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claim pending discards")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PendingDiscard, error) {
		var d domain.PendingDiscard
		err := row.Scan(&d.ID, &d.LeaseID, &d.Ref)
		return d, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect discards")
	}
	return out, nil
}

const markDiscardsDone = `UPDATE attachment_discards SET processed_at = $2 WHERE id = ANY($1::bigint[]) AND processed_at IS NULL`

func (q *Queries) MarkDiscardsDone(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := q.db.Exec(ctx, markDiscardsDone, ids, at); err != nil {
		return errors.Wrap(err, "mark discards done")
	}
	return nil
}
