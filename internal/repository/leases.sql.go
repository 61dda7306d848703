package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/set-night/tasker/internal/domain"
)

const leaseColumns = `l.id, l.task_id, l.user_id, l.status, l.expires_at, l.created_at,
	l.submitted_at, l.resolved_at, l.attachments, l.disclosed_value,
	t.kind, t.url, t.message_text, t.price`

const leaseFrom = ` FROM leases l JOIN tasks t ON t.id = l.task_id`

func scanLease(row pgx.Row) (*domain.Lease, error) {
	var (
		l     domain.Lease
		state string
		kind  string
		task  domain.Task
	)
	err := row.Scan(&l.ID, &l.TaskID, &l.UserID, &state, &l.ExpiresAt, &l.CreatedAt,
		&l.SubmittedAt, &l.ResolvedAt, &l.Attachments, &l.DisclosedValue,
		&kind, &task.URL, &task.MessageText, &task.Price)
	if err != nil {
		return nil, err
	}
	l.State = domain.LeaseState(state)
	task.ID = l.TaskID
	task.Kind = domain.TaskKind(kind)
	l.Task = &task
	return &l, nil
}

func collectLeases(rows pgx.Rows) ([]domain.Lease, error) {
	defer rows.Close()
	var out []domain.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan lease")
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate leases")
	}
	return out, nil
}

const insertLease = `
INSERT INTO leases (task_id, user_id, status, created_at, expires_at)
VALUES ($1, $2, 'leased', $3, $4)
RETURNING id`

func (q *Queries) InsertLease(ctx context.Context, arg InsertLeaseParams) (*domain.Lease, error) {
	var id int64
	if err := q.db.QueryRow(ctx, insertLease, arg.TaskID, arg.UserID, arg.CreatedAt, arg.ExpiresAt).Scan(&id); err != nil {
		return nil, mapError(err, "insert lease")
	}
	return q.GetLease(ctx, id)
}

const getLease = `SELECT ` + leaseColumns + leaseFrom + ` WHERE l.id = $1`

func (q *Queries) GetLease(ctx context.Context, id int64) (*domain.Lease, error) {
	l, err := scanLease(q.db.QueryRow(ctx, getLease, id))
	if err != nil {
		return nil, notFound(err, domain.ErrLeaseNotFound, "get lease")
	}
	return l, nil
}

const getLeaseForUpdate = `SELECT ` + leaseColumns + leaseFrom + ` WHERE l.id = $1 FOR UPDATE OF l`

func (q *Queries) GetLeaseForUpdate(ctx context.Context, id int64) (*domain.Lease, error) {
	l, err := scanLease(q.db.QueryRow(ctx, getLeaseForUpdate, id))
	if err != nil {
		return nil, notFound(err, domain.ErrLeaseNotFound, "lock lease")
	}
	return l, nil
}

const countLeasesByState = `SELECT count(*) FROM leases WHERE user_id = $1 AND status = $2`

func (q *Queries) CountLeasesByState(ctx context.Context, userID int64, state domain.LeaseState) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, countLeasesByState, userID, string(state)).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count leases")
	}
	return n, nil
}

const transitionLease = `
UPDATE leases
SET status = $3,
    resolved_at = CASE WHEN $4::boolean THEN $5 ELSE resolved_at END
WHERE id = $1 AND status = $2`

func (q *Queries) TransitionLease(ctx context.Context, arg TransitionLeaseParams) (bool, error) {
	tag, err := q.db.Exec(ctx, transitionLease, arg.ID, string(arg.From), string(arg.To), arg.To.Terminal(), arg.At)
	if err != nil {
		return false, mapError(err, "transition lease")
	}
	return tag.RowsAffected() == 1, nil
}

const markLeaseSubmitted = `
UPDATE leases
SET status = 'submitted', attachments = $2, disclosed_value = $3, submitted_at = $4
WHERE id = $1 AND status = 'leased'`

func (q *Queries) MarkLeaseSubmitted(ctx context.Context, arg MarkLeaseSubmittedParams) (bool, error) {
	tag, err := q.db.Exec(ctx, markLeaseSubmitted, arg.ID, arg.Attachments, arg.DisclosedValue, arg.At)
	if err != nil {
		return false, errors.Wrap(err, "mark lease submitted")
	}
	return tag.RowsAffected() == 1, nil
}

// Rows locked by a concurrent sweep are skipped, so two sweepers never
// process the same lease.
const claimExpiredLeases = `
SELECT ` + leaseColumns + leaseFrom + `
WHERE l.status = 'leased' AND l.expires_at < $1
ORDER BY l.expires_at
LIMIT $2
FOR UPDATE OF l SKIP LOCKED`

func (q *Queries) ClaimExpiredLeases(ctx context.Context, now time.Time, limit int) ([]domain.Lease, error) {
	rows, err := q.db.Query(ctx, claimExpiredLeases, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claim expired leases")
	}
	return collectLeases(rows)
}

const listUserLeases = `SELECT ` + leaseColumns + leaseFrom + ` WHERE l.user_id = $1 AND l.status = $2 ORDER BY l.id`

func (q *Queries) ListUserLeases(ctx context.Context, userID int64, state domain.LeaseState) ([]domain.Lease, error) {
	rows, err := q.db.Query(ctx, listUserLeases, userID, string(state))
	if err != nil {
		return nil, errors.Wrap(err, "list user leases")
	}
	return collectLeases(rows)
}

const listSubmittedLeases = `SELECT ` + leaseColumns + leaseFrom + ` WHERE l.status = 'submitted' ORDER BY l.submitted_at, l.id LIMIT $1`

func (q *Queries) ListSubmittedLeases(ctx context.Context, limit int) ([]domain.Lease, error) {
	rows, err := q.db.Query(ctx, listSubmittedLeases, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list submitted leases")
	}
	return collectLeases(rows)
}
