package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/set-night/tasker/internal/domain"
)

const taskColumns = `id, kind, url, message_text, price, available, created_at, updated_at`

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		t    domain.Task
		kind string
	)
	if err := row.Scan(&t.ID, &kind, &t.URL, &t.MessageText, &t.Price, &t.Available, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Kind = domain.TaskKind(kind)
	return &t, nil
}

const createTask = `
INSERT INTO tasks (kind, url, message_text, price)
VALUES ($1, $2, $3, $4)
RETURNING ` + taskColumns

func (q *Queries) CreateTask(ctx context.Context, arg CreateTaskParams) (*domain.Task, error) {
	t, err := scanTask(q.db.QueryRow(ctx, createTask, string(arg.Kind), arg.URL, arg.MessageText, arg.Price))
	if err != nil {
		return nil, errors.Wrap(err, "create task")
	}
	return t, nil
}

const getTask = `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

func (q *Queries) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	t, err := scanTask(q.db.QueryRow(ctx, getTask, id))
	if err != nil {
		return nil, notFound(err, domain.ErrTaskNotFound, "get task")
	}
	return t, nil
}

const findAvailableTaskIDs = `SELECT id FROM tasks WHERE kind = $1 AND available ORDER BY id LIMIT $2`

func (q *Queries) FindAvailableTaskIDs(ctx context.Context, kind domain.TaskKind, limit int) ([]int64, error) {
	rows, err := q.db.Query(ctx, findAvailableTaskIDs, string(kind), limit)
	if err != nil {
		return nil, errors.Wrap(err, "find available tasks")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, errors.Wrap(err, "collect task ids")
	}
	return ids, nil
}

// claimTask is the conditional flip: zero rows means another caller won.
const claimTask = `UPDATE tasks SET available = FALSE, updated_at = now() WHERE id = $1 AND available`

func (q *Queries) ClaimTask(ctx context.Context, id int64) (bool, error) {
	tag, err := q.db.Exec(ctx, claimTask, id)
	if err != nil {
		return false, errors.Wrap(err, "claim task")
	}
	return tag.RowsAffected() == 1, nil
}

const releaseTask = `UPDATE tasks SET available = TRUE, updated_at = now() WHERE id = $1 AND NOT available`

func (q *Queries) ReleaseTask(ctx context.Context, id int64) (bool, error) {
	tag, err := q.db.Exec(ctx, releaseTask, id)
	if err != nil {
		return false, errors.Wrap(err, "release task")
	}
	return tag.RowsAffected() == 1, nil
}

const countAvailableTasks = `SELECT kind, count(*) FROM tasks WHERE available GROUP BY kind`

func (q *Queries) CountAvailableTasks(ctx context.Context) (map[domain.TaskKind]int, error) {
	rows, err := q.db.Query(ctx, countAvailableTasks)
	if err != nil {
		return nil, errors.Wrap(err, "count available tasks")
	}
	defer rows.Close()

	out := map[domain.TaskKind]int{}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, errors.Wrap(err, "scan task count")
		}
		out[domain.TaskKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate task counts")
	}
	return out, nil
}
