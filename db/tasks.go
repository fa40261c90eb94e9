package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/edgepub/edgepub/publish"
	"github.com/edgepub/edgepub/task"
)

var _ task.Store = (*Queries)(nil)

type taskRow struct {
	ID        string         `db:"id"`
	PublishID sql.NullString `db:"publish_id"`
	State     string         `db:"state"`
	Updated   int64          `db:"updated"`
	Deadline  sql.NullInt64  `db:"deadline"`
}

// InsertTask stores a new task
func (q *Queries) InsertTask(ctx context.Context, t *task.Task) error {
	row := taskRow{
		ID:        t.ID,
		PublishID: sql.NullString{String: t.PublishID, Valid: t.PublishID != ""},
		State:     string(t.State),
		Updated:   toNanos(t.Updated),
		Deadline:  nullNanos(t.Deadline),
	}
	if _, err := q.q.Insert(TasksTable).Rows(row).Executor().ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads a task
func (q *Queries) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var row taskRow
	found, err := q.q.From(TasksTable).Where(goqu.Ex{"id": id}).ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	if !found {
		return nil, publish.NotFoundf("No task found for ID %s", id)
	}

	return &task.Task{
		ID:        row.ID,
		PublishID: row.PublishID.String,
		State:     task.State(row.State),
		Updated:   fromNanos(row.Updated),
		Deadline:  fromNullNanos(row.Deadline),
	}, nil
}

// TransitionTask moves a task to state to if it is currently in state from
func (q *Queries) TransitionTask(ctx context.Context, id string, from, to task.State) (bool, error) {
	res, err := q.q.Update(TasksTable).
		Set(goqu.Record{"state": string(to), "updated": toNanos(q.now())}).
		Where(goqu.Ex{"id": id, "state": string(from)}).
		Executor().ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to update task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
