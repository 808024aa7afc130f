package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/voltaudit/voltaudit/pkg/models"
)

// TaskRepository persists tasks and owns the status state machine:
// QUEUED -> PROCESSING -> {COMPLETED | FAILED}, enforced with compare-and-set
// transitions so racing workers lose cleanly.
type TaskRepository struct {
	db *sqlx.DB
}

// Create inserts a new task.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, filename, object_key, size_bytes, status, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, task.UserID, task.Filename, task.ObjectKey, task.SizeBytes,
		task.Status, task.ErrorMessage, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return models.Wrap(models.KindInternal, "TASK_500", "failed to create task", err)
	}
	return nil
}

// GetByID fetches a task by identifier.
func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	err := r.db.GetContext(ctx, &task,
		`SELECT id, user_id, filename, object_key, size_bytes, status, error_message, created_at, updated_at
		 FROM tasks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.E(models.KindNotFound, "TASK_404", "task not found")
	}
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "TASK_500", "failed to load task", err)
	}
	return &task, nil
}

// Transition moves a task from one status to another with compare-and-set
// semantics. Returns false (without error) when the task was not in the
// expected status, which is how a second racing worker observes it lost.
func (r *TaskRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.TaskStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, time.Now().UTC(), id, from,
	)
	if err != nil {
		return false, models.Wrap(models.KindInternal, "TASK_500", "failed to transition task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, models.Wrap(models.KindInternal, "TASK_500", "failed to read transition result", err)
	}
	return n == 1, nil
}

// MarkFailed terminally fails a task with an error summary. It is permitted
// from any non-terminal status.
func (r *TaskRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, error_message = $2, updated_at = $3
		 WHERE id = $4 AND status NOT IN ($5, $6)`,
		models.TaskFailed, reason, time.Now().UTC(), id, models.TaskCompleted, models.TaskFailed,
	)
	if err != nil {
		return models.Wrap(models.KindInternal, "TASK_500", "failed to mark task failed", err)
	}
	return nil
}

// RecoverStale re-queues tasks stuck in PROCESSING for longer than maxAge,
// typically after a worker crash. Returns the identifiers re-queued.
func (r *TaskRepository) RecoverStale(ctx context.Context, maxAge time.Duration) ([]uuid.UUID, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	rows, err := r.db.QueryxContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2
		 WHERE status = $3 AND updated_at < $4
		 RETURNING id`,
		models.TaskQueued, time.Now().UTC(), models.TaskProcessing, cutoff,
	)
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "TASK_500", "failed to recover stale tasks", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, models.Wrap(models.KindInternal, "TASK_500", "failed to scan recovered task", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
