package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyforge/internal/domain"
)

// TaskRepositoryPG implements domain.TaskRepository on a single tasks
// table. Claiming relies on FOR UPDATE SKIP LOCKED so concurrent workers
// never pick the same task.
type TaskRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new task repository backed by PostgreSQL.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepositoryPG {
	return &TaskRepositoryPG{pool: pool}
}

// Enqueue inserts a new queued task.
func (r *TaskRepositoryPG) Enqueue(ctx context.Context, task *domain.Task) error {
	query := `
INSERT INTO tasks (id, type, reference_id, page_no, status)
VALUES ($1, $2, $3, $4, $5);
`
	_, err := r.pool.Exec(ctx, query, task.ID, task.Type, task.ReferenceID, task.PageNo, domain.TaskStatusQueued)
	return err
}

const claimQuery = `
WITH next_task AS (
    SELECT id
    FROM tasks
    WHERE status = 'queued'
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
),
claimed AS (
    UPDATE tasks
    SET status = 'running', updated_at = NOW()
    WHERE id IN (SELECT id FROM next_task)
    RETURNING id, type, reference_id, page_no, status, run_after, error_message, created_at, updated_at
)
SELECT * FROM claimed;
`

// Claim requeues sleeping tasks whose deadline has passed, then atomically
// picks the oldest queued task and marks it running. ErrNotFound means
// nothing is due.
func (r *TaskRepositoryPG) Claim(ctx context.Context) (*domain.Task, error) {
	// Separate statement: a CTE would not see its own requeue writes.
	if _, err := r.pool.Exec(ctx, `
UPDATE tasks
SET status = 'queued', updated_at = NOW()
WHERE status = 'sleeping' AND run_after <= NOW();
`); err != nil {
		return nil, err
	}
	return scanTask(r.pool.QueryRow(ctx, claimQuery))
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	if err := row.Scan(
		&t.ID,
		&t.Type,
		&t.ReferenceID,
		&t.PageNo,
		&t.Status,
		&t.RunAfter,
		&t.ErrorMessage,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// MarkSucceeded closes a task.
func (r *TaskRepositoryPG) MarkSucceeded(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, domain.TaskStatusSucceeded, "")
}

// MarkFailed closes a task with its error message.
func (r *TaskRepositoryPG) MarkFailed(ctx context.Context, id, errMsg string) error {
	return r.setStatus(ctx, id, domain.TaskStatusFailed, errMsg)
}

func (r *TaskRepositoryPG) setStatus(ctx context.Context, id string, status domain.TaskStatus, errMsg string) error {
	query := `
UPDATE tasks
SET status = $2, error_message = $3, updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, status, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Sleep parks a running task until the deadline passes. The claim query
// requeues it afterwards; no worker is held in the meantime.
func (r *TaskRepositoryPG) Sleep(ctx context.Context, id string, until time.Time) error {
	query := `
UPDATE tasks
SET status = $2, run_after = $3, updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, domain.TaskStatusSleeping, until)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a task by its identifier.
func (r *TaskRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	query := `
SELECT id, type, reference_id, page_no, status, run_after, error_message, created_at, updated_at
FROM tasks
WHERE id = $1;
`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}
