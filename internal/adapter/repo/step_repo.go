package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StepRepositoryPG is the Postgres-backed durable step memo table. PutStep
// is first-writer-wins: the insert ignores conflicts and the recorded
// payload is read back, so a concurrent replay observes whichever result
// committed first.
type StepRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewStepRepository creates a new durable step store backed by PostgreSQL.
func NewStepRepository(pool *pgxpool.Pool) *StepRepositoryPG {
	return &StepRepositoryPG{pool: pool}
}

// GetStep returns a recorded step payload, if any.
func (r *StepRepositoryPG) GetStep(ctx context.Context, runID, name string) ([]byte, bool, error) {
	query := `
SELECT payload FROM workflow_steps WHERE run_id = $1 AND step_name = $2;
`
	var payload []byte
	err := r.pool.QueryRow(ctx, query, runID, name).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// PutStep records a step payload once and returns whatever is recorded.
func (r *StepRepositoryPG) PutStep(ctx context.Context, runID, name string, payload []byte) ([]byte, error) {
	insert := `
INSERT INTO workflow_steps (run_id, step_name, payload)
VALUES ($1, $2, $3)
ON CONFLICT (run_id, step_name) DO NOTHING;
`
	if _, err := r.pool.Exec(ctx, insert, runID, name, payload); err != nil {
		return nil, err
	}
	recorded, _, err := r.GetStep(ctx, runID, name)
	if err != nil {
		return nil, err
	}
	return recorded, nil
}
