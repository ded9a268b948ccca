package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEventRepositoryPG implements domain.WebhookEventRepository as a
// single insert-or-ignore on the externally-issued event id.
type WebhookEventRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewWebhookEventRepository creates a new webhook event repository backed by PostgreSQL.
func NewWebhookEventRepository(pool *pgxpool.Pool) *WebhookEventRepositoryPG {
	return &WebhookEventRepositoryPG{pool: pool}
}

// InsertIfAbsent records the event id; zero rows affected means the event
// was already processed and the delivery is a duplicate.
func (r *WebhookEventRepositoryPG) InsertIfAbsent(ctx context.Context, eventID string) (bool, error) {
	query := `
INSERT INTO webhook_events (id)
VALUES ($1)
ON CONFLICT (id) DO NOTHING;
`
	tag, err := r.pool.Exec(ctx, query, eventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Delete releases an event id after a failed post-gate effect.
func (r *WebhookEventRepositoryPG) Delete(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM webhook_events WHERE id = $1;`, eventID)
	return err
}
