package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyforge/internal/domain"
)

// PendingCreditRepositoryPG implements domain.PendingCreditRepository.
type PendingCreditRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPendingCreditRepository creates a new pending credit purchase repository backed by PostgreSQL.
func NewPendingCreditRepository(pool *pgxpool.Pool) *PendingCreditRepositoryPG {
	return &PendingCreditRepositoryPG{pool: pool}
}

// Create inserts the provisional purchase before checkout begins, so the
// credit amount is never read from an event payload.
func (r *PendingCreditRepositoryPG) Create(ctx context.Context, p *domain.PendingCreditPurchase) error {
	query := `
INSERT INTO pending_credit_purchases (id, payer_email, credits, status)
VALUES ($1, $2, $3, $4);
`
	_, err := r.pool.Exec(ctx, query, p.ID, p.PayerEmail, p.Credits, p.Status)
	return err
}

// LinkSession attaches the checkout session id once it exists.
func (r *PendingCreditRepositoryPG) LinkSession(ctx context.Context, id, sessionID string) error {
	query := `
UPDATE pending_credit_purchases
SET checkout_session_id = $2
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetBySession fetches the pending purchase linked to a checkout session.
func (r *PendingCreditRepositoryPG) GetBySession(ctx context.Context, sessionID string) (*domain.PendingCreditPurchase, error) {
	query := `
SELECT id, payer_email, credits, checkout_session_id, status, created_at
FROM pending_credit_purchases
WHERE checkout_session_id = $1;
`
	row := r.pool.QueryRow(ctx, query, sessionID)
	var p domain.PendingCreditPurchase
	if err := row.Scan(&p.ID, &p.PayerEmail, &p.Credits, &p.CheckoutSessionID, &p.Status, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// MarkComplete closes the pending purchase, conditional on it still being
// open so a replayed grant is observable as ErrConflict.
func (r *PendingCreditRepositoryPG) MarkComplete(ctx context.Context, id string) error {
	query := `
UPDATE pending_credit_purchases
SET status = $2
WHERE id = $1 AND status = $3;
`
	tag, err := r.pool.Exec(ctx, query, id, domain.PendingCreditComplete, domain.PendingCreditOpen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pending_credit_purchases WHERE id = $1);`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}
