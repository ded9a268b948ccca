package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyforge/internal/domain"
)

// PurchaseRepositoryPG implements domain.PurchaseRepository.
type PurchaseRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPurchaseRepository creates a new library purchase repository backed by PostgreSQL.
func NewPurchaseRepository(pool *pgxpool.Pool) *PurchaseRepositoryPG {
	return &PurchaseRepositoryPG{pool: pool}
}

// Create inserts a new library purchase with its page selection.
func (r *PurchaseRepositoryPG) Create(ctx context.Context, p *domain.LibraryPurchase) error {
	pages, err := json.Marshal(p.Pages)
	if err != nil {
		return fmt.Errorf("encode page selection: %w", err)
	}
	query := `
INSERT INTO library_purchases (id, payer_email, pages, amount_cents, credits_spent, status)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err = r.pool.Exec(ctx, query,
		p.ID, p.PayerEmail, pages, p.AmountCents, p.CreditsSpent, p.Status,
	)
	return err
}

// GetByID fetches a library purchase by its identifier.
func (r *PurchaseRepositoryPG) GetByID(ctx context.Context, id string) (*domain.LibraryPurchase, error) {
	query := `
SELECT id, payer_email, pages, amount_cents, credits_spent, status, document_url, failure_reason, created_at, updated_at
FROM library_purchases
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var p domain.LibraryPurchase
	var pages []byte
	if err := row.Scan(
		&p.ID,
		&p.PayerEmail,
		&pages,
		&p.AmountCents,
		&p.CreditsSpent,
		&p.Status,
		&p.DocumentURL,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(pages, &p.Pages); err != nil {
		return nil, fmt.Errorf("decode page selection: %w", err)
	}
	return &p, nil
}

// Transition moves the purchase between statuses, conditional on the
// current one.
func (r *PurchaseRepositoryPG) Transition(ctx context.Context, id string, from, to domain.PurchaseStatus) error {
	query := `
UPDATE library_purchases
SET status = $3, updated_at = NOW()
WHERE id = $1 AND status = $2;
`
	tag, err := r.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM library_purchases WHERE id = $1);`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

// MarkFailed moves the purchase to its terminal failure state.
func (r *PurchaseRepositoryPG) MarkFailed(ctx context.Context, id, reason string) error {
	query := `
UPDATE library_purchases
SET status = $2, failure_reason = $3, updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, domain.PurchaseStatusFailed, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetDocumentURL stores the assembled document location.
func (r *PurchaseRepositoryPG) SetDocumentURL(ctx context.Context, id, url string) error {
	query := `
UPDATE library_purchases
SET document_url = $2, updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
