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

// OrderRepositoryPG implements domain.OrderRepository.
type OrderRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new order repository backed by PostgreSQL.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepositoryPG {
	return &OrderRepositoryPG{pool: pool}
}

// Create inserts a new order record.
func (r *OrderRepositoryPG) Create(ctx context.Context, order *domain.Order) error {
	query := `
INSERT INTO orders (id, status, character_name, character_desc, theme, price_tier, share_publicly)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		order.ID,
		order.Status,
		order.CharacterName,
		order.CharacterDesc,
		order.Theme,
		order.PriceTier,
		order.SharePublicly,
	)
	return err
}

const orderColumns = `
id, status, character_name, character_desc, theme, price_tier,
preview_candidates, chosen_preview_url, chosen_seed,
checkout_session_id, payer_email, amount_cents, currency,
share_publicly, document_url, failure_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var order domain.Order
	var candidates []byte
	if err := row.Scan(
		&order.ID,
		&order.Status,
		&order.CharacterName,
		&order.CharacterDesc,
		&order.Theme,
		&order.PriceTier,
		&candidates,
		&order.ChosenPreviewURL,
		&order.ChosenSeed,
		&order.CheckoutSessionID,
		&order.PayerEmail,
		&order.AmountCents,
		&order.Currency,
		&order.SharePublicly,
		&order.DocumentURL,
		&order.FailureReason,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &order.PreviewCandidates); err != nil {
			return nil, fmt.Errorf("decode preview candidates: %w", err)
		}
	}
	return &order, nil
}

// GetByID fetches an order by its identifier.
func (r *OrderRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1;`
	return scanOrder(r.pool.QueryRow(ctx, query, id))
}

// GetByCheckoutSession fetches the order linked to a checkout session.
func (r *OrderRepositoryPG) GetByCheckoutSession(ctx context.Context, sessionID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE checkout_session_id = $1;`
	return scanOrder(r.pool.QueryRow(ctx, query, sessionID))
}

// SetCheckoutSession links the hosted checkout session to the order.
func (r *OrderRepositoryPG) SetCheckoutSession(ctx context.Context, id, sessionID string) error {
	query := `
UPDATE orders
SET checkout_session_id = $2, updated_at = NOW()
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

// RecordPayment writes the payment fields, conditional on the order still
// awaiting payment so a redelivered confirmation cannot apply twice.
func (r *OrderRepositoryPG) RecordPayment(ctx context.Context, id, sessionID, payerEmail string, amountCents int64, currency string) error {
	query := `
UPDATE orders
SET status = $2,
    checkout_session_id = $3,
    payer_email = $4,
    amount_cents = $5,
    currency = $6,
    updated_at = NOW()
WHERE id = $1 AND status = $7;
`
	tag, err := r.pool.Exec(ctx, query,
		id, domain.OrderStatusPaid, sessionID, payerEmail, amountCents, currency,
		domain.OrderStatusAwaitingPayment,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// SetPreviewCandidates stores the pre-payment candidate set.
func (r *OrderRepositoryPG) SetPreviewCandidates(ctx context.Context, id string, candidates []domain.PreviewCandidate) error {
	payload, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("encode preview candidates: %w", err)
	}
	query := `
UPDATE orders
SET preview_candidates = $2, updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ChoosePreview locks the chosen candidate's url and seed.
func (r *OrderRepositoryPG) ChoosePreview(ctx context.Context, id, url string, seed int32) error {
	query := `
UPDATE orders
SET chosen_preview_url = $2, chosen_seed = $3, updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, url, seed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Transition moves the order between statuses, conditional on the current
// one. ErrConflict means another writer got there first.
func (r *OrderRepositoryPG) Transition(ctx context.Context, id string, from, to domain.OrderStatus) error {
	query := `
UPDATE orders
SET status = $3, updated_at = NOW()
WHERE id = $1 AND status = $2;
`
	tag, err := r.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// MarkFailed moves the order to its terminal failure state.
func (r *OrderRepositoryPG) MarkFailed(ctx context.Context, id, reason string) error {
	query := `
UPDATE orders
SET status = $2, failure_reason = $3, updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, domain.OrderStatusFailed, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetDocumentURL stores the assembled document location.
func (r *OrderRepositoryPG) SetDocumentURL(ctx context.Context, id, url string) error {
	query := `
UPDATE orders
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

// missOrConflict distinguishes a missing row from a failed status guard.
func (r *OrderRepositoryPG) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1);`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}
