package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyforge/internal/domain"
)

// CreditLedgerPG implements domain.CreditLedger. Every balance change and
// its transaction row commit in one pgx transaction, with the account row
// locked FOR UPDATE so concurrent spends against the same payer serialize
// instead of racing past the balance check.
type CreditLedgerPG struct {
	pool *pgxpool.Pool
}

// NewCreditLedger creates a new credit ledger backed by PostgreSQL.
func NewCreditLedger(pool *pgxpool.Pool) *CreditLedgerPG {
	return &CreditLedgerPG{pool: pool}
}

// Credit increases the payer's balance, creating the account on first use.
func (r *CreditLedgerPG) Credit(ctx context.Context, payerEmail string, amount int, reason, referenceID string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount %d: %w", amount, domain.ErrInvalidInput)
	}
	return r.apply(ctx, payerEmail, amount, domain.CreditDirectionGrant, reason, referenceID)
}

// Debit decreases the payer's balance; ErrInsufficientCredits rolls the
// transaction back with no observable state change.
func (r *CreditLedgerPG) Debit(ctx context.Context, payerEmail string, amount int, reason, referenceID string) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount %d: %w", amount, domain.ErrInvalidInput)
	}
	return r.apply(ctx, payerEmail, -amount, domain.CreditDirectionSpend, reason, referenceID)
}

func (r *CreditLedgerPG) apply(ctx context.Context, payerEmail string, delta int, direction domain.CreditDirection, reason, referenceID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO credit_accounts (payer_email, balance)
VALUES ($1, 0)
ON CONFLICT (payer_email) DO NOTHING;
`, payerEmail); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}

	var balance int
	if err := tx.QueryRow(ctx, `
SELECT balance FROM credit_accounts WHERE payer_email = $1 FOR UPDATE;
`, payerEmail).Scan(&balance); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	if balance+delta < 0 {
		return domain.ErrInsufficientCredits
	}

	if _, err := tx.Exec(ctx, `
UPDATE credit_accounts SET balance = balance + $2, updated_at = NOW() WHERE payer_email = $1;
`, payerEmail, delta); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	amount := delta
	if amount < 0 {
		amount = -amount
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO credit_transactions (id, payer_email, amount, direction, reason, reference_id)
VALUES ($1, $2, $3, $4, $5, $6);
`, uuid.NewString(), payerEmail, amount, direction, reason, referenceID); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}

	return tx.Commit(ctx)
}

// Balance returns the payer's spendable balance; unknown payers have zero.
func (r *CreditLedgerPG) Balance(ctx context.Context, payerEmail string) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `
SELECT balance FROM credit_accounts WHERE payer_email = $1;
`, payerEmail).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// Transactions lists the payer's most recent ledger entries.
func (r *CreditLedgerPG) Transactions(ctx context.Context, payerEmail string, limit int) ([]domain.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, payer_email, amount, direction, reason, reference_id, created_at
FROM credit_transactions
WHERE payer_email = $1
ORDER BY created_at DESC
LIMIT $2;
`, payerEmail, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.CreditTransaction
	for rows.Next() {
		var t domain.CreditTransaction
		if err := rows.Scan(&t.ID, &t.PayerEmail, &t.Amount, &t.Direction, &t.Reason, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
