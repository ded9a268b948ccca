package domain

import "time"

// CreditAccount holds the spendable balance for one payer email. The
// balance is never mutated outside an atomic debit/credit operation.
type CreditAccount struct {
	PayerEmail string
	Balance    int
	UpdatedAt  time.Time
}

// CreditDirection marks a transaction as a grant or a spend.
type CreditDirection string

const (
	CreditDirectionGrant CreditDirection = "grant"
	CreditDirectionSpend CreditDirection = "spend"
)

// Common transaction reasons.
const (
	CreditReasonPackPurchase     = "pack_purchase"
	CreditReasonLibraryPurchase  = "library_purchase"
	CreditReasonPageRegeneration = "page_regeneration"
	CreditReasonRefund           = "refund"
)

// CreditTransaction is an append-only ledger entry, written in the same
// atomic unit as the balance change it records.
type CreditTransaction struct {
	ID          string
	PayerEmail  string
	Amount      int
	Direction   CreditDirection
	Reason      string
	ReferenceID string
	CreatedAt   time.Time
}
