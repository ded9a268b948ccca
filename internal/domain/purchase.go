package domain

import "time"

// PurchaseStatus enumerates library purchase lifecycle states.
type PurchaseStatus string

const (
	PurchaseStatusPending    PurchaseStatus = "pending"
	PurchaseStatusGenerating PurchaseStatus = "generating"
	PurchaseStatusComplete   PurchaseStatus = "complete"
	PurchaseStatusFailed     PurchaseStatus = "failed"
)

// LibraryPurchase is a purchase of an arbitrary cross-order selection of
// already-completed pages, assembled into its own document.
type LibraryPurchase struct {
	ID            string
	PayerEmail    string
	Pages         []PageRef
	AmountCents   int64
	CreditsSpent  int
	Status        PurchaseStatus
	DocumentURL   string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PendingCreditStatus enumerates pending credit purchase states.
type PendingCreditStatus string

const (
	PendingCreditOpen     PendingCreditStatus = "open"
	PendingCreditComplete PendingCreditStatus = "complete"
)

// PendingCreditPurchase is written before a checkout session is created so
// the webhook handler never trusts client-supplied amounts: the credits to
// grant are read back from this row by session id.
type PendingCreditPurchase struct {
	ID                string
	PayerEmail        string
	Credits           int
	CheckoutSessionID string
	Status            PendingCreditStatus
	CreatedAt         time.Time
}
