package domain

import (
	"context"
	"time"
)

// OrderRepository defines persistence for orders.
type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByCheckoutSession(ctx context.Context, sessionID string) (*Order, error)
	// SetCheckoutSession links the hosted checkout session to the order.
	SetCheckoutSession(ctx context.Context, id, sessionID string) error
	// RecordPayment writes the payment fields exactly once: the update is
	// conditional on status = awaiting_payment and returns ErrConflict
	// otherwise.
	RecordPayment(ctx context.Context, id, sessionID, payerEmail string, amountCents int64, currency string) error
	SetPreviewCandidates(ctx context.Context, id string, candidates []PreviewCandidate) error
	// ChoosePreview locks the character's visual identity for all pages.
	ChoosePreview(ctx context.Context, id, url string, seed int32) error
	// Transition moves the order from one status to another; it returns
	// ErrConflict when the order is no longer in the expected state.
	Transition(ctx context.Context, id string, from, to OrderStatus) error
	MarkFailed(ctx context.Context, id, reason string) error
	SetDocumentURL(ctx context.Context, id, url string) error
}

// ManifestRepository defines persistence for character manifests.
type ManifestRepository interface {
	// InsertIfAbsent is an idempotent insert keyed on order id.
	InsertIfAbsent(ctx context.Context, m *Manifest) error
	GetByOrderID(ctx context.Context, orderID string) (*Manifest, error)
}

// PageRepository defines persistence for pages.
type PageRepository interface {
	// InsertBatchIfAbsent inserts all page rows in one statement; it is a
	// no-op when the order's pages already exist.
	InsertBatchIfAbsent(ctx context.Context, pages []Page) error
	ListByOrder(ctx context.Context, orderID string) ([]Page, error)
	Get(ctx context.Context, orderID string, pageNo int) (*Page, error)
	GetByRefs(ctx context.Context, refs []PageRef) ([]Page, error)
	MarkComplete(ctx context.Context, orderID string, pageNo int, imageURL string) error
	MarkFailed(ctx context.Context, orderID string, pageNo int) error
	// ResetForRegeneration moves a complete page back to pending exactly
	// once, clearing its prior image reference.
	ResetForRegeneration(ctx context.Context, orderID string, pageNo int) error
}

// PurchaseRepository defines persistence for library purchases.
type PurchaseRepository interface {
	Create(ctx context.Context, p *LibraryPurchase) error
	GetByID(ctx context.Context, id string) (*LibraryPurchase, error)
	Transition(ctx context.Context, id string, from, to PurchaseStatus) error
	MarkFailed(ctx context.Context, id, reason string) error
	SetDocumentURL(ctx context.Context, id, url string) error
}

// CreditLedger maintains per-payer balances with an append-only
// transaction log. Both operations are all-or-nothing under concurrent
// access, serialized per payer identity.
type CreditLedger interface {
	// Credit always succeeds: it increases the balance and appends a
	// transaction row atomically.
	Credit(ctx context.Context, payerEmail string, amount int, reason, referenceID string) error
	// Debit checks balance >= amount under a per-identity lock; on
	// insufficient balance it returns ErrInsufficientCredits and leaves no
	// observable state change.
	Debit(ctx context.Context, payerEmail string, amount int, reason, referenceID string) error
	Balance(ctx context.Context, payerEmail string) (int, error)
	Transactions(ctx context.Context, payerEmail string, limit int) ([]CreditTransaction, error)
}

// PendingCreditRepository defines persistence for provisional credit
// purchases.
type PendingCreditRepository interface {
	Create(ctx context.Context, p *PendingCreditPurchase) error
	LinkSession(ctx context.Context, id, sessionID string) error
	GetBySession(ctx context.Context, sessionID string) (*PendingCreditPurchase, error)
	// MarkComplete is conditional on status = open so a replayed grant is
	// observable as ErrConflict.
	MarkComplete(ctx context.Context, id string) error
}

// WebhookEventRepository is the dedup gate for externally-issued event ids.
type WebhookEventRepository interface {
	// InsertIfAbsent reports true when the event id was recorded for the
	// first time; false means a duplicate delivery.
	InsertIfAbsent(ctx context.Context, eventID string) (bool, error)
	// Delete releases a recorded event id so a redelivery can retry after
	// a downstream failure; deleting an absent id is a no-op.
	Delete(ctx context.Context, eventID string) error
}

// TaskRepository defines the work queue consumed by the pipeline worker.
type TaskRepository interface {
	Enqueue(ctx context.Context, task *Task) error
	// Claim atomically picks the oldest due queued task and marks it
	// running; ErrNotFound when nothing is due.
	Claim(ctx context.Context) (*Task, error)
	MarkSucceeded(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	// Sleep parks a running task until the deadline passes; the claim
	// query requeues it afterwards.
	Sleep(ctx context.Context, id string, until time.Time) error
	GetByID(ctx context.Context, id string) (*Task, error)
}
