package domain

import "time"

// PageStatus enumerates page lifecycle states.
type PageStatus string

const (
	PageStatusPending    PageStatus = "pending"
	PageStatusGenerating PageStatus = "generating"
	PageStatusComplete   PageStatus = "complete"
	PageStatusFailed     PageStatus = "failed"
)

// Page is one illustration within an order. Rows are inserted once as a
// batch; only the image and status fields mutate afterward.
type Page struct {
	OrderID     string
	PageNo      int
	Seed        int32
	SceneText   string
	Prompt      string
	ImageURL    string
	Status      PageStatus
	Regenerated bool
	UpdatedAt   time.Time
}

// PageRef identifies a page across orders, used by library purchases.
type PageRef struct {
	OrderID string `json:"order_id"`
	PageNo  int    `json:"page_no"`
}
