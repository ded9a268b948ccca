package domain

import "time"

// Manifest is the structured character description extracted once from the
// customer's freeform input. It is immutable after creation; every later
// stage reads it instead of re-parsing raw input.
type Manifest struct {
	OrderID      string
	Name         string
	Species      string
	PhysicalDesc string
	// KeyFeatures must recur on every page (e.g. "red scarf", "one bent ear").
	KeyFeatures  []string
	Props        []string
	StyleTags    []string
	NegativeTags []string
	Theme        string
	CreatedAt    time.Time
}
