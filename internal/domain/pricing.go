package domain

// Pricing applies the flat-base-plus-increment rule used by all purchase
// flows: the base price covers up to BaseItems items, and every item above
// that adds IncrementCents.
type Pricing struct {
	BaseCents      int64
	BaseItems      int
	IncrementCents int64
}

// Total returns the price in cents for the given item count.
func (p Pricing) Total(items int) int64 {
	if items <= p.BaseItems {
		return p.BaseCents
	}
	return p.BaseCents + int64(items-p.BaseItems)*p.IncrementCents
}
