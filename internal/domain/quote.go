package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is the latest trusted observation for one asset.
// It is overwritten by authorized publishers and consumed, never
// mutated, by settlement.
type PriceQuote struct {
	Asset      string          `json:"asset"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
	Publisher  string          `json:"publisher"`
}

// FreshAt reports whether the quote is usable at now given the
// configured validity duration. A stale quote must never settle.
func (q *PriceQuote) FreshAt(now time.Time, validity time.Duration) bool {
	if q.ObservedAt.IsZero() {
		return false
	}
	return now.Sub(q.ObservedAt) <= validity
}
