package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is a standing offer to buy an unmatched option. The bid amount is
// reserved from the bidder's quote balance while the bid stands, so an
// accepted bid can always settle.
type Bid struct {
	OptionID uint64          `json:"option_id"`
	Bidder   string          `json:"bidder"`
	Amount   decimal.Decimal `json:"amount"` // gross payment offered, quote asset
	PlacedAt time.Time       `json:"placed_at"`
}
