package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// NativeAsset is the sentinel identifier for the host ledger's own
// currency in deposit/withdraw calls.
const NativeAsset = "NATIVE"

// MaxFeeRateBps bounds the platform fee at 10%.
const MaxFeeRateBps = 1000

// AssetListing is the admin-curated entry for a tradable underlying.
type AssetListing struct {
	Symbol     string          `json:"symbol"`
	MinPremium decimal.Decimal `json:"min_premium"`
}

// ClearingParams is the admin-owned platform configuration consulted on
// every operation. It is owned by the clearinghouse and passed down
// explicitly; components never reach for a global.
type ClearingParams struct {
	QuoteAsset string // asset premiums and PUT collateral are denominated in
	Treasury   string // account credited with platform fees

	FeeRateBps      int64 // platform fee on premium, basis points
	ReferralRateBps int64 // referrer share of the platform fee, basis points

	PriceValidity         time.Duration // quotes older than this are unusable
	MinDuration           time.Duration // shortest allowed create-to-expiry
	MaxDuration           time.Duration // longest allowed create-to-expiry
	DefaultExerciseWindow time.Duration // used when terms leave the window unset

	Assets map[string]AssetListing // underlying allow-list
}

// ListedAsset returns the listing for an underlying, if allow-listed.
func (p *ClearingParams) ListedAsset(symbol string) (AssetListing, bool) {
	l, ok := p.Assets[symbol]
	return l, ok
}

// Validate checks parameter sanity at boot and after admin updates.
func (p *ClearingParams) Validate() error {
	if p.QuoteAsset == "" {
		return fmt.Errorf("%w: empty quote asset", ErrInvalidTerms)
	}
	if p.Treasury == "" {
		return fmt.Errorf("%w: empty treasury account", ErrInvalidTerms)
	}
	if p.FeeRateBps < 0 || p.FeeRateBps > MaxFeeRateBps {
		return fmt.Errorf("%w: fee rate %d bps out of [0, %d]", ErrInvalidTerms, p.FeeRateBps, MaxFeeRateBps)
	}
	if p.ReferralRateBps < 0 || p.ReferralRateBps > 10000 {
		return fmt.Errorf("%w: referral rate %d bps", ErrInvalidTerms, p.ReferralRateBps)
	}
	if p.PriceValidity <= 0 {
		return fmt.Errorf("%w: price validity %s", ErrInvalidTerms, p.PriceValidity)
	}
	if p.MinDuration <= 0 || p.MaxDuration < p.MinDuration {
		return fmt.Errorf("%w: duration bounds [%s, %s]", ErrInvalidTerms, p.MinDuration, p.MaxDuration)
	}
	if p.DefaultExerciseWindow < 0 {
		return fmt.Errorf("%w: exercise window %s", ErrInvalidTerms, p.DefaultExerciseWindow)
	}
	return nil
}
