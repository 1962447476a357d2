package settlement

import (
	"fmt"

	"optionclear/internal/domain"

	"github.com/shopspring/decimal"
)

// ReferralPoolAccount is the ledger account that escrows accrued
// referral credits until they are claimed.
const ReferralPoolAccount = "referral-pool"

const bpsDenominator = 10000

// Distributor splits a trade's premium between the writer, the platform
// treasury and an optional referral credit. Referral credits accrue to
// a claimable balance; nothing is push-paid to unregistered addresses.
type Distributor struct {
	referrers map[string]string // account -> referrer
	credits   map[creditKey]decimal.Decimal
}

type creditKey struct {
	referrer string
	asset    string
}

// NewDistributor creates an empty distributor.
func NewDistributor() *Distributor {
	return &Distributor{
		referrers: make(map[string]string),
		credits:   make(map[creditKey]decimal.Decimal),
	}
}

// Split returns (writerPayment, platformFee) for a gross premium P:
// fee = P x feeRateBps / 10000, writer gets the rest.
func Split(premium decimal.Decimal, feeRateBps int64) (decimal.Decimal, decimal.Decimal) {
	fee := premium.Mul(decimal.NewFromInt(feeRateBps)).Div(decimal.NewFromInt(bpsDenominator))
	return premium.Sub(fee), fee
}

// ReferralCut returns the referrer's share of a platform fee.
func ReferralCut(fee decimal.Decimal, referralRateBps int64) decimal.Decimal {
	return fee.Mul(decimal.NewFromInt(referralRateBps)).Div(decimal.NewFromInt(bpsDenominator))
}

// RegisterReferrer binds an account to its referrer, once. Self-referral
// and rebinding are rejected.
func (d *Distributor) RegisterReferrer(account, referrer string) error {
	if account == "" || referrer == "" || account == referrer {
		return fmt.Errorf("%w: referral %q -> %q", domain.ErrInvalidTerms, account, referrer)
	}
	if _, ok := d.referrers[account]; ok {
		return fmt.Errorf("%w: %q already has a referrer", domain.ErrInvalidTerms, account)
	}
	d.referrers[account] = referrer
	return nil
}

// ReferrerOf returns the registered referrer for an account, if any.
func (d *Distributor) ReferrerOf(account string) (string, bool) {
	r, ok := d.referrers[account]
	return r, ok
}

// Accrue records a claimable credit for a referrer. The matching funds
// sit in ReferralPoolAccount on the ledger.
func (d *Distributor) Accrue(referrer, asset string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	key := creditKey{referrer: referrer, asset: asset}
	d.credits[key] = d.credits[key].Add(amount)
}

// Claimable returns the unclaimed credit for (referrer, asset).
func (d *Distributor) Claimable(referrer, asset string) decimal.Decimal {
	return d.credits[creditKey{referrer: referrer, asset: asset}]
}

// Claim zeroes and returns the credit for (referrer, asset). The caller
// moves the matching funds out of the pool in the same serialized call.
func (d *Distributor) Claim(referrer, asset string) decimal.Decimal {
	key := creditKey{referrer: referrer, asset: asset}
	amount := d.credits[key]
	delete(d.credits, key)
	return amount
}
