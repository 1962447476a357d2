package settlement

import (
	"fmt"
	"time"

	"optionclear/internal/domain"
	"optionclear/internal/ledger"
	"optionclear/internal/oracle"

	"github.com/shopspring/decimal"
)

// Engine computes exercise payoffs and is the only component that pairs
// an option transition with collateral movement. It reads the price
// gate itself because staleness is its check, not the gate's.
type Engine struct {
	ledger *ledger.Ledger
	gate   *oracle.PriceGate
	dist   *Distributor
	params *domain.ClearingParams
}

// NewEngine creates a settlement engine.
func NewEngine(l *ledger.Ledger, gate *oracle.PriceGate, dist *Distributor, params *domain.ClearingParams) *Engine {
	return &Engine{ledger: l, gate: gate, dist: dist, params: params}
}

// ComputePayoff returns the exercise value in quote-asset terms:
// CALL max(0, price - strike) x amount, PUT max(0, strike - price) x amount.
func ComputePayoff(o *domain.Option, price decimal.Decimal) decimal.Decimal {
	var edge decimal.Decimal
	switch o.Kind {
	case domain.KindCall:
		edge = price.Sub(o.Strike)
	case domain.KindPut:
		edge = o.Strike.Sub(price)
	default:
		return decimal.Zero
	}
	if !edge.IsPositive() {
		return decimal.Zero
	}
	return edge.Mul(o.Amount)
}

// SettleMatch routes the buyer's payment: writer gets premium minus the
// platform fee, the treasury gets the fee net of any referral credit,
// and the overpayment (payment - premium) never leaves the buyer.
// The buyer must actually hold the remitted payment; only the premium
// is ultimately debited.
func (e *Engine) SettleMatch(o *domain.Option, buyer string, payment decimal.Decimal) (decimal.Decimal, error) {
	quote := e.params.QuoteAsset
	if e.ledger.Account(buyer, quote).Available.LessThan(payment) {
		return decimal.Zero, fmt.Errorf("%w: buyer %s cannot cover remitted %s",
			domain.ErrInsufficientPayment, buyer, payment)
	}

	writerPay, fee := Split(o.Premium, e.params.FeeRateBps)

	referral := decimal.Zero
	referrer, hasReferrer := e.dist.ReferrerOf(buyer)
	if hasReferrer {
		referral = ReferralCut(fee, e.params.ReferralRateBps)
	}
	treasuryTake := fee.Sub(referral)

	if err := e.ledger.Transfer(buyer, o.Writer, quote, writerPay); err != nil {
		return decimal.Zero, err
	}
	if err := e.ledger.Transfer(buyer, e.params.Treasury, quote, treasuryTake); err != nil {
		return decimal.Zero, err
	}
	if referral.IsPositive() {
		if err := e.ledger.Transfer(buyer, ReferralPoolAccount, quote, referral); err != nil {
			return decimal.Zero, err
		}
		e.dist.Accrue(referrer, quote, referral)
	}

	return payment.Sub(o.Premium), nil
}

// SettleExercise reads a validated price and settles the option from
// the writer's locked collateral: the in-the-money value is seized to
// the holder and the remainder released back to the writer. An
// out-of-the-money exercise releases everything.
//
// A CALL's collateral is the underlying itself, so its payoff value is
// converted to underlying units at the settlement price before seizing;
// the value cap against locked collateral then holds exactly. A PUT's
// cash collateral is seized at face value.
func (e *Engine) SettleExercise(o *domain.Option, now time.Time) (decimal.Decimal, error) {
	quote, err := e.gate.ValidatedRead(o.Underlying, now, e.params.PriceValidity)
	if err != nil {
		return decimal.Zero, err
	}

	payoff := ComputePayoff(o, quote.Price)
	if payoff.IsZero() {
		if err := e.ledger.Release(o.Writer, o.CollateralAsset, o.CollateralLocked); err != nil {
			return decimal.Zero, err
		}
		return decimal.Zero, nil
	}

	seize := payoff
	if o.Kind == domain.KindCall {
		seize = payoff.Div(quote.Price)
	}
	if seize.GreaterThan(o.CollateralLocked) {
		// Fail closed: a pricing anomaly must not under-pay the holder
		// or dip into other writers' funds.
		return decimal.Zero, fmt.Errorf("%w: payoff %s exceeds locked %s %s",
			domain.ErrInsufficientContractBalance, seize, o.CollateralLocked, o.CollateralAsset)
	}

	if err := e.ledger.Seize(o.Writer, o.CollateralAsset, seize, o.Holder); err != nil {
		return decimal.Zero, err
	}
	remainder := o.CollateralLocked.Sub(seize)
	if remainder.IsPositive() {
		if err := e.ledger.Release(o.Writer, o.CollateralAsset, remainder); err != nil {
			return decimal.Zero, err
		}
	}
	return payoff, nil
}

// ClaimReferral pays out a referrer's accrued credit from the referral
// pool into their available balance and returns the amount claimed.
func (e *Engine) ClaimReferral(referrer, asset string) (decimal.Decimal, error) {
	amount := e.dist.Claimable(referrer, asset)
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no claimable credit for %s/%s",
			domain.ErrInsufficientBalance, referrer, asset)
	}
	if err := e.ledger.Transfer(ReferralPoolAccount, referrer, asset, amount); err != nil {
		return decimal.Zero, err
	}
	e.dist.Claim(referrer, asset)
	return amount, nil
}
