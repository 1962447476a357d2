package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	KindCall = "CALL"
	KindPut  = "PUT"

	StyleAmerican = "AMERICAN"
	StyleEuropean = "EUROPEAN"

	StateActive    = "ACTIVE"
	StateExercised = "EXERCISED"
	StateExpired   = "EXPIRED"
	StateCancelled = "CANCELLED"
)

// OptionTerms are the caller-supplied parameters for creating an option.
type OptionTerms struct {
	Underlying     string          `json:"underlying"`
	Strike         decimal.Decimal `json:"strike"`
	Premium        decimal.Decimal `json:"premium"`
	Amount         decimal.Decimal `json:"amount"`
	Kind           string          `json:"kind"`  // CALL, PUT
	Style          string          `json:"style"` // AMERICAN, EUROPEAN
	Expiry         time.Time       `json:"expiry"`
	ExerciseWindow time.Duration   `json:"exercise_window"` // 0 means the platform default
}

// Option is a collateral-backed contract between a writer and a holder.
// All monetary values are decimal; premiums and PUT collateral are
// denominated in the quote asset, CALL collateral in the underlying.
type Option struct {
	ID     uint64 `json:"id"`
	Writer string `json:"writer"`
	Holder string `json:"holder"` // empty until matched

	Underlying string          `json:"underlying"`
	Strike     decimal.Decimal `json:"strike"`
	Premium    decimal.Decimal `json:"premium"`
	Amount     decimal.Decimal `json:"amount"`
	Kind       string          `json:"kind"`
	Style      string          `json:"style"`

	CreatedAt      time.Time     `json:"created_at"`
	Expiry         time.Time     `json:"expiry"`
	ExerciseWindow time.Duration `json:"exercise_window"`

	State string `json:"state"`

	// CollateralAsset/CollateralLocked mirror the ledger entry backing
	// this option. They are derived from the terms at creation and only
	// zeroed on the terminal transition.
	CollateralAsset  string          `json:"collateral_asset"`
	CollateralLocked decimal.Decimal `json:"collateral_locked"`
}

// RequiredCollateral returns the asset and amount the writer must post.
// A CALL is covered: the writer posts the underlying amount itself.
// A PUT is cash-secured: the writer posts strike x amount in the quote
// asset. The asymmetry is a design invariant, not a parameter.
func (t *OptionTerms) RequiredCollateral(quoteAsset string) (string, decimal.Decimal) {
	if t.Kind == KindCall {
		return t.Underlying, t.Amount
	}
	return quoteAsset, t.Strike.Mul(t.Amount)
}

// Validate checks the structural terms. Allow-list and premium-minimum
// checks belong to the registry, which owns that configuration.
func (t *OptionTerms) Validate() error {
	if !t.Strike.IsPositive() {
		return fmt.Errorf("%w: strike %s", ErrInvalidTerms, t.Strike)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: amount %s", ErrInvalidTerms, t.Amount)
	}
	if t.Kind != KindCall && t.Kind != KindPut {
		return fmt.Errorf("%w: kind %q", ErrInvalidTerms, t.Kind)
	}
	if t.Style != StyleAmerican && t.Style != StyleEuropean {
		return fmt.Errorf("%w: style %q", ErrInvalidTerms, t.Style)
	}
	if t.Underlying == "" {
		return fmt.Errorf("%w: empty underlying", ErrInvalidTerms)
	}
	if t.ExerciseWindow < 0 {
		return fmt.Errorf("%w: negative exercise window", ErrInvalidTerms)
	}
	return nil
}

// IsMatched reports whether a holder has bought the option.
func (o *Option) IsMatched() bool {
	return o.Holder != ""
}

// IsTerminal reports whether the option has reached a final state.
func (o *Option) IsTerminal() bool {
	return o.State != StateActive
}

// InExerciseWindow reports whether exercise is permitted at now.
// AMERICAN options can be exercised any time up to expiry plus the
// window; EUROPEAN only inside [expiry-window, expiry+window].
func (o *Option) InExerciseWindow(now time.Time) bool {
	deadline := o.Expiry.Add(o.ExerciseWindow)
	if now.After(deadline) {
		return false
	}
	if o.Style == StyleEuropean {
		return !now.Before(o.Expiry.Add(-o.ExerciseWindow))
	}
	return true
}

// ExpiredBeyondWindow reports whether the option is past its last
// permissible exercise instant and may be batch-expired.
func (o *Option) ExpiredBeyondWindow(now time.Time) bool {
	return now.After(o.Expiry.Add(o.ExerciseWindow))
}

// InTheMoney checks whether exercising at price would pay out.
// A CALL pays when price is above strike, a PUT when below.
func (o *Option) InTheMoney(price decimal.Decimal) bool {
	switch o.Kind {
	case KindCall:
		return price.GreaterThan(o.Strike)
	case KindPut:
		return price.LessThan(o.Strike)
	default:
		return false
	}
}
