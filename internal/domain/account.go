package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CollateralAccount tracks funds for one (owner, asset) pair.
// Available + Locked changes only via Deposit/Withdraw (external moves)
// or Lock/Release (internal moves paired with an option transition).
type CollateralAccount struct {
	Owner     string          `json:"owner"`
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Total returns Available + Locked.
func (a *CollateralAccount) Total() decimal.Decimal {
	return a.Available.Add(a.Locked)
}

// Deposit adds external funds to the available balance.
func (a *CollateralAccount) Deposit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: deposit amount %s", ErrInvalidTerms, amount)
	}
	a.Available = a.Available.Add(amount)
	return nil
}

// Withdraw removes funds from the available balance.
func (a *CollateralAccount) Withdraw(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: withdraw amount %s", ErrInvalidTerms, amount)
	}
	if amount.GreaterThan(a.Available) {
		return fmt.Errorf("%w: %s/%s need %s, available %s",
			ErrInsufficientBalance, a.Owner, a.Asset, amount, a.Available)
	}
	a.Available = a.Available.Sub(amount)
	return nil
}

// Lock moves funds from available to locked.
func (a *CollateralAccount) Lock(amount decimal.Decimal) error {
	if amount.GreaterThan(a.Available) {
		return fmt.Errorf("%w: %s/%s need %s, available %s",
			ErrInsufficientCollateral, a.Owner, a.Asset, amount, a.Available)
	}
	a.Available = a.Available.Sub(amount)
	a.Locked = a.Locked.Add(amount)
	return nil
}

// Unlock moves funds from locked back to available.
func (a *CollateralAccount) Unlock(amount decimal.Decimal) error {
	if amount.GreaterThan(a.Locked) {
		return fmt.Errorf("%w: %s/%s release %s, locked %s",
			ErrInsufficientContractBalance, a.Owner, a.Asset, amount, a.Locked)
	}
	a.Locked = a.Locked.Sub(amount)
	a.Available = a.Available.Add(amount)
	return nil
}

// DebitLocked removes funds from the locked balance without crediting
// this account. The ledger pairs every DebitLocked with a credit to the
// beneficiary so value is conserved.
func (a *CollateralAccount) DebitLocked(amount decimal.Decimal) error {
	if amount.GreaterThan(a.Locked) {
		return fmt.Errorf("%w: %s/%s seize %s, locked %s",
			ErrInsufficientContractBalance, a.Owner, a.Asset, amount, a.Locked)
	}
	a.Locked = a.Locked.Sub(amount)
	return nil
}

// VerifyInvariant checks that the account satisfies its invariants.
// Call this after any state change to ensure data integrity.
func (a *CollateralAccount) VerifyInvariant() {
	if a.Available.IsNegative() {
		panic(fmt.Sprintf("ACCOUNT_INVARIANT_NEGATIVE_AVAILABLE: %s/%s = %s",
			a.Owner, a.Asset, a.Available))
	}
	if a.Locked.IsNegative() {
		panic(fmt.Sprintf("ACCOUNT_INVARIANT_NEGATIVE_LOCKED: %s/%s = %s",
			a.Owner, a.Asset, a.Locked))
	}
}
