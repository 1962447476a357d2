package ledger

import (
	"fmt"

	"optionclear/internal/domain"

	"github.com/shopspring/decimal"
)

type accountKey struct {
	owner string
	asset string
}

// Ledger exclusively owns collateral balance mutation. Deposit and
// Withdraw are the external moves; Lock, Release and Seize are
// internal-only, always paired with an option transition by the caller.
//
// The ledger carries no mutex: the clearinghouse serializes every
// state-changing call, matching the host execution model.
type Ledger struct {
	accounts map[accountKey]*domain.CollateralAccount
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[accountKey]*domain.CollateralAccount),
	}
}

// Account returns the account for (owner, asset), creating if absent.
func (l *Ledger) Account(owner, asset string) *domain.CollateralAccount {
	key := accountKey{owner: owner, asset: asset}
	a, ok := l.accounts[key]
	if !ok {
		a = &domain.CollateralAccount{Owner: owner, Asset: asset}
		l.accounts[key] = a
	}
	return a
}

// Deposit increases the owner's available balance.
func (l *Ledger) Deposit(owner, asset string, amount decimal.Decimal) error {
	a := l.Account(owner, asset)
	if err := a.Deposit(amount); err != nil {
		return err
	}
	a.VerifyInvariant()
	return nil
}

// Withdraw decreases the owner's available balance. The external
// transfer itself is the clearinghouse's last step; on transfer failure
// the caller restores the balance via Deposit.
func (l *Ledger) Withdraw(owner, asset string, amount decimal.Decimal) error {
	a := l.Account(owner, asset)
	if err := a.Withdraw(amount); err != nil {
		return err
	}
	a.VerifyInvariant()
	return nil
}

// Lock reserves amount from the owner's available balance as collateral.
func (l *Ledger) Lock(owner, asset string, amount decimal.Decimal) error {
	a := l.Account(owner, asset)
	if err := a.Lock(amount); err != nil {
		return err
	}
	a.VerifyInvariant()
	return nil
}

// Release moves amount from the owner's locked balance back to available.
func (l *Ledger) Release(owner, asset string, amount decimal.Decimal) error {
	a := l.Account(owner, asset)
	if err := a.Unlock(amount); err != nil {
		return err
	}
	a.VerifyInvariant()
	return nil
}

// Seize moves amount out of the owner's locked balance directly into
// the beneficiary's available balance. Used when a payout is funded
// from the writer's posted collateral.
func (l *Ledger) Seize(owner, asset string, amount decimal.Decimal, beneficiary string) error {
	from := l.Account(owner, asset)
	if err := from.DebitLocked(amount); err != nil {
		return err
	}
	to := l.Account(beneficiary, asset)
	to.Available = to.Available.Add(amount)

	from.VerifyInvariant()
	to.VerifyInvariant()
	return nil
}

// Transfer moves amount between two available balances (premium and fee
// routing on match).
func (l *Ledger) Transfer(from, to, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	src := l.Account(from, asset)
	if err := src.Withdraw(amount); err != nil {
		return err
	}
	dst := l.Account(to, asset)
	dst.Available = dst.Available.Add(amount)

	src.VerifyInvariant()
	dst.VerifyInvariant()
	return nil
}

// Credit adds amount to an available balance without a matching debit.
// Internal-only: used to restore a balance when an external transfer
// fails after the debit, and to pay out claimed referral credits.
func (l *Ledger) Credit(owner, asset string, amount decimal.Decimal) {
	a := l.Account(owner, asset)
	a.Available = a.Available.Add(amount)
	a.VerifyInvariant()
}

// TotalsByAsset sums available and locked across all accounts per
// asset. Internal moves never change these sums; only deposits and
// withdrawals do.
func (l *Ledger) TotalsByAsset() map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for key, a := range l.accounts {
		totals[key.asset] = totals[key.asset].Add(a.Total())
	}
	return totals
}

// Snapshot returns a copy of all accounts (for state dump and tests).
func (l *Ledger) Snapshot() []domain.CollateralAccount {
	result := make([]domain.CollateralAccount, 0, len(l.accounts))
	for _, a := range l.accounts {
		result = append(result, *a)
	}
	return result
}

// Restore loads a persisted account. Boot-time only.
func (l *Ledger) Restore(a domain.CollateralAccount) error {
	if a.Available.IsNegative() || a.Locked.IsNegative() {
		return fmt.Errorf("%w: corrupt account %s/%s", domain.ErrInvalidTerms, a.Owner, a.Asset)
	}
	copied := a
	l.accounts[accountKey{owner: a.Owner, asset: a.Asset}] = &copied
	return nil
}

// VerifyAll checks invariants on all accounts.
func (l *Ledger) VerifyAll() {
	for _, a := range l.accounts {
		a.VerifyInvariant()
	}
}
