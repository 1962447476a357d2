package domain

import (
	"github.com/shopspring/decimal"
)

// FundsGateway performs the single external transfer of a withdrawal.
// The transfer must succeed or the whole withdraw call reverts; it is
// always invoked after all state mutation (effects before interactions).
type FundsGateway interface {
	TransferOut(owner, asset string, amount decimal.Decimal) (receipt string, err error)
}

// StateStore persists entities after each committed mutation so a
// restart resumes from the last durable state.
type StateStore interface {
	SaveOption(o *Option) error
	SaveAccount(a *CollateralAccount) error
	SaveQuote(q *PriceQuote) error
}
