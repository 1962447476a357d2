package infra

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerGateway performs outbound transfers against the host ledger.
// The reference implementation issues a receipt and logs; a production
// deployment substitutes the host's transfer call behind the same
// interface.
type LedgerGateway struct{}

// NewLedgerGateway creates a gateway.
func NewLedgerGateway() *LedgerGateway {
	return &LedgerGateway{}
}

// TransferOut executes the external leg of a withdrawal and returns a
// receipt id for reconciliation.
func (g *LedgerGateway) TransferOut(owner, asset string, amount decimal.Decimal) (string, error) {
	receipt := uuid.NewString()
	slog.Info("External transfer out",
		slog.String("owner", owner),
		slog.String("asset", asset),
		slog.String("amount", amount.String()),
		slog.String("receipt", receipt))
	return receipt, nil
}
