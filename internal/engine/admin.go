package engine

import (
	"fmt"
	"log/slog"
	"time"

	"optionclear/internal/domain"

	"github.com/shopspring/decimal"
)

// All administrative knobs are gated to the single owner role. Each
// setter runs under the same serialized-call lock as everything else,
// so a parameter change never interleaves with a half-applied trade.

func (c *Clearinghouse) requireOwner(op, caller string) error {
	if caller != c.owner {
		return domain.Reject(op, fmt.Errorf("%w: caller %q is not the owner", domain.ErrNotAuthorized, caller))
	}
	return nil
}

// ListAsset adds or updates an underlying on the allow-list.
func (c *Clearinghouse) ListAsset(caller, symbol string, minPremium decimal.Decimal) error {
	done, err := c.begin("list-asset")
	if err != nil {
		return err
	}
	defer done()
	if err := c.requireOwner("list-asset", caller); err != nil {
		return err
	}
	if symbol == "" || minPremium.IsNegative() {
		return domain.Reject("list-asset", fmt.Errorf("%w: symbol %q min premium %s", domain.ErrInvalidTerms, symbol, minPremium))
	}

	c.params.Assets[symbol] = domain.AssetListing{Symbol: symbol, MinPremium: minPremium}
	slog.Info("Asset listed", slog.String("symbol", symbol), slog.String("min_premium", minPremium.String()))
	return nil
}

// DelistAsset removes an underlying from the allow-list. Existing
// options on it run to their normal end; only new creation stops.
func (c *Clearinghouse) DelistAsset(caller, symbol string) error {
	done, err := c.begin("delist-asset")
	if err != nil {
		return err
	}
	defer done()
	if err := c.requireOwner("delist-asset", caller); err != nil {
		return err
	}

	delete(c.params.Assets, symbol)
	slog.Info("Asset delisted", slog.String("symbol", symbol))
	return nil
}

// AllowPublisher adds an account to the price publisher allow-list.
func (c *Clearinghouse) AllowPublisher(caller, account string) error {
	done, err := c.begin("allow-publisher")
	if err != nil {
		return err
	}
	defer done()
	if err := c.requireOwner("allow-publisher", caller); err != nil {
		return err
	}

	c.gate.AllowPublisher(account)
	slog.Info("Publisher allowed", slog.String("account", account))
	return nil
}

// RevokePublisher removes an account from the publisher allow-list.
func (c *Clearinghouse) RevokePublisher(caller, account string) error {
	done, err := c.begin("revoke-publisher")
	if err != nil {
		return err
	}
	defer done()
	if err := c.requireOwner("revoke-publisher", caller); err != nil {
		return err
	}

	c.gate.RevokePublisher(account)
	slog.Info("Publisher revoked", slog.String("account", account))
	return nil
}

// SetFeeRate updates the platform fee, bounded at 10%.
func (c *Clearinghouse) SetFeeRate(caller string, bps int64) error {
	done, err := c.begin("set-fee-rate")
	if err != nil {
		return err
	}
	defer done()
	if err := c.requireOwner("set-fee-rate", caller); err != nil {
		return err
	}
	if bps < 0 || bps > domain.MaxFeeRateBps {
		return domain.Reject("set-fee-rate", fmt.Errorf("%w: %d bps out of [0, %d]", domain.ErrInvalidTerms, bps, domain.MaxFeeRateBps))
	}

	c.params.FeeRateBps = bps
	slog.Info("Fee rate updated", slog.Int64("bps", bps))
	return nil
}

// SetReferralRate updates the referrer's share of the platform fee.
func (c *Clearinghouse) SetReferralRate(caller string, bps int64) error {
	done, err := c.begin("set-referral-rate")
	if err != nil {
		return err
	}
	defer done()
	if err := c.requireOwner("set-referral-rate", caller); err != nil {
		return err
	}
	if bps < 0 || bps > 10000 {
		return domain.Reject("set-referral-rate", fmt.Errorf("%w: %d bps", domain.ErrInvalidTerms, bps))
	}

	c.params.ReferralRateBps = bps
	slog.Info("Referral rate updated", slog.Int64("bps", bps))
	return nil
}

// SetDurationBounds updates the allowed create-to-expiry range.
func (c *Clearinghouse) SetDurationBounds(caller string, min, max time.Duration) error {
	done, err := c.begin("set-duration-bounds")
	if err != nil {
		return err
	}
	defer done()
	if err := c.requireOwner("set-duration-bounds", caller); err != nil {
		return err
	}
	if min <= 0 || max < min {
		return domain.Reject("set-duration-bounds", fmt.Errorf("%w: [%s, %s]", domain.ErrInvalidTerms, min, max))
	}

	c.params.MinDuration = min
	c.params.MaxDuration = max
	slog.Info("Duration bounds updated", slog.Duration("min", min), slog.Duration("max", max))
	return nil
}

// Pause blocks every state-changing entry point except Withdraw of
// one's own already-available balance.
func (c *Clearinghouse) Pause(caller string) error {
	done, err := c.begin("pause")
	if err != nil {
		return err
	}
	defer done()
	if err := c.requireOwner("pause", caller); err != nil {
		return err
	}

	c.paused = true
	slog.Warn("Emergency pause engaged")
	return nil
}

// Unpause lifts the emergency pause.
func (c *Clearinghouse) Unpause(caller string) error {
	done, err := c.begin("unpause")
	if err != nil {
		return err
	}
	defer done()
	if err := c.requireOwner("unpause", caller); err != nil {
		return err
	}

	c.paused = false
	slog.Info("Emergency pause lifted")
	return nil
}

// RestoreState loads persisted records at boot, before any call is
// served.
func (c *Clearinghouse) RestoreState(accounts []domain.CollateralAccount, options []domain.Option, quotes []domain.PriceQuote) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, a := range accounts {
		if err := c.ledger.Restore(a); err != nil {
			return err
		}
	}
	for _, o := range options {
		c.registry.Restore(o)
	}
	for _, q := range quotes {
		c.gate.Restore(q)
	}
	c.ledger.VerifyAll()
	slog.Info("State restored",
		slog.Int("accounts", len(accounts)),
		slog.Int("options", len(options)),
		slog.Int("quotes", len(quotes)))
	return nil
}
