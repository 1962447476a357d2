package registry

import (
	"fmt"
	"sort"
	"time"

	"optionclear/internal/domain"

	"github.com/shopspring/decimal"
)

// PlaceBid reserves the bidder's quote funds behind a standing offer on
// an unmatched option. A repeat bid from the same bidder replaces the
// old one: the reservation is adjusted by the difference, so a failed
// adjustment leaves the prior bid standing untouched.
func (r *Registry) PlaceBid(id uint64, bidder string, amount decimal.Decimal, now time.Time) (*domain.Bid, error) {
	o, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if err := r.matchable(o, bidder, now); err != nil {
		return nil, err
	}
	if amount.LessThan(o.Premium) {
		return nil, fmt.Errorf("%w: bid %s, premium %s", domain.ErrInsufficientPayment, amount, o.Premium)
	}

	key := bidKey{optionID: id, bidder: bidder}
	if prev, ok := r.bids[key]; ok {
		switch {
		case amount.GreaterThan(prev.Amount):
			if err := r.ledger.Lock(bidder, r.params.QuoteAsset, amount.Sub(prev.Amount)); err != nil {
				return nil, err
			}
		case amount.LessThan(prev.Amount):
			if err := r.ledger.Release(bidder, r.params.QuoteAsset, prev.Amount.Sub(amount)); err != nil {
				return nil, err
			}
		}
		prev.Amount = amount
		prev.PlacedAt = now
		return prev, nil
	}
	if err := r.ledger.Lock(bidder, r.params.QuoteAsset, amount); err != nil {
		return nil, err
	}

	b := &domain.Bid{OptionID: id, Bidder: bidder, Amount: amount, PlacedAt: now}
	r.bids[key] = b
	return b, nil
}

// CancelBid withdraws a standing bid and releases its reservation.
func (r *Registry) CancelBid(id uint64, bidder string) error {
	key := bidKey{optionID: id, bidder: bidder}
	b, ok := r.bids[key]
	if !ok {
		return fmt.Errorf("%w: option %d bidder %s", domain.ErrBidNotFound, id, bidder)
	}
	if err := r.ledger.Release(bidder, r.params.QuoteAsset, b.Amount); err != nil {
		return err
	}
	delete(r.bids, key)
	return nil
}

// AcceptBid lets the writer sell to a standing bid at its offered
// amount. The reservation is released back to the bidder's available
// balance and immediately consumed by the regular match path, so the
// payment can never bounce.
func (r *Registry) AcceptBid(id uint64, caller, bidder string, now time.Time) (*domain.Option, decimal.Decimal, error) {
	o, err := r.Get(id)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if caller != o.Writer {
		return nil, decimal.Zero, fmt.Errorf("%w: only the writer can accept a bid", domain.ErrNotAuthorized)
	}

	key := bidKey{optionID: id, bidder: bidder}
	b, ok := r.bids[key]
	if !ok {
		return nil, decimal.Zero, fmt.Errorf("%w: option %d bidder %s", domain.ErrBidNotFound, id, bidder)
	}
	if err := r.matchable(o, bidder, now); err != nil {
		return nil, decimal.Zero, err
	}

	if err := r.ledger.Release(bidder, r.params.QuoteAsset, b.Amount); err != nil {
		return nil, decimal.Zero, err
	}
	delete(r.bids, key)

	refund, err := r.settler.SettleMatch(o, bidder, b.Amount)
	if err != nil {
		// Settlement failed after the reservation came off: put it back
		// so the bid survives intact.
		if lockErr := r.ledger.Lock(bidder, r.params.QuoteAsset, b.Amount); lockErr == nil {
			r.bids[key] = b
		}
		return nil, decimal.Zero, err
	}

	o.Holder = bidder
	r.refundBids(id, bidder)
	return o, refund, nil
}

// Bids returns the standing bids for an option sorted by bidder.
func (r *Registry) Bids(id uint64) []domain.Bid {
	var result []domain.Bid
	for key, b := range r.bids {
		if key.optionID == id {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Bidder < result[j].Bidder })
	return result
}

// refundBids releases every remaining reservation on an option that can
// no longer be bought (matched, cancelled or expired). except skips the
// winning bidder, whose reservation was already consumed.
func (r *Registry) refundBids(id uint64, except string) {
	for key, b := range r.bids {
		if key.optionID != id || key.bidder == except {
			continue
		}
		if err := r.ledger.Release(b.Bidder, r.params.QuoteAsset, b.Amount); err != nil {
			// A failed release here means the ledger lost the
			// reservation, which VerifyInvariant treats as corruption.
			panic(fmt.Sprintf("BID_REFUND_FAILED: option %d bidder %s: %v", id, b.Bidder, err))
		}
		delete(r.bids, key)
	}
}
