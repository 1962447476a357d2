package oracle

import (
	"fmt"
	"sort"
	"time"

	"optionclear/internal/domain"
	"optionclear/internal/event"

	"github.com/shopspring/decimal"
)

// PriceGate holds the latest trusted quote per asset. It is a pure
// store: it enforces publisher authorization and price sanity, but
// staleness is the consumer's check (the settlement engine knows its
// own validity window).
type PriceGate struct {
	quotes     map[string]domain.PriceQuote
	publishers map[string]bool

	// Boundary: notifies subscribers of accepted quotes
	onPublish func(*event.PricePublishedEvent)
}

// NewPriceGate creates a gate with the given publisher allow-list.
func NewPriceGate(publishers []string, onPublish func(*event.PricePublishedEvent)) *PriceGate {
	allowed := make(map[string]bool, len(publishers))
	for _, p := range publishers {
		allowed[p] = true
	}
	return &PriceGate{
		quotes:     make(map[string]domain.PriceQuote),
		publishers: allowed,
		onPublish:  onPublish,
	}
}

// Publish overwrites the quote for asset. Only allow-listed publishers
// may publish; non-positive prices are rejected.
func (g *PriceGate) Publish(publisher, asset string, price decimal.Decimal, observedAt time.Time) error {
	if !g.publishers[publisher] {
		return fmt.Errorf("%w: %q is not a price publisher", domain.ErrNotAuthorized, publisher)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price %s for %s", domain.ErrInvalidTerms, price, asset)
	}

	g.quotes[asset] = domain.PriceQuote{
		Asset:      asset,
		Price:      price,
		ObservedAt: observedAt,
		Publisher:  publisher,
	}

	if g.onPublish != nil {
		ev := event.AcquirePricePublishedEvent()
		ev.Asset = asset
		ev.Price = price
		ev.Publisher = publisher
		ev.At = observedAt
		g.onPublish(ev)
	}
	return nil
}

// Read returns the latest quote for asset, if any. The caller decides
// whether the quote is fresh enough to act on.
func (g *PriceGate) Read(asset string) (domain.PriceQuote, bool) {
	q, ok := g.quotes[asset]
	return q, ok
}

// ValidatedRead returns the quote only if it is fresh at now.
func (g *PriceGate) ValidatedRead(asset string, now time.Time, validity time.Duration) (domain.PriceQuote, error) {
	q, ok := g.quotes[asset]
	if !ok || !q.FreshAt(now, validity) {
		return domain.PriceQuote{}, fmt.Errorf("%w: no fresh quote for %s", domain.ErrStalePrice, asset)
	}
	return q, nil
}

// AllowPublisher adds an account to the publisher allow-list.
func (g *PriceGate) AllowPublisher(account string) {
	g.publishers[account] = true
}

// RevokePublisher removes an account from the publisher allow-list.
// Quotes it already published remain until overwritten or stale.
func (g *PriceGate) RevokePublisher(account string) {
	delete(g.publishers, account)
}

// IsPublisher reports allow-list membership.
func (g *PriceGate) IsPublisher(account string) bool {
	return g.publishers[account]
}

// Snapshot returns all quotes sorted by asset (for state dump and
// persistence).
func (g *PriceGate) Snapshot() []domain.PriceQuote {
	result := make([]domain.PriceQuote, 0, len(g.quotes))
	for _, q := range g.quotes {
		result = append(result, q)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Asset < result[j].Asset
	})
	return result
}

// Restore loads a persisted quote. Boot-time only.
func (g *PriceGate) Restore(q domain.PriceQuote) {
	g.quotes[q.Asset] = q
}
