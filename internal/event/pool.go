package event

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PricePublishedEvent pool: quote publication is the one high-frequency
// path (a live feed ticks many times a second), so those events are
// recycled to reduce GC pressure.
//
// Usage:
//
//	ev := AcquirePricePublishedEvent()
//	ev.Asset = "BTC"
//	// ... publish ...
//	ReleasePricePublishedEvent(ev)  // Return to pool after delivery
var pricePublishedPool = sync.Pool{
	New: func() interface{} {
		return &PricePublishedEvent{}
	},
}

// AcquirePricePublishedEvent gets a PricePublishedEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquirePricePublishedEvent() *PricePublishedEvent {
	return pricePublishedPool.Get().(*PricePublishedEvent)
}

// ReleasePricePublishedEvent returns a PricePublishedEvent to the pool.
// The event is reset to zero values before being pooled.
func ReleasePricePublishedEvent(ev *PricePublishedEvent) {
	if ev == nil {
		return
	}
	ev.ID = ""
	ev.At = time.Time{}
	ev.Asset = ""
	ev.Price = decimal.Zero
	ev.Publisher = ""

	pricePublishedPool.Put(ev)
}
