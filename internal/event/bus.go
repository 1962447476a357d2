package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus fans events out to subscribers over buffered channels. Slow
// subscribers drop; the clearinghouse never blocks on notification.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish stamps the event and delivers it to every subscriber.
// Delivery is best-effort: a full subscriber channel drops the event.
func (b *Bus) Publish(ev Event) {
	stamp(ev)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default: // DROP
		}
	}
}

func stamp(ev Event) {
	switch e := ev.(type) {
	case *OptionEvent:
		fill(&e.BaseEvent)
	case *PricePublishedEvent:
		fill(&e.BaseEvent)
	case *TransferEvent:
		fill(&e.BaseEvent)
	}
}

func fill(base *BaseEvent) {
	if base.ID == "" {
		base.ID = uuid.NewString()
	}
	if base.At.IsZero() {
		base.At = time.Now()
	}
}
