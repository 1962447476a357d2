package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is the common interface for lifecycle notifications emitted by
// the clearinghouse. Events are observational: consumers (broadcast,
// logs) never feed back into state.
type Event interface {
	GetType() string
	GetAt() time.Time
}

// BaseEvent carries the fields shared by all events.
type BaseEvent struct {
	ID string    `json:"id"` // uuid, assigned by the bus
	At time.Time `json:"at"`
}

func (e *BaseEvent) GetAt() time.Time { return e.At }

// Event type tags.
const (
	TypeOptionCreated   = "OPTION_CREATED"
	TypeOptionMatched   = "OPTION_MATCHED"
	TypeOptionCancelled = "OPTION_CANCELLED"
	TypeOptionExercised = "OPTION_EXERCISED"
	TypeOptionExpired   = "OPTION_EXPIRED"
	TypePricePublished  = "PRICE_PUBLISHED"
	TypeDeposited       = "DEPOSITED"
	TypeWithdrawn       = "WITHDRAWN"
)

// OptionEvent covers every option lifecycle transition; Type
// distinguishes them so the websocket feed stays a single stream.
type OptionEvent struct {
	BaseEvent
	Type     string          `json:"type"`
	OptionID uint64          `json:"option_id"`
	Writer   string          `json:"writer"`
	Holder   string          `json:"holder,omitempty"`
	Payoff   decimal.Decimal `json:"payoff,omitempty"`
}

func (e *OptionEvent) GetType() string { return e.Type }

// PricePublishedEvent is emitted on every accepted quote. This is the
// high-frequency event; acquire it from the pool.
type PricePublishedEvent struct {
	BaseEvent
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Publisher string          `json:"publisher"`
}

func (e *PricePublishedEvent) GetType() string { return TypePricePublished }

// TransferEvent covers deposits and withdrawals; Receipt carries the
// external transfer reference on withdrawals.
type TransferEvent struct {
	BaseEvent
	Type    string          `json:"type"`
	Owner   string          `json:"owner"`
	Asset   string          `json:"asset"`
	Amount  decimal.Decimal `json:"amount"`
	Receipt string          `json:"receipt,omitempty"`
}

func (e *TransferEvent) GetType() string { return e.Type }
