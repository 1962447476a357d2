package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Lifecycle counters
	optionsCreated   atomic.Uint64
	optionsMatched   atomic.Uint64
	optionsExercised atomic.Uint64
	optionsExpired   atomic.Uint64
	optionsCancelled atomic.Uint64

	quotesPublished  atomic.Uint64
	settlementErrors atomic.Uint64

	// Settlement latency tracking
	settleLatencySumNs atomic.Int64
	settleLatencyCount atomic.Uint64

	// Gauges
	wsSubscribers atomic.Int32
}

// NewMetrics creates a metrics instance. Passed explicitly to the
// components that record into it.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordOption counts one lifecycle transition by event type tag.
func (m *Metrics) RecordOption(eventType string) {
	switch eventType {
	case "OPTION_CREATED":
		m.optionsCreated.Add(1)
	case "OPTION_MATCHED":
		m.optionsMatched.Add(1)
	case "OPTION_EXERCISED":
		m.optionsExercised.Add(1)
	case "OPTION_EXPIRED":
		m.optionsExpired.Add(1)
	case "OPTION_CANCELLED":
		m.optionsCancelled.Add(1)
	}
}

// RecordExercise records a settled exercise with its latency.
func (m *Metrics) RecordExercise(latencyNs int64) {
	m.optionsExercised.Add(1)
	m.settleLatencySumNs.Add(latencyNs)
	m.settleLatencyCount.Add(1)
}

// RecordSettlementError records a failed settlement attempt.
func (m *Metrics) RecordSettlementError() {
	m.settlementErrors.Add(1)
}

// RecordQuote records an accepted price publication.
func (m *Metrics) RecordQuote() {
	m.quotesPublished.Add(1)
}

// IncrementSubscribers increments websocket subscribers by 1.
func (m *Metrics) IncrementSubscribers() {
	m.wsSubscribers.Add(1)
}

// DecrementSubscribers decrements websocket subscribers by 1.
func (m *Metrics) DecrementSubscribers() {
	m.wsSubscribers.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	OptionsCreated   uint64    `json:"options_created"`
	OptionsMatched   uint64    `json:"options_matched"`
	OptionsExercised uint64    `json:"options_exercised"`
	OptionsExpired   uint64    `json:"options_expired"`
	OptionsCancelled uint64    `json:"options_cancelled"`
	QuotesPublished  uint64    `json:"quotes_published"`
	SettlementErrors uint64    `json:"settlement_errors"`
	AvgSettleNs      int64     `json:"avg_settle_ns"`
	WSSubscribers    int32     `json:"ws_subscribers"`
	Timestamp        time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgSettle int64
	count := m.settleLatencyCount.Load()
	if count > 0 {
		avgSettle = m.settleLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		OptionsCreated:   m.optionsCreated.Load(),
		OptionsMatched:   m.optionsMatched.Load(),
		OptionsExercised: m.optionsExercised.Load(),
		OptionsExpired:   m.optionsExpired.Load(),
		OptionsCancelled: m.optionsCancelled.Load(),
		QuotesPublished:  m.quotesPublished.Load(),
		SettlementErrors: m.settlementErrors.Load(),
		AvgSettleNs:      avgSettle,
		WSSubscribers:    m.wsSubscribers.Load(),
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.optionsCreated.Store(0)
	m.optionsMatched.Store(0)
	m.optionsExercised.Store(0)
	m.optionsExpired.Store(0)
	m.optionsCancelled.Store(0)
	m.quotesPublished.Store(0)
	m.settlementErrors.Store(0)
	m.settleLatencySumNs.Store(0)
	m.settleLatencyCount.Store(0)
	m.wsSubscribers.Store(0)
}
