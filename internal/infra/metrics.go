package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Ingest counters
	framesRead     atomic.Uint64
	decodeFailures atomic.Uint64
	eventsEmitted  atomic.Uint64
	seqDropped     atomic.Uint64

	// Store counters
	batchesCommitted atomic.Uint64
	storeDropped     atomic.Uint64

	// Execution counters
	placements    atomic.Uint64
	confirmations atomic.Uint64
	rejections    atomic.Uint64
	timeouts      atomic.Uint64

	// Confirmation latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	connected     atomic.Int32 // 1 = feed connected
	storeDegraded atomic.Int32 // 1 = store degraded
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordFrame records a raw frame read from the feed.
func (m *Metrics) RecordFrame() {
	m.framesRead.Add(1)
}

// RecordDecodeFailure records a dropped malformed frame.
func (m *Metrics) RecordDecodeFailure() {
	m.decodeFailures.Add(1)
}

// RecordEvent records a normalized event published to the bus.
func (m *Metrics) RecordEvent() {
	m.eventsEmitted.Add(1)
}

// RecordSeqDropped records a duplicate or out-of-order frame dropped.
func (m *Metrics) RecordSeqDropped() {
	m.seqDropped.Add(1)
}

// RecordBatchCommitted records one durably committed batch file.
func (m *Metrics) RecordBatchCommitted() {
	m.batchesCommitted.Add(1)
}

// RecordStoreDropped records an event evicted under store backpressure.
func (m *Metrics) RecordStoreDropped() {
	m.storeDropped.Add(1)
}

// RecordPlacement records a dispatched wager attempt.
func (m *Metrics) RecordPlacement() {
	m.placements.Add(1)
}

// RecordConfirmation records a confirmed action with its round-trip latency.
func (m *Metrics) RecordConfirmation(latencyNs int64) {
	m.confirmations.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordRejection records a rejected action.
func (m *Metrics) RecordRejection() {
	m.rejections.Add(1)
}

// RecordTimeout records an action that never received a confirmation.
func (m *Metrics) RecordTimeout() {
	m.timeouts.Add(1)
}

// SetConnected sets the feed connectivity gauge.
func (m *Metrics) SetConnected(up bool) {
	if up {
		m.connected.Store(1)
	} else {
		m.connected.Store(0)
	}
}

// IsConnected reads the feed connectivity gauge.
func (m *Metrics) IsConnected() bool {
	return m.connected.Load() == 1
}

// SetStoreDegraded sets the store health gauge (true = degraded).
func (m *Metrics) SetStoreDegraded(degraded bool) {
	if degraded {
		m.storeDegraded.Store(1)
	} else {
		m.storeDegraded.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FramesRead       uint64
	DecodeFailures   uint64
	EventsEmitted    uint64
	SeqDropped       uint64
	BatchesCommitted uint64
	StoreDropped     uint64
	Placements       uint64
	Confirmations    uint64
	Rejections       uint64
	Timeouts         uint64
	AvgLatencyNs     int64
	Connected        bool
	StoreDegraded    bool
	Timestamp        time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		FramesRead:       m.framesRead.Load(),
		DecodeFailures:   m.decodeFailures.Load(),
		EventsEmitted:    m.eventsEmitted.Load(),
		SeqDropped:       m.seqDropped.Load(),
		BatchesCommitted: m.batchesCommitted.Load(),
		StoreDropped:     m.storeDropped.Load(),
		Placements:       m.placements.Load(),
		Confirmations:    m.confirmations.Load(),
		Rejections:       m.rejections.Load(),
		Timeouts:         m.timeouts.Load(),
		AvgLatencyNs:     avgLatency,
		Connected:        m.connected.Load() == 1,
		StoreDegraded:    m.storeDegraded.Load() == 1,
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.framesRead.Store(0)
	m.decodeFailures.Store(0)
	m.eventsEmitted.Store(0)
	m.seqDropped.Store(0)
	m.batchesCommitted.Store(0)
	m.storeDropped.Store(0)
	m.placements.Store(0)
	m.confirmations.Store(0)
	m.rejections.Store(0)
	m.timeouts.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.connected.Store(0)
	m.storeDegraded.Store(0)
}
