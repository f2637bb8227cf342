package ingest

import "sync/atomic"

// Metrics are the worker pool's atomic counters, per the concurrency
// model's "counters for metrics use atomic increments" requirement.
type Metrics struct {
	readingsDropped   uint64
	readingsProcessed uint64
	readingsFailed    uint64
}

func (m *Metrics) incDropped()   { atomic.AddUint64(&m.readingsDropped, 1) }
func (m *Metrics) incProcessed() { atomic.AddUint64(&m.readingsProcessed, 1) }
func (m *Metrics) incFailed()    { atomic.AddUint64(&m.readingsFailed, 1) }

// MetricsSnapshot is a point-in-time read of the pool's counters.
type MetricsSnapshot struct {
	ReadingsDropped   uint64 `json:"readings_dropped"`
	ReadingsProcessed uint64 `json:"readings_processed"`
	ReadingsFailed    uint64 `json:"readings_failed"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ReadingsDropped:   atomic.LoadUint64(&m.readingsDropped),
		ReadingsProcessed: atomic.LoadUint64(&m.readingsProcessed),
		ReadingsFailed:    atomic.LoadUint64(&m.readingsFailed),
	}
}
