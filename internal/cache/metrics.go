package cache

import "sync/atomic"

// MetricsSink receives cache outcome counters. Injected into the Store so
// instances never share module-level state and tests can observe behavior
// in isolation.
type MetricsSink interface {
	Hit()
	Miss()
	Error()
	CompressionSaved(bytes int64)
}

// AtomicMetrics is the default MetricsSink, safe for concurrent use.
type AtomicMetrics struct {
	hits             atomic.Int64
	misses           atomic.Int64
	errors           atomic.Int64
	compressionSaved atomic.Int64
}

func NewAtomicMetrics() *AtomicMetrics { return &AtomicMetrics{} }

func (m *AtomicMetrics) Hit()   { m.hits.Add(1) }
func (m *AtomicMetrics) Miss()  { m.misses.Add(1) }
func (m *AtomicMetrics) Error() { m.errors.Add(1) }

func (m *AtomicMetrics) CompressionSaved(bytes int64) { m.compressionSaved.Add(bytes) }

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	Errors           int64   `json:"errors"`
	HitRatio         float64 `json:"hit_ratio"`
	CompressionSaved int64   `json:"compression_savings_bytes"`
}

func (m *AtomicMetrics) Snapshot() MetricsSnapshot {
	hits := m.hits.Load()
	misses := m.misses.Load()
	snap := MetricsSnapshot{
		Hits:             hits,
		Misses:           misses,
		Errors:           m.errors.Load(),
		CompressionSaved: m.compressionSaved.Load(),
	}
	if total := hits + misses; total > 0 {
		snap.HitRatio = float64(hits) / float64(total)
	}
	return snap
}

func (m *AtomicMetrics) Reset() {
	m.hits.Store(0)
	m.misses.Store(0)
	m.errors.Store(0)
	m.compressionSaved.Store(0)
}

// nopMetrics is used when the caller does not care about counters.
type nopMetrics struct{}

func (nopMetrics) Hit()                   {}
func (nopMetrics) Miss()                  {}
func (nopMetrics) Error()                 {}
func (nopMetrics) CompressionSaved(int64) {}
