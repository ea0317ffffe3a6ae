package upstream

import (
	"sync/atomic"
	"time"
)

// Metrics accumulates process-wide counters for upstream calls. Counters are
// atomics; the rolling average latency is approximate by design.
type Metrics struct {
	calls          atomic.Int64
	rateLimitHits  atomic.Int64
	quotaHits      atomic.Int64
	networkErrors  atomic.Int64
	authErrors     atomic.Int64
	totalLatencyUS atomic.Int64
	lastCallUnixNS atomic.Int64
}

// MetricsSnapshot is a point-in-time copy for reporting.
type MetricsSnapshot struct {
	Calls          int64         `json:"calls"`
	RateLimitHits  int64         `json:"rateLimitHits"`
	QuotaHits      int64         `json:"quotaHits"`
	NetworkErrors  int64         `json:"networkErrors"`
	AuthErrors     int64         `json:"authErrors"`
	AvgLatency     time.Duration `json:"avgLatencyNs"`
	LastCallAt     time.Time     `json:"lastCallAt"`
}

func (m *Metrics) recordCall(d time.Duration) {
	m.calls.Add(1)
	m.totalLatencyUS.Add(d.Microseconds())
	m.lastCallUnixNS.Store(time.Now().UnixNano())
}

func (m *Metrics) record(kindCounter *atomic.Int64) {
	kindCounter.Add(1)
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Calls:         m.calls.Load(),
		RateLimitHits: m.rateLimitHits.Load(),
		QuotaHits:     m.quotaHits.Load(),
		NetworkErrors: m.networkErrors.Load(),
		AuthErrors:    m.authErrors.Load(),
	}
	if s.Calls > 0 {
		s.AvgLatency = time.Duration(m.totalLatencyUS.Load()/s.Calls) * time.Microsecond
	}
	if ns := m.lastCallUnixNS.Load(); ns > 0 {
		s.LastCallAt = time.Unix(0, ns).UTC()
	}
	return s
}

// Reset zeroes every counter. Explicit operation, never implicit.
func (m *Metrics) Reset() {
	m.calls.Store(0)
	m.rateLimitHits.Store(0)
	m.quotaHits.Store(0)
	m.networkErrors.Store(0)
	m.authErrors.Store(0)
	m.totalLatencyUS.Store(0)
	m.lastCallUnixNS.Store(0)
}
