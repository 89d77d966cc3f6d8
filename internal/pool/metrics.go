package pool

import (
	"sync"
	"sync/atomic"
	"time"
)

// HealthStatus is a point-in-time view of pool health.
type HealthStatus struct {
	State         State
	ActiveWorkers int
	MaxWorkers    int
	Dimension     int  // Vector dimension announced by the workers
	GrowthPaused  bool // Hysteresis tripped: growth waits for the resume band
	LastSample    Sample
	WorkerRSS     uint64 // Summed worker RSS from the last control tick
}

// MetricsSnapshot is a copy of the pool's cumulative counters.
type MetricsSnapshot struct {
	Requests       uint64
	Batches        uint64
	Retries        uint64
	BatchFailures  uint64
	WorkerFailures uint64
	GrowthRefusals uint64
	CacheHits      uint64
	CacheMisses    uint64
	AvgLatency     time.Duration
	ActiveWorkers  int
	PeakWorkers    int
}

// CacheHitRate returns hits/(hits+misses), or 0 with no traffic.
func (m MetricsSnapshot) CacheHitRate() float64 {
	total := m.CacheHits + m.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(m.CacheHits) / float64(total)
}

// counters holds the pool's live metric state.
type counters struct {
	requests       atomic.Uint64
	batches        atomic.Uint64
	retries        atomic.Uint64
	batchFailures  atomic.Uint64
	workerFailures atomic.Uint64
	growthRefusals atomic.Uint64
	cacheHits      atomic.Uint64
	cacheMisses    atomic.Uint64

	mu         sync.Mutex
	latencySum time.Duration
	latencyN   uint64
	peak       int
}

func (c *counters) recordLatency(d time.Duration) {
	c.mu.Lock()
	c.latencySum += d
	c.latencyN++
	c.mu.Unlock()
}

func (c *counters) recordWorkerCount(active int) {
	c.mu.Lock()
	if active > c.peak {
		c.peak = active
	}
	c.mu.Unlock()
}

func (c *counters) snapshot(active int) MetricsSnapshot {
	c.mu.Lock()
	var avg time.Duration
	if c.latencyN > 0 {
		avg = c.latencySum / time.Duration(c.latencyN)
	}
	peak := c.peak
	c.mu.Unlock()

	return MetricsSnapshot{
		Requests:       c.requests.Load(),
		Batches:        c.batches.Load(),
		Retries:        c.retries.Load(),
		BatchFailures:  c.batchFailures.Load(),
		WorkerFailures: c.workerFailures.Load(),
		GrowthRefusals: c.growthRefusals.Load(),
		CacheHits:      c.cacheHits.Load(),
		CacheMisses:    c.cacheMisses.Load(),
		AvgLatency:     avg,
		ActiveWorkers:  active,
		PeakWorkers:    peak,
	}
}
