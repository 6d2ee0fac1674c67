// Package rtperf implements the performance monitor and the CPU-affinity /
// NUMA-binding managers the RT process applies before entering its cyclic
// loop.
package rtperf

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	CycleTimeUS      int64
	DeadlineUS       int64
	SampleBufferSize int
	HistogramBuckets int
}

// DefaultMonitorConfig mirrors the original performance monitor's defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{CycleTimeUS: 1000, DeadlineUS: 1000, SampleBufferSize: 10000, HistogramBuckets: 100}
}

// Stats is a point-in-time snapshot of the monitor's accumulated metrics.
type Stats struct {
	MinLatencyUS      float64
	MaxLatencyUS      float64
	AvgLatencyUS      float64
	P50LatencyUS      float64
	P95LatencyUS      float64
	P99LatencyUS      float64
	JitterUS          float64
	MaxJitterUS       float64
	TotalCycles       uint64
	DeadlineMisses    uint64
	DeadlineMissRate  float64
}

// Monitor records per-cycle latency samples in a fixed-size ring buffer
// (no allocation once NewMonitor has run) and derives percentile/jitter
// statistics on demand. StartCycle/EndCycle bracket one cyclic-executive
// slot from the RT thread; Stats/Reset are safe to call from any thread.
type Monitor struct {
	cfg MonitorConfig

	mu      sync.Mutex
	samples []float64 // ring buffer of latency samples, in microseconds
	next    int
	filled  bool
	sum     float64
	sumSq   float64

	totalCycles    atomic.Uint64
	deadlineMisses atomic.Uint64

	histogram    []atomic.Uint64 // fixed bucket count, sized at construction
	bucketWidth  float64         // microseconds per bucket; last bucket is overflow

	cycleStart time.Time
}

// NewMonitor constructs a Monitor with the given config (zero value
// selects DefaultMonitorConfig).
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.SampleBufferSize <= 0 {
		cfg = DefaultMonitorConfig()
	}
	if cfg.HistogramBuckets <= 0 {
		cfg.HistogramBuckets = DefaultMonitorConfig().HistogramBuckets
	}
	return &Monitor{
		cfg:         cfg,
		samples:     make([]float64, cfg.SampleBufferSize),
		histogram:   make([]atomic.Uint64, cfg.HistogramBuckets),
		bucketWidth: 2 * float64(cfg.DeadlineUS) / float64(cfg.HistogramBuckets),
	}
}

// bucketIndex maps a latency sample to its fixed histogram bucket. Samples
// at or beyond the top of the range all land in the last bucket, so the
// bucket count never changes once the monitor is constructed.
func (m *Monitor) bucketIndex(us float64) int {
	if m.bucketWidth <= 0 {
		return 0
	}
	idx := int(us / m.bucketWidth)
	if idx >= len(m.histogram) {
		idx = len(m.histogram) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// StartCycle marks the beginning of one RT cycle.
func (m *Monitor) StartCycle() {
	m.cycleStart = time.Now()
}

// EndCycle marks the end of one RT cycle, records the observed latency,
// and reports whether the deadline was missed.
func (m *Monitor) EndCycle() (missedDeadline bool) {
	elapsed := time.Since(m.cycleStart)
	us := float64(elapsed.Microseconds())

	m.totalCycles.Add(1)
	missed := elapsed.Microseconds() > m.cfg.DeadlineUS
	if missed {
		m.deadlineMisses.Add(1)
	}

	m.mu.Lock()
	m.samples[m.next] = us
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.filled = true
	}
	m.sum += us
	m.sumSq += us * us
	m.mu.Unlock()

	m.histogram[m.bucketIndex(us)].Add(1)

	return missed
}

// Histogram returns a snapshot of the fixed-bucket latency histogram
// accumulated since construction or the last Reset. Bucket count is fixed
// at NewMonitor time (cfg.HistogramBuckets); bucket i covers
// [i*bucketWidth, (i+1)*bucketWidth) microseconds, with the last bucket
// also catching everything at or beyond the top of the range.
func (m *Monitor) Histogram() []uint64 {
	out := make([]uint64, len(m.histogram))
	for i := range m.histogram {
		out[i] = m.histogram[i].Load()
	}
	return out
}

// DidMissDeadline reports whether any cycle since construction or the last
// Reset missed its deadline. It stays true after later on-time cycles; the
// per-cycle result is EndCycle's return value.
func (m *Monitor) DidMissDeadline() bool {
	return m.deadlineMisses.Load() > 0
}

// DeadlineMissCount returns the running deadline-miss count. Unlike Stats,
// this is a single atomic load with no lock and no copy, so it is safe to
// call from the RT cycle itself.
func (m *Monitor) DeadlineMissCount() uint64 {
	return m.deadlineMisses.Load()
}

// Stats computes aggregate statistics from the current ring-buffer
// contents. Not on the RT path: this sorts a copy of the buffer.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	n := m.next
	if m.filled {
		n = len(m.samples)
	}
	cp := append([]float64(nil), m.samples[:n]...)
	sum, sumSq := m.sum, m.sumSq
	m.mu.Unlock()

	total := m.totalCycles.Load()
	misses := m.deadlineMisses.Load()

	if n == 0 {
		return Stats{TotalCycles: total, DeadlineMisses: misses}
	}

	sort.Float64s(cp)
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	jitter := math.Sqrt(variance)

	rate := 0.0
	if total > 0 {
		rate = float64(misses) / float64(total)
	}

	return Stats{
		MinLatencyUS:     cp[0],
		MaxLatencyUS:     cp[n-1],
		AvgLatencyUS:     mean,
		P50LatencyUS:     percentile(cp, 0.50),
		P95LatencyUS:     percentile(cp, 0.95),
		P99LatencyUS:     percentile(cp, 0.99),
		JitterUS:         jitter,
		MaxJitterUS:      cp[n-1] - mean,
		TotalCycles:      total,
		DeadlineMisses:   misses,
		DeadlineMissRate: rate,
	}
}

// Reset clears all accumulated samples and counters.
func (m *Monitor) Reset() {
	m.mu.Lock()
	for i := range m.samples {
		m.samples[i] = 0
	}
	m.next = 0
	m.filled = false
	m.sum = 0
	m.sumSq = 0
	m.mu.Unlock()
	m.totalCycles.Store(0)
	m.deadlineMisses.Store(0)
	for i := range m.histogram {
		m.histogram[i].Store(0)
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
