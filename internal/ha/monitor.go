package ha

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is the process monitor's coarse-grained verdict.
type HealthStatus int

const (
	HealthStarting HealthStatus = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
	HealthStopping
	HealthStopped
)

func (h HealthStatus) String() string {
	switch h {
	case HealthStarting:
		return "STARTING"
	case HealthHealthy:
		return "HEALTHY"
	case HealthDegraded:
		return "DEGRADED"
	case HealthUnhealthy:
		return "UNHEALTHY"
	case HealthStopping:
		return "STOPPING"
	case HealthStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Sample is one point-in-time reading fed to the monitor.
type Sample struct {
	CPUPercent     float64
	RSSMegabytes   float64
	DeadlineMisses uint64
}

// SampleFunc produces the current Sample; supplied by the caller (e.g.
// reading /proc/self/stat and the performance monitor's counters).
type SampleFunc func() Sample

// Thresholds configures when a healthy process is downgraded to DEGRADED.
type Thresholds struct {
	CPUPercent           float64
	MemoryMegabytes      float64
	DeadlineMissPerCycle float64
}

// ProcessMonitor samples process health on an interval, tracks consecutive
// liveness-probe failures, and invokes onFailureThreshold once the policy's
// threshold is reached.
type ProcessMonitor struct {
	logger     *zap.Logger
	sampleFn   SampleFunc
	thresholds Thresholds
	interval   time.Duration
	timeout    time.Duration
	threshold  int

	onFailureThreshold func()

	mu                 sync.RWMutex
	status             HealthStatus
	lastSample         Sample
	lastHeartbeat       time.Time
	consecutiveFailures int
	errMessage         string

	notifySocket string // NOTIFY_SOCKET for sd_notify-style watchdog pings
}

// NewProcessMonitor constructs a monitor.
func NewProcessMonitor(logger *zap.Logger, sampleFn SampleFunc, thresholds Thresholds, interval, timeout time.Duration, failureThreshold int, onFailureThreshold func()) *ProcessMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessMonitor{
		logger:             logger,
		sampleFn:           sampleFn,
		thresholds:         thresholds,
		interval:           interval,
		timeout:            timeout,
		threshold:          failureThreshold,
		onFailureThreshold: onFailureThreshold,
		status:             HealthStarting,
		notifySocket:       os.Getenv("NOTIFY_SOCKET"),
	}
}

// Run samples on Interval until ctx is cancelled.
func (m *ProcessMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.setStatus(HealthStarting)
	for {
		select {
		case <-ctx.Done():
			m.setStatus(HealthStopped)
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *ProcessMonitor) tick() {
	start := time.Now()
	sample := m.sampleFn()
	probeDuration := time.Since(start)

	m.mu.Lock()
	m.lastSample = sample
	m.lastHeartbeat = time.Now()
	failed := probeDuration > m.timeout
	if failed {
		m.consecutiveFailures++
	} else {
		m.consecutiveFailures = 0
	}
	status := m.computeStatus(sample)
	m.status = status
	m.mu.Unlock()

	if failed && m.consecutiveFailures >= m.threshold {
		m.logger.Error("liveness probe failure threshold reached", zap.Int("consecutive", m.consecutiveFailures))
		if m.onFailureThreshold != nil {
			m.onFailureThreshold()
		}
	}

	if status == HealthHealthy {
		m.notifyWatchdog()
	}
}

func (m *ProcessMonitor) computeStatus(s Sample) HealthStatus {
	if s.CPUPercent > m.thresholds.CPUPercent || s.RSSMegabytes > m.thresholds.MemoryMegabytes ||
		float64(s.DeadlineMisses) > m.thresholds.DeadlineMissPerCycle {
		return HealthDegraded
	}
	return HealthHealthy
}

func (m *ProcessMonitor) setStatus(s HealthStatus) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// SetError marks the process UNHEALTHY with a diagnostic message.
func (m *ProcessMonitor) SetError(msg string) {
	m.mu.Lock()
	m.status = HealthUnhealthy
	m.errMessage = msg
	m.mu.Unlock()
}

// Status returns the current health status.
func (m *ProcessMonitor) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Details returns a diagnostic snapshot for /health/details.
func (m *ProcessMonitor) Details() (HealthStatus, Sample, string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.lastSample, m.errMessage, m.lastHeartbeat
}

// notifyWatchdog writes WATCHDOG=1 to $NOTIFY_SOCKET if set, the
// systemd sd_notify protocol, without requiring a cgo binding.
func (m *ProcessMonitor) notifyWatchdog() {
	if m.notifySocket == "" {
		return
	}
	conn, err := net.Dial("unixgram", m.notifySocket)
	if err != nil {
		return
	}
	defer conn.Close()
	_, _ = conn.Write([]byte("WATCHDOG=1"))
}
