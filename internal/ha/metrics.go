package ha

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors named in the runtime's
// external-interface contract. A single registry is shared by the health
// server's /metrics handler.
type Metrics struct {
	SetCalls          prometheus.Counter
	GetCalls          prometheus.Counter
	PollCalls         prometheus.Counter
	EventsPushed      *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	DeadlineMisses    prometheus.Counter
	RestartCount      *prometheus.CounterVec
	PeakQueueSize     prometheus.Gauge
}

// NewMetrics registers and returns the runtime's collector set against
// registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		SetCalls:  prometheus.NewCounter(prometheus.CounterOpts{Name: "rtstack_store_set_calls_total"}),
		GetCalls:  prometheus.NewCounter(prometheus.CounterOpts{Name: "rtstack_store_get_calls_total"}),
		PollCalls: prometheus.NewCounter(prometheus.CounterOpts{Name: "rtstack_store_poll_calls_total"}),
		EventsPushed: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rtstack_events_pushed_total"}, []string{"priority"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rtstack_events_dropped_total"}, []string{"priority"}),
		DeadlineMisses: prometheus.NewCounter(prometheus.CounterOpts{Name: "rtstack_deadline_misses_total"}),
		RestartCount:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rtstack_restart_count"}, []string{"process"}),
		PeakQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{Name: "rtstack_peak_queue_size"}),
	}
	registry.MustRegister(m.SetCalls, m.GetCalls, m.PollCalls, m.EventsPushed, m.EventsDropped, m.DeadlineMisses, m.RestartCount, m.PeakQueueSize)
	return m
}
