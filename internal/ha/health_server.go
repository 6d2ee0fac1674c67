package ha

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthServer serves the loopback-only health-probe surface plus a
// Prometheus /metrics endpoint. A minimal net/http + ServeMux is used
// deliberately here rather than a routing framework: four fixed GET routes
// and one metrics handler do not justify one (see the grounding ledger).
type HealthServer struct {
	logger  *zap.Logger
	monitor *ProcessMonitor
	machine *StateMachine
	server  *http.Server
	ready   func() bool
}

// NewHealthServer constructs a server bound to addr (e.g. "127.0.0.1:8081").
func NewHealthServer(logger *zap.Logger, addr string, monitor *ProcessMonitor, machine *StateMachine, ready func() bool, registry *prometheus.Registry) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	hs := &HealthServer{logger: logger, monitor: monitor, machine: machine, ready: ready}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/health/ready", hs.handleReady)
	mux.HandleFunc("/health/live", hs.handleLive)
	mux.HandleFunc("/health/details", hs.handleDetails)
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	hs.server = &http.Server{Addr: addr, Handler: hs.methodGuard(mux)}
	return hs
}

// methodGuard rejects non-GET requests with 405 before routing.
func (hs *HealthServer) methodGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving in a background goroutine.
func (hs *HealthServer) Start() {
	go func() {
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			hs.logger.Error("health server stopped", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the server.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	return hs.server.Shutdown(ctx)
}

type statusBody struct {
	Status string `json:"status"`
	State  string `json:"ha_state"`
}

func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hs.monitor.Status()
	body := statusBody{Status: status.String()}
	if hs.machine != nil {
		body.State = hs.machine.Current().String()
	}
	if status != HealthHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, body)
}

func (hs *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := hs.ready == nil || hs.ready()
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, statusBody{Status: boolStatus(ready)})
}

func (hs *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	status := hs.monitor.Status()
	alive := status != HealthStopped
	if !alive {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, statusBody{Status: boolStatus(alive)})
}

type detailsBody struct {
	Status         string    `json:"status"`
	HAState        string    `json:"ha_state"`
	CPUPercent     float64   `json:"cpu_percent"`
	RSSMegabytes   float64   `json:"rss_megabytes"`
	DeadlineMisses uint64    `json:"deadline_misses"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

func (hs *HealthServer) handleDetails(w http.ResponseWriter, r *http.Request) {
	status, sample, errMsg, lastHB := hs.monitor.Details()
	body := detailsBody{
		Status:         status.String(),
		CPUPercent:     sample.CPUPercent,
		RSSMegabytes:   sample.RSSMegabytes,
		DeadlineMisses: sample.DeadlineMisses,
		LastHeartbeat:  lastHB,
		ErrorMessage:   errMsg,
	}
	if hs.machine != nil {
		body.HAState = hs.machine.Current().String()
	}
	writeJSON(w, body) // always 200
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func boolStatus(b bool) string {
	if b {
		return "OK"
	}
	return "UNAVAILABLE"
}
