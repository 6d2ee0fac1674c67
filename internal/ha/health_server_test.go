package ha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(status HealthStatus) *ProcessMonitor {
	m := NewProcessMonitor(nil, func() Sample { return Sample{} }, Thresholds{CPUPercent: 100, MemoryMegabytes: 1000}, time.Hour, time.Hour, 10, nil)
	m.setStatus(status)
	return m
}

func TestHealthServerHealthyReturns200(t *testing.T) {
	monitor := newTestMonitor(HealthHealthy)
	machine := NewStateMachine(DefaultRecoveryPolicy(), nil, nil)
	hs := NewHealthServer(nil, "127.0.0.1:0", monitor, machine, func() bool { return true }, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hs.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthServerUnhealthyReturns503(t *testing.T) {
	monitor := newTestMonitor(HealthUnhealthy)
	hs := NewHealthServer(nil, "127.0.0.1:0", monitor, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hs.handleHealth(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthServerReadyReflectsCallback(t *testing.T) {
	monitor := newTestMonitor(HealthHealthy)
	hs := NewHealthServer(nil, "127.0.0.1:0", monitor, nil, func() bool { return false }, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	hs.handleReady(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthServerDetailsAlwaysReturns200(t *testing.T) {
	monitor := newTestMonitor(HealthUnhealthy)
	hs := NewHealthServer(nil, "127.0.0.1:0", monitor, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/details", nil)
	rec := httptest.NewRecorder()
	hs.handleDetails(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthServerRejectsNonGet(t *testing.T) {
	monitor := newTestMonitor(HealthHealthy)
	hs := NewHealthServer(nil, "127.0.0.1:0", monitor, nil, nil, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	hs.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthServerStartAndShutdown(t *testing.T) {
	monitor := newTestMonitor(HealthHealthy)
	hs := NewHealthServer(nil, "127.0.0.1:0", monitor, nil, nil, nil)
	hs.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hs.Shutdown(ctx))
}
