package ha

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessMonitorReportsHealthyUnderThresholds(t *testing.T) {
	sample := func() Sample { return Sample{CPUPercent: 10, RSSMegabytes: 50} }
	thresholds := Thresholds{CPUPercent: 80, MemoryMegabytes: 500}
	m := NewProcessMonitor(nil, sample, thresholds, 5*time.Millisecond, time.Second, 3, nil)

	m.tick()
	assert.Equal(t, HealthHealthy, m.Status())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	assert.Equal(t, HealthStopped, m.Status())
}

func TestProcessMonitorDegradesOverThreshold(t *testing.T) {
	sample := func() Sample { return Sample{CPUPercent: 95, RSSMegabytes: 50} }
	thresholds := Thresholds{CPUPercent: 80, MemoryMegabytes: 500}
	m := NewProcessMonitor(nil, sample, thresholds, 5*time.Millisecond, time.Second, 3, nil)

	m.tick()
	assert.Equal(t, HealthDegraded, m.Status())

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)

	status, s, _, _ := m.Details()
	assert.Equal(t, HealthStopped, status)
	assert.Equal(t, 95.0, s.CPUPercent)
}

func TestProcessMonitorInvokesFailureThresholdCallback(t *testing.T) {
	slow := func() Sample {
		time.Sleep(20 * time.Millisecond)
		return Sample{}
	}
	called := make(chan struct{}, 1)
	m := NewProcessMonitor(nil, slow, Thresholds{CPUPercent: 100, MemoryMegabytes: 1000}, 5*time.Millisecond, time.Millisecond, 2, func() {
		select {
		case called <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	select {
	case <-called:
	default:
		t.Fatal("expected onFailureThreshold to be invoked")
	}
}

func TestProcessMonitorSetError(t *testing.T) {
	m := NewProcessMonitor(nil, func() Sample { return Sample{} }, Thresholds{}, time.Second, time.Second, 1, nil)
	m.SetError("ethercat link down")
	require.Equal(t, HealthUnhealthy, m.Status())
	_, _, errMsg, _ := m.Details()
	assert.Equal(t, "ethercat link down", errMsg)
}
