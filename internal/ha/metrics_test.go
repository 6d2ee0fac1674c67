package ha

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistersAndIncrements(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.SetCalls.Inc()
	m.EventsDropped.WithLabelValues("low").Inc()
	m.RestartCount.WithLabelValues("rtexec").Add(2)

	families, err := registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var found bool
	for _, fam := range families {
		if fam.GetName() == "rtstack_store_set_calls_total" {
			found = true
			require.Equal(t, dto.MetricType_COUNTER, fam.GetType())
			require.Equal(t, 1.0, fam.Metric[0].GetCounter().GetValue())
		}
	}
	require.True(t, found)
}
