package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Event("message.status", ResultStale)
	m.Event("message.status", ResultStale)
	m.Conflict()
	m.PendingDropped("expired")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("message.status", ResultStale)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pendingDrops.WithLabelValues("expired")))

	m.RegisterGauge("chatsync_test_gauge", "test gauge", func() float64 { return 42 })
	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "chatsync_test_gauge" {
			found = true
			assert.Equal(t, 42.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Event("x", ResultOK)
	m.Conflict()
	m.SendFailed()
	m.PendingDropped("overflow")
	m.PendingReplayed()
	m.Checkpoint(ResultOK)
	m.RegisterGauge("x", "y", func() float64 { return 0 })
}
