package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/labstream/errors"
)

func TestNewMetricsRegistryHasCoreMetrics(t *testing.T) {
	r := NewMetricsRegistry()

	require.NotNil(t, r.Engine)
	require.NotNil(t, r.PrometheusRegistry())

	// Core metrics must be registered and start at zero.
	r.Engine.SamplesPushed.WithLabelValues("test").Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(r.Engine.SamplesPushed.WithLabelValues("test")))
}

func TestRegisterCounterDuplicate(t *testing.T) {
	r := NewMetricsRegistry()

	c1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter_total"})
	require.NoError(t, r.RegisterCounter("outlet", "dup", c1))

	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "other_counter_total"})
	err := r.RegisterCounter("outlet", "dup", c2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestUnregister(t *testing.T) {
	r := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "temp_counter_total"})
	require.NoError(t, r.RegisterCounter("inlet", "temp", c))

	assert.True(t, r.Unregister("inlet", "temp"))
	assert.False(t, r.Unregister("inlet", "temp"))

	// Slot is free for re-registration after unregister.
	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "temp_counter_total"})
	assert.NoError(t, r.RegisterCounter("inlet", "temp", c2))
}

func TestHandlerServesExposition(t *testing.T) {
	r := NewMetricsRegistry()
	r.Engine.QueriesSent.Inc()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := make([]byte, 1<<20)
	n, _ := resp.Body.Read(buf)
	assert.Contains(t, string(buf[:n]), "labstream_discovery_queries_sent_total")
}
