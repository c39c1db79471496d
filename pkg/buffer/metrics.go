package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/labstream/metric"
)

// ringMetrics holds the Prometheus view of a buffer's statistics.
type ringMetrics struct {
	writes    prometheus.Counter
	reads     prometheus.Counter
	overflows prometheus.Counter
	drops     prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

// newRingMetrics creates and registers buffer metrics with the given
// registry under the component label.
func newRingMetrics(registry *metric.MetricsRegistry, component string) (*ringMetrics, error) {
	labels := prometheus.Labels{"component": component}

	m := &ringMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "labstream",
			Subsystem:   "buffer",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Total number of buffer write operations",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "labstream",
			Subsystem:   "buffer",
			Name:        "reads_total",
			ConstLabels: labels,
			Help:        "Total number of buffer read operations",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "labstream",
			Subsystem:   "buffer",
			Name:        "overflows_total",
			ConstLabels: labels,
			Help:        "Total number of buffer overflow events",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "labstream",
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Total number of items dropped due to overflow or cursor eviction",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "labstream",
			Subsystem:   "buffer",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of items in the buffer",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "labstream",
			Subsystem:   "buffer",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Buffer fill level as a fraction of capacity",
		}),
	}

	counters := map[string]prometheus.Counter{
		"writes":    m.writes,
		"reads":     m.reads,
		"overflows": m.overflows,
		"drops":     m.drops,
	}
	for name, c := range counters {
		if err := registry.RegisterCounter(component, name, c); err != nil {
			return nil, err
		}
	}

	gauges := map[string]prometheus.Gauge{
		"size":        m.size,
		"utilization": m.utilization,
	}
	for name, g := range gauges {
		if err := registry.RegisterGauge(component, name, g); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *ringMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *ringMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *ringMetrics) recordOverflow() {
	m.overflows.Inc()
}

func (m *ringMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *ringMetrics) recordDrops(n int) {
	m.drops.Add(float64(n))
}

func (m *ringMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	if capacity > 0 {
		m.utilization.Set(float64(size) / float64(capacity))
	}
}
