package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains the engine-level metric set shared by all
// outlets, inlets and resolvers of one engine instance.
type EngineMetrics struct {
	// Transport metrics
	SamplesPushed   *prometheus.CounterVec
	SamplesPulled   *prometheus.CounterVec
	SamplesDropped  *prometheus.CounterVec
	ChunksSent      *prometheus.CounterVec
	ConsumersActive *prometheus.GaugeVec
	Reconnects      *prometheus.CounterVec

	// Discovery metrics
	QueriesSent      prometheus.Counter
	RepliesReceived  prometheus.Counter
	RepliesTruncated prometheus.Counter
	StreamsVisible   prometheus.Gauge

	// Clock synchronization metrics
	ClockOffset   *prometheus.GaugeVec
	ClockProbeRTT prometheus.Histogram
}

// NewEngineMetrics creates the engine metric set. Registration happens
// separately so tests can construct the set without a registry.
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		SamplesPushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labstream",
				Subsystem: "transport",
				Name:      "samples_pushed_total",
				Help:      "Total number of samples pushed into outlets",
			},
			[]string{"stream"},
		),

		SamplesPulled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labstream",
				Subsystem: "transport",
				Name:      "samples_pulled_total",
				Help:      "Total number of samples delivered from inlets",
			},
			[]string{"stream"},
		),

		SamplesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labstream",
				Subsystem: "transport",
				Name:      "samples_dropped_total",
				Help:      "Total number of samples evicted from transport buffers",
			},
			[]string{"stream", "side"},
		),

		ChunksSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labstream",
				Subsystem: "transport",
				Name:      "chunks_sent_total",
				Help:      "Total number of chunk frames transmitted",
			},
			[]string{"stream"},
		),

		ConsumersActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "labstream",
				Subsystem: "transport",
				Name:      "consumers_active",
				Help:      "Number of inlets currently connected to an outlet",
			},
			[]string{"stream"},
		),

		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labstream",
				Subsystem: "transport",
				Name:      "session_reconnects_total",
				Help:      "Total number of silent session recoveries performed",
			},
			[]string{"stream"},
		),

		QueriesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "labstream",
				Subsystem: "discovery",
				Name:      "queries_sent_total",
				Help:      "Total number of resolver query datagrams sent",
			},
		),

		RepliesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "labstream",
				Subsystem: "discovery",
				Name:      "replies_received_total",
				Help:      "Total number of resolver reply datagrams received",
			},
		),

		RepliesTruncated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "labstream",
				Subsystem: "discovery",
				Name:      "replies_truncated_total",
				Help:      "Total number of replies discarded because the result cap was reached",
			},
		),

		StreamsVisible: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "labstream",
				Subsystem: "discovery",
				Name:      "streams_visible",
				Help:      "Number of streams currently visible to continuous resolvers",
			},
		),

		ClockOffset: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "labstream",
				Subsystem: "sync",
				Name:      "clock_offset_seconds",
				Help:      "Most recent estimated clock offset to the remote outlet",
			},
			[]string{"stream"},
		),

		ClockProbeRTT: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "labstream",
				Subsystem: "sync",
				Name:      "clock_probe_rtt_seconds",
				Help:      "Round-trip time of clock synchronization probes",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
			},
		),
	}
}

// register adds all engine metrics to the given Prometheus registry.
func (m *EngineMetrics) register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.SamplesPushed,
		m.SamplesPulled,
		m.SamplesDropped,
		m.ChunksSent,
		m.ConsumersActive,
		m.Reconnects,
		m.QueriesSent,
		m.RepliesReceived,
		m.RepliesTruncated,
		m.StreamsVisible,
		m.ClockOffset,
		m.ClockProbeRTT,
	)
}
