package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion and scoring paths.
type Metrics struct {
	CyclesStarted   prometheus.Counter
	CyclesCompleted *prometheus.CounterVec // labels: outcome={success,partial,failed}
	CycleDuration   prometheus.Histogram
	CycleInFlight   prometheus.Gauge

	// Per-city fetch metrics.
	FetchRequests    *prometheus.CounterVec // labels: outcome={success,rate_limited,invalid_data,network_error}
	FetchDuration    prometheus.Histogram
	MeasurementsKept prometheus.Counter
	RecordsRejected  prometheus.Counter

	// Analysis path.
	ScoreRequests     *prometheus.CounterVec // labels: kind={risk,health}
	RegistryRefreshes prometheus.Counter
	RegistrySize      prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CyclesStarted,
		m.CyclesCompleted,
		m.CycleDuration,
		m.CycleInFlight,
		m.FetchRequests,
		m.FetchDuration,
		m.MeasurementsKept,
		m.RecordsRejected,
		m.ScoreRequests,
		m.RegistryRefreshes,
		m.RegistrySize,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_core",
			Name:      "ingest_cycles_started_total",
			Help:      "Total ingestion cycles started.",
		}),
		CyclesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aq_core",
			Name:      "ingest_cycles_completed_total",
			Help:      "Completed ingestion cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aq_core",
			Name:      "ingest_cycle_duration_seconds",
			Help:      "Duration of a complete ingestion cycle.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		CycleInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aq_core",
			Name:      "ingest_cycle_in_flight",
			Help:      "1 while an ingestion cycle is running.",
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aq_core",
			Name:      "provider_fetch_total",
			Help:      "Provider fetch attempts by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aq_core",
			Name:      "provider_fetch_duration_seconds",
			Help:      "Provider API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		MeasurementsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_core",
			Name:      "measurements_stored_total",
			Help:      "Measurements written to the store.",
		}),
		RecordsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_core",
			Name:      "measurements_rejected_total",
			Help:      "Measurements rejected for missing usable pollutants.",
		}),
		ScoreRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aq_core",
			Name:      "score_requests_total",
			Help:      "Analysis requests by kind.",
		}, []string{"kind"}),
		RegistryRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_core",
			Name:      "algorithm_registry_refreshes_total",
			Help:      "Algorithm registry refreshes from the store.",
		}),
		RegistrySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aq_core",
			Name:      "algorithm_registry_size",
			Help:      "Number of algorithm definitions currently loaded.",
		}),
	}
}
