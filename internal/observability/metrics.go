package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "imagery"

// Metrics holds the Prometheus counters, histograms, and gauges for the imagery service.
type Metrics struct {
	CacheLookups *prometheus.CounterVec // labels: result={hit,miss,stale}
	CacheEntries prometheus.Gauge
	PersistOps   *prometheus.CounterVec // labels: op={load,save}, outcome={success,error}

	// Upstream metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: source={radar,satellite,layer}, outcome={success,error}
	UpstreamDuration *prometheus.HistogramVec // labels: source

	Fallbacks *prometheus.CounterVec // labels: query={radar,satellite,tiles,animation}

	FrameUpdatesPublished *prometheus.CounterVec // labels: outcome={success,error}
	WarmRuns              *prometheus.CounterVec // labels: outcome={success,error}
}

func newMetrics() *Metrics {
	return &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Imagery cache lookups by result.",
		}, []string{"result"}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries currently held in the imagery cache.",
		}),
		PersistOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_persist_operations_total",
			Help:      "Cache persistence loads and saves by outcome.",
		}, []string{"op", "outcome"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Source adapter fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Source adapter fetch duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"source"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Queries answered with synthetic or empty results.",
		}, []string{"query"}),
		FrameUpdatesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_updates_published_total",
			Help:      "Radar frame update events published by outcome.",
		}, []string{"outcome"}),
		WarmRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warm_runs_total",
			Help:      "Cache warm-up runs by outcome.",
		}, []string{"outcome"}),
	}
}

// NewMetrics creates and registers all imagery metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CacheLookups,
		m.CacheEntries,
		m.PersistOps,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.Fallbacks,
		m.FrameUpdatesPublished,
		m.WarmRuns,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
