package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for sampling runs. Each instance
// has its own registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Searches       *prometheus.CounterVec
	SearchResults  *prometheus.CounterVec
	DetailsFetched prometheus.Counter
	Recorded       *prometheus.CounterVec
	Rejected       *prometheus.CounterVec
	UnitsExhausted *prometheus.CounterVec
	QuotaUsed      prometheus.Gauge
	QuotaLimit     prometheus.Gauge
	TierCollected  *prometheus.GaugeVec
	TierTarget     *prometheus.GaugeVec
	EngineState    *prometheus.GaugeVec
	Runs           *prometheus.CounterVec
	RunDuration    prometheus.Histogram
}

// NewMetrics creates and registers the sampler collectors plus the standard
// Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shorts_sampler_searches_total",
				Help: "Search calls issued, by tier.",
			},
			[]string{"tier"},
		),
		SearchResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shorts_sampler_search_results_total",
				Help: "Search hits, by tier and whether they survived deduplication.",
			},
			[]string{"tier", "kind"},
		),
		DetailsFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shorts_sampler_details_fetched_total",
				Help: "Video details returned by the API.",
			},
		),
		Recorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shorts_sampler_records_total",
				Help: "Videos recorded, by tier.",
			},
			[]string{"tier"},
		),
		Rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shorts_sampler_rejected_total",
				Help: "Candidates discarded after the detail fetch, by tier and reason.",
			},
			[]string{"tier", "reason"},
		),
		UnitsExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shorts_sampler_units_exhausted_total",
				Help: "Search units marked exhausted, by tier.",
			},
			[]string{"tier"},
		),
		QuotaUsed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shorts_sampler_quota_used_units",
				Help: "API quota units spent in the current quota day.",
			},
		),
		QuotaLimit: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shorts_sampler_quota_limit_units",
				Help: "Daily API quota limit.",
			},
		),
		TierCollected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shorts_sampler_tier_collected",
				Help: "Videos collected so far, by tier.",
			},
			[]string{"tier"},
		),
		TierTarget: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shorts_sampler_tier_target",
				Help: "Target sample size, by tier.",
			},
			[]string{"tier"},
		),
		EngineState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shorts_sampler_engine_state",
				Help: "1 for the state the collection engine is in, 0 otherwise.",
			},
			[]string{"state"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shorts_sampler_runs_total",
				Help: "Finished runs, by outcome.",
			},
			[]string{"outcome"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shorts_sampler_run_duration_seconds",
				Help:    "Wall time of collection runs.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Searches,
		m.SearchResults,
		m.DetailsFetched,
		m.Recorded,
		m.Rejected,
		m.UnitsExhausted,
		m.QuotaUsed,
		m.QuotaLimit,
		m.TierCollected,
		m.TierTarget,
		m.EngineState,
		m.Runs,
		m.RunDuration,
	)
	return m
}

// SetState marks state as current and clears every other known state.
func (m *Metrics) SetState(state string, known []string) {
	for _, s := range known {
		m.EngineState.WithLabelValues(s).Set(0)
	}
	m.EngineState.WithLabelValues(state).Set(1)
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
