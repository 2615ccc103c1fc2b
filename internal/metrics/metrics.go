// Package metrics exposes Prometheus instruments for the tracker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every instrument. A nil *Manager is valid and records
// nothing, which keeps tests and offline tools free of registry setup.
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	pollCycles       *prometheus.CounterVec
	pollInterval     prometheus.Gauge
	fetchFailures    *prometheus.CounterVec
	schemaDrops      *prometheus.CounterVec
	matchesApplied   prometheus.Counter
	seriesCompleted  prometheus.Counter
	corrections      prometheus.Counter
	abandoned        prometheus.Counter
	evictions        prometheus.Counter
	liveSeries       prometheus.Gauge
	completedSeries  prometheus.Gauge
	oddsLookups      *prometheus.CounterVec
	publishDrops     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
	cycleDuration    prometheus.Histogram
	snapshotDuration prometheus.Histogram
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace overrides the metric namespace.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		m.namespace = ns
	}
}

// WithRegistry registers the instruments on a caller-owned registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		m.registry = r
	}
}

// NewManager builds the instruments on a private registry by default.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "aegis",
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)

	m.pollCycles = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "poller", Name: "cycles_total",
		Help: "Poll cycles by outcome",
	}, []string{"outcome"})
	m.pollInterval = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "poller", Name: "interval_seconds",
		Help: "Currently scheduled delay before the next cycle",
	})
	m.cycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "poller", Name: "cycle_duration_seconds",
		Help: "Wall time of one fetch-normalize-reconcile cycle", Buckets: prometheus.DefBuckets,
	})
	m.fetchFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "ingest", Name: "fetch_failures_total",
		Help: "Failed upstream fetches by provider",
	}, []string{"provider"})
	m.schemaDrops = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "ingest", Name: "schema_drops_total",
		Help: "Payloads dropped for missing required fields",
	}, []string{"provider"})
	m.matchesApplied = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "tracker", Name: "matches_applied_total",
		Help: "Normalized matches fed to the series tracker",
	})
	m.seriesCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "tracker", Name: "series_completed_total",
		Help: "Series that reached their winning count",
	})
	m.corrections = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "tracker", Name: "score_corrections_total",
		Help: "Finished matches whose reported winner changed",
	})
	m.abandoned = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "tracker", Name: "unresolved_matches_total",
		Help: "Matches finalized without a winner after the timeout",
	})
	m.evictions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "cache", Name: "evictions_total",
		Help: "Series evicted from memory",
	})
	m.liveSeries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "cache", Name: "live_series",
		Help: "Series currently in the live projection",
	})
	m.completedSeries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "cache", Name: "completed_series",
		Help: "Series currently in the completed projection",
	})
	m.snapshotDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "cache", Name: "snapshot_duration_seconds",
		Help: "Time spent persisting cache documents", Buckets: prometheus.DefBuckets,
	})
	m.oddsLookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "odds", Name: "lookups_total",
		Help: "Kill threshold lookups by outcome",
	}, []string{"outcome"})
	m.publishDrops = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "publisher", Name: "dropped_events_total",
		Help: "Events dropped because a sink was saturated or failed",
	}, []string{"sink"})
	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "requests_total",
		Help: "REST requests by route and status",
	}, []string{"route", "status"})
	m.httpLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help: "REST request latency", Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Manager) RecordCycle(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(took.Seconds())
}

func (m *Manager) SetPollInterval(d time.Duration) {
	if m == nil {
		return
	}
	m.pollInterval.Set(d.Seconds())
}

func (m *Manager) RecordFetchFailure(provider string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(provider).Inc()
}

func (m *Manager) RecordSchemaDrop(provider string) {
	if m == nil {
		return
	}
	m.schemaDrops.WithLabelValues(provider).Inc()
}

func (m *Manager) RecordMatchApplied() {
	if m == nil {
		return
	}
	m.matchesApplied.Inc()
}

func (m *Manager) RecordSeriesCompleted() {
	if m == nil {
		return
	}
	m.seriesCompleted.Inc()
}

func (m *Manager) RecordCorrection() {
	if m == nil {
		return
	}
	m.corrections.Inc()
}

func (m *Manager) RecordUnresolved() {
	if m == nil {
		return
	}
	m.abandoned.Inc()
}

func (m *Manager) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *Manager) SetSeriesCounts(live, completed int) {
	if m == nil {
		return
	}
	m.liveSeries.Set(float64(live))
	m.completedSeries.Set(float64(completed))
}

func (m *Manager) ObserveSnapshot(took time.Duration) {
	if m == nil {
		return
	}
	m.snapshotDuration.Observe(took.Seconds())
}

func (m *Manager) RecordOddsLookup(outcome string) {
	if m == nil {
		return
	}
	m.oddsLookups.WithLabelValues(outcome).Inc()
}

func (m *Manager) RecordPublishDrop(sink string) {
	if m == nil {
		return
	}
	m.publishDrops.WithLabelValues(sink).Inc()
}

func (m *Manager) ObserveHTTP(route, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, status).Inc()
	m.httpLatency.WithLabelValues(route).Observe(took.Seconds())
}
