// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry bookkeeping.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	IngestRunsTotal     *prometheus.CounterVec
	IngestDuration      *prometheus.HistogramVec
	QueriesTotal        *prometheus.CounterVec
	QueryLatency        prometheus.Histogram
	StageDegradedTotal  *prometheus.CounterVec
	ChunksEmbeddedTotal prometheus.Counter
	GraphMergesTotal    prometheus.Counter
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
}

// New creates and registers all collectors with the default registry.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		IngestRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Total document ingestion runs by outcome (ready, failed, skipped).",
			},
			[]string{"outcome"},
		),
		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_duration_seconds",
				Help:    "Document ingestion duration in seconds by outcome.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queries_total",
				Help: "Total answered queries by outcome (ok, degraded, error).",
			},
			[]string{"outcome"},
		),
		QueryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "query_latency_seconds",
				Help:    "End to end query latency in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		StageDegradedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_stage_degraded_total",
				Help: "Query stages that fell back to degraded behavior, by stage.",
			},
			[]string{"stage"},
		),
		ChunksEmbeddedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chunks_embedded_total",
				Help: "Total chunks embedded.",
			},
		),
		GraphMergesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "graph_merges_total",
				Help: "Total chunk extractions merged into the knowledge graph.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total graph view cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total graph view cache misses.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.IngestRunsTotal,
		m.IngestDuration,
		m.QueriesTotal,
		m.QueryLatency,
		m.StageDegradedTotal,
		m.ChunksEmbeddedTotal,
		m.GraphMergesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

func (m *Metrics) ObserveIngest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.IngestRunsTotal.WithLabelValues(outcome).Inc()
	m.IngestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveQuery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	m.QueryLatency.Observe(d.Seconds())
}

func (m *Metrics) StageDegraded(stage string) {
	if m == nil {
		return
	}
	m.StageDegradedTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) AddChunksEmbedded(n int) {
	if m == nil {
		return
	}
	m.ChunksEmbeddedTotal.Add(float64(n))
}

func (m *Metrics) AddGraphMerges(n int) {
	if m == nil {
		return
	}
	m.GraphMergesTotal.Add(float64(n))
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
