package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the HTTP surface.
type Metrics struct {
	registry *prometheus.Registry

	Executions    *prometheus.CounterVec
	Duration      prometheus.Histogram
	TraceRecords  prometheus.Counter
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	ReplayMatches *prometheus.CounterVec
}

// NewMetrics registers the collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_executions_total",
			Help: "Engine executions by final status.",
		}, []string{"status"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stepflow_execution_duration_seconds",
			Help:    "Wall time spent executing requests.",
			Buckets: prometheus.DefBuckets,
		}),
		TraceRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stepflow_trace_records_total",
			Help: "Trace records written.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stepflow_idempotency_cache_hits_total",
			Help: "Execute responses served from the idempotency cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stepflow_idempotency_cache_misses_total",
			Help: "Execute requests that missed the idempotency cache.",
		}),
		ReplayMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_replays_total",
			Help: "Replay requests by byte-identity outcome.",
		}, []string{"identical"}),
	}
	registry.MustRegister(m.Executions, m.Duration, m.TraceRecords, m.CacheHits, m.CacheMisses, m.ReplayMatches)
	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
