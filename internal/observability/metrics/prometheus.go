// Package metrics provides Prometheus metrics for the analysis service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. Construct it once per process;
// registration on the default registry panics on duplicates.
type Metrics struct {
	// HTTP surface.
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Analysis outcomes.
	AnalysesTotal       *prometheus.CounterVec
	InteractionsFlagged *prometheus.CounterVec
	DosageIssues        *prometheus.CounterVec

	// Model gateway.
	ModelQueries     *prometheus.CounterVec
	ModelCacheHits   prometheus.Counter
	ModelCacheMisses prometheus.Counter

	// Drug reference API.
	ReferenceLookups *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rxcheck",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code",
		}, []string{"endpoint", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rxcheck",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by endpoint",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rxcheck",
			Name:      "analyses_total",
			Help:      "Prescription analyses by kind",
		}, []string{"kind"}),
		InteractionsFlagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rxcheck",
			Name:      "interactions_flagged_total",
			Help:      "Drug interactions reported, by severity",
		}, []string{"severity"}),
		DosageIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rxcheck",
			Name:      "dosage_issues_total",
			Help:      "Dosage verification issues, by severity",
		}, []string{"severity"}),
		ModelQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rxcheck",
			Name:      "model_queries_total",
			Help:      "Model gateway calls by outcome",
		}, []string{"outcome"}),
		ModelCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rxcheck",
			Name:      "model_cache_hits_total",
			Help:      "Model responses served from the LRU cache",
		}),
		ModelCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rxcheck",
			Name:      "model_cache_misses_total",
			Help:      "Model cache lookups that missed",
		}),
		ReferenceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rxcheck",
			Name:      "reference_lookups_total",
			Help:      "Drug reference API calls by outcome",
		}, []string{"outcome"}),
	}

	prometheus.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.AnalysesTotal,
		m.InteractionsFlagged,
		m.DosageIssues,
		m.ModelQueries,
		m.ModelCacheHits,
		m.ModelCacheMisses,
		m.ReferenceLookups,
	)

	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
