// Package observability exposes core activity as Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the server. Each instance
// carries its own registry so parallel tests never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Core activity
	EventsFired       *prometheus.CounterVec
	RequestsProcessed prometheus.Counter
	WorkQueueDepth    *prometheus.GaugeVec

	// Cache and alerting
	CacheHits       prometheus.Counter
	CacheStores     prometheus.Counter
	AlertsSubmitted prometheus.Counter
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	eventsFired := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_fired_total",
			Help:      "Total number of lifecycle events fired",
		},
		[]string{"event"},
	)

	requestsProcessed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_results_processed_total",
			Help:      "Total number of analysis results merged into roots",
		},
	)

	workQueueDepth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "work_queue_depth",
			Help:      "Analysis requests currently queued per work queue",
		},
		[]string{"queue"},
	)

	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of result cache hits",
		},
	)

	cacheStores := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_stores_total",
			Help:      "Total number of results stored in the cache",
		},
	)

	alertsSubmitted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_submitted_total",
			Help:      "Total number of roots dispatched to alert systems",
		},
	)

	registry.MustRegister(
		httpRequests,
		httpDuration,
		eventsFired,
		requestsProcessed,
		workQueueDepth,
		cacheHits,
		cacheStores,
		alertsSubmitted,
	)

	return &Metrics{
		registry:          registry,
		HTTPRequests:      httpRequests,
		HTTPDuration:      httpDuration,
		EventsFired:       eventsFired,
		RequestsProcessed: requestsProcessed,
		WorkQueueDepth:    workQueueDepth,
		CacheHits:         cacheHits,
		CacheStores:       cacheStores,
		AlertsSubmitted:   alertsSubmitted,
	}
}

// Registry returns the Prometheus registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
