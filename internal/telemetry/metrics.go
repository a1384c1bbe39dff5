// Package telemetry provides observability primitives for the Himmi gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	FallbacksTotal   *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	TokensProcessed  *prometheus.CounterVec
	CreditsCharged   *prometheus.CounterVec
	SettlementsTotal *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "himmi",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "himmi",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "himmi",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "himmi",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream provider call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"provider", "model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "himmi",
			Name:      "upstream_errors_total",
			Help:      "Total upstream provider errors.",
		}, []string{"provider"}),

		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "himmi",
			Name:      "fallbacks_total",
			Help:      "Total fallback attempts after an upstream failure.",
		}, []string{"outcome"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "himmi",
			Name:      "semcache_hits_total",
			Help:      "Total semantic cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "himmi",
			Name:      "semcache_misses_total",
			Help:      "Total semantic cache misses.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "himmi",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		CreditsCharged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "himmi",
			Name:      "credits_charged_usd_total",
			Help:      "Total USD charged against tenant balances.",
		}, []string{"provider"}),

		SettlementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "himmi",
			Name:      "settlements_total",
			Help:      "Total settlement transactions by outcome.",
		}, []string{"outcome"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "himmi",
			Name:      "worker_queue_depth",
			Help:      "Current depth of background worker queues.",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.FallbacksTotal,
		m.CacheHits,
		m.CacheMisses,
		m.TokensProcessed,
		m.CreditsCharged,
		m.SettlementsTotal,
		m.QueueDepth,
	)

	return m
}
