// Package observability provides Prometheus metrics, request logging, and
// HTTP middleware.
//
// Uses github.com/prometheus/client_golang - the official Prometheus client.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fulfillment engine.
// Metrics are automatically registered via promauto.
//
// Key metrics for monitoring:
//   - dispatches_total: dispatch attempts by result
//   - transitions_total: state machine transitions by source and target
//   - transitions_dropped_total: writes rejected by the monotonic guard
//   - provider_call_duration_seconds: external API latency
//   - circuit_breaker_state: provider health (0=ok, 2=failing)
type Metrics struct {
	DispatchesTotal     *prometheus.CounterVec
	TransitionsTotal    *prometheus.CounterVec
	TransitionsDropped  *prometheus.CounterVec
	OutcomesTotal       *prometheus.CounterVec
	WebhooksReceived    prometheus.Counter
	WebhooksRejected    prometheus.Counter
	ReconcileBatchSize  prometheus.Histogram
	ReconcileForcedFail prometheus.Counter
	ProviderCallSeconds *prometheus.HistogramVec
	RateLimiterDenied   *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// The namespace prefixes all metric names (e.g., "fulfillment_dispatches_total").
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		DispatchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Total dispatch attempts by provider and result",
		}, []string{"provider", "result"}),
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total accepted status transitions by source and target status",
		}, []string{"source", "status"}),
		TransitionsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_dropped_total",
			Help:      "Transitions rejected by the monotonic guard or lost to a concurrent writer",
		}, []string{"source", "reason"}),
		OutcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Terminal fulfillment outcomes notified to the order store",
		}, []string{"status"}),
		WebhooksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_received_total",
			Help:      "Webhook requests passing signature verification",
		}),
		WebhooksRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_rejected_total",
			Help:      "Webhook requests rejected for a missing or invalid signature",
		}),
		ReconcileBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_batch_size",
			Help:      "Records processed per reconciliation run",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		ReconcileForcedFail: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_forced_failures_total",
			Help:      "Records forced to failed after exhausting the retry cap",
		}),
		ProviderCallSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of external provider API calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider", "operation"}),
		RateLimiterDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limiter_denied_total",
			Help:      "Outbound calls denied by the provider rate limiter",
		}, []string{"provider"}),
		CircuitBreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Current state of the provider circuit breaker (0=closed, 1=half-open, 2=open)",
		}, []string{"provider"}),
		CircuitBreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Times the provider circuit breaker tripped to open",
		}, []string{"provider"}),
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method and path",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}
