// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for ProviderRequests.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
	OutcomePartial = "partial"
)

var (
	// Provider metrics
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Provider calls by outcome",
		},
		[]string{"provider", "outcome"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Time spent in one provider call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Aggregator metrics
	Fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_fallbacks_total",
			Help: "Times the secondary provider was consulted",
		},
		[]string{"kind"},
	)

	// API metrics
	APIRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Manual rate store
	StoreOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manualrate_operations_total",
			Help: "Manual rate store operations",
		},
		[]string{"operation", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ProviderRequests, ProviderLatency,
		Fallbacks,
		APIRequestTotal, APIRequestDuration,
		StoreOperations,
	)
}

// ObserveProvider records one provider call.
func ObserveProvider(name, outcome string, started time.Time) {
	ProviderRequests.WithLabelValues(name, outcome).Inc()
	ProviderLatency.WithLabelValues(name).Observe(time.Since(started).Seconds())
}

// Status returns "success" or "error" for store metrics.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
