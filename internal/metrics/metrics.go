// Package metrics holds the Prometheus collectors exported by
// brokerlink-server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of collectors for one server instance. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	BackendCalls    *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
	RefreshFailures prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokerlink",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "brokerlink",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		BackendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokerlink",
			Name:      "backend_calls_total",
			Help:      "Calls to the aggregation backend, by operation and result.",
		}, []string{"op", "result"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "brokerlink",
			Name:      "backend_call_duration_seconds",
			Help:      "Aggregation backend call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brokerlink",
			Name:      "authorization_refresh_failures_total",
			Help:      "Best-effort authorization refreshes that failed.",
		}),
	}
	m.registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.BackendCalls,
		m.BackendDuration,
		m.RefreshFailures,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveBackend records one backend call.
func (m *Metrics) ObserveBackend(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BackendCalls.WithLabelValues(op, result).Inc()
	m.BackendDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RefreshFailed records one failed best-effort refresh.
func (m *Metrics) RefreshFailed() {
	if m == nil {
		return
	}
	m.RefreshFailures.Inc()
}
