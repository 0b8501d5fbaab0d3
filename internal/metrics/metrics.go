// Package metrics exposes locator and store API metrics via Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes recorded by the store sync.
const (
	FetchIssued  = "issued"
	FetchApplied = "applied"
	FetchStale   = "stale"
	FetchFailed  = "failed"
)

// Metrics holds the registry and collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	storeFetches        *prometheus.CounterVec
	storeFetchDuration  prometheus.Histogram
	markers             prometheus.Gauge
}

// New creates a fresh registry with every collector registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locator",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests served by the store API",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "locator",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the store API",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	storeFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locator",
		Name:      "store_fetches_total",
		Help:      "Store fetches by outcome (issued, applied, stale, failed)",
	}, []string{"outcome"})

	storeFetchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "locator",
		Name:      "store_fetch_duration_seconds",
		Help:      "Duration of store fetches from dispatch to result",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	markers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "locator",
		Name:      "store_markers",
		Help:      "Store markers currently attached to the map",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		storeFetches,
		storeFetchDuration,
		markers,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		storeFetches:        storeFetches,
		storeFetchDuration:  storeFetchDuration,
		markers:             markers,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncStoreFetch counts a fetch outcome.
func (m *Metrics) IncStoreFetch(outcome string) {
	if m == nil {
		return
	}
	m.storeFetches.WithLabelValues(outcome).Inc()
}

// ObserveStoreFetchDuration records how long a fetch took.
func (m *Metrics) ObserveStoreFetchDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.storeFetchDuration.Observe(d.Seconds())
}

// SetMarkers records the number of attached store markers.
func (m *Metrics) SetMarkers(n int) {
	if m == nil {
		return
	}
	m.markers.Set(float64(n))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
