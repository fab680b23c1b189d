package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes overlay metrics that are safe to scrape via Prometheus. A
// nil *Metrics is valid and records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	markers             prometheus.Gauge
	skipped             *prometheus.CounterVec
	repositionDuration  prometheus.Histogram
	repositionSkipped   prometheus.Counter
	activations         *prometheus.CounterVec
	staleCallbacks      prometheus.Counter
	auditIssues         *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP and overlay metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by the debug server",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "overlay",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the debug server",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	markers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "overlay",
		Name:      "markers",
		Help:      "Number of markers currently rendered",
	})

	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Name:      "locations_skipped_total",
		Help:      "Location records skipped while rendering markers",
	}, []string{"reason"})

	repositionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "overlay",
		Name:      "reposition_duration_seconds",
		Help:      "Duration of a full marker re-projection pass",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.032},
	})

	repositionSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlay",
		Name:      "reposition_skipped_total",
		Help:      "Re-projection passes skipped because the viewport was not ready",
	})

	activations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Name:      "activations_total",
		Help:      "Marker activations by outcome",
	}, []string{"outcome"})

	staleCallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlay",
		Name:      "stale_callbacks_total",
		Help:      "Handlers and timers that fired after their marker set was replaced",
	})

	auditIssues := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Name:      "audit_issues_total",
		Help:      "Visibility issues found by audits",
	}, []string{"category", "fixed"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		markers,
		skipped,
		repositionDuration,
		repositionSkipped,
		activations,
		staleCallbacks,
		auditIssues,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		markers:             markers,
		skipped:             skipped,
		repositionDuration:  repositionDuration,
		repositionSkipped:   repositionSkipped,
		activations:         activations,
		staleCallbacks:      staleCallbacks,
		auditIssues:         auditIssues,
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

// SetMarkers records the current marker count.
func (m *Metrics) SetMarkers(n int) {
	if m == nil {
		return
	}
	m.markers.Set(float64(n))
}

// IncSkipped counts a location skipped during rendering.
func (m *Metrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

// ObserveReposition records the duration of one re-projection pass.
func (m *Metrics) ObserveReposition(duration time.Duration) {
	if m == nil {
		return
	}
	m.repositionDuration.Observe(duration.Seconds())
}

// IncRepositionSkipped counts a pass skipped for an unready viewport.
func (m *Metrics) IncRepositionSkipped() {
	if m == nil {
		return
	}
	m.repositionSkipped.Inc()
}

// IncActivation counts an activation outcome: opened, closed, recentered or failed.
func (m *Metrics) IncActivation(outcome string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(outcome).Inc()
}

// IncStale counts a callback that fired for a replaced marker set.
func (m *Metrics) IncStale() {
	if m == nil {
		return
	}
	m.staleCallbacks.Inc()
}

// ObserveAuditIssue counts one audit finding.
func (m *Metrics) ObserveAuditIssue(category string, fixed bool) {
	if m == nil {
		return
	}
	m.auditIssues.WithLabelValues(category, strconv.FormatBool(fixed)).Inc()
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
