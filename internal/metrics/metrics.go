// Package metrics exposes Prometheus collectors for HTTP traffic and journey progress.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coach"

// Metrics holds the collectors of one process. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	stepWrites      *prometheus.CounterVec
	stepSelections  *prometheus.CounterVec
	partialUnlocks  prometheus.Counter
	loadFallbacks   prometheus.Counter
	reconcileFixes  *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	topicSaves      *prometheus.CounterVec
	accountEvents   *prometheus.CounterVec
	emailDeliveries *prometheus.CounterVec
}

// New creates the collectors and registers them on registry. A nil registry
// gets a fresh one carrying the Go and process collectors.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}

	m := &Metrics{
		registry: registry,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"service", "method", "path"}),
		stepWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "step_writes_total",
			Help:      "Progress row upserts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		stepSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "step_selections_total",
			Help:      "Step navigation requests by outcome.",
		}, []string{"outcome"}),
		partialUnlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "partial_unlocks_total",
			Help:      "Completions whose next step unlock failed.",
		}),
		loadFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "load_fallbacks_total",
			Help:      "Progress reads that failed and fell back to cached or default state.",
		}),
		reconcileFixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "reconcile_fixes_total",
			Help:      "Rows rewritten by reconciliation, by reason.",
		}, []string{"reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "active_sessions",
			Help:      "Journey sessions currently held in memory.",
		}),
		topicSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "topics",
			Name:      "saves_total",
			Help:      "Topic answer saves by topic and outcome.",
		}, []string{"topic", "outcome"}),
		accountEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "events_total",
			Help:      "Account handler invocations by handler and outcome.",
		}, []string{"handler", "outcome"}),
		emailDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "deliveries_total",
			Help:      "Transactional email sends by template and outcome.",
		}, []string{"template", "outcome"}),
	}

	registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.stepWrites,
		m.stepSelections,
		m.partialUnlocks,
		m.loadFallbacks,
		m.reconcileFixes,
		m.activeSessions,
		m.topicSaves,
		m.accountEvents,
		m.emailDeliveries,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// HTTP
// =============================================================================

// IncrementInFlight increments the in-flight request gauge.
func (m *Metrics) IncrementInFlight() {
	if m != nil {
		m.httpInFlight.Inc()
	}
}

// DecrementInFlight decrements the in-flight request gauge.
func (m *Metrics) DecrementInFlight() {
	if m != nil {
		m.httpInFlight.Dec()
	}
}

// RecordHTTPRequest records a completed request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// =============================================================================
// Progress
// =============================================================================

// RecordStepWrite records a progress upsert. kind is "complete" or "unlock".
func (m *Metrics) RecordStepWrite(kind string, err error) {
	if m != nil {
		m.stepWrites.WithLabelValues(kind, outcome(err)).Inc()
	}
}

// RecordStepSelection records a navigation request.
func (m *Metrics) RecordStepSelection(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.stepSelections.WithLabelValues("accepted").Inc()
		return
	}
	m.stepSelections.WithLabelValues("gated").Inc()
}

// RecordPartialUnlock records a completion whose unlock write failed.
func (m *Metrics) RecordPartialUnlock() {
	if m != nil {
		m.partialUnlocks.Inc()
	}
}

// RecordLoadFallback records a failed progress read.
func (m *Metrics) RecordLoadFallback() {
	if m != nil {
		m.loadFallbacks.Inc()
	}
}

// RecordReconcileFix records one repaired row.
func (m *Metrics) RecordReconcileFix(reason string) {
	if m != nil {
		m.reconcileFixes.WithLabelValues(reason).Inc()
	}
}

// SetActiveSessions sets the in-memory session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}

// RecordTopicSave records a topic answer save.
func (m *Metrics) RecordTopicSave(topic string, err error) {
	if m != nil {
		m.topicSaves.WithLabelValues(topic, outcome(err)).Inc()
	}
}

// =============================================================================
// Accounts
// =============================================================================

// RecordAccountEvent records an account handler invocation.
func (m *Metrics) RecordAccountEvent(handler string, err error) {
	if m != nil {
		m.accountEvents.WithLabelValues(handler, outcome(err)).Inc()
	}
}

// RecordEmail records a transactional email send.
func (m *Metrics) RecordEmail(template string, err error) {
	if m != nil {
		m.emailDeliveries.WithLabelValues(template, outcome(err)).Inc()
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
