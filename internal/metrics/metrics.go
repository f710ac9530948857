// Package metrics exposes scheduler counters to Prometheus. All methods are
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "classched"

type Metrics struct {
	schedules       *prometheus.CounterVec
	enqueueAttempts prometheus.Counter
	cancels         *prometheus.CounterVec
	autoCancels     *prometheus.CounterVec
	jobsByPhase     *prometheus.GaugeVec
	degradedOverdue prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	gatherer        prometheus.Gatherer
}

// New registers the collectors with reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		schedules: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedules_total",
			Help:      "Schedule requests by outcome (ok, degraded, unavailable, rejected, invalid).",
		}, []string{"outcome"}),
		enqueueAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_attempts_total",
			Help:      "Calls made to the task backend to create tasks.",
		}),
		cancels: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancels_total",
			Help:      "Cancellations by outcome (removed, absent, external_failed).",
		}, []string{"outcome"}),
		autoCancels: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_cancel_evaluations_total",
			Help:      "Auto-cancel evaluations by result (cancelled, kept, error).",
		}, []string{"result"}),
		jobsByPhase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Stored jobs by phase at the last sweep.",
		}, []string{"phase"}),
		degradedOverdue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded_overdue_jobs",
			Help:      "Jobs without a backend task whose dispatch time has passed.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Schedule(outcome string) {
	if m == nil {
		return
	}
	m.schedules.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EnqueueAttempt() {
	if m == nil {
		return
	}
	m.enqueueAttempts.Inc()
}

func (m *Metrics) Cancel(outcome string) {
	if m == nil {
		return
	}
	m.cancels.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AutoCancel(result string) {
	if m == nil {
		return
	}
	m.autoCancels.WithLabelValues(result).Inc()
}

// SetPhaseCounts replaces the per-phase gauges.
func (m *Metrics) SetPhaseCounts(counts map[string]int, degradedOverdue int) {
	if m == nil {
		return
	}
	m.jobsByPhase.Reset()
	for phase, n := range counts {
		m.jobsByPhase.WithLabelValues(phase).Set(float64(n))
	}
	m.degradedOverdue.Set(float64(degradedOverdue))
}

func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
