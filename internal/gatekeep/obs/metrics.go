// Package obs holds the Prometheus instrumentation for the engine.
package obs

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatekeep"

// Metrics is the set of collectors exported by one engine instance.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	tokenValidations *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	auditEvents      *prometheus.CounterVec
	sessionEvictions prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Access token validations by result code.",
		}, []string{"result"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Refresh token rotations by result code.",
		}, []string{"result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Authorization decisions by outcome and deciding stage.",
		}, []string{"allowed", "reason"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit events emitted by kind.",
		}, []string{"kind"}),
		sessionEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_evictions_total",
			Help:      "Sessions evicted by the concurrent session limit.",
		}),
	}

	reg.MustRegister(
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.tokenValidations,
		m.tokenRefreshes,
		m.decisions,
		m.auditEvents,
		m.sessionEvictions,
	)
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveValidation counts one access token validation. result is "ok" or
// the lower-cased error code.
func (m *Metrics) ObserveValidation(result string) {
	if m == nil {
		return
	}
	m.tokenValidations.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDecision(allowed bool, reason string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(strconv.FormatBool(allowed), reason).Inc()
}

func (m *Metrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.sessionEvictions.Inc()
}

// Instrument records request count, latency and in-flight requests. The path
// label is the matched route pattern so ids never explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(sw.code)

		m.httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// AuditCounter counts events by kind before passing them on.
type AuditCounter struct {
	Metrics *Metrics
	Next    audit.Emitter
}

func (c AuditCounter) Emit(ctx context.Context, ev audit.Event) error {
	if c.Metrics != nil {
		c.Metrics.auditEvents.WithLabelValues(string(ev.Kind)).Inc()
	}
	if c.Next == nil {
		return nil
	}
	return c.Next.Emit(ctx, ev)
}

// ResultLabel turns an operation error into a low-cardinality label.
func ResultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := domain.CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}
