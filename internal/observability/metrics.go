package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	loginAttempts   *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	sessionsEvicted prometheus.Counter
	sessionsExpired prometheus.Counter
	sessionsSwept   prometheus.Counter
	accessDecisions *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aula_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aula_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aula_login_attempts_total",
		Help: "Login attempts by result.",
	}, []string{"result"})
	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aula_registrations_total",
		Help: "Registration attempts by result.",
	}, []string{"result"})
	evicted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aula_sessions_evicted_total",
		Help: "Sessions evicted because the per-user cap was reached.",
	})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aula_sessions_expired_total",
		Help: "Sessions discarded after idle or lifetime expiry.",
	})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aula_sessions_swept_total",
		Help: "Expired session entries removed by the background sweep.",
	})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aula_access_decisions_total",
		Help: "Access policy decisions by outcome.",
	}, []string{"decision"})
	registry.MustRegister(requests, duration, logins, registrations, evicted, expired, swept, decisions)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		loginAttempts:   logins,
		registrations:   registrations,
		sessionsEvicted: evicted,
		sessionsExpired: expired,
		sessionsSwept:   swept,
		accessDecisions: decisions,
	}
}

// Handler returns the http.Handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// LoginAttempt counts a login outcome such as "success" or "failure".
func (m *Metrics) LoginAttempt(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

// Registration counts a registration outcome.
func (m *Metrics) Registration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

// SessionsEvicted adds n evicted sessions.
func (m *Metrics) SessionsEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsEvicted.Add(float64(n))
}

// SessionExpired counts one expired session.
func (m *Metrics) SessionExpired() {
	if m == nil {
		return
	}
	m.sessionsExpired.Inc()
}

// SessionsSwept adds n entries removed by a sweep.
func (m *Metrics) SessionsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsSwept.Add(float64(n))
}

// AccessDecision counts an access policy outcome.
func (m *Metrics) AccessDecision(decision string) {
	if m == nil {
		return
	}
	m.accessDecisions.WithLabelValues(decision).Inc()
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
