// Package metrics provides Prometheus metrics for the portal and the
// identity exchange backend.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kosning_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kosning_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Registration flow metrics
	flowOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kosning_registration_flows_total",
			Help: "Total number of finished registration flows",
		},
		[]string{"outcome", "reason"}, // outcome: "complete", "failed"
	)

	activeFlowsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kosning_registration_flows_active",
			Help: "Number of registration flows in progress",
		},
	)

	// Upstream call metrics
	upstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kosning_upstream_calls_total",
			Help: "Total number of calls to upstream services",
		},
		[]string{"service", "result"}, // result: "ok" or an error code
	)

	upstreamCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kosning_upstream_call_duration_seconds",
			Help:    "Upstream call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"service"},
	)

	eligibilityChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kosning_eligibility_checks_total",
			Help: "Total number of eligibility checks",
		},
		[]string{"outcome"}, // "eligible", "ineligible", "invalid", "unreachable"
	)

	linkAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kosning_link_attempts_total",
			Help: "Total number of secondary provider link attempts",
		},
		[]string{"provider", "result"},
	)

	signInsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kosning_linked_sign_ins_total",
			Help: "Total number of sign-ins with a linked provider credential",
		},
		[]string{"provider", "result"},
	)

	customTokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kosning_custom_tokens_issued_total",
			Help: "Total number of session credentials issued by the exchange",
		},
	)

	activeSessionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kosning_active_sessions",
			Help: "Number of sessions tracked by the session observer",
		},
	)

	// Rate limiting metrics
	rateLimitExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kosning_rate_limit_exceeded_total",
			Help: "Total number of rate limit exceeded events",
		},
		[]string{"endpoint"},
	)

	lookupLockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kosning_eligibility_lockouts_total",
			Help: "Total number of sessions locked out of eligibility lookups",
		},
	)
)

// RecordFlowOutcome records a finished registration flow. reason is empty
// for completed flows.
func RecordFlowOutcome(outcome, reason string) {
	flowOutcomesTotal.WithLabelValues(outcome, reason).Inc()
}

// SetActiveFlows sets the number of registration flows in progress.
func SetActiveFlows(count int) {
	activeFlowsGauge.Set(float64(count))
}

// ObserveUpstream records one upstream call.
func ObserveUpstream(service, code string, ok bool, d time.Duration) {
	result := "ok"
	if !ok {
		result = code
	}
	upstreamCallsTotal.WithLabelValues(service, result).Inc()
	upstreamCallDuration.WithLabelValues(service).Observe(d.Seconds())
}

// RecordEligibility records an eligibility check outcome.
func RecordEligibility(outcome string) {
	eligibilityChecksTotal.WithLabelValues(outcome).Inc()
}

// RecordLink records a secondary provider link attempt.
func RecordLink(provider, result string) {
	linkAttemptsTotal.WithLabelValues(provider, result).Inc()
}

// RecordSignIn records a sign-in attempt with a linked credential.
func RecordSignIn(provider, result string) {
	signInsTotal.WithLabelValues(provider, result).Inc()
}

// RecordCustomTokenIssued records a session credential being issued.
func RecordCustomTokenIssued() {
	customTokensIssuedTotal.Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event.
func RecordRateLimitExceeded(endpoint string) {
	rateLimitExceededTotal.WithLabelValues(endpoint).Inc()
}

// RecordLookupLockout records a session being locked out of lookups.
func RecordLookupLockout() {
	lookupLockoutsTotal.Inc()
}

// SetActiveSessions sets the number of active sessions.
func SetActiveSessions(count int) {
	activeSessionsGauge.Set(float64(count))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

var knownPaths = map[string]bool{
	"/healthz":                    true,
	"/readyz":                     true,
	"/metrics":                    true,
	"/auth/csrf":                  true,
	"/auth/kenni/start":           true,
	"/auth/google/start":          true,
	"/auth/google/callback":       true,
	"/auth/callback":              true,
	"/auth/flow":                  true,
	"/auth/popup/dismiss":         true,
	"/auth/signout":               true,
	"/auth/dev/eligibility-login": true,
	"/api/me":                     true,
	"/api/eligibility":            true,
	"/createVerifiedUser":         true,
	"/update_user_profile":        true,
	"/.well-known/jwks.json":      true,
}

// normalizePath collapses unknown paths to keep label cardinality bounded.
func normalizePath(path string) string {
	if knownPaths[path] {
		return path
	}
	if strings.HasPrefix(path, "/auth/popup/") && strings.HasSuffix(path, "/callback") {
		return "/auth/popup/{provider}/callback"
	}
	return "/other"
}
