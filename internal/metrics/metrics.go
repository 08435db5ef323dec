package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botward",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by method, path, and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "botward",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	PolicyDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botward",
		Name:      "policy_decisions_total",
		Help:      "Total gate decisions by outcome and resolution source.",
	}, []string{"outcome", "source"})

	ApprovalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botward",
		Name:      "approvals_total",
		Help:      "Total approval resolutions by scope (once, bot, global, deny, timeout).",
	}, []string{"resolution"})

	PendingApprovals = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "botward",
		Name:      "pending_approvals",
		Help:      "Number of approval requests currently awaiting a human.",
	})

	AgentRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botward",
		Name:      "agent_runs_total",
		Help:      "Total agent runs by terminal status and trigger.",
	}, []string{"status", "trigger"})

	AgentRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "botward",
		Name:      "agent_run_duration_seconds",
		Help:      "Agent run wall-clock duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"trigger"})

	ToolInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botward",
		Name:      "tool_invocations_total",
		Help:      "Total tool invocations by tool key and outcome.",
	}, []string{"tool", "outcome"})

	StoreErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "botward",
		Name:      "policy_store_errors_total",
		Help:      "Policy store read failures that forced a fail-closed denial.",
	})
)

// Handler returns an http.Handler that serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware wraps an http.Handler to record request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		duration := time.Since(start).Seconds()

		path := normalizePath(r.URL.Path)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
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

// normalizePath buckets URL paths to avoid high cardinality.
// It keeps the first two path segments and replaces the rest with nothing,
// so /v1/agent/runs/run_123/steps records as /v1/agent.
func normalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	switch p {
	case "/healthz", "/readyz", "/metrics":
		return p
	}
	segments := 0
	for i := 1; i < len(p); i++ {
		if p[i] == '/' {
			segments++
			if segments >= 2 {
				return p[:i]
			}
		}
	}
	return p
}
