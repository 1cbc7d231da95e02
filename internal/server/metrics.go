// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// metricsRegistry is the registration surface the server needs. A
// *prometheus.Registry satisfies it; tests inject a fresh one so runs stay
// hermetic.
type metricsRegistry interface {
	prometheus.Registerer
}

// promGatherer is satisfied by registries that can also serve /metrics.
type promGatherer interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// registryOrDefault falls back to the process-global default registerer when
// no registry was injected.
func registryOrDefault(reg metricsRegistry) prometheus.Registerer {
	if reg == nil {
		return prometheus.DefaultRegisterer
	}
	return reg
}

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// runRequestsTotal counts completed /api/run requests, partitioned by
	// outcome: "ok", "bad_request", "fetch_error", "extraction_error",
	// "index_not_ready", or "error".
	runRequestsTotal *prometheus.CounterVec

	// runDurationSeconds records the wall-clock duration of each /api/run
	// request across the whole pipeline.
	runDurationSeconds *prometheus.HistogramVec

	// runQuestionsTotal counts questions answered across all runs.
	runQuestionsTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		runRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "run",
			Name:      "requests_total",
			Help:      "Total number of /api/run requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		runDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/run requests across the whole pipeline.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		runQuestionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "run",
			Name:      "questions_total",
			Help:      "Total number of questions answered across all runs.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument wraps next with per-handler request counting and latency
// observation under the given logical handler name.
func (s *Server) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rw, r)

		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
