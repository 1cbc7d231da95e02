// Package server implements the HTTP server that exposes the document
// question-answering pipeline as a REST API.
// The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docqa-go/internal/extract"
	"github.com/54b3r/docqa-go/internal/history"
	"github.com/54b3r/docqa-go/internal/ingest"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/search"
)

// purgeTimeout bounds the post-run namespace purge. The purge runs detached
// from the request context so a client disconnect cannot strand vectors.
const purgeTimeout = 15 * time.Second

// New constructs a Server from the provided pipeline dependencies and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Processor == nil {
		return nil, fmt.Errorf("server: processor must not be nil")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("server: gate must not be nil")
	}
	if deps.Retriever == nil {
		return nil, fmt.Errorf("server: retriever must not be nil")
	}
	if deps.Answerer == nil {
		return nil, fmt.Errorf("server: answerer must not be nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full pipeline run, which includes the
		// document fetch, batch upserts, the readiness wait, and the answer
		// generation round trips.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(registryOrDefault(cfg.MetricsRegistry)),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	mux.Handle("POST /api/run", s.instrument("run",
		authMiddleware(cfg.APIKey, rl.middleware(http.HandlerFunc(s.handleRun)))))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", metricsHandler(cfg.MetricsRegistry))

	if cfg.APIKey == "" {
		s.log.Warn("server: DOCQA_API_KEY not set — API authentication disabled")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// metricsHandler returns the /metrics endpoint handler for reg, falling back
// to the process-global default registry when reg is nil.
func metricsHandler(reg metricsRegistry) http.Handler {
	if g, ok := reg.(promGatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleRun handles POST /api/run: ingest the document, wait for its
// namespace to become queryable, retrieve passages for every question,
// generate answers, and purge the namespace. The response always carries
// exactly one answer per question.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.runFailed(w, "bad_request", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Documents == "" {
		s.runFailed(w, "bad_request", "documents is required", http.StatusBadRequest)
		return
	}
	if len(req.Questions) == 0 {
		s.runFailed(w, "bad_request", "questions is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	report, err := s.deps.Processor.ProcessDocument(ctx, req.Documents)
	if err != nil && !errors.Is(err, ingest.ErrDegradedIngestion) {
		s.runFailed(w, ingestOutcome(err), err.Error(), ingestStatus(err))
		return
	}
	if err != nil {
		// Degraded ingestion: some batches landed, enough to try answering.
		log.Warn("run: proceeding with degraded ingestion", slog.Any("error", err))
	}

	ns := report.Namespace
	// Purge on a detached context: the request context dies when the client
	// disconnects, and an unreaped namespace would keep its vectors forever.
	defer func() {
		purgeCtx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), log), purgeTimeout)
		defer cancel()
		search.Cleanup(purgeCtx, s.deps.Store, ns)
	}()

	if !s.deps.Gate.AwaitReady(ctx, ns) {
		log.Warn("run: namespace never reported ready, querying anyway",
			slog.String("namespace", ns),
		)
	}

	results := s.deps.Retriever.Retrieve(ctx, ns, req.Questions, 0)
	answers := s.deps.Answerer.Answer(ctx, results)

	s.recordRun(report, req, time.Since(start))

	s.metrics.runRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.runDurationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	s.metrics.runQuestionsTotal.Add(float64(len(req.Questions)))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(runResponse{Answers: answers}); err != nil {
		log.Error("run: response encode failed", slog.Any("error", err))
	}
}

// runFailed records a failed run in the metrics and writes the error response.
func (s *Server) runFailed(w http.ResponseWriter, outcome, msg string, status int) {
	s.metrics.runRequestsTotal.WithLabelValues(outcome).Inc()
	http.Error(w, msg, status)
}

// ingestStatus maps an ingestion error to the HTTP status returned to the
// client: the document couldn't be fetched (bad gateway), yielded no text
// (unprocessable), the index wasn't ready (unavailable), or something else
// broke (internal).
func ingestStatus(err error) int {
	var fetchErr *extract.FetchError
	var extractErr *extract.ExtractionError
	switch {
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.As(err, &extractErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrIndexNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ingestOutcome maps an ingestion error to its metrics outcome label.
func ingestOutcome(err error) string {
	var fetchErr *extract.FetchError
	var extractErr *extract.ExtractionError
	switch {
	case errors.As(err, &fetchErr):
		return "fetch_error"
	case errors.As(err, &extractErr):
		return "extraction_error"
	case errors.Is(err, ingest.ErrIndexNotReady):
		return "index_not_ready"
	default:
		return "error"
	}
}

// recordRun persists the run in the history store. Best-effort with its own
// deadline — a slow or broken history DB must never delay the response.
func (s *Server) recordRun(report *ingest.Report, req runRequest, elapsed time.Duration) {
	if s.deps.History == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run := history.Run{
		Namespace:   report.Namespace,
		DocumentURL: req.Documents,
		Pages:       report.Pages,
		Chunks:      report.Chunks,
		Questions:   len(req.Questions),
		Duration:    elapsed,
	}
	if report.Write != nil {
		run.BatchesAttempted = report.Write.Attempted
		run.BatchesSucceeded = report.Write.Succeeded
	}

	if err := s.deps.History.Record(ctx, run); err != nil {
		s.log.Warn("run: history record failed", slog.Any("error", err))
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
