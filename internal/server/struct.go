package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/docqa-go/internal/history"
	"github.com/54b3r/docqa-go/internal/ingest"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/search"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must cover a full document run: ingest + readiness + retrieval + answers.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's Prometheus metrics. If nil, the
	// default global registry is used. Tests inject a fresh registry here.
	MetricsRegistry metricsRegistry
}

// documentProcessor is the interface handleRun calls to ingest a document.
// *ingest.Pipeline satisfies it; tests inject a fake.
type documentProcessor interface {
	// ProcessDocument ingests documentURL and returns its ingestion report,
	// including the freshly allocated namespace.
	ProcessDocument(ctx context.Context, documentURL string) (*ingest.Report, error)
}

// readinessGate is the interface handleRun uses to wait for a namespace to
// become visible before querying it. *search.Gate satisfies it.
type readinessGate interface {
	AwaitReady(ctx context.Context, namespace string) bool
}

// passageRetriever is the interface handleRun uses to fan questions out
// against the vector store. *search.Retriever satisfies it.
type passageRetriever interface {
	Retrieve(ctx context.Context, namespace string, questions []string, topK int) []search.Result
}

// answerer is the interface handleRun uses to turn retrieval results into
// answer strings. *answer.Generator satisfies it; tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, results []search.Result) []string
}

// Deps bundles the pipeline collaborators the server orchestrates.
type Deps struct {
	// Processor runs the ingestion phase.
	Processor documentProcessor
	// Gate waits for the namespace to become queryable.
	Gate readinessGate
	// Retriever runs the search phase.
	Retriever passageRetriever
	// Answerer generates the final answers.
	Answerer answerer
	// Store is used for post-run namespace cleanup.
	Store rag.VectorStore
	// History records completed runs. Optional; nil disables recording.
	History history.Store
}

// Server is the HTTP server that exposes the document question-answering
// pipeline as a REST API.
type Server struct {
	// deps holds the pipeline collaborators.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds this instance's Prometheus metrics.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// runRequest is the JSON body for POST /api/run.
type runRequest struct {
	// Documents is the URL of the document to process.
	Documents string `json:"documents"`
	// Questions are the natural-language questions to answer against it.
	Questions []string `json:"questions"`
}

// runResponse is the JSON response for POST /api/run. Answers is parallel to
// the request's Questions: same length, same order.
type runResponse struct {
	Answers []string `json:"answers"`
}
