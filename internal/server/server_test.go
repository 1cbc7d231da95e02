package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docqa-go/internal/extract"
	"github.com/54b3r/docqa-go/internal/history"
	"github.com/54b3r/docqa-go/internal/ingest"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/search"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeProcessor is a test double for the documentProcessor interface.
type fakeProcessor struct {
	// report is returned by ProcessDocument.
	report *ingest.Report
	// err is returned alongside report.
	err error
}

func (f *fakeProcessor) ProcessDocument(_ context.Context, _ string) (*ingest.Report, error) {
	return f.report, f.err
}

// fakeGate is a test double for the readinessGate interface.
type fakeGate struct {
	// ready is returned by AwaitReady.
	ready bool
}

func (f *fakeGate) AwaitReady(_ context.Context, _ string) bool { return f.ready }

// fakeRetriever returns one canned result per question.
type fakeRetriever struct{}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, questions []string, _ int) []search.Result {
	results := make([]search.Result, len(questions))
	for i, q := range questions {
		results[i] = search.Result{Question: q, Clauses: []string{"clause for " + q}}
	}
	return results
}

// fakeAnswerer answers each result with a deterministic string.
type fakeAnswerer struct{}

func (f *fakeAnswerer) Answer(_ context.Context, results []search.Result) []string {
	answers := make([]string, len(results))
	for i, r := range results {
		answers[i] = "answer to " + r.Question
	}
	return answers
}

// fakeVectorStore records purged namespaces; all other operations are no-ops.
type fakeVectorStore struct {
	mu sync.Mutex
	// purged collects every namespace Purge was called with.
	purged []string
	// purgeCtxErrs collects ctx.Err() as seen at each Purge call.
	purgeCtxErrs []error
	// purgeErr, when set, is returned by Purge.
	purgeErr error
}

func (f *fakeVectorStore) Ready(_ context.Context) error { return nil }
func (f *fakeVectorStore) Upsert(_ context.Context, _ string, _ []rag.Record, _ [][]float32) error {
	return nil
}
func (f *fakeVectorStore) Query(_ context.Context, _ string, _ []float32, _ int) ([]rag.Hit, error) {
	return nil, nil
}
func (f *fakeVectorStore) Count(_ context.Context, _ string) (uint64, error) { return 0, nil }
func (f *fakeVectorStore) Purge(ctx context.Context, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, namespace)
	f.purgeCtxErrs = append(f.purgeCtxErrs, ctx.Err())
	return f.purgeErr
}
func (f *fakeVectorStore) Close() error { return nil }

func (f *fakeVectorStore) purgedNamespaces() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.purged...)
}

// fakeHistory records runs in memory.
type fakeHistory struct {
	mu sync.Mutex
	// runs collects every recorded run.
	runs []history.Run
}

func (f *fakeHistory) Record(_ context.Context, run history.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}
func (f *fakeHistory) Recent(_ context.Context, n int) ([]history.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.runs) {
		n = len(f.runs)
	}
	return append([]history.Run(nil), f.runs[len(f.runs)-n:]...), nil
}
func (f *fakeHistory) Close() error { return nil }

// okReport is a healthy ingestion report fixture.
func okReport() *ingest.Report {
	return &ingest.Report{
		Namespace: "test-namespace",
		Pages:     4,
		Chunks:    12,
		Write:     &ingest.WriteReport{Attempted: 2, Succeeded: 2, Chunks: 12},
		Duration:  3 * time.Second,
	}
}

// newTestServer builds a *Server with fakes and a fresh isolated metrics
// registry so tests do not pollute prometheus.DefaultRegisterer.
func newTestServer() *Server {
	return newTestServerWith(&fakeProcessor{report: okReport()}, &fakeVectorStore{}, nil)
}

func newTestServerWith(p documentProcessor, store rag.VectorStore, hist history.Store) *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		deps: Deps{
			Processor: p,
			Gate:      &fakeGate{ready: true},
			Retriever: &fakeRetriever{},
			Answerer:  &fakeAnswerer{},
			Store:     store,
			History:   hist,
		},
		cfg:     &Config{},
		log:     slog.Default(),
		metrics: newServerMetrics(reg),
	}
}

// runBody builds a JSON request body for POST /api/run.
func runBody(t *testing.T, documents string, questions []string) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(runRequest{Documents: documents, Questions: questions})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewReader(b)
}

// ---------------------------------------------------------------------------
// POST /api/run
// ---------------------------------------------------------------------------

// TestHandleRun_OK verifies the happy path: a valid request produces one
// answer per question, in question order, and the namespace is purged.
func TestHandleRun_OK(t *testing.T) {
	t.Parallel()

	store := &fakeVectorStore{}
	s := newTestServerWith(&fakeProcessor{report: okReport()}, store, nil)

	questions := []string{"What is covered?", "What is excluded?"}
	req := httptest.NewRequest(http.MethodPost, "/api/run", runBody(t, "https://example.com/doc.pdf", questions))
	w := httptest.NewRecorder()

	s.handleRun(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp runResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Answers) != len(questions) {
		t.Fatalf("expected %d answers, got %d", len(questions), len(resp.Answers))
	}
	for i, q := range questions {
		want := "answer to " + q
		if resp.Answers[i] != want {
			t.Errorf("answer %d: expected %q, got %q", i, want, resp.Answers[i])
		}
	}

	purged := store.purgedNamespaces()
	if len(purged) != 1 || purged[0] != "test-namespace" {
		t.Errorf("expected namespace purged exactly once, got %v", purged)
	}
}

// TestHandleRun_BadRequests verifies malformed or incomplete bodies are
// rejected with 400 before any pipeline work starts.
func TestHandleRun_BadRequests(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"missing documents", `{"questions":["q"]}`},
		{"missing questions", `{"documents":"https://example.com/doc.pdf"}`},
		{"empty questions", `{"documents":"https://example.com/doc.pdf","questions":[]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer()
			req := httptest.NewRequest(http.MethodPost, "/api/run", bytes.NewReader([]byte(tc.body)))
			w := httptest.NewRecorder()

			s.handleRun(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

// TestHandleRun_IngestErrors verifies ingestion failures map to the right
// HTTP status codes.
func TestHandleRun_IngestErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "fetch error",
			err:        &extract.FetchError{URL: "https://example.com/doc.pdf", Status: 404},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "extraction error",
			err:        &extract.ExtractionError{URL: "https://example.com/doc.pdf", Pages: 3},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "index not ready",
			err:        fmt.Errorf("write: %w", ingest.ErrIndexNotReady),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "generic failure",
			err:        errors.New("all batches failed"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServerWith(&fakeProcessor{err: tc.err}, &fakeVectorStore{}, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/run",
				runBody(t, "https://example.com/doc.pdf", []string{"q"}))
			w := httptest.NewRecorder()

			s.handleRun(w, req)

			if w.Code != tc.wantStatus {
				t.Errorf("expected %d, got %d — body: %s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

// TestHandleRun_DegradedIngestion verifies that a degraded ingestion (some
// batches failed, threshold not met) still answers the questions rather than
// failing the request.
func TestHandleRun_DegradedIngestion(t *testing.T) {
	t.Parallel()

	report := okReport()
	report.Write = &ingest.WriteReport{Attempted: 10, Succeeded: 6, Chunks: 50}
	p := &fakeProcessor{
		report: report,
		err:    fmt.Errorf("%w: 6 of 10 batches succeeded", ingest.ErrDegradedIngestion),
	}
	store := &fakeVectorStore{}
	s := newTestServerWith(p, store, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/run",
		runBody(t, "https://example.com/doc.pdf", []string{"q1", "q2"}))
	w := httptest.NewRecorder()

	s.handleRun(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on degraded ingestion, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(store.purgedNamespaces()) != 1 {
		t.Error("expected namespace purged after degraded run")
	}
}

// TestHandleRun_PurgeFailureIgnored verifies that a failed purge never
// affects the response — retrieval results are already computed.
func TestHandleRun_PurgeFailureIgnored(t *testing.T) {
	t.Parallel()

	store := &fakeVectorStore{purgeErr: errors.New("qdrant unavailable")}
	s := newTestServerWith(&fakeProcessor{report: okReport()}, store, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/run",
		runBody(t, "https://example.com/doc.pdf", []string{"q"}))
	w := httptest.NewRecorder()

	s.handleRun(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 despite purge failure, got %d", w.Code)
	}
}

// TestHandleRun_PurgeSurvivesClientDisconnect verifies the namespace is still
// purged with a live context when the request context is already cancelled,
// as happens when the client disconnects mid-run.
func TestHandleRun_PurgeSurvivesClientDisconnect(t *testing.T) {
	t.Parallel()

	store := &fakeVectorStore{}
	s := newTestServerWith(&fakeProcessor{report: okReport()}, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/run",
		runBody(t, "https://example.com/doc.pdf", []string{"q"})).WithContext(ctx)
	w := httptest.NewRecorder()

	s.handleRun(w, req)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.purged) != 1 || store.purged[0] != "test-namespace" {
		t.Fatalf("expected namespace purged despite cancelled request, got %v", store.purged)
	}
	if store.purgeCtxErrs[0] != nil {
		t.Errorf("purge ran on a dead context: %v", store.purgeCtxErrs[0])
	}
}

// TestHandleRun_HistoryRecorded verifies a completed run is persisted with
// the report's counts.
func TestHandleRun_HistoryRecorded(t *testing.T) {
	t.Parallel()

	hist := &fakeHistory{}
	s := newTestServerWith(&fakeProcessor{report: okReport()}, &fakeVectorStore{}, hist)

	req := httptest.NewRequest(http.MethodPost, "/api/run",
		runBody(t, "https://example.com/doc.pdf", []string{"q1", "q2", "q3"}))
	w := httptest.NewRecorder()

	s.handleRun(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	hist.mu.Lock()
	defer hist.mu.Unlock()
	if len(hist.runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(hist.runs))
	}
	run := hist.runs[0]
	if run.Namespace != "test-namespace" {
		t.Errorf("namespace: expected %q, got %q", "test-namespace", run.Namespace)
	}
	if run.Questions != 3 {
		t.Errorf("questions: expected 3, got %d", run.Questions)
	}
	if run.Chunks != 12 || run.Pages != 4 {
		t.Errorf("report counts not carried over: %+v", run)
	}
	if run.BatchesAttempted != 2 || run.BatchesSucceeded != 2 {
		t.Errorf("batch counts not carried over: %+v", run)
	}
}

// TestNew_RequiresDeps verifies New rejects missing collaborators.
func TestNew_RequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, nil)
	if err == nil {
		t.Fatal("expected error for empty deps")
	}
}

// TestNew_WiresServer verifies New builds a runnable server with defaults.
func TestNew_WiresServer(t *testing.T) {
	t.Parallel()

	srv, err := New(Deps{
		Processor: &fakeProcessor{report: okReport()},
		Gate:      &fakeGate{ready: true},
		Retriever: &fakeRetriever{},
		Answerer:  &fakeAnswerer{},
		Store:     &fakeVectorStore{},
	}, &Config{MetricsRegistry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.stopRL)

	if srv.httpServer.Addr != "127.0.0.1:8080" {
		t.Errorf("expected default addr 127.0.0.1:8080, got %s", srv.httpServer.Addr)
	}
}
