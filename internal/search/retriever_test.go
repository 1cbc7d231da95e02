package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// echoEmbedder returns a vector whose first component encodes the question
// index parsed out of "qN ..." question text, so the fake store can answer
// each question distinctly.
type echoEmbedder struct {
	// err fails every Embed call when set.
	err error
}

func (e *echoEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		var n int
		fmt.Sscanf(text, "q%d", &n)
		out[i] = []float32{float32(n), 0, 0}
	}
	return out, nil
}

// scriptedStore answers queries from a per-question script keyed by the
// embedded question index, optionally delaying to scramble completion order.
type scriptedStore struct {
	mu sync.Mutex
	// hits maps question index to the hits returned for it.
	hits map[int][]rag.Hit
	// delays maps question index to an artificial latency.
	delays map[int]time.Duration
	// queryErrs maps question index to an injected failure.
	queryErrs map[int]error
	// queries counts Query calls per question index.
	queries map[int]int
	// purged collects purged namespaces.
	purged []string
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{
		hits:      make(map[int][]rag.Hit),
		delays:    make(map[int]time.Duration),
		queryErrs: make(map[int]error),
		queries:   make(map[int]int),
	}
}

func (s *scriptedStore) Query(ctx context.Context, _ string, vec []float32, _ int) ([]rag.Hit, error) {
	n := int(vec[0])

	s.mu.Lock()
	s.queries[n]++
	delay := s.delays[n]
	err := s.queryErrs[n]
	hits := s.hits[n]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (s *scriptedStore) Ready(_ context.Context) error { return nil }
func (s *scriptedStore) Upsert(_ context.Context, _ string, _ []rag.Record, _ [][]float32) error {
	return nil
}
func (s *scriptedStore) Count(_ context.Context, _ string) (uint64, error) { return 0, nil }
func (s *scriptedStore) Purge(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = append(s.purged, namespace)
	return nil
}
func (s *scriptedStore) Close() error { return nil }

// hit builds a rag.Hit with a text payload.
func hit(id, text string) rag.Hit {
	return rag.Hit{ID: id, Score: 0.9, Payload: map[string]any{"text": text}}
}

// fastConfig removes waits from the empty-hit retry loop.
func fastConfig() *Config {
	return &Config{
		EmptyRetries: 1,
		EmptyDelay:   time.Millisecond,
	}
}

// TestRetrieve_OrderPreserved verifies output order matches input order even
// when completion order is scrambled by staggered latencies.
func TestRetrieve_OrderPreserved(t *testing.T) {
	t.Parallel()

	store := newScriptedStore()
	const n = 8
	questions := make([]string, n)
	for i := range n {
		questions[i] = fmt.Sprintf("q%d what does the document say", i)
		store.hits[i] = []rag.Hit{hit(fmt.Sprintf("id%d", i), fmt.Sprintf("clause for question %d", i))}
		// Earlier questions finish last.
		store.delays[i] = time.Duration(n-i) * 10 * time.Millisecond
	}

	r, err := NewRetriever(&echoEmbedder{}, store, fastConfig())
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	results := r.Retrieve(t.Context(), "ns", questions, 3)

	if len(results) != n {
		t.Fatalf("expected %d results, got %d", n, len(results))
	}
	for i, res := range results {
		if res.Question != questions[i] {
			t.Errorf("result %d: question order broken: %q", i, res.Question)
		}
		want := fmt.Sprintf("clause for question %d", i)
		if len(res.Clauses) != 1 || res.Clauses[0] != want {
			t.Errorf("result %d: expected clause %q, got %v", i, want, res.Clauses)
		}
	}
}

// TestRetrieve_EmptyNamespace verifies zero hits yields empty clauses with no
// error annotation.
func TestRetrieve_EmptyNamespace(t *testing.T) {
	t.Parallel()

	store := newScriptedStore() // no hits scripted

	r, err := NewRetriever(&echoEmbedder{}, store, fastConfig())
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	results := r.Retrieve(t.Context(), "ns-empty", []string{"q0 anything"}, 3)

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("empty namespace is not an error, got %v", results[0].Err)
	}
	if len(results[0].Clauses) != 0 {
		t.Errorf("expected no clauses, got %v", results[0].Clauses)
	}
}

// TestRetrieve_PerQuestionFailureIsolated verifies one failing question
// degrades to an annotated empty result without affecting siblings.
func TestRetrieve_PerQuestionFailureIsolated(t *testing.T) {
	t.Parallel()

	store := newScriptedStore()
	store.hits[0] = []rag.Hit{hit("a", "clause zero")}
	store.queryErrs[1] = errors.New("grpc unavailable")
	store.hits[2] = []rag.Hit{hit("c", "clause two")}

	r, err := NewRetriever(&echoEmbedder{}, store, fastConfig())
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	results := r.Retrieve(t.Context(), "ns", []string{"q0 a", "q1 b", "q2 c"}, 3)

	if results[0].Err != nil || len(results[0].Clauses) != 1 {
		t.Errorf("question 0 should succeed: %+v", results[0])
	}
	if results[1].Err == nil {
		t.Error("question 1 should carry its error")
	}
	if len(results[1].Clauses) != 0 {
		t.Errorf("failed question should have no clauses, got %v", results[1].Clauses)
	}
	if results[2].Err != nil || len(results[2].Clauses) != 1 {
		t.Errorf("question 2 should succeed: %+v", results[2])
	}
}

// TestRetrieve_EmptyHitRetry verifies a zero-hit response is retried before
// being accepted.
func TestRetrieve_EmptyHitRetry(t *testing.T) {
	t.Parallel()

	store := newScriptedStore() // always zero hits

	r, err := NewRetriever(&echoEmbedder{}, store, &Config{
		EmptyRetries: 3,
		EmptyDelay:   time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	results := r.Retrieve(t.Context(), "ns", []string{"q0 anything"}, 3)

	if results[0].Err != nil {
		t.Errorf("expected accepted empty result, got error %v", results[0].Err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.queries[0] != 3 {
		t.Errorf("expected 3 query attempts for empty namespace, got %d", store.queries[0])
	}
}

// TestRetrieve_Dedupe verifies duplicate passages collapse within one
// question's result.
func TestRetrieve_Dedupe(t *testing.T) {
	t.Parallel()

	store := newScriptedStore()
	store.hits[0] = []rag.Hit{
		hit("a", "the same clause"),
		hit("b", "the same clause"),
		hit("c", "a different clause"),
	}

	r, err := NewRetriever(&echoEmbedder{}, store, fastConfig())
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	results := r.Retrieve(t.Context(), "ns", []string{"q0"}, 3)

	if len(results[0].Clauses) != 2 {
		t.Errorf("expected 2 deduplicated clauses, got %v", results[0].Clauses)
	}
}

// TestRetrieve_ClauseTruncated verifies long passages are truncated without
// splitting a multi-byte rune.
func TestRetrieve_ClauseTruncated(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 100) // 2 bytes per rune
	store := newScriptedStore()
	store.hits[0] = []rag.Hit{hit("a", long)}

	cfg := fastConfig()
	cfg.MaxClauseLen = 51 // odd cap lands mid-rune
	r, err := NewRetriever(&echoEmbedder{}, store, cfg)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	results := r.Retrieve(t.Context(), "ns", []string{"q0"}, 1)

	clause := results[0].Clauses[0]
	if len(clause) > 51 {
		t.Errorf("clause not truncated: %d bytes", len(clause))
	}
	if !strings.HasPrefix(long, clause) {
		t.Error("truncation split a rune")
	}
	if len(clause) != 50 {
		t.Errorf("expected 50 bytes after rune-safe truncation, got %d", len(clause))
	}
}

// TestRetrieve_EmbedFailure verifies an embedding failure annotates the
// result rather than panicking.
func TestRetrieve_EmbedFailure(t *testing.T) {
	t.Parallel()

	r, err := NewRetriever(&echoEmbedder{err: errors.New("backend down")}, newScriptedStore(), fastConfig())
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	results := r.Retrieve(t.Context(), "ns", []string{"q0"}, 3)
	if results[0].Err == nil {
		t.Error("expected error annotation when embedding fails")
	}
}

// TestCleanup verifies purge is invoked and failures stay silent.
func TestCleanup(t *testing.T) {
	t.Parallel()

	store := newScriptedStore()
	Cleanup(t.Context(), store, "ns-done")

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.purged) != 1 || store.purged[0] != "ns-done" {
		t.Errorf("expected ns-done purged, got %v", store.purged)
	}
}
