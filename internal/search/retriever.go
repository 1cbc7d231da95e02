// Package search implements the retrieval phase: wait for a namespace to
// become visible, fan questions out against the vector store, and hand back
// ordered candidate-passage lists for the answer generator. It also owns the
// best-effort namespace cleanup that ends a request's lifecycle.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Result pairs one question with its ordered candidate passages. This is the
// unit handed to the answer-generation collaborator.
type Result struct {
	// Question is the input question, unchanged.
	Question string

	// Clauses are the candidate passages, best match first, deduplicated,
	// at most topK entries. Empty means no relevant content was found —
	// not an error.
	Clauses []string

	// Err annotates a per-question query failure. The result degrades to
	// empty Clauses; sibling questions are unaffected.
	Err error
}

// Config holds retriever settings.
type Config struct {
	// TopK is the default number of neighbours requested per question.
	// Defaults to 3.
	TopK int

	// Workers bounds concurrent in-flight queries. Defaults to 10.
	Workers int

	// QueryTimeout bounds one embed+query round trip. Defaults to 15s.
	QueryTimeout time.Duration

	// EmptyRetries is how many times a query returning zero hits is retried
	// before the empty result is accepted — late indexing sometimes hides
	// just-written vectors. Defaults to 3 (total attempts).
	EmptyRetries int

	// EmptyDelay is the pause between empty-hit retries. Defaults to 2s.
	EmptyDelay time.Duration

	// MaxClauseLen truncates each passage to this many bytes so downstream
	// prompt budgets hold regardless of chunk size. Defaults to 2000.
	MaxClauseLen int
}

// Retriever embeds questions and runs namespace-scoped similarity queries.
type Retriever struct {
	// embedder converts question text into a query vector.
	embedder rag.Embedder

	// store performs the similarity search.
	store rag.VectorStore

	// cfg holds the resolved retriever configuration.
	cfg *Config
}

// NewRetriever constructs a Retriever from the given dependencies and config.
// A nil config selects all defaults.
func NewRetriever(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("search: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("search: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 15 * time.Second
	}
	if cfg.EmptyRetries <= 0 {
		cfg.EmptyRetries = 3
	}
	if cfg.EmptyDelay <= 0 {
		cfg.EmptyDelay = 2 * time.Second
	}
	if cfg.MaxClauseLen <= 0 {
		cfg.MaxClauseLen = 2000
	}
	return &Retriever{embedder: embedder, store: store, cfg: cfg}, nil
}

// Retrieve answers each question with its topK most similar passages from
// namespace. topK <= 0 selects the configured default.
//
// Questions fan out across a bounded worker pool; each result is written
// into a pre-sized slot indexed by submission position, so output order
// always matches input order regardless of completion order. A failed
// question yields an error-annotated empty result and never blocks its
// siblings.
func (r *Retriever) Retrieve(ctx context.Context, namespace string, questions []string, topK int) []Result {
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	results := make([]Result, len(questions))

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.cfg.Workers)

	for i, q := range questions {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, q string) {
			defer wg.Done()
			defer func() { <-sem }()

			clauses, err := r.retrieveOne(ctx, namespace, q, topK)
			results[i] = Result{Question: q, Clauses: clauses, Err: err}
			if err != nil {
				logging.FromContext(ctx).Warn("search: question degraded to empty result",
					slog.String("namespace", namespace),
					slog.String("question", q),
					slog.Any("error", err),
				)
			}
		}(i, q)
	}
	wg.Wait()

	return results
}

// retrieveOne runs one question's query, retrying a zero-hit response a few
// times before accepting it as genuinely empty.
func (r *Retriever) retrieveOne(ctx context.Context, namespace, question string, topK int) ([]string, error) {
	for attempt := 1; ; attempt++ {
		hits, err := r.query(ctx, namespace, question, topK)
		if err != nil {
			return nil, err
		}

		if len(hits) == 0 && attempt < r.cfg.EmptyRetries {
			select {
			case <-time.After(r.cfg.EmptyDelay):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		return r.clauses(ctx, hits), nil
	}
}

// query embeds the question and runs the namespace-scoped similarity search,
// bounded by QueryTimeout.
func (r *Retriever) query(ctx context.Context, namespace, question string, topK int) ([]rag.Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("search: embedding question failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("search: embedder returned empty result for question")
	}

	hits, err := r.store.Query(ctx, namespace, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("search: vector query failed: %w", err)
	}
	return hits, nil
}

// clauses extracts passage text from hits via the field chain, deduplicates
// within the question, and truncates each passage to MaxClauseLen.
func (r *Retriever) clauses(ctx context.Context, hits []rag.Hit) []string {
	log := logging.FromContext(ctx)

	clauses := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))

	for _, hit := range hits {
		clause, ok := extractClause(hit.Payload)
		if !ok {
			log.Warn("search: hit carries no passage text",
				slog.String("id", hit.ID),
				slog.Int("fields", len(hit.Payload)),
			)
			continue
		}
		clause = truncate(clause, r.cfg.MaxClauseLen)
		if seen[clause] {
			continue
		}
		seen[clause] = true
		clauses = append(clauses, clause)
	}

	return clauses
}

// truncate shortens s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// Cleanup purges every vector under namespace. Best-effort: a failed purge
// is logged, never escalated — it must not invalidate already-computed
// retrieval results.
func Cleanup(ctx context.Context, store rag.VectorStore, namespace string) {
	log := logging.FromContext(ctx)
	if err := store.Purge(ctx, namespace); err != nil {
		log.Warn("search: namespace purge failed",
			slog.String("namespace", namespace),
			slog.Any("error", err),
		)
		return
	}
	log.Info("search: namespace purged", slog.String("namespace", namespace))
}
