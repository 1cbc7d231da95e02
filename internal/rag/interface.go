// Package rag defines the interfaces the pipeline uses to talk to its two
// external collaborators: the vector store and the embedding provider.
// Concrete implementations (Qdrant, the HTTP embedders) satisfy these
// interfaces so the ingestion and search layers never depend on a specific
// backend, and tests inject fakes.
//
// Every store operation is keyed by a namespace — the per-request tenancy
// boundary. Concurrent requests use distinct namespaces, so no cross-request
// locking is needed anywhere in the pipeline.
package rag

import (
	"context"
)

// Record is one chunk of document text persisted in the vector store.
type Record struct {
	// ID is the stable identifier, derived from (namespace, chunk position)
	// so retried upserts overwrite rather than duplicate.
	ID string

	// Text is the chunk content stored in the record payload.
	Text string

	// Meta holds arbitrary key-value pairs (source URL, page, chunk index).
	Meta map[string]string
}

// Hit is one similarity-search result.
type Hit struct {
	// ID is the matched record's identifier.
	ID string

	// Score is the similarity score assigned by the store (descending rank).
	Score float32

	// Payload is the record's stored fields. Exposed as a generic map so the
	// retriever's field-fallback chain can cope with heterogeneous indexing
	// schemas, not just records this system wrote.
	Payload map[string]any
}

// VectorStore is the interface for namespace-scoped vector persistence and
// search. Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Ready reports whether the underlying index exists and is serving.
	// Implementations create the index on construction; Ready is the
	// bounded-wait probe callers poll before the first write.
	Ready(ctx context.Context) error

	// Upsert stores or updates a batch of records under namespace.
	// embeddings is parallel to records — embeddings[i] is the vector for
	// records[i].
	Upsert(ctx context.Context, namespace string, records []Record, embeddings [][]float32) error

	// Query returns the topK nearest neighbours to queryEmbedding within
	// namespace, best score first.
	Query(ctx context.Context, namespace string, queryEmbedding []float32, topK int) ([]Hit, error)

	// Count returns the number of vectors stored under namespace. Used by
	// the readiness gate to detect when writes have become visible.
	Count(ctx context.Context, namespace string) (uint64, error)

	// Purge deletes every vector under namespace.
	Purge(ctx context.Context, namespace string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice, and every vector's
	// dimensionality must match the index's configured dimension exactly.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
