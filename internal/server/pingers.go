package server

import (
	"context"
	"fmt"

	"github.com/54b3r/docqa-go/internal/rag"
)

// StorePinger probes the vector store through its Ready check. It satisfies
// the Pinger interface and is used by GET /api/ready.
type StorePinger struct {
	// store is the vector store to probe.
	store rag.VectorStore
}

// NewStorePinger constructs a StorePinger for the given vector store.
func NewStorePinger(store rag.VectorStore) *StorePinger {
	return &StorePinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "qdrant" }

// Ping checks that the store's collection exists and is serving.
// Returns nil if the store is reachable, or a descriptive error otherwise.
func (p *StorePinger) Ping(ctx context.Context) error {
	if err := p.store.Ready(ctx); err != nil {
		return fmt.Errorf("store not ready: %w", err)
	}
	return nil
}

// EmbedderPinger probes the embedding backend with a minimal single-text
// embed request. It satisfies the Pinger interface and is used by
// GET /api/ready.
type EmbedderPinger struct {
	// embedder is the embedding client to probe.
	embedder rag.Embedder
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewEmbedderPinger constructs an EmbedderPinger for the given embedder and
// backend name.
func NewEmbedderPinger(e rag.Embedder, name string) *EmbedderPinger {
	return &EmbedderPinger{embedder: e, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping sends a single short embed request to verify the backend responds
// with a non-empty vector.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	vecs, err := p.embedder.Embed(ctx, []string{"ping"})
	if err != nil {
		return fmt.Errorf("embed failed: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return fmt.Errorf("embed returned empty vector")
	}
	return nil
}
