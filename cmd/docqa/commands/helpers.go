package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/54b3r/docqa-go/internal/answer"
	"github.com/54b3r/docqa-go/internal/chunker"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/extract"
	"github.com/54b3r/docqa-go/internal/history"
	"github.com/54b3r/docqa-go/internal/ingest"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/search"
	"github.com/54b3r/docqa-go/internal/server"
)

// stack bundles the wired pipeline collaborators shared by the serve and run
// commands. Close releases the store connection and the history DB.
type stack struct {
	// store is the Qdrant-backed vector store.
	store *rag.QdrantStore
	// embedder is the configured embedding client.
	embedder rag.Embedder
	// pipeline runs the ingestion phase.
	pipeline *ingest.Pipeline
	// gate waits for a namespace to become queryable.
	gate *search.Gate
	// retriever runs the search phase.
	retriever *search.Retriever
	// generator produces the final answers.
	generator *answer.Generator
	// history records completed runs; nil when disabled.
	history history.Store
}

// buildStack wires the full pipeline from env configuration: embedder,
// Qdrant store, extractor, writer, gate, retriever, answer generator, and
// (optionally) the run-history store.
func buildStack(ctx context.Context, log *slog.Logger) (*stack, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("initialise embedder: %w", err)
	}

	backend := embedder.Backend()
	dims := getEnvInt("EMBEDDING_DIMENSIONS", embedder.DefaultDimensions(backend))
	log.Info("embedder initialised",
		slog.String("backend", backend),
		slog.Int("dimensions", dims),
	)

	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "docqa"),
		VectorSize: uint64(dims),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("initialise vector store: %w", err)
	}

	extractor := extract.New(nil)

	writer, err := ingest.NewWriter(emb, store, &ingest.WriterConfig{
		BatchSize: getEnvInt("INGEST_BATCH_SIZE", 0),
		Workers:   getEnvInt("INGEST_WORKERS", 0),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	pipeline, err := ingest.NewPipeline(extractor, writer, &ingest.Config{
		Chunk: chunker.Config{
			MaxTokens:     getEnvInt("CHUNK_MAX_TOKENS", 0),
			OverlapTokens: getEnvInt("CHUNK_OVERLAP_TOKENS", 0),
		},
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	retriever, err := search.NewRetriever(emb, store, &search.Config{
		TopK: getEnvInt("TOP_K", 0),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	generator, err := answer.New(ctx, &answer.Config{
		APIKey: os.Getenv("GOOGLE_API_KEY"),
		Model:  os.Getenv("GEMINI_MODEL"),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &stack{
		store:     store,
		embedder:  emb,
		pipeline:  pipeline,
		gate:      search.NewGate(store, 0, 0),
		retriever: retriever,
		generator: generator,
		history:   openHistory(log),
	}, nil
}

// close releases the stack's long-lived resources.
func (s *stack) close() {
	if s.history != nil {
		_ = s.history.Close()
	}
	_ = s.store.Close()
}

// openHistory opens the run-history store. DOCQA_HISTORY_DB overrides the
// default path (~/.docqa/history.db); "disabled" turns recording off.
// Failures degrade to no recording — history must never block the pipeline.
func openHistory(log *slog.Logger) history.Store {
	dbPath := os.Getenv("DOCQA_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via DOCQA_HISTORY_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = history.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	hs, err := history.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs
}

// buildPingers constructs the dependency probes for GET /api/ready.
func buildPingers(s *stack) []server.Pinger {
	return []server.Pinger{
		server.NewStorePinger(s.store),
		server.NewEmbedderPinger(s.embedder, embedder.Backend()),
	}
}

// getEnvOrDefault returns the env var value or fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or fallback when unset or
// unparsable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
