package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Gate polls the vector store until a namespace reports a non-zero vector
// count. The store is eventually consistent — writes may lag behind reads —
// so the search phase waits here before issuing its first query.
type Gate struct {
	// store is the vector store being probed.
	store rag.VectorStore

	// maxAttempts bounds the number of polls. Defaults to 5.
	maxAttempts int

	// delay is the pause between polls. Defaults to 2s.
	delay time.Duration
}

// NewGate constructs a Gate. Zero maxAttempts or delay select the defaults
// (5 attempts, 2s).
func NewGate(store rag.VectorStore, maxAttempts int, delay time.Duration) *Gate {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &Gate{store: store, maxAttempts: maxAttempts, delay: delay}
}

// AwaitReady blocks until namespace reports at least one vector, the attempt
// budget is exhausted, or ctx is cancelled. It returns false rather than an
// error on exhaustion — the caller decides between degraded-mode search and
// aborting. Probe errors count as failed attempts.
func (g *Gate) AwaitReady(ctx context.Context, namespace string) bool {
	log := logging.FromContext(ctx)

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		count, err := g.store.Count(ctx, namespace)
		switch {
		case err != nil:
			log.Warn("search: namespace probe failed",
				slog.String("namespace", namespace),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
		case count > 0:
			log.Info("search: namespace ready",
				slog.String("namespace", namespace),
				slog.Uint64("vectors", count),
				slog.Int("attempt", attempt),
			)
			return true
		default:
			log.Debug("search: namespace empty",
				slog.String("namespace", namespace),
				slog.Int("attempt", attempt),
			)
		}

		if attempt == g.maxAttempts {
			break
		}
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return false
		}
	}

	log.Warn("search: namespace not ready, proceeding degraded",
		slog.String("namespace", namespace),
		slog.Int("attempts", g.maxAttempts),
	)
	return false
}
