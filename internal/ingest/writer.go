package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/docqa-go/internal/chunker"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/retry"
)

// ErrIndexNotReady is returned by Write when the vector store does not report
// ready within the configured wait budget. Fatal to the ingestion request.
var ErrIndexNotReady = errors.New("ingest: index not ready within wait budget")

// maxBatchSize is the vector store's per-upsert record limit.
const maxBatchSize = 100

// WriterConfig holds Index Writer settings.
type WriterConfig struct {
	// BatchSize is the number of records per upsert call. Defaults to 96,
	// capped at the store's limit of 100.
	BatchSize int

	// Workers bounds the number of concurrent batch upserts. Defaults to 8.
	// Parallelism is fixed, not proportional to chunk count.
	Workers int

	// UpsertTimeout bounds one embed+upsert round trip for a single batch.
	// Defaults to 45s.
	UpsertTimeout time.Duration

	// ReadyAttempts is the number of index readiness probes before Write
	// fails with ErrIndexNotReady. Defaults to 10.
	ReadyAttempts int

	// ReadyDelay is the pause between readiness probes. Defaults to 1s.
	ReadyDelay time.Duration

	// Retry is the per-batch retry policy. Zero MaxAttempts selects
	// retry.DefaultPolicy.
	Retry retry.Policy
}

// WriteReport summarises one Write call. Succeeded < Attempted signals
// partial ingestion; the caller applies its acceptance policy.
type WriteReport struct {
	// Attempted is the number of batches submitted.
	Attempted int

	// Succeeded is the number of batches durably upserted.
	Succeeded int

	// Chunks is the number of chunks covered by submitted batches.
	Chunks int
}

// SuccessRate returns Succeeded/Attempted, or 0 when nothing was attempted.
func (r *WriteReport) SuccessRate() float64 {
	if r.Attempted == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Attempted)
}

// Writer embeds chunks and upserts them into the vector store under a
// namespace, batching across a bounded worker pool with per-batch retry.
type Writer struct {
	// embedder converts chunk text into dense vectors.
	embedder rag.Embedder

	// store persists the embedded records.
	store rag.VectorStore

	// cfg holds the resolved writer configuration.
	cfg *WriterConfig
}

// NewWriter constructs a Writer from the provided dependencies and config.
// A nil config selects all defaults.
func NewWriter(embedder rag.Embedder, store rag.VectorStore, cfg *WriterConfig) (*Writer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingest: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingest: store must not be nil")
	}
	if cfg == nil {
		cfg = &WriterConfig{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 96
	}
	if cfg.BatchSize > maxBatchSize {
		cfg.BatchSize = maxBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.UpsertTimeout <= 0 {
		cfg.UpsertTimeout = 45 * time.Second
	}
	if cfg.ReadyAttempts <= 0 {
		cfg.ReadyAttempts = 10
	}
	if cfg.ReadyDelay <= 0 {
		cfg.ReadyDelay = time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	return &Writer{embedder: embedder, store: store, cfg: cfg}, nil
}

// Write embeds chunks and upserts them under namespace.
//
// Batches fan out across the worker pool and may complete in any order;
// record ids are deterministic per (namespace, chunk index), so reordering
// and retries are idempotent. A batch that fails after retries is recorded
// in the report and never aborts sibling batches. Write itself only errors
// when the index never becomes ready.
func (w *Writer) Write(ctx context.Context, namespace string, chunks []chunker.Chunk, meta map[string]string) (*WriteReport, error) {
	log := logging.FromContext(ctx)

	if len(chunks) == 0 {
		return &WriteReport{}, nil
	}

	if err := w.awaitIndexReady(ctx); err != nil {
		return nil, err
	}

	records := make([]rag.Record, len(chunks))
	for i, c := range chunks {
		m := map[string]string{"chunk_index": strconv.Itoa(c.Index)}
		for k, v := range meta {
			m[k] = v
		}
		records[i] = rag.Record{
			ID:   RecordID(namespace, c.Index),
			Text: c.Text,
			Meta: m,
		}
	}

	batches := batch(records, w.cfg.BatchSize)
	report := &WriteReport{Attempted: len(batches), Chunks: len(chunks)}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		sem       = make(chan struct{}, w.cfg.Workers)
		succeeded int
	)

	for i, b := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, b []rag.Record) {
			defer wg.Done()
			defer func() { <-sem }()

			err := w.cfg.Retry.Do(ctx, func(ctx context.Context) error {
				return w.upsertBatch(ctx, namespace, b)
			})
			if err != nil {
				log.Warn("ingest: batch failed after retries",
					slog.Int("batch", i),
					slog.Int("records", len(b)),
					slog.String("namespace", namespace),
					slog.Any("error", err),
				)
				return
			}

			mu.Lock()
			succeeded++
			mu.Unlock()
		}(i, b)
	}
	wg.Wait()

	report.Succeeded = succeeded
	log.Info("ingest: write complete",
		slog.String("namespace", namespace),
		slog.Int("chunks", report.Chunks),
		slog.Int("batches_attempted", report.Attempted),
		slog.Int("batches_succeeded", report.Succeeded),
	)
	return report, nil
}

// upsertBatch embeds one batch and upserts it, bounded by UpsertTimeout so a
// stalled call counts as a failed attempt rather than hanging the pool.
func (w *Writer) upsertBatch(ctx context.Context, namespace string, records []rag.Record) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.UpsertTimeout)
	defer cancel()

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Text
	}

	embeddings, err := w.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}

	if err := w.store.Upsert(ctx, namespace, records, embeddings); err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}

// awaitIndexReady polls the store's readiness probe before the first write.
func (w *Writer) awaitIndexReady(ctx context.Context) error {
	probe := retry.Policy{
		MaxAttempts: w.cfg.ReadyAttempts,
		BaseDelay:   w.cfg.ReadyDelay,
		Multiplier:  1,
	}
	if err := probe.Do(ctx, w.store.Ready); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexNotReady, err)
	}
	return nil
}

// recordIDSpace is the UUIDv5 namespace for record ids.
var recordIDSpace = uuid.MustParse("8f3c5c1a-2c87-4a4e-9e6b-1f6d9a2b7c41")

// RecordID derives the stable record identifier for a chunk position inside
// a namespace. Deterministic: re-upserting the same position overwrites the
// existing record instead of duplicating it.
func RecordID(namespace string, position int) string {
	return uuid.NewSHA1(recordIDSpace, []byte(namespace+"#"+strconv.Itoa(position))).String()
}

// batch splits records into fixed-size groups, preserving order.
func batch(records []rag.Record, size int) [][]rag.Record {
	var out [][]rag.Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[start:end])
	}
	return out
}
