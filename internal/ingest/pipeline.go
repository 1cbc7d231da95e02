// Package ingest implements the document ingestion phase: fetch and extract
// the document's text, chunk it, allocate a fresh namespace, and write the
// chunks into the vector store. The returned namespace is the contract the
// search phase reads back.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/docqa-go/internal/chunker"
	"github.com/54b3r/docqa-go/internal/extract"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/namespace"
)

// ErrDegradedIngestion is returned (wrapped) by ProcessDocument when some
// batches were written but the success rate fell under MinSuccessRate. The
// accompanying report still carries the namespace — the caller decides
// whether degraded retrieval is acceptable.
var ErrDegradedIngestion = errors.New("ingest: degraded ingestion")

// Config holds pipeline settings.
type Config struct {
	// Chunk controls how extracted text is segmented.
	Chunk chunker.Config

	// Writer controls batching, parallelism, and retry for index writes.
	Writer WriterConfig

	// MinSuccessRate is the batch success-rate threshold under which a
	// partial ingestion is flagged as degraded. Defaults to 0.9.
	MinSuccessRate float64
}

// Report summarises one ingestion run.
type Report struct {
	// Namespace scopes the document's vectors for the search phase.
	Namespace string

	// Pages is the source document's page count.
	Pages int

	// Chunks is the number of chunks produced.
	Chunks int

	// Write is the index writer's batch report.
	Write *WriteReport

	// Duration is the wall-clock time of the whole run.
	Duration time.Duration
}

// Pipeline orchestrates extract → chunk → allocate → write for one document.
type Pipeline struct {
	// extractor turns a document URL into plain text.
	extractor *extract.Extractor

	// writer embeds and upserts chunks.
	writer *Writer

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(extractor *extract.Extractor, writer *Writer, cfg *Config) (*Pipeline, error) {
	if extractor == nil {
		return nil, fmt.Errorf("ingest: extractor must not be nil")
	}
	if writer == nil {
		return nil, fmt.Errorf("ingest: writer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.MinSuccessRate <= 0 || cfg.MinSuccessRate > 1 {
		cfg.MinSuccessRate = 0.9
	}
	return &Pipeline{extractor: extractor, writer: writer, cfg: cfg}, nil
}

// ProcessDocument runs the full ingestion phase for documentURL and returns
// the namespace under which its chunks are indexed.
//
// Fetch and extraction failures are fatal and surfaced unchanged
// (*extract.FetchError, *extract.ExtractionError), as is ErrIndexNotReady.
// Partial batch failure is acceptable while at least one batch landed and
// the success rate meets MinSuccessRate; below that the report is returned
// together with ErrDegradedIngestion.
func (p *Pipeline) ProcessDocument(ctx context.Context, documentURL string) (*Report, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	text, pages, err := p.extractor.Extract(ctx, documentURL)
	if err != nil {
		return nil, err
	}

	chunks := chunker.Split(text, p.cfg.Chunk)
	if len(chunks) == 0 {
		return nil, &extract.ExtractionError{URL: documentURL, Pages: pages}
	}
	log.Debug("ingest: document chunked",
		slog.String("url", documentURL),
		slog.Int("chunks", len(chunks)),
	)

	ns := namespace.New()

	writeReport, err := p.writer.Write(ctx, ns, chunks, map[string]string{"source": documentURL})
	if err != nil {
		return nil, err
	}

	report := &Report{
		Namespace: ns,
		Pages:     pages,
		Chunks:    len(chunks),
		Write:     writeReport,
		Duration:  time.Since(start),
	}

	return report, p.acceptReport(ctx, report, documentURL)
}

// acceptReport decides whether a completed write is good enough to search.
// Zero landed batches is a plain failure; a success rate under the threshold
// returns ErrDegradedIngestion alongside the report so the caller can still
// use the namespace; anything at or above the threshold is accepted.
func (p *Pipeline) acceptReport(ctx context.Context, report *Report, documentURL string) error {
	wr := report.Write

	if wr.Succeeded == 0 {
		return fmt.Errorf("ingest: all %d batches failed for %s", wr.Attempted, documentURL)
	}
	if rate := wr.SuccessRate(); rate < p.cfg.MinSuccessRate {
		logging.FromContext(ctx).Warn("ingest: success rate under threshold",
			slog.String("namespace", report.Namespace),
			slog.Float64("rate", rate),
			slog.Float64("threshold", p.cfg.MinSuccessRate),
		)
		return fmt.Errorf("%w: %d of %d batches succeeded", ErrDegradedIngestion, wr.Succeeded, wr.Attempted)
	}
	return nil
}
