// Package extract fetches a document by URL and extracts its plain text.
// The current format is paged PDF; pages that fail to parse are skipped
// rather than aborting the whole document. Extracted text carries page
// markers so downstream clause citations stay traceable.
package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/54b3r/docqa-go/internal/logging"
)

// FetchError indicates the document URL was unreachable or returned a
// non-success status. Fatal to the ingestion request.
type FetchError struct {
	// URL is the document URL that failed.
	URL string
	// Status is the HTTP status code, or 0 for transport failures.
	Status int
	// Err is the underlying transport error, if any.
	Err error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("extract: fetch %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("extract: fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError indicates the document yielded no extractable text after
// processing all pages. Fatal to the ingestion request — an empty document
// is useless downstream.
type ExtractionError struct {
	// URL is the document URL.
	URL string
	// Pages is the number of pages the document reported.
	Pages int
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: no extractable text in %s (%d pages)", e.URL, e.Pages)
}

// Config holds extractor settings.
type Config struct {
	// FetchTimeout bounds the document download. Defaults to 30s if zero.
	FetchTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string

	// PageMarkers prefixes each page's text with a "[page N]" tag when true.
	PageMarkers bool
}

// Extractor downloads documents and turns them into plain text.
type Extractor struct {
	// cfg holds the resolved configuration.
	cfg *Config

	// httpClient is the HTTP client used for document fetches.
	httpClient *http.Client
}

// New constructs an Extractor from the given config. A nil config selects
// all defaults.
func New(cfg *Config) *Extractor {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "docqa-go/1.0 (document ingestion)"
	}
	return &Extractor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.FetchTimeout},
	}
}

// Extract fetches documentURL and returns the concatenated page text and the
// document's page count.
//
// It returns *FetchError on network failure or non-2xx status and
// *ExtractionError when no page yields text. Individual page failures are
// logged and skipped. The fetched bytes live in a scoped temp file that is
// removed on every exit path.
func (e *Extractor) Extract(ctx context.Context, documentURL string) (string, int, error) {
	log := logging.FromContext(ctx)

	body, err := e.fetch(ctx, documentURL)
	if err != nil {
		return "", 0, err
	}

	// The PDF reader needs a ReadSeeker plus size, so the payload goes
	// through a temp file rather than memory-mapping the response.
	tmp, err := os.CreateTemp("", "docqa-*.pdf")
	if err != nil {
		return "", 0, fmt.Errorf("extract: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("extract: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("extract: close temp file: %w", err)
	}

	text, pages, err := e.extractPDF(log, tmpPath)
	if err != nil {
		return "", 0, fmt.Errorf("extract: parse %s: %w", documentURL, err)
	}

	if strings.TrimSpace(text) == "" {
		return "", pages, &ExtractionError{URL: documentURL, Pages: pages}
	}

	log.Info("extract: document extracted",
		slog.String("url", documentURL),
		slog.Int("pages", pages),
		slog.Int("chars", len(text)),
	)
	return text, pages, nil
}

// fetch downloads the document and returns its raw bytes.
func (e *Extractor) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf, application/octet-stream")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	return body, nil
}

// extractPDF walks the document page by page. Pages that fail to parse or
// carry no text are logged and skipped — a scanned or malformed page must
// not sink the rest of the document.
func (e *Extractor) extractPDF(log *slog.Logger, path string) (string, int, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	var buf strings.Builder
	pages := reader.NumPage()

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			log.Warn("extract: skipping unreadable page", slog.Int("page", i))
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Warn("extract: skipping page", slog.Int("page", i), slog.Any("error", err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			log.Debug("extract: skipping empty page", slog.Int("page", i))
			continue
		}

		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		if e.cfg.PageMarkers {
			fmt.Fprintf(&buf, "[page %d] ", i)
		}
		buf.WriteString(text)
	}

	return buf.String(), pages, nil
}
