// Package history provides a SQLite-backed record of pipeline runs. Each
// processed document leaves one row (namespace, source URL, chunk and batch
// counts, timing) so operators can trace what a given request did after its
// namespace has been purged. Recording is best-effort and never blocks or
// fails a request.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Run is one pipeline execution record.
type Run struct {
	// Namespace is the (now purged) namespace the run used.
	Namespace string
	// DocumentURL is the source document.
	DocumentURL string
	// Pages is the document's page count.
	Pages int
	// Chunks is the number of chunks indexed.
	Chunks int
	// BatchesAttempted and BatchesSucceeded mirror the write report.
	BatchesAttempted int
	BatchesSucceeded int
	// Questions is the number of questions answered.
	Questions int
	// Duration is the wall-clock time of the whole request.
	Duration time.Duration
	// CreatedAt is when the run was recorded.
	CreatedAt time.Time
}

// Store persists and retrieves run records. Implementations must be safe
// for concurrent use.
type Store interface {
	// Record persists a single run.
	Record(ctx context.Context, run Run) error
	// Recent returns the most recent n runs, newest first.
	Recent(ctx context.Context, n int) ([]Run, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a Store backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the run history database.
// It resolves to ~/.docqa/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("history: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("history: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS runs (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    namespace          TEXT    NOT NULL,
    document_url       TEXT    NOT NULL,
    pages              INTEGER NOT NULL,
    chunks             INTEGER NOT NULL,
    batches_attempted  INTEGER NOT NULL,
    batches_succeeded  INTEGER NOT NULL,
    questions          INTEGER NOT NULL,
    duration_ms        INTEGER NOT NULL,
    created_at         INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Record persists a single run.
func (s *SQLiteStore) Record(ctx context.Context, run Run) error {
	const q = `INSERT INTO runs
    (namespace, document_url, pages, chunks, batches_attempted, batches_succeeded, questions, duration_ms, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		run.Namespace, run.DocumentURL, run.Pages, run.Chunks,
		run.BatchesAttempted, run.BatchesSucceeded, run.Questions,
		run.Duration.Milliseconds(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n runs, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Run, error) {
	const q = `SELECT namespace, document_url, pages, chunks, batches_attempted, batches_succeeded, questions, duration_ms, created_at
    FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var durationMS, createdAt int64
		if err := rows.Scan(&r.Namespace, &r.DocumentURL, &r.Pages, &r.Chunks,
			&r.BatchesAttempted, &r.BatchesSucceeded, &r.Questions, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.CreatedAt = time.Unix(createdAt, 0)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
