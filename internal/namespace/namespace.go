// Package namespace allocates the per-request identifier that scopes one
// document's vectors inside the shared index. Every ingestion run gets a
// fresh namespace; the search phase reads it back and cleanup deletes it.
// Concurrent requests therefore never see each other's vectors.
package namespace

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a fresh namespace identifier.
//
// The value is a millisecond UTC timestamp joined with a random UUID, e.g.
// "1735689600123-550e8400-e29b-41d4-a716-446655440000". The timestamp prefix
// keeps identifiers sortable by ingestion time for operators; the UUID makes
// collisions across goroutines and processes vanishingly unlikely. The
// charset (hex digits and dashes) satisfies vector-store id constraints.
//
// New is pure generation: no I/O and no failure mode.
func New() string {
	return fmt.Sprintf("%d-%s", time.Now().UTC().UnixMilli(), uuid.NewString())
}
