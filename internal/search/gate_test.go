package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// countingStore is a VectorStore fake whose Count returns a scripted sequence
// of (count, err) results.
type countingStore struct {
	mu sync.Mutex
	// counts is consumed one entry per Count call; the last entry repeats.
	counts []countResult
	// calls is the number of Count invocations observed.
	calls int
}

type countResult struct {
	n   uint64
	err error
}

func (c *countingStore) Count(_ context.Context, _ string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	i := c.calls - 1
	if i >= len(c.counts) {
		i = len(c.counts) - 1
	}
	return c.counts[i].n, c.counts[i].err
}

func (c *countingStore) Ready(_ context.Context) error { return nil }
func (c *countingStore) Upsert(_ context.Context, _ string, _ []rag.Record, _ [][]float32) error {
	return nil
}
func (c *countingStore) Query(_ context.Context, _ string, _ []float32, _ int) ([]rag.Hit, error) {
	return nil, nil
}
func (c *countingStore) Purge(_ context.Context, _ string) error { return nil }
func (c *countingStore) Close() error                            { return nil }

// TestAwaitReady_ImmediatelyVisible verifies a single successful probe ends
// the wait.
func TestAwaitReady_ImmediatelyVisible(t *testing.T) {
	t.Parallel()

	store := &countingStore{counts: []countResult{{n: 12}}}
	g := NewGate(store, 5, time.Millisecond)

	if !g.AwaitReady(t.Context(), "ns") {
		t.Error("expected ready on first probe")
	}
	if store.calls != 1 {
		t.Errorf("expected 1 probe, got %d", store.calls)
	}
}

// TestAwaitReady_EventuallyVisible verifies polling continues until the
// count turns non-zero.
func TestAwaitReady_EventuallyVisible(t *testing.T) {
	t.Parallel()

	store := &countingStore{counts: []countResult{{n: 0}, {n: 0}, {n: 7}}}
	g := NewGate(store, 5, time.Millisecond)

	if !g.AwaitReady(t.Context(), "ns") {
		t.Error("expected ready on third probe")
	}
	if store.calls != 3 {
		t.Errorf("expected 3 probes, got %d", store.calls)
	}
}

// TestAwaitReady_Exhausted verifies false (not an error) after the attempt
// budget runs out against an empty namespace.
func TestAwaitReady_Exhausted(t *testing.T) {
	t.Parallel()

	store := &countingStore{counts: []countResult{{n: 0}}}
	g := NewGate(store, 3, time.Millisecond)

	if g.AwaitReady(t.Context(), "ns") {
		t.Error("expected not ready after exhaustion")
	}
	if store.calls != 3 {
		t.Errorf("expected exactly 3 probes, got %d", store.calls)
	}
}

// TestAwaitReady_ProbeErrorsCount verifies probe errors consume attempts
// rather than aborting or retrying forever.
func TestAwaitReady_ProbeErrorsCount(t *testing.T) {
	t.Parallel()

	store := &countingStore{counts: []countResult{
		{err: errors.New("transient")},
		{err: errors.New("transient")},
		{n: 3},
	}}
	g := NewGate(store, 5, time.Millisecond)

	if !g.AwaitReady(t.Context(), "ns") {
		t.Error("expected ready after transient probe errors")
	}
}

// TestAwaitReady_ContextCancelled verifies cancellation stops the wait.
func TestAwaitReady_ContextCancelled(t *testing.T) {
	t.Parallel()

	store := &countingStore{counts: []countResult{{n: 0}}}
	g := NewGate(store, 100, time.Hour)

	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan bool, 1)
	go func() { done <- g.AwaitReady(ctx, "ns") }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ready := <-done:
		if ready {
			t.Error("expected not ready after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitReady did not return after cancellation")
	}
}

// TestNewGate_Defaults verifies zero settings select the defaults.
func TestNewGate_Defaults(t *testing.T) {
	t.Parallel()

	g := NewGate(&countingStore{counts: []countResult{{n: 1}}}, 0, 0)
	if g.maxAttempts != 5 {
		t.Errorf("expected default 5 attempts, got %d", g.maxAttempts)
	}
	if g.delay != 2*time.Second {
		t.Errorf("expected default 2s delay, got %v", g.delay)
	}
}
