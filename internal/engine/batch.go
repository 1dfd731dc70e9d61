package engine

import (
	"context"
	"sync"
)

// Batch accumulates queries to run together as one merged table.
type Batch struct {
	runner *Runner

	mu      sync.Mutex
	queries []string
}

// NewBatch starts an empty batch bound to the runner.
func (r *Runner) NewBatch() *Batch {
	return &Batch{runner: r}
}

// Add appends queries and returns the batch for chaining.
func (b *Batch) Add(queries ...string) *Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, queries...)
	return b
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queries)
}

// Run executes the accumulated queries and clears the batch, whatever the outcome.
func (b *Batch) Run(ctx context.Context) (*Run, error) {
	b.mu.Lock()
	queries := b.queries
	b.queries = nil
	b.mu.Unlock()

	return b.runner.Run(ctx, queries...)
}
