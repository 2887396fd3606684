package fanout

import (
	"context"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/logging"
	"github.com/Sternrassler/fanout-bench/pkg/table"
	"github.com/rs/zerolog"
)

// ThreadFanOut fetches chunks on a bounded goroutine pool sharing one
// backend session.
type ThreadFanOut struct {
	fetcher  backend.Fetcher
	workers  int
	minItems int
	logger   zerolog.Logger
}

// NewThreadFanOut creates a ThreadFanOut with the given pool size.
// workers <= 0 selects DefaultThreadWorkers.
func NewThreadFanOut(f backend.Fetcher, workers, minItemsPerChunk int) *ThreadFanOut {
	if workers <= 0 {
		workers = DefaultThreadWorkers()
	}
	return &ThreadFanOut{
		fetcher:  f,
		workers:  workers,
		minItems: minItemsPerChunk,
		logger:   logging.NewLogger(logging.ComponentFanout).With().Str("variant", string(VariantThreads)).Logger(),
	}
}

// Variant implements Strategy.
func (t *ThreadFanOut) Variant() Variant { return VariantThreads }

// Workers returns the pool size.
func (t *ThreadFanOut) Workers() int { return t.workers }

// Fetch implements Strategy.
func (t *ThreadFanOut) Fetch(ctx context.Context, universe, fields []string) (*table.Table, error) {
	chunks := Partition(universe, t.minItems, t.workers)
	return run(ctx, t.logger, VariantThreads, universe, fields, chunks, t)
}

// Execute implements Executor.
func (t *ThreadFanOut) Execute(ctx context.Context, chunks []Chunk, fields []string) ([]ChunkResult, error) {
	return dispatch(ctx, t.logger, VariantThreads, chunks, t.workers, func(ctx context.Context, c Chunk) (*table.Table, error) {
		return t.fetcher.Fetch(ctx, c.Items, fields)
	})
}
