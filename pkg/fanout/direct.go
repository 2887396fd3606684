package fanout

import (
	"context"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/logging"
	"github.com/Sternrassler/fanout-bench/pkg/table"
	"github.com/rs/zerolog"
)

// Direct fetches the whole universe with one call on the caller's goroutine.
type Direct struct {
	fetcher backend.Fetcher
	logger  zerolog.Logger
}

// NewDirect creates a Direct strategy. Pass a RetryingFetcher to get retries.
func NewDirect(f backend.Fetcher) *Direct {
	return &Direct{
		fetcher: f,
		logger:  logging.NewLogger(logging.ComponentFanout).With().Str("variant", string(VariantDirect)).Logger(),
	}
}

// Variant implements Strategy.
func (d *Direct) Variant() Variant { return VariantDirect }

// Fetch implements Strategy.
func (d *Direct) Fetch(ctx context.Context, universe, fields []string) (*table.Table, error) {
	chunks := []Chunk{{Index: 0, Items: universe}}
	return run(ctx, d.logger, VariantDirect, universe, fields, chunks, d)
}

// Execute implements Executor, fetching chunks one after another.
func (d *Direct) Execute(ctx context.Context, chunks []Chunk, fields []string) ([]ChunkResult, error) {
	results := make([]ChunkResult, 0, len(chunks))
	for _, c := range chunks {
		tbl, err := fetchChunk(ctx, VariantDirect, c, func(ctx context.Context) (*table.Table, error) {
			return d.fetcher.Fetch(ctx, c.Items, fields)
		})
		if err != nil {
			return nil, err
		}
		results = append(results, ChunkResult{Index: c.Index, Table: tbl})
	}
	return results, nil
}
