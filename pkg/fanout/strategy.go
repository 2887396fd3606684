package fanout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/table"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/Sternrassler/fanout-bench/pkg/fanout"

// Strategy fetches a whole universe under one concurrency model.
type Strategy interface {
	Variant() Variant
	Fetch(ctx context.Context, universe, fields []string) (*table.Table, error)
}

// Executor fetches already partitioned chunks. Results are indexed by chunk
// position, not completion order.
type Executor interface {
	Execute(ctx context.Context, chunks []Chunk, fields []string) ([]ChunkResult, error)
}

// run partitions, executes and aggregates one strategy run.
func run(ctx context.Context, logger zerolog.Logger, variant Variant, universe, fields []string, chunks []Chunk, exec Executor) (*table.Table, error) {
	if len(universe) == 0 {
		logger.Debug().Msg("Empty universe, nothing to fetch")
		return table.New(fields), nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "fanout.run", trace.WithAttributes(
		attribute.String("fanout.variant", string(variant)),
		attribute.Int("fanout.items", len(universe)),
		attribute.Int("fanout.fields", len(fields)),
		attribute.Int("fanout.chunks", len(chunks)),
	))
	defer span.End()

	start := time.Now()
	logger.Info().
		Str("variant", string(variant)).
		Int("items", len(universe)).
		Int("chunks", len(chunks)).
		Msg("Run started")

	results, err := exec.Execute(ctx, chunks, fields)
	elapsed := time.Since(start)
	runDurationSeconds.WithLabelValues(string(variant)).Observe(elapsed.Seconds())

	if err != nil {
		runsTotal.WithLabelValues(string(variant), outcomeFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Err(err).
			Str("variant", string(variant)).
			Dur("duration", elapsed).
			Msg("Run failed")
		return nil, err
	}

	out := Aggregate(results)
	if out.Len() == 0 && len(out.Fields) == 0 {
		out = table.New(fields)
	}

	runsTotal.WithLabelValues(string(variant), outcomeSuccess).Inc()
	span.SetAttributes(attribute.Int("fanout.rows", out.Len()))
	logger.Info().
		Str("variant", string(variant)).
		Int("rows", out.Len()).
		Dur("duration", elapsed).
		Msg("Run finished")
	return out, nil
}

// fetchChunk runs fn for one chunk with chunk-level metrics and a span.
func fetchChunk(ctx context.Context, variant Variant, c Chunk, fn func(context.Context) (*table.Table, error)) (*table.Table, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "fanout.chunk", trace.WithAttributes(
		attribute.String("fanout.variant", string(variant)),
		attribute.Int("fanout.chunk.index", c.Index),
		attribute.Int("fanout.chunk.items", len(c.Items)),
	))
	defer span.End()

	start := time.Now()
	tbl, err := fn(ctx)
	chunkDurationSeconds.WithLabelValues(string(variant)).Observe(time.Since(start).Seconds())

	if err != nil {
		chunksTotal.WithLabelValues(string(variant), outcomeFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, newChunkError(c, err)
	}
	chunksTotal.WithLabelValues(string(variant), outcomeSuccess).Inc()
	return tbl, nil
}

// dispatch runs fn for every chunk on at most workers goroutines. After the
// first failure, chunks that have not started are skipped; chunks in flight
// finish and their results are dropped. The first failure is returned.
func dispatch(ctx context.Context, logger zerolog.Logger, variant Variant, chunks []Chunk, workers int, fn func(context.Context, Chunk) (*table.Table, error)) ([]ChunkResult, error) {
	if workers <= 0 {
		workers = 1
	}

	results := make([]ChunkResult, len(chunks))
	var failed atomic.Bool
	var g errgroup.Group
	g.SetLimit(workers)

	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			if failed.Load() {
				chunksTotal.WithLabelValues(string(variant), outcomeSkipped).Inc()
				return nil
			}

			tbl, err := fetchChunk(ctx, variant, c, func(ctx context.Context) (*table.Table, error) {
				return fn(ctx, c)
			})
			if err != nil {
				failed.Store(true)
				logger.Warn().
					Err(err).
					Int("chunk", c.Index).
					Int("items", len(c.Items)).
					Msg("Chunk failed, skipping remaining chunks")
				return err
			}

			results[i] = ChunkResult{Index: c.Index, Table: tbl}
			logger.Debug().
				Int("chunk", c.Index).
				Int("rows", tbl.Len()).
				Msg("Chunk complete")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
