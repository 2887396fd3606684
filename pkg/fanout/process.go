package fanout

import (
	"context"
	"fmt"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/logging"
	"github.com/Sternrassler/fanout-bench/pkg/table"
	"github.com/rs/zerolog"
)

// Mode selects how an isolated worker fetches its chunk.
type Mode string

const (
	// ModeDirect fetches the chunk with one retried call.
	ModeDirect Mode = "direct"

	// ModeThreads re-partitions the chunk over a goroutine pool.
	ModeThreads Mode = "threads"
)

// Job is one chunk handed to an isolated worker.
type Job struct {
	Index            int         `json:"index"`
	Items            []string    `json:"items"`
	Fields           []string    `json:"fields"`
	Mode             Mode        `json:"mode"`
	MinItemsPerChunk int         `json:"min_items_per_chunk"`
	ThreadWorkers    int         `json:"thread_workers"`
	Retry            RetryPolicy `json:"retry"`
}

// Launcher runs a Job in an isolated worker holding its own backend session.
type Launcher interface {
	Launch(ctx context.Context, job Job) (*table.Table, error)
}

// RunJob executes a job against the worker's own session. It is the worker
// side of a Launcher.
func RunJob(ctx context.Context, job Job, session backend.Fetcher) (*table.Table, error) {
	retrying := NewRetryingFetcher(session, job.Retry)

	var s Strategy
	switch job.Mode {
	case ModeDirect, "":
		s = NewDirect(retrying)
	case ModeThreads:
		s = NewThreadFanOut(retrying, job.ThreadWorkers, job.MinItemsPerChunk)
	default:
		return nil, &backend.FatalError{
			Class:   backend.ClassWorker,
			Message: fmt.Sprintf("unknown job mode %q", job.Mode),
		}
	}
	return s.Fetch(ctx, job.Items, job.Fields)
}

// ProcessOptions configures a ProcessFanOut.
type ProcessOptions struct {
	// Variant labels logs and metrics.
	Variant Variant

	// Workers bounds the number of concurrently running workers.
	Workers int

	MinItemsPerChunk int

	// Mode is how each worker fetches its chunk.
	Mode Mode

	// ThreadWorkers is the pool size inside a worker in ModeThreads.
	ThreadWorkers int

	Retry RetryPolicy
}

// ProcessFanOut runs each chunk in an isolated worker through a Launcher.
// When the universe splits into fewer than two chunks the fallback strategy
// runs in the current process instead and no worker is launched.
type ProcessFanOut struct {
	launcher Launcher
	opts     ProcessOptions
	fallback Strategy
	logger   zerolog.Logger
}

// NewProcessFanOut creates a ProcessFanOut.
func NewProcessFanOut(l Launcher, opts ProcessOptions, fallback Strategy) *ProcessFanOut {
	if opts.Variant == "" {
		opts.Variant = VariantProcesses
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultProcessWorkers
	}
	if opts.Mode == "" {
		opts.Mode = ModeDirect
	}
	return &ProcessFanOut{
		launcher: l,
		opts:     opts,
		fallback: fallback,
		logger:   logging.NewLogger(logging.ComponentFanout).With().Str("variant", string(opts.Variant)).Logger(),
	}
}

// Variant implements Strategy.
func (p *ProcessFanOut) Variant() Variant { return p.opts.Variant }

// Fallback returns the in-process strategy used for small universes.
func (p *ProcessFanOut) Fallback() Strategy { return p.fallback }

// Fetch implements Strategy.
func (p *ProcessFanOut) Fetch(ctx context.Context, universe, fields []string) (*table.Table, error) {
	chunks := Partition(universe, p.opts.MinItemsPerChunk, p.opts.Workers)
	if len(chunks) < 2 {
		p.logger.Info().
			Int("items", len(universe)).
			Int("chunks", len(chunks)).
			Str("fallback", string(p.fallback.Variant())).
			Msg("Fewer than two chunks, running in current process")
		return p.fallback.Fetch(ctx, universe, fields)
	}
	return run(ctx, p.logger, p.opts.Variant, universe, fields, chunks, p)
}

// Execute implements Executor, launching one worker per chunk.
func (p *ProcessFanOut) Execute(ctx context.Context, chunks []Chunk, fields []string) ([]ChunkResult, error) {
	return dispatch(ctx, p.logger, p.opts.Variant, chunks, p.opts.Workers, func(ctx context.Context, c Chunk) (*table.Table, error) {
		return p.launcher.Launch(ctx, Job{
			Index:            c.Index,
			Items:            c.Items,
			Fields:           fields,
			Mode:             p.opts.Mode,
			MinItemsPerChunk: p.opts.MinItemsPerChunk,
			ThreadWorkers:    p.opts.ThreadWorkers,
			Retry:            p.opts.Retry,
		})
	})
}
