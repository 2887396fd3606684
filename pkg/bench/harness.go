// Package bench times end-to-end runs of a fan-out strategy and reports
// latency percentiles and throughput.
package bench

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/Sternrassler/fanout-bench/pkg/fanout"
	"github.com/Sternrassler/fanout-bench/pkg/logging"
	"github.com/Sternrassler/fanout-bench/pkg/table"
	"github.com/oklog/ulid/v2"
)

// ErrResultMismatch is returned by Compare when strategies disagree on the rows.
var ErrResultMismatch = errors.New("strategies returned different rows")

// Harness runs one strategy Repeat times over the same universe.
type Harness struct {
	Strategy fanout.Strategy
	Universe []string
	Fields   []string

	// Repeat is the number of timed runs (default 1).
	Repeat int
}

// Report summarizes the timed runs of one strategy.
type Report struct {
	RunID     string         `json:"run_id"`
	Variant   fanout.Variant `json:"variant"`
	StartedAt time.Time      `json:"started_at"`
	Runs      int            `json:"runs"`
	Items     int            `json:"items"`
	Fields    int            `json:"fields"`
	Rows      int            `json:"rows"`

	Min   time.Duration `json:"-"`
	Max   time.Duration `json:"-"`
	Mean  time.Duration `json:"-"`
	P50   time.Duration `json:"-"`
	P90   time.Duration `json:"-"`
	P99   time.Duration `json:"-"`
	Total time.Duration `json:"-"`

	ItemsPerSec float64 `json:"items_per_sec"`

	// JSON-friendly second fields.
	MinSec   float64 `json:"min_sec"`
	MaxSec   float64 `json:"max_sec"`
	MeanSec  float64 `json:"mean_sec"`
	P50Sec   float64 `json:"p50_sec"`
	P90Sec   float64 `json:"p90_sec"`
	P99Sec   float64 `json:"p99_sec"`
	TotalSec float64 `json:"total_sec"`

	// Table is the result of the last run.
	Table *table.Table `json:"-"`
}

// Run executes the timed runs. The first failing run aborts the benchmark.
func (h Harness) Run(ctx context.Context) (*Report, error) {
	if h.Strategy == nil {
		return nil, fmt.Errorf("harness strategy is required")
	}
	repeat := h.Repeat
	if repeat <= 0 {
		repeat = 1
	}

	variant := h.Strategy.Variant()
	logger := logging.NewLogger(logging.ComponentBench).With().Str("variant", string(variant)).Logger()

	// Track run durations from 1µs up to 1h with 3 significant figures.
	hist := hdrhistogram.New(1, int64(time.Hour/time.Microsecond), 3)

	report := &Report{
		RunID:     ulid.Make().String(),
		Variant:   variant,
		StartedAt: time.Now(),
		Items:     len(h.Universe),
		Fields:    len(h.Fields),
	}

	for i := 0; i < repeat; i++ {
		start := time.Now()
		tbl, err := h.Strategy.Fetch(ctx, h.Universe, h.Fields)
		elapsed := time.Since(start)
		if err != nil {
			logger.Error().Err(err).Int("run", i+1).Msg("Benchmark run failed")
			return nil, fmt.Errorf("%s run %d: %w", variant, i+1, err)
		}

		logger.Info().
			Str("run_id", report.RunID).
			Int("run", i+1).
			Int("rows", tbl.Len()).
			Float64("elapsed_sec", elapsed.Seconds()).
			Msgf("%s execution finished", variant)

		us := elapsed.Microseconds()
		us = max(us, hist.LowestTrackableValue())
		us = min(us, hist.HighestTrackableValue())
		_ = hist.RecordValue(us)

		if report.Min == 0 || elapsed < report.Min {
			report.Min = elapsed
		}
		report.Max = max(report.Max, elapsed)
		report.Total += elapsed
		report.Runs++
		report.Rows = tbl.Len()
		report.Table = tbl
	}

	report.Mean = report.Total / time.Duration(report.Runs)
	report.P50 = time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond
	report.P90 = time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond
	report.P99 = time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond
	if report.Total > 0 {
		report.ItemsPerSec = float64(report.Items*report.Runs) / report.Total.Seconds()
	}

	report.MinSec = report.Min.Seconds()
	report.MaxSec = report.Max.Seconds()
	report.MeanSec = report.Mean.Seconds()
	report.P50Sec = report.P50.Seconds()
	report.P90Sec = report.P90.Seconds()
	report.P99Sec = report.P99.Seconds()
	report.TotalSec = report.Total.Seconds()

	return report, nil
}

// Compare benchmarks each strategy in turn and checks that all of them return
// the same instruments in the same order as the first one.
func Compare(ctx context.Context, universe, fields []string, repeat int, strategies ...fanout.Strategy) ([]*Report, error) {
	reports := make([]*Report, 0, len(strategies))
	for _, s := range strategies {
		r, err := Harness{Strategy: s, Universe: universe, Fields: fields, Repeat: repeat}.Run(ctx)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}

	if len(reports) > 1 {
		baseline := reports[0].Table.Instruments()
		for _, r := range reports[1:] {
			if !slices.Equal(baseline, r.Table.Instruments()) {
				return reports, fmt.Errorf("%w: %s and %s", ErrResultMismatch, reports[0].Variant, r.Variant)
			}
		}
	}
	return reports, nil
}
