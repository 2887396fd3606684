package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Sternrassler/fanout-bench/internal/config"
	"github.com/Sternrassler/fanout-bench/internal/universe"
	"github.com/Sternrassler/fanout-bench/pkg/bench"
	"github.com/Sternrassler/fanout-bench/pkg/fanout"
	"github.com/Sternrassler/fanout-bench/pkg/worker"
	"github.com/spf13/cobra"
)

// Command names.
const (
	CmdRun     = "run"
	CmdCompare = "compare"
)

// buildApp is swapped by tests to replace the worker launcher.
var buildApp = newApp

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fanout-bench",
		Short: "Benchmark batch fetching strategies against a data backend",
		Long: `fanout-bench fetches a universe of instruments from a table-oriented data
backend and times how long each concurrency strategy takes:

  direct     one request for the whole universe
  threads    chunks fetched by a bounded goroutine pool over one session
  processes  chunks fetched by worker processes, each with its own session
  hybrid     worker processes that each fan their chunk out over goroutines

Examples:
  fanout-bench run --backend-url http://localhost:9000 --variant threads
  fanout-bench compare --backend-url http://localhost:9000 -n 3 --json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newRunCmd(), newCompareCmd(), newWorkerCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   CmdRun,
		Short: "Time one strategy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			variant, err := fanout.ParseVariant(cfg.Variant)
			if err != nil {
				return err
			}
			return runBench(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, []fanout.Variant{variant})
		},
	}
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   CmdCompare,
		Short: "Time several strategies on the same universe and check they agree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			variants := make([]fanout.Variant, 0, len(cfg.Variants))
			for _, name := range cfg.Variants {
				v, err := fanout.ParseVariant(name)
				if err != nil {
					return err
				}
				variants = append(variants, v)
			}
			if len(variants) == 0 {
				return errors.New("no variants to compare")
			}
			return runBench(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, variants)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    worker.Command,
		Short:  "Serve one job from stdin (started by the processes and hybrid strategies)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, appOptions{worker: true, stderr: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.close()

			return worker.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), a.sessions)
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runBench times variants in order and prints the reports.
func runBench(ctx context.Context, stdout, stderr io.Writer, cfg *config.Config, variants []fanout.Variant) error {
	a, err := buildApp(ctx, cfg, appOptions{stderr: stderr})
	if err != nil {
		return err
	}
	defer a.close()

	ids, err := universe.Resolve(cfg.Universe.File, cfg.Universe.Size)
	if err != nil {
		return err
	}

	strategies := make([]fanout.Strategy, 0, len(variants))
	for _, v := range variants {
		s, err := a.strategy(ctx, v)
		if err != nil {
			return err
		}
		strategies = append(strategies, s)

		event := a.logger.Info().
			Str("variant", string(v)).
			Int("universe", len(ids)).
			Int("fields", len(cfg.Fields))
		if workers := cfg.RunConfig(v).MaxWorkers; workers > 0 {
			event = event.
				Int("workers", workers).
				Int("chunk_size", fanout.EffectiveChunkSize(len(ids), cfg.MinItemsPerChunk, workers))
		}
		event.Msg("Strategy configured")
	}

	reports, err := bench.Compare(ctx, ids, cfg.Fields, cfg.Repeat, strategies...)
	if len(reports) > 0 {
		if perr := printReports(stdout, cfg, reports); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}

	if cfg.Output.CSV != "" {
		last := reports[len(reports)-1].Table
		if err := writeCSVFile(cfg.Output.CSV, func(w io.Writer) error { return bench.WriteCSV(w, last) }); err != nil {
			return err
		}
		a.logger.Info().Str("path", cfg.Output.CSV).Int("rows", last.Len()).Msg("Table written")
	}
	return nil
}

func printReports(w io.Writer, cfg *config.Config, reports []*bench.Report) error {
	if cfg.Output.JSON {
		if len(reports) == 1 {
			return bench.PrintJSON(w, reports[0])
		}
		return bench.PrintJSON(w, reports)
	}

	for _, r := range reports {
		bench.PrintReport(w, r)
	}
	if len(reports) > 1 {
		fmt.Fprintln(w)
		bench.PrintComparison(w, reports)
	}
	return nil
}
