// Package fanout splits an instrument universe into chunks, dispatches the
// chunk fetches under one of four concurrency strategies and merges the
// per-chunk tables back into universe order.
//
// Strategies:
//   - direct: one retried fetch over the whole universe
//   - threads: bounded goroutine pool sharing one backend session
//   - processes: each chunk fetched by an isolated worker through a Launcher
//   - hybrid: processes whose workers fan out over goroutines themselves
//
// Example usage:
//
//	cfg := fanout.DefaultRunConfig(fanout.VariantThreads)
//	strategy, err := fanout.New(cfg, fanout.Deps{Fetcher: session})
//	if err != nil {
//		return err
//	}
//	tbl, err := strategy.Fetch(ctx, universe, fields)
//
// A run either returns the complete table or a *ChunkError naming the first
// chunk that failed. Chunks not yet started when a failure is seen are
// skipped; chunks already in flight run to completion and their results are
// discarded.
package fanout
