// Package cache stores fetched chunk tables in Redis so repeated requests for
// the same instruments and fields skip the backend.
//
// Entries are keyed by a hash of the ordered identifiers, the ordered fields
// and the request parameters, and expire after a fixed TTL.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//	fetcher := cache.NewCachingFetcher(session, manager, cache.FetcherConfig{
//		TTL: 10 * time.Minute,
//	})
//
//	// fetcher is a backend.Fetcher; use it wherever the session was used
//	strategy, err := fanout.New(cfg, fanout.Deps{Fetcher: fetcher})
//
// Cache failures never fail a fetch: the request falls through to the
// backend and the error is logged.
//
// # Metrics
//
//   - fanout_cache_hits_total - Cache hits
//   - fanout_cache_misses_total - Cache misses
//   - fanout_cache_size_bytes - Bytes written to the cache
//   - fanout_cache_errors_total{operation} - Cache operation errors
//
// Chunk boundaries depend on the strategy and worker count, so hits only occur
// when the same chunks are requested again, typically across repeated runs.
package cache
