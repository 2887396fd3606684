// Package metrics exposes the Prometheus metrics of the fan-out benchmark.
// All metrics are defined in their respective packages (fanout, worker,
// backend, cache, ratelimit) to maintain modularity and avoid circular
// dependencies.
//
// This package provides the /metrics endpoint and documentation for all
// available metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the benchmark.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Path is where metrics are served.
const Path = "/metrics"

// Handler returns the HTTP handler serving the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics until its context ends.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Listen binds addr (e.g. ":9090", "127.0.0.1:0") and returns an unstarted server.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(Path, Handler())

	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is cancelled, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	logger := logging.NewLogger(logging.ComponentCLI)
	logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	logger.Info().Msg("Metrics server stopped")
	return nil
}

// Metrics Documentation
//
// Run Metrics (pkg/fanout):
//   - fanout_runs_total{variant, outcome} (Counter): Strategy runs by variant and outcome (success, failed)
//   - fanout_run_duration_seconds{variant} (Histogram): End-to-end run duration
//   - fanout_chunks_total{variant, outcome} (Counter): Chunks by outcome (success, failed, skipped)
//   - fanout_chunk_duration_seconds{variant} (Histogram): Chunk fetch duration
//
// Retry Metrics (pkg/fanout):
//   - fanout_fetch_attempts_total{outcome} (Counter): Fetch attempts (success, transient, fatal)
//   - fanout_retries_total (Counter): Retries after a transient failure
//   - fanout_retry_backoff_seconds (Histogram): Backoff waited before a retry
//   - fanout_retry_exhausted_total (Counter): Fetches that exhausted their retry budget
//
// Worker Metrics (pkg/worker):
//   - fanout_worker_processes_total{outcome} (Counter): Worker processes (success, failed, job_failed)
//   - fanout_worker_process_duration_seconds (Histogram): Worker process wall time
//
// Backend Metrics (pkg/backend):
//   - fanout_backend_requests_total{path, status} (Counter): Requests by path and HTTP status
//   - fanout_backend_request_duration_seconds{path} (Histogram): Request duration by path
//   - fanout_backend_errors_total{class} (Counter): Errors by class
//
// Throttle Metrics (pkg/ratelimit):
//   - fanout_backend_throttle_remaining (Gauge): Requests left in the backend window
//   - fanout_backend_throttle_blocks_total (Counter): Requests refused at a critical budget
//   - fanout_backend_throttle_delays_total (Counter): Requests delayed at a low budget
//
// Cache Metrics (pkg/cache):
//   - fanout_cache_hits_total (Counter): Chunk cache hits
//   - fanout_cache_misses_total (Counter): Chunk cache misses
//   - fanout_cache_size_bytes (Gauge): Bytes written to the cache
//   - fanout_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Retry Rate
//   rate(fanout_retries_total[5m]) / rate(fanout_fetch_attempts_total[5m])
//
//   # P95 Run Duration by Variant
//   histogram_quantile(0.95, sum by (variant, le) (rate(fanout_run_duration_seconds_bucket[5m])))
//
//   # Skipped Chunks after Failures
//   sum by (variant) (rate(fanout_chunks_total{outcome="skipped"}[5m]))
//
//   # Throttle Status
//   fanout_backend_throttle_remaining < 20
