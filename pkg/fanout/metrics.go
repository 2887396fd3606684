package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	outcomeSuccess   = "success"
	outcomeTransient = "transient"
	outcomeFatal     = "fatal"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_fetch_attempts_total",
		Help: "Total backend fetch attempts by outcome",
	}, []string{"outcome"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_retries_total",
		Help: "Total number of retries after a transient failure",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fanout_retry_backoff_seconds",
		Help:    "Backoff waited before a retry",
		Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_retry_exhausted_total",
		Help: "Total number of fetches that exhausted their retry budget",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_runs_total",
		Help: "Total strategy runs by variant and outcome",
	}, []string{"variant", "outcome"})

	runDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fanout_run_duration_seconds",
		Help:    "End-to-end strategy run duration by variant",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"variant"})

	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_chunks_total",
		Help: "Total chunks dispatched by variant and outcome",
	}, []string{"variant", "outcome"})

	chunkDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fanout_chunk_duration_seconds",
		Help:    "Chunk fetch duration by variant",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 120},
	}, []string{"variant"})
)
