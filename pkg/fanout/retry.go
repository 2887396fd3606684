package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/logging"
	"github.com/Sternrassler/fanout-bench/pkg/table"
	"github.com/rs/zerolog"
)

// RetryingFetcher retries transient backend failures with a fixed backoff.
type RetryingFetcher struct {
	next   backend.Fetcher
	policy RetryPolicy
	logger zerolog.Logger
}

// NewRetryingFetcher wraps next. Zero policy fields take their defaults.
func NewRetryingFetcher(next backend.Fetcher, policy RetryPolicy) *RetryingFetcher {
	return &RetryingFetcher{
		next:   next,
		policy: policy.withDefaults(),
		logger: logging.NewLogger(logging.ComponentRetry),
	}
}

// Policy returns the effective retry policy.
func (r *RetryingFetcher) Policy() RetryPolicy {
	return r.policy
}

// Fetch implements backend.Fetcher. It returns the first successful result,
// the backend's own FatalError unchanged, or an exhausted FatalError carrying
// the last transient cause after MaxAttempts failures.
func (r *RetryingFetcher) Fetch(ctx context.Context, ids, fields []string) (*table.Table, error) {
	r.logger.Info().
		Int("items", len(ids)).
		Time("requested_at", time.Now()).
		Msg("Batch requested")

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		tbl, err := r.next.Fetch(ctx, ids, fields)
		if err == nil {
			fetchAttemptsTotal.WithLabelValues(outcomeSuccess).Inc()
			if attempt > 1 {
				r.logger.Info().
					Int("attempt", attempt).
					Int("items", len(ids)).
					Msg("Fetch succeeded after retry")
			}
			return tbl, nil
		}

		if !backend.Retryable(err) {
			fetchAttemptsTotal.WithLabelValues(outcomeFatal).Inc()
			if backend.IsFatal(err) {
				return nil, err
			}
			return nil, &backend.FatalError{Class: backend.ClassCancelled, Attempts: attempt, Err: err}
		}

		fetchAttemptsTotal.WithLabelValues(outcomeTransient).Inc()
		lastErr = err
		remaining := r.policy.MaxAttempts - attempt

		r.logger.Warn().
			Err(err).
			Str("error_class", string(backend.ClassOf(err))).
			Int("attempt", attempt).
			Int("remaining", remaining).
			Msg("Fetch attempt failed")

		if remaining == 0 {
			break
		}

		retriesTotal.Inc()
		retryBackoffSeconds.Observe(r.policy.Backoff.Seconds())

		timer := time.NewTimer(r.policy.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return nil, &backend.FatalError{
				Class:    backend.ClassCancelled,
				Attempts: attempt,
				Err:      fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr),
			}
		case <-timer.C:
		}
	}

	retryExhaustedTotal.Inc()
	r.logger.Error().
		Err(lastErr).
		Int("max_attempts", r.policy.MaxAttempts).
		Int("items", len(ids)).
		Msg("Retry attempts exhausted")

	return nil, backend.Exhausted(r.policy.MaxAttempts, lastErr)
}
