//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Sternrassler/fanout-bench/internal/testutil"
	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/cache"
	"github.com/Sternrassler/fanout-bench/pkg/fanout"
	"github.com/Sternrassler/fanout-bench/pkg/logging"
	"github.com/Sternrassler/fanout-bench/pkg/ratelimit"
	"github.com/Sternrassler/fanout-bench/pkg/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func instruments(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("INST%03d.X", i)
	}
	return ids
}

func openSession(t *testing.T, sessions backend.SessionFactory) backend.Session {
	t.Helper()
	s, err := sessions()
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// counterValue sums a counter family from the default registry.
func counterValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

// TestFullFlow_ChunkCache runs a thread fan-out twice through the Redis chunk
// cache: the second run must not reach the backend.
func TestFullFlow_ChunkCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockBackend()
	defer mock.Close()

	sessions := cache.WrapSessions(
		backend.HTTPSessionFactory(backend.DefaultHTTPConfig(mock.URL(), "integration")),
		cache.NewManager(redisClient),
		cache.FetcherConfig{TTL: time.Minute},
	)
	session := openSession(t, sessions)

	strategy, err := fanout.New(fanout.RunConfig{
		Variant:          fanout.VariantThreads,
		MinItemsPerChunk: 5,
		MaxWorkers:       3,
	}, fanout.Deps{Fetcher: session})
	if err != nil {
		t.Fatalf("Failed to build strategy: %v", err)
	}

	ctx := context.Background()
	universe, fields := instruments(30), []string{"TR.PriceClose", "TR.CommonName", "TR.DivExDate"}
	hitsBefore := counterValue(t, "fanout_cache_hits_total")

	first, err := strategy.Fetch(ctx, universe, fields)
	if err != nil {
		t.Fatalf("Run 1 failed: %v", err)
	}
	if mock.GetDataRequestCount() != 3 {
		t.Errorf("Run 1 data requests = %d, want 3", mock.GetDataRequestCount())
	}

	second, err := strategy.Fetch(ctx, universe, fields)
	if err != nil {
		t.Fatalf("Run 2 failed: %v", err)
	}
	if mock.GetDataRequestCount() != 3 {
		t.Errorf("Run 2 reached the backend: data requests = %d, want 3", mock.GetDataRequestCount())
	}

	want := testutil.EchoTable(universe, fields)
	if first.Len() != len(universe) || second.Len() != len(universe) {
		t.Errorf("rows = %d and %d, want %d", first.Len(), second.Len(), len(universe))
	}
	for i, row := range second.Rows {
		for _, f := range fields {
			if !row.Get(f).Equal(want.Rows[i].Get(f)) {
				t.Errorf("row %s field %s = %v, want %v", row.Instrument, f, row.Get(f), want.Rows[i].Get(f))
			}
		}
	}

	if hits := counterValue(t, "fanout_cache_hits_total") - hitsBefore; hits != 3 {
		t.Errorf("cache hits = %v, want 3", hits)
	}
}

// TestHybrid_WorkersShareCache checks that worker sessions of a hybrid run
// share the Redis cache with later runs.
func TestHybrid_WorkersShareCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockBackend()
	defer mock.Close()

	sessions := cache.WrapSessions(
		backend.HTTPSessionFactory(backend.DefaultHTTPConfig(mock.URL(), "integration")),
		cache.NewManager(redisClient),
		cache.FetcherConfig{},
	)
	parent := openSession(t, sessions)

	strategy, err := fanout.New(fanout.RunConfig{
		Variant:          fanout.VariantHybrid,
		MinItemsPerChunk: 5,
		MaxWorkers:       2,
		ThreadWorkers:    2,
	}, fanout.Deps{
		Fetcher:  parent,
		Launcher: &worker.LocalLauncher{Sessions: sessions},
	})
	if err != nil {
		t.Fatalf("Failed to build strategy: %v", err)
	}

	ctx := context.Background()
	universe, fields := instruments(40), []string{"TR.PriceClose"}

	for run := 1; run <= 2; run++ {
		tbl, err := strategy.Fetch(ctx, universe, fields)
		if err != nil {
			t.Fatalf("Run %d failed: %v", run, err)
		}
		if tbl.Len() != len(universe) {
			t.Errorf("Run %d rows = %d, want %d", run, tbl.Len(), len(universe))
		}
		// 2 processes x 2 sub-chunks, all cached after the first run.
		if mock.GetDataRequestCount() != 4 {
			t.Errorf("Run %d data requests = %d, want 4", run, mock.GetDataRequestCount())
		}
	}

	opened, closed := mock.GetSessionCounts()
	if opened != 5 || closed != 4 {
		t.Errorf("sessions opened/closed = %d/%d, want 5/4", opened, closed)
	}
}

// TestThrottle_SharedAcrossSessions checks that a critical budget reported to
// one session blocks requests of another session.
func TestThrottle_SharedAcrossSessions(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetThrottle(2, 30)

	cfg := backend.DefaultHTTPConfig(mock.URL(), "integration")
	cfg.Throttle = ratelimit.NewTracker(redisClient, logging.NewLogger(logging.ComponentRateLimit))
	sessions := backend.HTTPSessionFactory(cfg)

	a := openSession(t, sessions)
	b := openSession(t, sessions)
	ctx := context.Background()

	if _, err := a.Fetch(ctx, []string{"A"}, []string{"TR.PriceClose"}); err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}

	state, err := cfg.Throttle.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Remaining != 2 || !state.NeedsBlock() {
		t.Errorf("state = %+v, want remaining 2 and blocking", state)
	}

	retrying := fanout.NewRetryingFetcher(b, fanout.RetryPolicy{MaxAttempts: 3, Backoff: 10 * time.Millisecond})
	_, err = retrying.Fetch(ctx, []string{"B"}, []string{"TR.PriceClose"})
	if !errors.Is(err, backend.ErrThrottled) {
		t.Fatalf("error = %v, want ErrThrottled", err)
	}
	if !errors.Is(err, backend.ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
	if mock.GetDataRequestCount() != 1 {
		t.Errorf("data requests = %d, want 1", mock.GetDataRequestCount())
	}
}

// TestRetry_ServerErrorsRecovered checks that 5xx responses are retried and
// 4xx responses are not.
func TestRetry_ServerErrorsRecovered(t *testing.T) {
	mock := testutil.NewMockBackend()
	defer mock.Close()

	session := openSession(t, backend.HTTPSessionFactory(backend.DefaultHTTPConfig(mock.URL(), "integration")))
	retrying := fanout.NewRetryingFetcher(session, fanout.RetryPolicy{MaxAttempts: 5, Backoff: 10 * time.Millisecond})
	ctx := context.Background()

	mock.QueueDataResponse(testutil.NewServerErrorResponse(), testutil.NewRateLimitResponse())
	tbl, err := retrying.Fetch(ctx, []string{"A", "B"}, []string{"TR.PriceClose"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if tbl.Len() != 2 || mock.GetDataRequestCount() != 3 {
		t.Errorf("rows = %d, data requests = %d, want 2 and 3", tbl.Len(), mock.GetDataRequestCount())
	}

	mock.QueueDataResponse(testutil.NewBadFieldResponse("TR.Bogus"))
	_, err = retrying.Fetch(ctx, []string{"A"}, []string{"TR.Bogus"})
	if backend.ClassOf(err) != backend.ClassClient {
		t.Errorf("error class = %q, want client", backend.ClassOf(err))
	}
	if mock.GetDataRequestCount() != 4 {
		t.Errorf("data requests = %d, want 4", mock.GetDataRequestCount())
	}
}
