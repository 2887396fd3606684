package cache

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/Sternrassler/fanout-bench/internal/testutil"
	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/redis/go-redis/v9"
)

func TestCachingFetcher_MissThenHit(t *testing.T) {
	echo := &testutil.EchoFetcher{}
	f := NewCachingFetcher(echo, NewManager(setupTestRedis(t)), FetcherConfig{TTL: time.Minute})
	ctx := context.Background()

	ids, fields := []string{"AAPL.O", "VOD.L"}, []string{"TR.PriceClose", "TR.CompanyName", "TR.IPODate"}
	want := testutil.EchoTable(ids, fields)

	for i := 0; i < 3; i++ {
		got, err := f.Fetch(ctx, ids, fields)
		if err != nil {
			t.Fatalf("Fetch #%d failed: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Fetch #%d = %+v, want %+v", i, got, want)
		}
	}

	if echo.Calls() != 1 {
		t.Errorf("backend calls = %d, want 1", echo.Calls())
	}
}

func TestCachingFetcher_ParametersPartitionCache(t *testing.T) {
	client := setupTestRedis(t)
	echo := &testutil.EchoFetcher{}
	ctx := context.Background()

	a := NewCachingFetcher(echo, NewManager(client), FetcherConfig{Parameters: map[string]string{"SDate": "0"}})
	b := NewCachingFetcher(echo, NewManager(client), FetcherConfig{Parameters: map[string]string{"SDate": "-1"}})

	ids, fields := []string{"AAPL.O"}, []string{"TR.PriceClose"}
	if _, err := a.Fetch(ctx, ids, fields); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Fetch(ctx, ids, fields); err != nil {
		t.Fatal(err)
	}
	if echo.Calls() != 2 {
		t.Errorf("backend calls = %d, want 2", echo.Calls())
	}
}

func TestCachingFetcher_ErrorsAreNotCached(t *testing.T) {
	cause := &backend.TransientError{Class: backend.ClassServer}
	failing := &testutil.FailingFetcher{Err: cause}
	f := NewCachingFetcher(failing, NewManager(setupTestRedis(t)), FetcherConfig{})

	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background(), []string{"A"}, []string{"F"}); !errors.Is(err, cause) {
			t.Errorf("Fetch error = %v, want backend error", err)
		}
	}
	if failing.Attempts() != 2 {
		t.Errorf("backend calls = %d, want 2", failing.Attempts())
	}
}

func TestCachingFetcher_RedisDownFallsThrough(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	echo := &testutil.EchoFetcher{}
	f := NewCachingFetcher(echo, NewManager(client), FetcherConfig{})

	ids, fields := []string{"A"}, []string{"F"}
	got, err := f.Fetch(context.Background(), ids, fields)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !reflect.DeepEqual(got, testutil.EchoTable(ids, fields)) {
		t.Errorf("Fetch = %+v", got)
	}
	if echo.Calls() != 1 {
		t.Errorf("backend calls = %d, want 1", echo.Calls())
	}
}

func TestNewCachingFetcher_DefaultTTL(t *testing.T) {
	f := NewCachingFetcher(&testutil.EchoFetcher{}, NewManager(redis.NewClient(&redis.Options{})), FetcherConfig{})
	if f.cfg.TTL != DefaultTTL {
		t.Errorf("TTL = %v, want %v", f.cfg.TTL, DefaultTTL)
	}
}

func TestWrapSessions_DelegatesLifecycle(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	echo := &testutil.EchoFetcher{}
	counter := &testutil.SessionCounter{}
	sessions := WrapSessions(testutil.EchoSessions(echo, counter), NewManager(client), FetcherConfig{})

	s, err := sessions()
	if err != nil {
		t.Fatalf("sessions() failed: %v", err)
	}
	if _, ok := s.(*Session); !ok {
		t.Fatalf("session type = %T, want *cache.Session", s)
	}
	if counter.Created() != 1 {
		t.Errorf("sessions created = %d, want 1", counter.Created())
	}

	ctx := context.Background()
	if _, err := s.Fetch(ctx, []string{"A"}, []string{"F"}); !errors.Is(err, backend.ErrSessionClosed) {
		t.Errorf("Fetch on closed session error = %v, want ErrSessionClosed", err)
	}

	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s.State() != backend.StateOpened {
		t.Errorf("State = %s, want opened", s.State())
	}

	got, err := s.Fetch(ctx, []string{"A", "B"}, []string{"F"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got.Len() != 2 || echo.Calls() != 1 {
		t.Errorf("rows = %d, backend calls = %d, want 2 and 1", got.Len(), echo.Calls())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if s.State() != backend.StateClosed {
		t.Errorf("State = %s, want closed", s.State())
	}
}
