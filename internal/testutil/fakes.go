package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/table"
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// CellFor returns the deterministic value the fakes and the mock backend
// report for an instrument field. Fields containing "Date" are dates, fields
// containing "Name" are strings, everything else is a number.
func CellFor(id, field string) table.Value {
	h := fnv.New32a()
	h.Write([]byte(id + "/" + field))
	sum := h.Sum32()

	switch {
	case strings.Contains(field, "Date"):
		return table.Date(epoch.AddDate(0, 0, int(sum%3650)))
	case strings.Contains(field, "Name"):
		return table.String("name-" + id)
	default:
		return table.Number(float64(sum%1000000) / 100)
	}
}

// EchoTable builds the table the fakes return: one row per identifier, in order.
func EchoTable(ids, fields []string) *table.Table {
	t := table.New(fields)
	for _, id := range ids {
		row := table.Row{Instrument: id, Values: make(map[string]table.Value, len(fields))}
		for _, f := range fields {
			row.Values[f] = CellFor(id, f)
		}
		t.Append(row)
	}
	return t
}

// EchoFetcher answers every fetch with EchoTable and records its calls.
type EchoFetcher struct {
	// Delay is slept before answering, honoring ctx.
	Delay time.Duration

	calls    atomic.Int64
	inflight atomic.Int64
	peak     atomic.Int64

	mu      sync.Mutex
	batches [][]string
}

// Fetch implements backend.Fetcher.
func (e *EchoFetcher) Fetch(ctx context.Context, ids, fields []string) (*table.Table, error) {
	e.calls.Add(1)
	n := e.inflight.Add(1)
	defer e.inflight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}

	e.mu.Lock()
	e.batches = append(e.batches, append([]string(nil), ids...))
	e.mu.Unlock()

	if e.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.Delay):
		}
	}
	return EchoTable(ids, fields), nil
}

// Calls returns the number of Fetch calls.
func (e *EchoFetcher) Calls() int {
	return int(e.calls.Load())
}

// PeakConcurrency returns the highest number of concurrent Fetch calls seen.
func (e *EchoFetcher) PeakConcurrency() int {
	return int(e.peak.Load())
}

// Batches returns a copy of the identifier lists received, in call order.
func (e *EchoFetcher) Batches() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.batches))
	copy(out, e.batches)
	return out
}

// FlakyFetcher fails every distinct batch FailuresPerBatch times with a
// TransientError before delegating to Next.
type FlakyFetcher struct {
	Next             backend.Fetcher
	FailuresPerBatch int

	attempts atomic.Int64

	mu   sync.Mutex
	seen map[string]int
}

// Fetch implements backend.Fetcher.
func (f *FlakyFetcher) Fetch(ctx context.Context, ids, fields []string) (*table.Table, error) {
	f.attempts.Add(1)
	key := strings.Join(ids, "\x00")

	f.mu.Lock()
	if f.seen == nil {
		f.seen = make(map[string]int)
	}
	f.seen[key]++
	n := f.seen[key]
	f.mu.Unlock()

	if n <= f.FailuresPerBatch {
		return nil, &backend.TransientError{
			Class:   backend.ClassServer,
			Message: fmt.Sprintf("flaky failure %d", n),
		}
	}
	return f.Next.Fetch(ctx, ids, fields)
}

// Attempts returns the total number of Fetch calls.
func (f *FlakyFetcher) Attempts() int {
	return int(f.attempts.Load())
}

// FailingFetcher returns Err for batches matched by Match (all batches when
// Match is nil) and delegates the rest to Next.
type FailingFetcher struct {
	Err   error
	Match func(ids []string) bool
	Next  backend.Fetcher

	attempts atomic.Int64
}

// Fetch implements backend.Fetcher.
func (f *FailingFetcher) Fetch(ctx context.Context, ids, fields []string) (*table.Table, error) {
	f.attempts.Add(1)
	if f.Match == nil || f.Match(ids) {
		return nil, f.Err
	}
	if f.Next == nil {
		return EchoTable(ids, fields), nil
	}
	return f.Next.Fetch(ctx, ids, fields)
}

// Attempts returns the total number of Fetch calls.
func (f *FailingFetcher) Attempts() int {
	return int(f.attempts.Load())
}

// Contains returns a Match function selecting batches that include id.
func Contains(id string) func([]string) bool {
	return func(ids []string) bool {
		for _, v := range ids {
			if v == id {
				return true
			}
		}
		return false
	}
}

// FakeSession is a backend.Session over a Fetcher.
type FakeSession struct {
	Fetcher backend.Fetcher

	mu    sync.Mutex
	state backend.SessionState
}

// Open implements backend.Session.
func (s *FakeSession) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = backend.StateOpened
	return nil
}

// Close implements backend.Session.
func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = backend.StateClosed
	return nil
}

// State implements backend.Session.
func (s *FakeSession) State() backend.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return backend.StateClosed
	}
	return s.state
}

// Fetch implements backend.Fetcher.
func (s *FakeSession) Fetch(ctx context.Context, ids, fields []string) (*table.Table, error) {
	if s.State() != backend.StateOpened {
		return nil, &backend.FatalError{Class: backend.ClassSession, Err: backend.ErrSessionClosed}
	}
	return s.Fetcher.Fetch(ctx, ids, fields)
}

// SessionCounter counts sessions created by a factory.
type SessionCounter struct {
	created atomic.Int64
}

// Created returns the number of sessions created.
func (c *SessionCounter) Created() int {
	return int(c.created.Load())
}

// EchoSessions returns a factory of sessions that share the fetcher f.
// When f is nil every session gets its own EchoFetcher.
func EchoSessions(f backend.Fetcher, counter *SessionCounter) backend.SessionFactory {
	return func() (backend.Session, error) {
		if counter != nil {
			counter.created.Add(1)
		}
		if f == nil {
			return &FakeSession{Fetcher: &EchoFetcher{}}, nil
		}
		return &FakeSession{Fetcher: f}, nil
	}
}
