// Package backend defines the capability the fan-out core consumes from a
// remote data backend, the error classes it fails with, and an HTTP client
// for a table-oriented data service.
package backend

import (
	"context"

	"github.com/Sternrassler/fanout-bench/pkg/table"
)

// Fetcher retrieves the given fields for a list of instruments.
// Implementations fail with *TransientError (retryable) or *FatalError.
type Fetcher interface {
	Fetch(ctx context.Context, identifiers, fields []string) (*table.Table, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, identifiers, fields []string) (*table.Table, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, identifiers, fields []string) (*table.Table, error) {
	return f(ctx, identifiers, fields)
}

// SessionState is the lifecycle state of a backend session.
type SessionState string

const (
	StateClosed SessionState = "closed"
	StateOpened SessionState = "opened"
)

// Session is a backend connection that must be opened before fetching.
// A session is safe for concurrent Fetch calls once opened; it is never
// shared across process boundaries.
type Session interface {
	Fetcher
	Open(ctx context.Context) error
	Close() error
	State() SessionState
}

// SessionFactory creates a new, unopened session. Worker processes call it to
// establish their own session.
type SessionFactory func() (Session, error)
