package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/logging"
	"github.com/Sternrassler/fanout-bench/pkg/table"
	"github.com/rs/zerolog"
)

// DefaultTTL is the lifetime of cached chunks.
const DefaultTTL = 10 * time.Minute

// FetcherConfig configures a CachingFetcher.
type FetcherConfig struct {
	// TTL of stored chunks (default: DefaultTTL)
	TTL time.Duration

	// Parameters are mixed into the key, matching the backend request parameters
	Parameters map[string]string
}

// CachingFetcher serves chunk fetches from the cache and stores backend
// results on a miss.
type CachingFetcher struct {
	next    backend.Fetcher
	manager *Manager
	cfg     FetcherConfig
	logger  zerolog.Logger
}

// NewCachingFetcher wraps next with manager.
func NewCachingFetcher(next backend.Fetcher, manager *Manager, cfg FetcherConfig) *CachingFetcher {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &CachingFetcher{
		next:    next,
		manager: manager,
		cfg:     cfg,
		logger:  logging.NewLogger(logging.ComponentCache),
	}
}

// Fetch implements backend.Fetcher.
func (c *CachingFetcher) Fetch(ctx context.Context, ids, fields []string) (*table.Table, error) {
	key := Key{Identifiers: ids, Fields: fields, Parameters: c.cfg.Parameters}

	entry, err := c.manager.Get(ctx, key)
	switch {
	case err == nil:
		c.logger.Debug().
			Int("items", len(ids)).
			Bool("cache_hit", true).
			Dur("ttl", entry.TTL()).
			Msg("Chunk served from cache")
		return entry.Table, nil
	case errors.Is(err, ErrCacheMiss):
		c.logger.Debug().Int("items", len(ids)).Bool("cache_hit", false).Msg("Chunk cache miss")
	default:
		c.logger.Warn().Err(err).Msg("Cache lookup failed, fetching from backend")
	}

	tbl, err := c.next.Fetch(ctx, ids, fields)
	if err != nil {
		return nil, err
	}

	if err := c.manager.Set(ctx, key, NewEntry(tbl, c.cfg.TTL)); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to store chunk in cache")
	}
	return tbl, nil
}

// Session is a backend session whose fetches go through a CachingFetcher.
// Open, Close and State are those of the wrapped session.
type Session struct {
	backend.Session
	fetcher *CachingFetcher
}

// WrapSession returns s with cached fetches.
func WrapSession(s backend.Session, manager *Manager, cfg FetcherConfig) *Session {
	return &Session{
		Session: s,
		fetcher: NewCachingFetcher(s, manager, cfg),
	}
}

// Fetch implements backend.Fetcher.
func (s *Session) Fetch(ctx context.Context, ids, fields []string) (*table.Table, error) {
	return s.fetcher.Fetch(ctx, ids, fields)
}

// WrapSessions returns a factory whose sessions cache their fetches in manager.
func WrapSessions(sessions backend.SessionFactory, manager *Manager, cfg FetcherConfig) backend.SessionFactory {
	return func() (backend.Session, error) {
		s, err := sessions()
		if err != nil {
			return nil, err
		}
		return WrapSession(s, manager, cfg), nil
	}
}
