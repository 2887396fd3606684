package cache

import (
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/table"
)

// Entry is a cached chunk table.
type Entry struct {
	// Table is the fetched chunk
	Table *table.Table `json:"table"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`

	// CachedAt is when the entry was stored
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry creates an entry for t that expires after ttl.
func NewEntry(t *table.Table, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{Table: t, Expires: now.Add(ttl), CachedAt: now}
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
