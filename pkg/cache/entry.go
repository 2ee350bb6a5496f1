package cache

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// PageEntry represents one cached page.
type PageEntry struct {
	// Records is the msgpack encoded record slice
	Records msgpack.RawMessage `msgpack:"records"`

	// Total is the dataset size the source reported, nil when absent
	Total *int `msgpack:"total"`

	// CachedAt is when the page was stored
	CachedAt time.Time `msgpack:"cached_at"`

	// Expires is when the entry becomes stale
	Expires time.Time `msgpack:"expires"`
}

// IsExpired returns true if the cache entry has expired.
func (e *PageEntry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *PageEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
