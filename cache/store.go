// Package cache holds the cache entry model, the store contract the response
// cache layer consumes, and the store implementations shipped with it.
package cache

import (
	"errors"

	cachekey "github.com/always-cache/response-cache/pkg/cache-key"
)

var ErrInvalidLifespan = errors.New("cache: lifespan must be positive")

// Store is a key/value store for cached responses.
// It keeps track of the freshness window of its entries and owns its eviction policy.
//
// Implementations need not be safe for concurrent use: the response cache layer
// serializes every call with its own lock. Calls are expected to be quick and
// must never block on the network.
type Store interface {
	// ExpiringGet looks up the entry for the key.
	// ok is false if there is no entry.
	// If ok is true, expired tells whether the entry's freshness window has elapsed,
	// i.e. the entry is stale but still available.
	ExpiringGet(key cachekey.Key) (entry Entry, ok bool, expired bool)
	// Set inserts or overwrites the entry for the key and resets its freshness window.
	Set(key cachekey.Key, entry Entry)
	// Remove evicts the entry for the key. It is a no-op if there is none.
	Remove(key cachekey.Key)
}

// Flusher is implemented by stores that can drop all of their entries.
// The layer uses it to reset a store that panicked.
type Flusher interface {
	Flush()
}

// Evicter is implemented by stores that can physically remove stale entries.
// It returns the number of entries removed.
type Evicter interface {
	EvictExpired() int
}
