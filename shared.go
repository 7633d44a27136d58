package responsecache

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/always-cache/response-cache/cache"
	cachekey "github.com/always-cache/response-cache/pkg/cache-key"
)

// sharedStore serializes access to a store shared by every copy of a layer.
// The lock is held for single store calls only, never while the inner service runs.
//
// A panic raised by the store is recovered under the lock: the store is reset if it
// is a cache.Flusher, and the call behaves like a miss (reads) or a no-op (writes).
type sharedStore struct {
	mu      sync.Mutex
	store   cache.Store
	log     zerolog.Logger
	metrics *Metrics
}

func newSharedStore(store cache.Store, log zerolog.Logger, metrics *Metrics) *sharedStore {
	return &sharedStore{store: store, log: log, metrics: metrics}
}

// lookup gets the entry for the key.
// A stale entry is set again within the same critical section, so that concurrent
// requests see it as fresh while this one attempts the refresh.
func (s *sharedStore) lookup(key cachekey.Key) (entry cache.Entry, ok bool, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if s.recovered(recover(), "lookup", key) {
			entry, ok, expired = cache.Entry{}, false, false
		}
	}()
	entry, ok, expired = s.store.ExpiringGet(key)
	if ok && expired {
		s.store.Set(key, entry)
	}
	return entry, ok, expired
}

func (s *sharedStore) set(key cachekey.Key, entry cache.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.recovered(recover(), "set", key) }()
	s.store.Set(key, entry)
}

func (s *sharedStore) remove(key cachekey.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.recovered(recover(), "remove", key) }()
	s.store.Remove(key)
}

// EvictExpired implements cache.Evicter for stores that support eviction.
func (s *sharedStore) EvictExpired() (n int) {
	evicter, ok := s.store.(cache.Evicter)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if s.recovered(recover(), "evict", cachekey.Key{}) {
			n = 0
		}
	}()
	return evicter.EvictExpired()
}

// recovered handles the value of recover() after a store call. Must be called with the lock held.
func (s *sharedStore) recovered(v any, op string, key cachekey.Key) bool {
	if v == nil {
		return false
	}
	s.metrics.storePanicked()
	s.log.Error().
		Interface("error", v).
		Str("op", op).
		Str("key", key.String()).
		Msg("Panic in cache store, resetting store")
	if flusher, ok := s.store.(cache.Flusher); ok {
		func() {
			defer func() {
				if v := recover(); v != nil {
					s.log.WithLevel(zerolog.PanicLevel).Interface("error", v).Msg("Panic while resetting cache store")
				}
			}()
			flusher.Flush()
		}()
	}
	return true
}
