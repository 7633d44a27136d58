package cache

import (
	"time"

	cachekey "github.com/always-cache/response-cache/pkg/cache-key"
)

type timedEntry struct {
	entry    Entry
	storedAt time.Time
}

// TimedStore is an in-memory store where every entry is fresh for a fixed lifespan
// after it was last set. Expired entries are kept (and reported as stale) until they
// are overwritten, removed or evicted with EvictExpired.
//
// TimedStore is not safe for concurrent use.
type TimedStore struct {
	lifespan time.Duration
	db       map[cachekey.Key]timedEntry
	now      func() time.Time
}

// NewTimedStore returns a store whose entries stay fresh for lifespan.
// It panics if lifespan is not positive.
func NewTimedStore(lifespan time.Duration) *TimedStore {
	if lifespan <= 0 {
		panic(ErrInvalidLifespan)
	}
	return &TimedStore{
		lifespan: lifespan,
		db:       make(map[cachekey.Key]timedEntry),
		now:      time.Now,
	}
}

func (m *TimedStore) ExpiringGet(key cachekey.Key) (Entry, bool, bool) {
	val, ok := m.db[key]
	if !ok {
		return Entry{}, false, false
	}
	return val.entry, true, m.expired(val)
}

func (m *TimedStore) Set(key cachekey.Key, entry Entry) {
	m.db[key] = timedEntry{entry: entry, storedAt: m.now()}
}

func (m *TimedStore) Remove(key cachekey.Key) {
	delete(m.db, key)
}

// Flush drops all entries.
func (m *TimedStore) Flush() {
	m.db = make(map[cachekey.Key]timedEntry)
}

// EvictExpired removes all stale entries.
func (m *TimedStore) EvictExpired() int {
	n := 0
	for key, val := range m.db {
		if m.expired(val) {
			delete(m.db, key)
			n++
		}
	}
	return n
}

// Len returns the number of entries, stale ones included.
func (m *TimedStore) Len() int {
	return len(m.db)
}

func (m *TimedStore) expired(val timedEntry) bool {
	return m.now().Sub(val.storedAt) >= m.lifespan
}
