package cache

import (
	"container/list"
	"fmt"
	"time"

	cachekey "github.com/always-cache/response-cache/pkg/cache-key"
)

type sizedEntry struct {
	key      cachekey.Key
	entry    Entry
	storedAt time.Time
}

// TimedSizedStore is a TimedStore that also holds at most a fixed number of entries.
// When full, setting a new key evicts the least recently used entry.
// A lookup, stale or not, counts as a use.
//
// TimedSizedStore is not safe for concurrent use.
type TimedSizedStore struct {
	lifespan time.Duration
	capacity int
	order    *list.List // front is most recently used
	db       map[cachekey.Key]*list.Element
	now      func() time.Time
}

// NewTimedSizedStore returns a store holding up to capacity entries,
// each fresh for lifespan after it was last set.
func NewTimedSizedStore(capacity int, lifespan time.Duration) (*TimedSizedStore, error) {
	if lifespan <= 0 {
		return nil, ErrInvalidLifespan
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("cache: capacity must be positive, got %d", capacity)
	}
	return &TimedSizedStore{
		lifespan: lifespan,
		capacity: capacity,
		order:    list.New(),
		db:       make(map[cachekey.Key]*list.Element, capacity),
		now:      time.Now,
	}, nil
}

func (s *TimedSizedStore) ExpiringGet(key cachekey.Key) (Entry, bool, bool) {
	el, ok := s.db[key]
	if !ok {
		return Entry{}, false, false
	}
	s.order.MoveToFront(el)
	val := el.Value.(*sizedEntry)
	return val.entry, true, s.expired(val)
}

func (s *TimedSizedStore) Set(key cachekey.Key, entry Entry) {
	if el, ok := s.db[key]; ok {
		val := el.Value.(*sizedEntry)
		val.entry = entry
		val.storedAt = s.now()
		s.order.MoveToFront(el)
		return
	}
	s.db[key] = s.order.PushFront(&sizedEntry{key: key, entry: entry, storedAt: s.now()})
	for s.order.Len() > s.capacity {
		s.removeElement(s.order.Back())
	}
}

func (s *TimedSizedStore) Remove(key cachekey.Key) {
	if el, ok := s.db[key]; ok {
		s.removeElement(el)
	}
}

// Flush drops all entries.
func (s *TimedSizedStore) Flush() {
	s.order.Init()
	s.db = make(map[cachekey.Key]*list.Element, s.capacity)
}

// EvictExpired removes all stale entries.
func (s *TimedSizedStore) EvictExpired() int {
	n := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if s.expired(el.Value.(*sizedEntry)) {
			s.removeElement(el)
			n++
		}
		el = next
	}
	return n
}

// Len returns the number of entries, stale ones included.
func (s *TimedSizedStore) Len() int {
	return s.order.Len()
}

func (s *TimedSizedStore) removeElement(el *list.Element) {
	s.order.Remove(el)
	delete(s.db, el.Value.(*sizedEntry).key)
}

func (s *TimedSizedStore) expired(val *sizedEntry) bool {
	return s.now().Sub(val.storedAt) >= s.lifespan
}
