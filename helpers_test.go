package responsecache

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/always-cache/response-cache/cache"
	cachekey "github.com/always-cache/response-cache/pkg/cache-key"
)

// manualStore is a store whose entries only go stale when told to.
type manualStore struct {
	entries  map[cachekey.Key]cache.Entry
	stale    map[cachekey.Key]bool
	removals int
	flushes  int
	evicted  int
}

func newManualStore() *manualStore {
	return &manualStore{
		entries: make(map[cachekey.Key]cache.Entry),
		stale:   make(map[cachekey.Key]bool),
	}
}

func (m *manualStore) ExpiringGet(key cachekey.Key) (cache.Entry, bool, bool) {
	e, ok := m.entries[key]
	return e, ok, ok && m.stale[key]
}

func (m *manualStore) Set(key cachekey.Key, entry cache.Entry) {
	m.entries[key] = entry
	m.stale[key] = false
}

func (m *manualStore) Remove(key cachekey.Key) {
	m.removals++
	delete(m.entries, key)
	delete(m.stale, key)
}

func (m *manualStore) Flush() {
	m.flushes++
	m.entries = make(map[cachekey.Key]cache.Entry)
	m.stale = make(map[cachekey.Key]bool)
}

func (m *manualStore) EvictExpired() int {
	n := 0
	for key, stale := range m.stale {
		if stale {
			delete(m.entries, key)
			delete(m.stale, key)
			n++
		}
	}
	m.evicted += n
	return n
}

// expireAll makes every entry stale.
func (m *manualStore) expireAll() {
	for key := range m.entries {
		m.stale[key] = true
	}
}

func (m *manualStore) has(method, uri string) bool {
	_, ok := m.entries[cacheKey(method, uri)]
	return ok
}

func cacheKey(method, uri string) cachekey.Key {
	return cachekey.Key{Method: method, URI: uri}
}

// countingHandler counts its calls and delegates the response to respond,
// which gets the 1-based call number.
type countingHandler struct {
	calls   atomic.Int32
	respond func(w http.ResponseWriter, r *http.Request, call int)
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := h.calls.Add(1)
	h.respond(w, r, int(call))
}

func (h *countingHandler) count() int {
	return int(h.calls.Load())
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}
