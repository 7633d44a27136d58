package cachekey

import (
	"fmt"
	"net/http"
	"strings"
)

var ErrMalformedKey = fmt.Errorf("Malformed key")

const methodSeparator = ":"

// Key identifies a cached response.
// Two requests with the same method and request URI (path and query) share a key,
// regardless of their headers or body.
// Key is comparable and can be used directly as a map key.
type Key struct {
	Method string
	URI    string
}

// New returns the cache key for the given request.
func New(r *http.Request) Key {
	return Key{
		Method: r.Method,
		URI:    r.URL.RequestURI(),
	}
}

// String renders the key as `METHOD:URI`.
// It is suitable for string-keyed storage backends and logging.
func (k Key) String() string {
	return k.Method + methodSeparator + k.URI
}

// Parse is the inverse of Key.String.
func Parse(s string) (Key, error) {
	method, uri, found := strings.Cut(s, methodSeparator)
	if !found || method == "" || uri == "" {
		return Key{}, fmt.Errorf("%w: %s", ErrMalformedKey, s)
	}
	return Key{Method: method, URI: uri}, nil
}

// Request generates a caching-wise equal request to the one that resulted in the key.
func (k Key) Request() (*http.Request, error) {
	return http.NewRequest(k.Method, k.URI, nil)
}
