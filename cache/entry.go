package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Entry is a complete, re-emittable snapshot of a successful response.
//
// Entries are values: copying one shares the body and header storage instead of
// copying bytes, so an entry can be handed to any number of concurrent readers.
// Nothing mutates an entry after it is created; Send copies the headers into the
// destination writer.
type Entry struct {
	StatusCode int
	Header     http.Header
	Proto      string // e.g. "HTTP/1.1"
	ProtoMajor int
	ProtoMinor int
	Body       []byte
}

// IsSuccess reports whether a status code may be cached.
// Only the 2xx range counts; redirects are failures as far as caching is concerned.
func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode <= 299
}

// Send writes the entry to w: headers, status and body.
func (e Entry) Send(w http.ResponseWriter) (int64, error) {
	dst := w.Header()
	for name, values := range e.Header {
		dst[name] = append([]string(nil), values...)
	}
	w.WriteHeader(e.StatusCode)
	n, err := w.Write(e.Body)
	return int64(n), err
}

// Response builds a fresh *http.Response over the entry's bytes.
// The request is optional and only attached to the response.
func (e Entry) Response(req *http.Request) *http.Response {
	proto, major, minor := e.Proto, e.ProtoMajor, e.ProtoMinor
	if proto == "" {
		proto, major, minor = "HTTP/1.1", 1, 1
	}
	return &http.Response{
		Status:        strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode),
		StatusCode:    e.StatusCode,
		Proto:         proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        e.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// FromResponse reads res fully into an entry and closes its body.
// It does not bound the body size; use it for already-trusted responses,
// e.g. ones read back from a store.
func FromResponse(res *http.Response) (Entry, error) {
	if res == nil {
		return Entry{}, fmt.Errorf("response cannot be nil")
	}
	var body []byte
	if res.Body != nil {
		var err error
		body, err = io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return Entry{}, fmt.Errorf("read response body: %w", err)
		}
	}
	return Entry{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Proto:      res.Proto,
		ProtoMajor: res.ProtoMajor,
		ProtoMinor: res.ProtoMinor,
		Body:       body,
	}, nil
}
