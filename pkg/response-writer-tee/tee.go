package tee

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/always-cache/response-cache/cache"
)

// ErrBodyTooLarge is returned from Write once a success response outgrows the saver's limit.
var ErrBodyTooLarge = errors.New("response body too large")

// ResponseSaver is a wrapper around http.ResponseWriter that saves success responses
// to a bounded buffer. Failure responses (non-2xx) are written to the underlying
// http.ResponseWriter as they come, or discarded if there is none.
type ResponseSaver struct {
	rw           http.ResponseWriter
	b            *bytes.Buffer
	header       http.Header
	status       int
	wroteHeaders bool
	forwarded    bool
	oversized    bool
	limit        int64
	proto        string
	protoMajor   int
	protoMinor   int
	onForward    func(header http.Header, status int)
	CreatedAt    time.Time
}

// NewResponseSaver returns a new ResponseSaver buffering at most limit body bytes.
// If rw is not nil, failure responses are written (tee'd) to it.
// The protocol version (e.g. "HTTP/1.1") is recorded alongside the response.
func NewResponseSaver(rw http.ResponseWriter, limit int64, proto string) *ResponseSaver {
	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok {
		proto, major, minor = "HTTP/1.1", 1, 1
	}
	return &ResponseSaver{
		CreatedAt:  time.Now(),
		rw:         rw,
		b:          &bytes.Buffer{},
		header:     http.Header{},
		limit:      limit,
		proto:      proto,
		protoMajor: major,
		protoMinor: minor,
	}
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	// informational responses are not the final response
	if statusCode < 200 || t.wroteHeaders {
		return
	}
	// remember that we wrote the headers
	t.wroteHeaders = true
	t.status = statusCode
	if !cache.IsSuccess(statusCode) {
		t.b = nil
		t.forward()
	}
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	// write headers if not already written
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	if t.forwarded {
		return t.rw.Write(b)
	}
	if !cache.IsSuccess(t.status) {
		// discarded failure
		return len(b), nil
	}
	if t.oversized {
		return 0, ErrBodyTooLarge
	}
	if int64(t.b.Len())+int64(len(b)) > t.limit {
		t.oversized = true
		t.b = nil
		return 0, ErrBodyTooLarge
	}
	return t.b.Write(b)
}

// Implementation of http.Flusher.
// Only forwarded failures reach the client before the handler returns.
func (t *ResponseSaver) Flush() {
	if !t.forwarded {
		return
	}
	if f, ok := t.rw.(http.Flusher); ok {
		f.Flush()
	}
}

// Finish settles the final status once the handler returned.
// A handler that panicked failed with 500, whatever it wrote before.
// A handler that wrote nothing succeeded with an implicit 200, unless ctxErr
// tells that the request was abandoned: then it failed with 503, or 504 if
// the deadline passed.
func (t *ResponseSaver) Finish(ctxErr error, panicked bool) {
	switch {
	case panicked:
		if t.forwarded || (t.wroteHeaders && !cache.IsSuccess(t.status)) {
			return
		}
		t.b = nil
		t.status = http.StatusInternalServerError
		t.wroteHeaders = true
	case !t.wroteHeaders && ctxErr != nil:
		t.b = nil
		t.status = http.StatusServiceUnavailable
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			t.status = http.StatusGatewayTimeout
		}
		t.wroteHeaders = true
	case !t.wroteHeaders:
		t.WriteHeader(http.StatusOK)
	}
}

// OnForward registers fn to be called when a failure is written to the underlying
// writer, after the handler's headers are copied and before the status is written.
// fn may change the headers sent to the client.
func (t *ResponseSaver) OnForward(fn func(header http.Header, status int)) {
	t.onForward = fn
}

// StatusCode returns the status code of the response.
func (t *ResponseSaver) StatusCode() int {
	return t.status
}

// Success reports whether the response is a complete 2xx response within the limit.
func (t *ResponseSaver) Success() bool {
	return cache.IsSuccess(t.status) && !t.oversized
}

// Oversized reports whether a success response outgrew the limit.
func (t *ResponseSaver) Oversized() bool {
	return t.oversized
}

// Forwarded reports whether the response was written to the underlying writer.
func (t *ResponseSaver) Forwarded() bool {
	return t.forwarded
}

// Body returns the saved body. It is nil for failures and oversized responses.
func (t *ResponseSaver) Body() []byte {
	if t.b == nil {
		return nil
	}
	return t.b.Bytes()
}

// Proto returns the protocol version recorded for the response.
func (t *ResponseSaver) Proto() (string, int, int) {
	return t.proto, t.protoMajor, t.protoMinor
}

func (t *ResponseSaver) forward() {
	if t.rw == nil {
		return
	}
	copyHeader(t.rw.Header(), t.header)
	if t.onForward != nil {
		t.onForward(t.rw.Header(), t.status)
	}
	t.rw.WriteHeader(t.status)
	t.forwarded = true
}

// copyHeader replaces the values of dst with those of src, key by key.
func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append([]string(nil), vv...)
	}
}
