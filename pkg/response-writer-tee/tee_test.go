package tee

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessIsSavedNotForwarded(t *testing.T) {
	rec := httptest.NewRecorder()
	rs := NewResponseSaver(rec, 16, "HTTP/1.1")
	rs.Header().Set("X-Test", "yes")
	_, err := rs.Write([]byte("hello"))
	require.NoError(t, err)
	rs.Finish(nil, false)

	assert.True(t, rs.Success())
	assert.False(t, rs.Forwarded())
	assert.Equal(t, http.StatusOK, rs.StatusCode())
	assert.Equal(t, "hello", string(rs.Body()))
	assert.Empty(t, rec.Body.String(), "success leaked to the client before being stored")
	assert.Empty(t, rec.Header().Get("X-Test"))
}

func TestBodyLimit(t *testing.T) {
	rs := NewResponseSaver(nil, 4, "HTTP/1.1")
	_, err := rs.Write([]byte("abcd"))
	require.NoError(t, err, "writing exactly the limit must succeed")
	_, err = rs.Write([]byte("e"))
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	_, err = rs.Write([]byte("f"))
	assert.ErrorIs(t, err, ErrBodyTooLarge, "later writes must keep failing")
	rs.Finish(nil, false)

	assert.True(t, rs.Oversized())
	assert.False(t, rs.Success())
	assert.Nil(t, rs.Body())
}

func TestFailureIsForwarded(t *testing.T) {
	rec := httptest.NewRecorder()
	rs := NewResponseSaver(rec, 4, "HTTP/1.1")
	rs.Header().Set("X-Error", "yes")
	rs.WriteHeader(http.StatusBadGateway)
	// failures are not bounded by the limit
	_, err := rs.Write([]byte("upstream is down"))
	require.NoError(t, err)
	rs.Flush()
	rs.Finish(nil, false)

	assert.True(t, rs.Forwarded())
	assert.False(t, rs.Success())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-Error"))
	assert.Equal(t, "upstream is down", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestForwardedHeadersReplaceExisting(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/plain")
	rec.Header().Set("X-Outer", "kept")
	rs := NewResponseSaver(rec, 4, "HTTP/1.1")
	rs.Header().Set("Content-Type", "application/json")
	rs.WriteHeader(http.StatusInternalServerError)

	assert.Equal(t, []string{"application/json"}, rec.Header().Values("Content-Type"))
	assert.Equal(t, "kept", rec.Header().Get("X-Outer"))
}

func TestOnForward(t *testing.T) {
	rec := httptest.NewRecorder()
	rs := NewResponseSaver(rec, 4, "HTTP/1.1")
	var status int
	rs.OnForward(func(header http.Header, code int) {
		status = code
		header.Set("X-Forwarded-Status", http.StatusText(code))
	})
	rs.Header().Set("X-Error", "yes")
	rs.WriteHeader(http.StatusBadGateway)

	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "yes", rec.Header().Get("X-Error"), "handler headers are copied first")
	assert.Equal(t, "Bad Gateway", rec.Header().Get("X-Forwarded-Status"))
}

func TestOnForwardNotCalledForSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	rs := NewResponseSaver(rec, 4, "HTTP/1.1")
	called := false
	rs.OnForward(func(http.Header, int) { called = true })
	rs.WriteHeader(http.StatusOK)
	rs.Finish(nil, false)
	assert.False(t, called)
}

func TestFailureWithoutWriterIsDiscarded(t *testing.T) {
	rs := NewResponseSaver(nil, 4, "HTTP/1.1")
	rs.WriteHeader(http.StatusNotFound)
	n, err := rs.Write([]byte("not found"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	rs.Finish(nil, false)

	assert.False(t, rs.Forwarded())
	assert.Equal(t, http.StatusNotFound, rs.StatusCode())
	assert.Nil(t, rs.Body())
}

func TestRedirectIsAFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	rs := NewResponseSaver(rec, 16, "HTTP/1.1")
	rs.Header().Set("Location", "/elsewhere")
	rs.WriteHeader(http.StatusFound)
	rs.Finish(nil, false)

	assert.False(t, rs.Success())
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestInformationalIgnored(t *testing.T) {
	rs := NewResponseSaver(nil, 16, "HTTP/1.1")
	rs.WriteHeader(http.StatusContinue)
	rs.WriteHeader(http.StatusCreated)
	rs.WriteHeader(http.StatusInternalServerError)
	rs.Finish(nil, false)
	assert.Equal(t, http.StatusCreated, rs.StatusCode())
}

func TestFinishImplicitOK(t *testing.T) {
	rs := NewResponseSaver(nil, 16, "HTTP/1.1")
	rs.Finish(nil, false)
	assert.True(t, rs.Success())
	assert.Equal(t, http.StatusOK, rs.StatusCode())
	assert.Empty(t, rs.Body())
}

func TestFinishAbandonedRequest(t *testing.T) {
	rs := NewResponseSaver(nil, 16, "HTTP/1.1")
	rs.Finish(context.Canceled, false)
	assert.Equal(t, http.StatusServiceUnavailable, rs.StatusCode())

	rs = NewResponseSaver(nil, 16, "HTTP/1.1")
	rs.Finish(context.DeadlineExceeded, false)
	assert.Equal(t, http.StatusGatewayTimeout, rs.StatusCode())

	// a complete response counts even if the context is gone
	rs = NewResponseSaver(nil, 16, "HTTP/1.1")
	rs.Write([]byte("done"))
	rs.Finish(context.Canceled, false)
	assert.True(t, rs.Success())
}

func TestFinishPanicked(t *testing.T) {
	rs := NewResponseSaver(nil, 16, "HTTP/1.1")
	rs.Write([]byte("partial"))
	rs.Finish(nil, true)
	assert.False(t, rs.Success())
	assert.Equal(t, http.StatusInternalServerError, rs.StatusCode())
	assert.Nil(t, rs.Body())
}

func TestProto(t *testing.T) {
	proto, major, minor := NewResponseSaver(nil, 1, "HTTP/2.0").Proto()
	assert.Equal(t, "HTTP/2.0", proto)
	assert.Equal(t, 2, major)
	assert.Equal(t, 0, minor)

	proto, major, minor = NewResponseSaver(nil, 1, "bogus").Proto()
	assert.Equal(t, "HTTP/1.1", proto)
	assert.Equal(t, 1, major)
	assert.Equal(t, 1, minor)
}
