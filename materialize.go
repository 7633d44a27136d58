package responsecache

import (
	"errors"

	"github.com/always-cache/response-cache/cache"
	tee "github.com/always-cache/response-cache/pkg/response-writer-tee"
)

var errNotSuccess = errors.New("response is not a success")

// materialize turns a finished capture into an entry.
// Only complete success responses within the body limit materialize.
func materialize(saver *tee.ResponseSaver) (cache.Entry, error) {
	if saver.Oversized() {
		return cache.Entry{}, tee.ErrBodyTooLarge
	}
	if !saver.Success() {
		return cache.Entry{}, errNotSuccess
	}
	proto, major, minor := saver.Proto()
	return cache.Entry{
		StatusCode: saver.StatusCode(),
		Header:     saver.Header().Clone(),
		Proto:      proto,
		ProtoMajor: major,
		ProtoMinor: minor,
		Body:       saver.Body(),
	}, nil
}
