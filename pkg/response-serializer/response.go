package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Marks responses that had no Content-Length header of their own.
// Writing a response always adds one, so it is stripped again on read.
const noContentLengthHeaderName = "Acache-No-Content-Length"

// ResponseToBytes returns the HTTP/1.x wire representation of the response.
// The response body is consumed and replaced, so res stays readable.
func ResponseToBytes(res *http.Response) ([]byte, error) {
	if res.Header == nil {
		res.Header = http.Header{}
	}
	addedMarker := false
	if _, ok := res.Header["Content-Length"]; !ok {
		res.Header.Set(noContentLengthHeaderName, "1")
		addedMarker = true
	}
	bts, err := responseToBytes(res)
	// remove the extra header just in case
	if addedMarker {
		res.Header.Del(noContentLengthHeaderName)
	}
	return bts, err
}

// BytesToResponse parses bytes written by ResponseToBytes.
// The request is optional and only attached to the response.
func BytesToResponse(b []byte, req *http.Request) (*http.Response, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(b)).Msg("Could not read stored response")
		return nil, err
	}
	if res.Header.Get(noContentLengthHeaderName) != "" {
		res.Header.Del(noContentLengthHeaderName)
		res.Header.Del("Content-Length")
	}
	return res, nil
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.x representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(clonedRes.Body)
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	// return buffer bytes
	return bts, nil
}
