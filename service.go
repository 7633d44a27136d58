package responsecache

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/always-cache/response-cache/cache"
	cachekey "github.com/always-cache/response-cache/pkg/cache-key"
	cachestatus "github.com/always-cache/response-cache/pkg/cache-status"
	tee "github.com/always-cache/response-cache/pkg/response-writer-tee"
)

var (
	errNotStored = errors.New("response not stored")
	errAborted   = errors.New("inner service aborted the response")
)

// Cache name used in logs when the Cache-Status header is off.
const defaultStatusName = "response-cache"

// Service is a handler caching the responses of the handler it wraps.
// Create one with Layer.Wrap.
type Service struct {
	layer Layer
	next  http.Handler
}

// ServeHTTP implements the http.Handler interface.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := cachekey.New(r)
	log := s.requestLogger(r).With().Str("key", key.String()).Logger()
	name := s.layer.statusName
	if name == "" {
		name = defaultStatusName
	}
	cs := cachestatus.New(name)

	entry, ok, expired := s.layer.store.lookup(key)
	switch {
	case ok && !expired:
		s.layer.metrics.lookup(lookupFresh)
		log.Trace().Msg("Found fresh value in cache")
		cs.Hit()
		s.send(w, entry, cs, log)
	case ok:
		s.layer.metrics.lookup(lookupStale)
		log.Debug().Msg("Found stale value in cache, reinserting and attempting refresh")
		cs.Forward(cachestatus.FwdStale)
		s.forward(w, r, key, &entry, cs, log)
	default:
		s.layer.metrics.lookup(lookupMiss)
		log.Trace().Msg("No value in cache, calling inner service")
		cs.Forward(cachestatus.FwdUriMiss)
		if s.layer.group != nil {
			s.coalesce(w, r, key, cs, log)
		} else {
			s.forward(w, r, key, nil, cs, log)
		}
	}
	logRequest(r, cs, log)
}

// forward calls the inner service and stores its response if it is a success.
// stale is the entry being refreshed, nil on a miss.
// It returns the stored entry, or errNotStored.
func (s *Service) forward(w http.ResponseWriter, r *http.Request, key cachekey.Key, stale *cache.Entry, cs *cachestatus.CacheStatus, log zerolog.Logger) (cache.Entry, error) {
	// failures go straight to the client, unless the stale entry answers instead
	passthrough := w
	if stale != nil && s.layer.useStale {
		passthrough = nil
	}
	saver := tee.NewResponseSaver(passthrough, s.layer.limit, r.Proto)
	saver.OnForward(func(header http.Header, status int) {
		cs.ForwardStatus(status)
		s.setStatusHeader(header, cs)
	})
	s.call(r, saver, log)
	cs.ForwardStatus(saver.StatusCode())

	entry, err := materialize(saver)
	switch {
	case err == nil:
		s.layer.store.set(key, entry)
		s.layer.metrics.stored()
		log.Trace().Int("status", entry.StatusCode).Int("bytes", len(entry.Body)).Msg("Stored response")
		cs.Stored()
		s.send(w, entry, cs, log)
		return entry, nil

	case errors.Is(err, tee.ErrBodyTooLarge):
		s.layer.metrics.tooLarge()
		log.Warn().Int64("limit", s.layer.limit).Msg("Response body too large, not storing")
		s.setStatusHeader(w.Header(), cs)
		http.Error(w, fmt.Sprintf("response body too large, over %d bytes", s.layer.limit), http.StatusInternalServerError)
		return cache.Entry{}, errNotStored
	}

	if stale != nil {
		if s.layer.useStale {
			s.layer.metrics.servedStale()
			log.Debug().Int("status", saver.StatusCode()).Msg("Inner service failed, serving stale value")
			cs.Hit()
			cs.Detail("stale-on-failure")
			s.send(w, *stale, cs, log)
			return cache.Entry{}, errNotStored
		}
		s.layer.store.remove(key)
		s.layer.metrics.removed()
		log.Debug().Int("status", saver.StatusCode()).Msg("Inner service failed, evicted stale value")
	}
	if !saver.Forwarded() {
		// nothing reached the client, e.g. the inner service panicked
		status := saver.StatusCode()
		s.setStatusHeader(w.Header(), cs)
		http.Error(w, http.StatusText(status), status)
	}
	return cache.Entry{}, errNotStored
}

// coalesce lets one of the concurrent misses for a key call the inner service.
// The others serve the entry it stored, or call the inner service themselves if
// nothing was stored.
func (s *Service) coalesce(w http.ResponseWriter, r *http.Request, key cachekey.Key, cs *cachestatus.CacheStatus, log zerolog.Logger) {
	leader := false
	v, err, _ := s.layer.group.Do(key.String(), func() (v any, err error) {
		leader = true
		// an abort must not reach the group, which would panic in every waiting request
		defer func() {
			if p := recover(); p != nil {
				if !isAbort(p) {
					panic(p)
				}
				err = errAborted
			}
		}()
		return s.forward(w, r, key, nil, cs, log)
	})
	if leader {
		if errors.Is(err, errAborted) {
			panic(http.ErrAbortHandler)
		}
		return
	}
	if err == nil {
		log.Trace().Msg("Serving value stored by concurrent request")
		cs.Collapsed()
		cs.Stored()
		s.send(w, v.(cache.Entry), cs, log)
		return
	}
	s.forward(w, r, key, nil, cs, log)
}

// call runs the inner service with a saver capturing its response.
func (s *Service) call(r *http.Request, saver *tee.ResponseSaver, log zerolog.Logger) {
	ctx, span := s.layer.tracer.Start(r.Context(), "inner_service",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		))
	defer span.End()

	panicked := s.serveInner(saver, r.WithContext(ctx), log)
	saver.Finish(r.Context().Err(), panicked)

	span.SetAttributes(attribute.Int("http.response.status_code", saver.StatusCode()))
	if saver.Oversized() {
		span.SetStatus(codes.Error, tee.ErrBodyTooLarge.Error())
	} else if !saver.Success() {
		span.SetStatus(codes.Error, http.StatusText(saver.StatusCode()))
	}
	s.layer.metrics.upstreamDone(saver.Success(), time.Since(saver.CreatedAt))
}

// serveInner recovers from panics of the inner service.
// http.ErrAbortHandler is panicked again, so that the server aborts the response.
func (s *Service) serveInner(w http.ResponseWriter, r *http.Request, log zerolog.Logger) (panicked bool) {
	defer func() {
		if err := recover(); err != nil {
			if isAbort(err) {
				panic(err)
			}
			panicked = true
			log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in inner service")
		}
	}()
	s.next.ServeHTTP(w, r)
	return false
}

// isAbort reports whether a recovered value is http.ErrAbortHandler.
func isAbort(v any) bool {
	err, ok := v.(error)
	return ok && errors.Is(err, http.ErrAbortHandler)
}

func (s *Service) send(w http.ResponseWriter, entry cache.Entry, cs *cachestatus.CacheStatus, log zerolog.Logger) {
	s.setStatusHeader(w.Header(), cs)
	bytesWritten, err := entry.Send(w)
	if err != nil {
		log.Debug().Err(err).Msg("Could not write response body to client")
		return
	}
	log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func (s *Service) setStatusHeader(header http.Header, cs *cachestatus.CacheStatus) {
	if s.layer.statusName != "" {
		header.Set(cachestatus.HeaderName, cs.String())
	}
}

// requestLogger prefers a logger installed upstream with hlog.
func (s *Service) requestLogger(r *http.Request) *zerolog.Logger {
	if l := hlog.FromRequest(r); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.layer.log
}

func logRequest(r *http.Request, cs *cachestatus.CacheStatus, log zerolog.Logger) {
	log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("cacheStatus", cs.String()).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
