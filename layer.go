// Package responsecache is an HTTP response cache placed in front of an http.Handler.
//
// For every request the layer looks up the response stored for the request method
// and URI. A fresh entry is served without calling the wrapped handler. On a miss,
// or when the entry is stale, the handler is called and its response stored if it
// is a success (2xx). A stale entry may replace the response of a failing handler,
// see Layer.UseStaleOnFailure.
//
//	layer := responsecache.WithLifespan(time.Minute).UseStaleOnFailure()
//	http.ListenAndServe(":8080", layer.Wrap(handler))
package responsecache

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/always-cache/response-cache/cache"
)

// DefaultBodyLimit is the largest response body stored unless configured otherwise (128 MiB).
const DefaultBodyLimit int64 = 128 << 20

const tracerName = "github.com/always-cache/response-cache"

type Config struct {
	// Storage for cache entries. Required.
	Store cache.Store
	// Serve the stale entry, if any, when the wrapped handler fails.
	UseStaleOnFailure bool
	// Largest response body to store, in bytes. DefaultBodyLimit if zero.
	BodyLimit int64
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Prometheus collectors, see NewMetrics. Nothing is recorded if nil.
	Metrics *Metrics
	// Provider of the tracer for inner service spans. The global provider is used if nil.
	TracerProvider trace.TracerProvider
	// Let concurrent misses for one key share a single call of the wrapped handler.
	CoalesceMisses bool
	// Cache name for the Cache-Status response header. The header is not sent if empty.
	CacheStatus string
}

// Layer is a reusable, immutable cache configuration.
// Copies of a layer, and every service wrapped by them, share one store.
type Layer struct {
	store      *sharedStore
	useStale   bool
	limit      int64
	log        zerolog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	group      *singleflight.Group
	statusName string
}

// New creates a layer from the config.
// It panics if no store is configured.
func New(config Config) Layer {
	if config.Store == nil {
		panic("responsecache: store cannot be nil")
	}

	// use global logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}
	// create a child logger and add defaults
	logger = logger.With().
		Str("component", "response-cache").
		Logger()

	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	l := Layer{
		store:      newSharedStore(config.Store, logger, config.Metrics),
		useStale:   config.UseStaleOnFailure,
		limit:      config.BodyLimit,
		log:        logger,
		metrics:    config.Metrics,
		tracer:     tp.Tracer(tracerName),
		statusName: config.CacheStatus,
	}
	if l.limit == 0 {
		l.limit = DefaultBodyLimit
	}
	if config.CoalesceMisses {
		l.group = &singleflight.Group{}
	}
	return l
}

// With creates a layer with default settings around the given store.
func With(store cache.Store) Layer {
	return New(Config{Store: store})
}

// WithLifespan creates a layer with default settings around a new in-memory store
// whose entries stay fresh for lifespan. It panics if lifespan is not positive.
func WithLifespan(lifespan time.Duration) Layer {
	return With(cache.NewTimedStore(lifespan))
}

// UseStaleOnFailure returns a copy of the layer that serves the stale entry when the
// wrapped handler fails to refresh it, leaving the entry in place.
// Without it the stale entry is removed and the failure is passed to the client.
func (l Layer) UseStaleOnFailure() Layer {
	l.useStale = true
	return l
}

// BodyLimit returns a copy of the layer storing bodies of at most limit bytes.
// Larger success responses are answered with 500 and not stored.
func (l Layer) BodyLimit(limit int64) Layer {
	l.limit = limit
	return l
}

// CoalesceMisses returns a copy of the layer in which concurrent misses for one key
// share a single call of the wrapped handler.
func (l Layer) CoalesceMisses() Layer {
	l.group = &singleflight.Group{}
	return l
}

// CacheStatus returns a copy of the layer that adds a Cache-Status header
// identifying the cache by name. An empty name disables the header.
func (l Layer) CacheStatus(name string) Layer {
	l.statusName = name
	return l
}

// Wrap returns a service caching the responses of next.
func (l Layer) Wrap(next http.Handler) *Service {
	return &Service{layer: l, next: next}
}

// Middleware is Wrap for middleware chains, e.g. chi.Router.Use.
func (l Layer) Middleware(next http.Handler) http.Handler {
	return l.Wrap(next)
}

// RunEviction physically removes stale entries every interval until the context is done.
// It is a no-op loop for stores that do not implement cache.Evicter.
// Evicted entries cannot be served on failure anymore.
func (l Layer) RunEviction(ctx context.Context, every time.Duration) {
	cache.RunEviction(l.log.WithContext(ctx), l.store, every)
}
