package responsecache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup results, used as the "result" label of response_cache_lookups_total.
const (
	lookupFresh = "fresh"
	lookupStale = "stale"
	lookupMiss  = "miss"
)

// Metrics holds the Prometheus collectors of a layer.
// A nil *Metrics records nothing.
type Metrics struct {
	lookups     *prometheus.CounterVec
	stores      prometheus.Counter
	removals    prometheus.Counter
	staleServed prometheus.Counter
	oversized   prometheus.Counter
	storePanics prometheus.Counter
	upstream    *prometheus.HistogramVec
}

// NewMetrics creates the layer collectors and registers them with reg.
// It panics if they are already registered, as promauto does.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// lookups by result: fresh, stale, miss
		lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "response_cache_lookups_total",
				Help: "Total number of cache lookups by result",
			},
			[]string{"result"},
		),
		stores: factory.NewCounter(prometheus.CounterOpts{
			Name: "response_cache_stores_total",
			Help: "Total number of responses stored",
		}),
		removals: factory.NewCounter(prometheus.CounterOpts{
			Name: "response_cache_removals_total",
			Help: "Total number of stale entries removed after a failed refresh",
		}),
		staleServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "response_cache_stale_served_total",
			Help: "Total number of stale entries served in place of a failed response",
		}),
		oversized: factory.NewCounter(prometheus.CounterOpts{
			Name: "response_cache_oversized_total",
			Help: "Total number of responses rejected for exceeding the body limit",
		}),
		storePanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "response_cache_store_panics_total",
			Help: "Total number of panics recovered from the store",
		}),
		// outcome: success, failure
		upstream: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "response_cache_upstream_duration_seconds",
				Help:    "Duration of inner service calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) lookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

func (m *Metrics) stored() {
	if m == nil {
		return
	}
	m.stores.Inc()
}

func (m *Metrics) removed() {
	if m == nil {
		return
	}
	m.removals.Inc()
}

func (m *Metrics) servedStale() {
	if m == nil {
		return
	}
	m.staleServed.Inc()
}

func (m *Metrics) tooLarge() {
	if m == nil {
		return
	}
	m.oversized.Inc()
}

func (m *Metrics) storePanicked() {
	if m == nil {
		return
	}
	m.storePanics.Inc()
}

func (m *Metrics) upstreamDone(success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.upstream.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
