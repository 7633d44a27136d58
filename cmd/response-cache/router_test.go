package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	responsecache "github.com/always-cache/response-cache"
)

type testOrigin struct {
	*httptest.Server
	requests atomic.Int32
	failing  atomic.Bool
}

func newTestOrigin(t *testing.T) *testOrigin {
	o := &testOrigin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.requests.Add(1)
		if o.failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-Host", r.Host)
		io.WriteString(w, "origin "+r.URL.Path)
	}))
	t.Cleanup(o.Close)
	return o
}

func newTestRouter(t *testing.T, o *testOrigin, config Config) (http.Handler, *prometheus.Registry) {
	originURL, err := url.Parse(o.URL)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	store, closeStore, err := newStore(config)
	require.NoError(t, err)
	t.Cleanup(closeStore)
	layer := responsecache.New(responsecache.Config{
		Store:             store,
		UseStaleOnFailure: config.StaleOnFailure,
		Metrics:           responsecache.NewMetrics(reg),
		CacheStatus:       config.CacheStatus,
	})
	return newRouter(config, layer, newOriginProxy(*originURL, config.Host), reg), reg
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestProxyCachesEverything(t *testing.T) {
	for _, store := range []string{storeTimed, storeTimedSized, storeSQLite} {
		t.Run(store, func(t *testing.T) {
			o := newTestOrigin(t)
			config := defaultConfig()
			config.Store = store
			router, _ := newTestRouter(t, o, config)

			for i := 0; i < 3; i++ {
				rec := get(router, "/hello/foo")
				require.Equal(t, http.StatusOK, rec.Code)
				assert.Equal(t, "origin /hello/foo", rec.Body.String())
			}
			assert.EqualValues(t, 1, o.requests.Load())
			assert.Equal(t, "Response-Cache; hit", get(router, "/hello/foo").Header().Get("Cache-Status"))
		})
	}
}

func TestProxyCachesConfiguredRoutesOnly(t *testing.T) {
	o := newTestOrigin(t)
	config := defaultConfig()
	config.Routes = []string{"/static/"}
	router, _ := newTestRouter(t, o, config)

	get(router, "/static/app.js")
	get(router, "/static/app.js")
	get(router, "/static")
	get(router, "/static")
	assert.EqualValues(t, 2, o.requests.Load())

	get(router, "/api/data")
	get(router, "/api/data")
	assert.EqualValues(t, 4, o.requests.Load())
}

func TestProxyServesStaleWhenOriginFails(t *testing.T) {
	o := newTestOrigin(t)
	config := defaultConfig()
	config.Lifespan = 10 * time.Millisecond
	config.StaleOnFailure = true
	router, _ := newTestRouter(t, o, config)

	require.Equal(t, http.StatusOK, get(router, "/page").Code)
	o.failing.Store(true)
	time.Sleep(20 * time.Millisecond)

	rec := get(router, "/page")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "origin /page", rec.Body.String())
	assert.EqualValues(t, 2, o.requests.Load())
}

func TestProxyHostHeader(t *testing.T) {
	o := newTestOrigin(t)
	config := defaultConfig()
	config.Host = "example.com"
	router, _ := newTestRouter(t, o, config)
	assert.Equal(t, "example.com", get(router, "/").Header().Get("X-Host"))
}

func TestHealthAndMetrics(t *testing.T) {
	o := newTestOrigin(t)
	router, _ := newTestRouter(t, o, defaultConfig())

	rec := get(router, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	get(router, "/x")
	rec = get(router, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `response_cache_lookups_total{result="miss"} 1`)
	assert.EqualValues(t, 1, o.requests.Load(), "health and metrics reached the origin")
}
