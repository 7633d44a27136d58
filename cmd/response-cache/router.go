package main

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	responsecache "github.com/always-cache/response-cache"
)

// newRouter serves the metrics and health endpoints, and proxies everything else
// to the origin, through the cache for the configured routes.
func newRouter(config Config, layer responsecache.Layer, origin http.Handler, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok")
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	prefixes := make([]string, 0, len(config.Routes))
	for _, route := range config.Routes {
		prefix := strings.Trim(route, "/")
		if prefix == "" {
			// the root prefix covers everything
			prefixes = nil
			break
		}
		prefixes = append(prefixes, "/"+prefix)
	}

	cached := r.With(layer.Middleware)
	if len(prefixes) == 0 {
		cached.Handle("/*", origin)
		return r
	}
	for _, prefix := range prefixes {
		cached.Handle(prefix, origin)
		cached.Handle(prefix+"/*", origin)
	}
	r.Handle("/*", origin)
	return r
}

// newOriginProxy returns a reverse proxy to the origin.
// The host, if not empty, is used for the Host header and for TLS negotiation,
// e.g. when the origin URL is just an IP address.
func newOriginProxy(originURL url.URL, host string) *httputil.ReverseProxy {
	hostHeader := originURL.Host
	transport := http.DefaultTransport
	if host != "" {
		hostHeader = host
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: host,
			},
		}
	}
	return &httputil.ReverseProxy{
		Director:  createDirector(originURL.Scheme, originURL.Host, hostHeader),
		Transport: transport,
	}
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}
