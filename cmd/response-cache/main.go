package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	responsecache "github.com/always-cache/response-cache"
	"github.com/always-cache/response-cache/cache"
)

// this is set by goreleaser
var version string

func main() {
	if version == "" {
		version = "DEV"
	}

	config, err := loadConfig(os.Args[1:], nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	closeLog := setupLogging(config)
	defer closeLog()

	store, closeStore, err := newStore(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot create cache store")
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := newTracerProvider(ctx, config.Spans, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot create tracer provider")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Could not flush spans")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	layer := responsecache.New(responsecache.Config{
		Store:             store,
		UseStaleOnFailure: config.StaleOnFailure,
		BodyLimit:         config.BodyLimit,
		Logger:            &log.Logger,
		Metrics:           responsecache.NewMetrics(reg),
		TracerProvider:    tp,
		CoalesceMisses:    config.CoalesceMisses,
		CacheStatus:       config.CacheStatus,
	})

	originURL, _ := config.originURL()
	proxy := newOriginProxy(*originURL, config.Host)

	if config.EvictEvery > 0 {
		go layer.RunEviction(ctx, config.EvictEvery)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           newRouter(config, layer, proxy, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Could not shut down server")
		}
	}()

	log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", config.Port, originURL.String(), config.Host)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// setupLogging configures the global logger.
// It returns a function closing the log file, if any.
func setupLogging(config Config) func() {
	// set log level
	logLevel := zerolog.DebugLevel
	if config.Trace {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	closeLog := func() {}
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if config.LogFile != "" {
		if logFileOutput, err := os.OpenFile(config.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
			closeLog = func() { logFileOutput.Close() }
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
	return closeLog
}

// newStore creates the configured store.
// It returns a function releasing the store's resources.
func newStore(config Config) (cache.Store, func(), error) {
	switch config.Store {
	case storeTimedSized:
		store, err := cache.NewTimedSizedStore(config.Capacity, config.Lifespan)
		return store, func() {}, err
	case storeSQLite:
		store, err := cache.NewSQLiteStore(config.Lifespan)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close cache store")
			}
		}, nil
	default:
		return cache.NewTimedStore(config.Lifespan), func() {}, nil
	}
}
