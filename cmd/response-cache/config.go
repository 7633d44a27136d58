package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const envPrefix = "RESPONSE_CACHE_"

// Store kinds
const (
	storeTimed      = "timed"
	storeTimedSized = "timed-sized"
	storeSQLite     = "sqlite"
)

// Config is read from a YAML file, then the environment, then the command line,
// each overriding the previous one.
type Config struct {
	Port           int           `yaml:"port" env:"PORT"`
	Origin         string        `yaml:"origin" env:"ORIGIN"`
	Host           string        `yaml:"host" env:"HOST"`
	Store          string        `yaml:"store" env:"STORE"`
	Lifespan       time.Duration `yaml:"lifespan" env:"LIFESPAN"`
	Capacity       int           `yaml:"capacity" env:"CAPACITY"`
	BodyLimit      int64         `yaml:"bodyLimit" env:"BODY_LIMIT"`
	StaleOnFailure bool          `yaml:"staleOnFailure" env:"STALE_ON_FAILURE"`
	CoalesceMisses bool          `yaml:"coalesceMisses" env:"COALESCE_MISSES"`
	CacheStatus    string        `yaml:"cacheStatus" env:"CACHE_STATUS"`
	EvictEvery     time.Duration `yaml:"evictEvery" env:"EVICT_EVERY"`
	// Path prefixes to cache. Everything is cached if empty.
	Routes  []string `yaml:"routes" env:"ROUTES" envSeparator:","`
	LogFile string   `yaml:"logFile" env:"LOG_FILE"`
	Trace   bool     `yaml:"trace" env:"TRACE"`
	// Span exporter: none, stdout or otlp.
	Spans string `yaml:"spans" env:"SPANS"`
}

func defaultConfig() Config {
	return Config{
		Port:        8080,
		Store:       storeTimed,
		Lifespan:    time.Minute,
		Capacity:    10000,
		CacheStatus: "Response-Cache",
	}
}

// loadConfig builds the configuration from the command line arguments (without
// the program name) and the environment. A nil environ means the process environment.
func loadConfig(args []string, environ map[string]string) (Config, error) {
	fs := flag.NewFlagSet("response-cache", flag.ContinueOnError)
	configFile := fs.String("config", "", "YAML config file")
	var flags Config
	fs.IntVar(&flags.Port, "port", 0, "Port to listen on (default 8080)")
	fs.StringVar(&flags.Origin, "origin", "", "Origin URL to proxy to")
	fs.StringVar(&flags.Host, "host", "", "Hostname of origin")
	fs.StringVar(&flags.Store, "store", "", "Cache store: timed, timed-sized or sqlite (default timed)")
	fs.DurationVar(&flags.Lifespan, "lifespan", 0, "How long stored responses stay fresh (default 1m)")
	fs.IntVar(&flags.Capacity, "capacity", 0, "Maximum number of entries of the timed-sized store (default 10000)")
	fs.Int64Var(&flags.BodyLimit, "body-limit", 0, "Largest response body to store, in bytes (default 128 MiB)")
	fs.BoolVar(&flags.StaleOnFailure, "stale-on-failure", false, "Serve stale responses when the origin fails")
	fs.BoolVar(&flags.CoalesceMisses, "coalesce", false, "Send one origin request for concurrent misses")
	fs.StringVar(&flags.CacheStatus, "cache-status", "", "Cache name for the Cache-Status header (default Response-Cache)")
	fs.DurationVar(&flags.EvictEvery, "evict-every", 0, "Interval for removing stale entries (disabled if zero)")
	fs.Func("route", "Path prefix to cache (repeatable, default everything)", func(s string) error {
		flags.Routes = append(flags.Routes, s)
		return nil
	})
	fs.StringVar(&flags.LogFile, "log-file", "", "Log file to use (in addition to stdout)")
	fs.BoolVar(&flags.Trace, "vv", false, "Verbosity: trace logging")
	fs.StringVar(&flags.Spans, "spans", "", "Span exporter: none, stdout or otlp (default none)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	config := defaultConfig()
	if *configFile != "" {
		var err error
		if config, err = getConfig(*configFile, config); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := env.ParseWithOptions(&config, env.Options{
		Prefix:      envPrefix,
		Environment: environ,
	}); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	// only flags given on the command line override
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			config.Port = flags.Port
		case "origin":
			config.Origin = flags.Origin
		case "host":
			config.Host = flags.Host
		case "store":
			config.Store = flags.Store
		case "lifespan":
			config.Lifespan = flags.Lifespan
		case "capacity":
			config.Capacity = flags.Capacity
		case "body-limit":
			config.BodyLimit = flags.BodyLimit
		case "stale-on-failure":
			config.StaleOnFailure = flags.StaleOnFailure
		case "coalesce":
			config.CoalesceMisses = flags.CoalesceMisses
		case "cache-status":
			config.CacheStatus = flags.CacheStatus
		case "evict-every":
			config.EvictEvery = flags.EvictEvery
		case "route":
			config.Routes = flags.Routes
		case "log-file":
			config.LogFile = flags.LogFile
		case "vv":
			config.Trace = flags.Trace
		case "spans":
			config.Spans = flags.Spans
		}
	})
	return config, config.validate()
}

func (c Config) validate() error {
	if c.Origin == "" {
		return errors.New("please specify origin")
	}
	if _, err := c.originURL(); err != nil {
		return err
	}
	switch c.Store {
	case storeTimed, storeTimedSized, storeSQLite:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Lifespan <= 0 {
		return fmt.Errorf("lifespan must be positive, got %s", c.Lifespan)
	}
	if c.Store == storeTimedSized && c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	switch c.Spans {
	case "", tracingNone, tracingStdout, tracingOTLP:
	default:
		return fmt.Errorf("unknown span exporter %q", c.Spans)
	}
	if c.BodyLimit < 0 {
		return fmt.Errorf("body limit cannot be negative, got %d", c.BodyLimit)
	}
	return nil
}

func (c Config) originURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("could not parse origin url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin url must be absolute, got %q", c.Origin)
	}
	return u, nil
}

// getConfig reads the YAML file over the given config.
func getConfig(filename string, config Config) (Config, error) {
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
