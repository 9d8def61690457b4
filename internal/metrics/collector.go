// Package metrics exposes cache engine counters and gauges over a Prometheus
// scrape endpoint. The Collector implements the cache Observer interface so
// the cache layer stays free of any Prometheus dependency.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefaultConfig returns a metrics configuration with standard values.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "edgecache",
	}
}

// Collector gathers cache metrics and serves them over HTTP. A disabled
// collector is valid: every recording method becomes a no-op so the cache
// can always be wired with one.
type Collector struct {
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	hitCounter      *prometheus.CounterVec
	missCounter     prometheus.Counter
	evictionCounter prometheus.Counter
	errorCounter    *prometheus.CounterVec
	usedBytesGauge  prometheus.Gauge
	entriesGauge    prometheus.Gauge
	hitBytesCounter prometheus.Counter
	fetchDuration   *prometheus.HistogramVec

	server *http.Server
}

// NewCollector creates a metrics collector. A nil config enables the
// collector with defaults.
func NewCollector(config *Config, logger *slog.Logger) (*Collector, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "metrics")

	if !config.Enabled {
		return &Collector{config: config, logger: logger}, nil
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.hitCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"source"},
	)

	c.missCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
	)

	c.evictionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_evictions_total",
			Help:      "Total number of entries evicted to reclaim capacity",
		},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "io_errors_total",
			Help:      "Total number of backend I/O errors by operation",
		},
		[]string{"operation"},
	)

	c.usedBytesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "cache_used_bytes",
			Help:      "Bytes of cached payload currently accounted by the index",
		},
	)

	c.entriesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "cache_entries",
			Help:      "Number of objects currently cached",
		},
	)

	c.hitBytesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_hit_bytes_total",
			Help:      "Total bytes served from cache",
		},
	)

	c.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "origin_fetch_duration_seconds",
			Help:      "Duration of origin fetches on cache miss",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"outcome"},
	)
}

func (c *Collector) registerMetrics() error {
	collectors := []prometheus.Collector{
		c.hitCounter,
		c.missCounter,
		c.evictionCounter,
		c.errorCounter,
		c.usedBytesGauge,
		c.entriesGauge,
		c.hitBytesCounter,
		c.fetchDuration,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Hit records a cache hit for key serving size bytes.
func (c *Collector) Hit(key string, size int64) {
	if !c.config.Enabled {
		return
	}
	c.hitCounter.WithLabelValues("disk").Inc()
	c.hitBytesCounter.Add(float64(size))
}

// Miss records a cache miss.
func (c *Collector) Miss(key string) {
	if !c.config.Enabled {
		return
	}
	c.missCounter.Inc()
}

// Eviction records an entry evicted to reclaim capacity.
func (c *Collector) Eviction(key string, size int64) {
	if !c.config.Enabled {
		return
	}
	c.evictionCounter.Inc()
}

// IOError records a backend I/O failure during op.
func (c *Collector) IOError(op string) {
	if !c.config.Enabled {
		return
	}
	c.errorCounter.WithLabelValues(op).Inc()
}

// SetUsage updates the used-bytes and entry-count gauges. Callers poll the
// cache and push the values here rather than the registry pulling them, which
// keeps the cache free of collector callbacks.
func (c *Collector) SetUsage(usedBytes int64, entries int) {
	if !c.config.Enabled {
		return
	}
	c.usedBytesGauge.Set(float64(usedBytes))
	c.entriesGauge.Set(float64(entries))
}

// ObserveFetch records the duration of one origin fetch.
func (c *Collector) ObserveFetch(d time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.fetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start serves the scrape endpoint in the background. It returns immediately;
// server errors other than a clean shutdown are logged.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		c.logger.Info("metrics server listening", "addr", c.server.Addr, "path", c.config.Path)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop shuts down the scrape endpoint.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}
