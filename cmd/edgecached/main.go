// Command edgecached runs the disk cache daemon: an HTTP endpoint that
// serves objects from a local disk cache, populating misses from an S3
// origin.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/edgecache/edgecache/internal/backend"
	"github.com/edgecache/edgecache/internal/cache"
	"github.com/edgecache/edgecache/internal/config"
	"github.com/edgecache/edgecache/internal/metrics"
	"github.com/edgecache/edgecache/internal/origin"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("edgecached", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "edgecached:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.NewDefault()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting edgecached", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	capacity, err := cfg.CapacityBytes()
	if err != nil {
		return err
	}
	maxDisk, err := cfg.MaxDiskBytes()
	if err != nil {
		return err
	}
	mode, err := backend.ParseMode(cfg.Cache.Backend)
	if err != nil {
		return err
	}

	be, err := backend.New(backend.Config{
		Directory:   cfg.Cache.Directory,
		Mode:        mode,
		MaxBytes:    maxDisk,
		RingEntries: uint(cfg.Cache.RingEntries),
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer be.Close()
	logger.Info("storage backend ready",
		"backend", be.Name(),
		"directory", cfg.Cache.Directory,
		"capacity", capacity)

	collector, err := metrics.NewCollector(&cfg.Metrics, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

	engine, err := cache.New(cache.Config{
		CapacityBytes: capacity,
		Observer:      collector,
		Logger:        logger,
	}, be)
	if err != nil {
		return err
	}
	defer engine.Close()

	go pollUsage(ctx, engine, collector)

	fetcher, err := origin.NewS3Fetcher(ctx, origin.Config{
		Region:          cfg.Origin.Region,
		Endpoint:        cfg.Origin.Endpoint,
		ForcePathStyle:  cfg.Origin.ForcePathStyle,
		AccessKeyID:     cfg.Origin.AccessKeyID,
		SecretAccessKey: cfg.Origin.SecretAccessKey,
		RequestTimeout:  cfg.Origin.Timeout,
		MaxRetries:      cfg.Origin.MaxRetries,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	srv := newServer(engine, fetcher, collector, cfg.Origin.Bucket, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", "addr", httpServer.Addr, "bucket", cfg.Origin.Bucket)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// pollUsage pushes index usage into the collector gauges until ctx ends.
func pollUsage(ctx context.Context, engine *cache.Cache, collector *metrics.Collector) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.SetUsage(engine.UsedBytes(), engine.Entries())
		}
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.Level) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
