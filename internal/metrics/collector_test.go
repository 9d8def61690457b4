package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with valid config", func(t *testing.T) {
		config := &Config{
			Enabled:   true,
			Port:      9091,
			Path:      "/metrics",
			Namespace: "edgecache",
		}
		collector, err := NewCollector(config, nil)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector == nil {
			t.Fatal("NewCollector() returned nil collector")
		}
		if collector.registry == nil {
			t.Error("collector.registry is nil")
		}
	})

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil, nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if collector.config.Port != 9090 {
			t.Errorf("default port = %d, want 9090", collector.config.Port)
		}
		if collector.config.Path != "/metrics" {
			t.Errorf("default path = %q, want %q", collector.config.Path, "/metrics")
		}
		if collector.config.Namespace != "edgecache" {
			t.Errorf("default namespace = %q, want %q", collector.config.Namespace, "edgecache")
		}
	})

	t.Run("disabled collector has no registry", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false}, nil)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector.registry != nil {
			t.Error("disabled collector should not allocate a registry")
		}
	})
}

func TestCollectorRecording(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Namespace: "edgecache"}, nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.Hit("abc", 4096)
	collector.Hit("def", 1024)
	collector.Miss("ghi")
	collector.Eviction("abc", 4096)
	collector.IOError("read")
	collector.IOError("read")
	collector.IOError("delete")
	collector.SetUsage(5120, 2)

	if got := testutil.ToFloat64(collector.hitCounter.WithLabelValues("disk")); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.hitBytesCounter); got != 5120 {
		t.Errorf("hit bytes = %v, want 5120", got)
	}
	if got := testutil.ToFloat64(collector.missCounter); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.evictionCounter); got != 1 {
		t.Errorf("evictions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.errorCounter.WithLabelValues("read")); got != 2 {
		t.Errorf("read errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.usedBytesGauge); got != 5120 {
		t.Errorf("used bytes = %v, want 5120", got)
	}
	if got := testutil.ToFloat64(collector.entriesGauge); got != 2 {
		t.Errorf("entries = %v, want 2", got)
	}
}

func TestCollectorObserveFetch(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Namespace: "edgecache"}, nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.ObserveFetch(10*time.Millisecond, nil)
	collector.ObserveFetch(20*time.Millisecond, errors.New("timeout"))

	count, err := testutil.GatherAndCount(collector.registry, "edgecache_origin_fetch_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 2 {
		t.Errorf("fetch duration series = %d, want 2 (ok and error)", count)
	}
}

func TestDisabledCollectorIsNoop(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	// None of these may panic on the nil metric fields.
	collector.Hit("k", 1)
	collector.Miss("k")
	collector.Eviction("k", 1)
	collector.IOError("read")
	collector.SetUsage(1, 1)
	collector.ObserveFetch(time.Millisecond, nil)

	if err := collector.Start(context.Background()); err != nil {
		t.Errorf("Start() on disabled collector error = %v", err)
	}
	if err := collector.Stop(context.Background()); err != nil {
		t.Errorf("Stop() on disabled collector error = %v", err)
	}
}

func TestCollectorStartStop(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{
		Enabled:   true,
		Port:      0, // ephemeral port
		Path:      "/metrics",
		Namespace: "edgecache",
	}, nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	ctx := context.Background()
	if err := collector.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := collector.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
