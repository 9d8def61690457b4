// Package config manages daemon configuration with support for YAML files
// and environment variable overrides. Precedence is defaults, then file,
// then environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/edgecache/edgecache/internal/backend"
	"github.com/edgecache/edgecache/internal/metrics"
)

// Configuration holds the complete daemon configuration.
type Configuration struct {
	Cache   CacheConfig    `yaml:"cache"`
	Origin  OriginConfig   `yaml:"origin"`
	Metrics metrics.Config `yaml:"metrics"`
	Logging LoggingConfig  `yaml:"logging"`
	Server  ServerConfig   `yaml:"server"`
}

// CacheConfig configures the on-disk cache engine.
type CacheConfig struct {
	// Directory is the cache root on the local disk.
	Directory string `yaml:"directory"`
	// Capacity is the logical cache capacity, e.g. "10GB" or a byte count.
	Capacity string `yaml:"capacity"`
	// Backend selects the storage backend: auto, portable or fast.
	Backend string `yaml:"backend"`
	// EvictionPolicy names the eviction policy. Only "lru" is supported.
	EvictionPolicy string `yaml:"eviction_policy"`
	// RingEntries sizes the io_uring submission queue for the fast backend.
	RingEntries int `yaml:"ring_entries"`
	// MaxDiskBytes is a hard ceiling on bytes the backend will stage,
	// independent of the logical capacity. Empty means 2x capacity.
	MaxDiskBytes string `yaml:"max_disk_bytes"`
}

// OriginConfig configures the object store the cache fronts.
type OriginConfig struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	ForcePathStyle  bool          `yaml:"force_path_style"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig configures the HTTP serving endpoint.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NewDefault creates a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Cache: CacheConfig{
			Directory:      "/var/cache/edgecache",
			Capacity:       "10GB",
			Backend:        "auto",
			EvictionPolicy: "lru",
			RingEntries:    256,
		},
		Origin: OriginConfig{
			Region:     "us-east-1",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Metrics: *metrics.NewDefaultConfig(),
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML file, overlaying the
// receiver's current values.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overlays configuration from EDGECACHE_* environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("EDGECACHE_CACHE_DIR"); val != "" {
		c.Cache.Directory = val
	}
	if val := os.Getenv("EDGECACHE_CACHE_CAPACITY"); val != "" {
		c.Cache.Capacity = val
	}
	if val := os.Getenv("EDGECACHE_CACHE_BACKEND"); val != "" {
		c.Cache.Backend = val
	}
	if val := os.Getenv("EDGECACHE_ORIGIN_BUCKET"); val != "" {
		c.Origin.Bucket = val
	}
	if val := os.Getenv("EDGECACHE_ORIGIN_REGION"); val != "" {
		c.Origin.Region = val
	}
	if val := os.Getenv("EDGECACHE_ORIGIN_ENDPOINT"); val != "" {
		c.Origin.Endpoint = val
	}
	if val := os.Getenv("EDGECACHE_ORIGIN_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Origin.Timeout = duration
		}
	}
	if val := os.Getenv("EDGECACHE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
	if val := os.Getenv("EDGECACHE_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("EDGECACHE_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("EDGECACHE_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}
	if val := os.Getenv("EDGECACHE_SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Server.Port = port
		}
	}
	return nil
}

// SaveToFile writes the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Configuration) Validate() error {
	if c.Cache.Directory == "" {
		return fmt.Errorf("cache directory must be set")
	}
	if _, err := c.CapacityBytes(); err != nil {
		return err
	}
	if _, err := backend.ParseMode(c.Cache.Backend); err != nil {
		return err
	}
	if c.Cache.EvictionPolicy != "" && c.Cache.EvictionPolicy != "lru" {
		return fmt.Errorf("unsupported eviction_policy: %s (only lru is available)", c.Cache.EvictionPolicy)
	}
	if c.Origin.Bucket == "" {
		return fmt.Errorf("origin bucket must be set")
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		return fmt.Errorf("metrics port and server port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Logging.Level) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)",
			c.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// CapacityBytes parses the configured cache capacity into bytes.
func (c *Configuration) CapacityBytes() (int64, error) {
	n, err := ParseSize(c.Cache.Capacity)
	if err != nil {
		return 0, fmt.Errorf("invalid cache capacity: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("cache capacity must be positive, got %s", c.Cache.Capacity)
	}
	return n, nil
}

// MaxDiskBytes parses the disk ceiling, defaulting to twice the capacity.
func (c *Configuration) MaxDiskBytes() (int64, error) {
	if c.Cache.MaxDiskBytes == "" {
		capacity, err := c.CapacityBytes()
		if err != nil {
			return 0, err
		}
		return 2 * capacity, nil
	}
	n, err := ParseSize(c.Cache.MaxDiskBytes)
	if err != nil {
		return 0, fmt.Errorf("invalid max_disk_bytes: %w", err)
	}
	return n, nil
}

// sizeUnits is ordered longest suffix first so "GB" is not matched as "B".
var sizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"TB", 1024 * 1024 * 1024 * 1024},
	{"GB", 1024 * 1024 * 1024},
	{"MB", 1024 * 1024},
	{"KB", 1024},
	{"B", 1},
}

// ParseSize parses a human-readable size like "512MB" or "10GB".
// Plain numbers are interpreted as bytes.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(sizeStr)
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if val, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
		return val, nil
	}

	upper := strings.ToUpper(sizeStr)
	for _, u := range sizeUnits {
		if strings.HasSuffix(upper, u.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(upper, u.suffix))
			if val, err := strconv.ParseFloat(numStr, 64); err == nil {
				return int64(val * float64(u.multiplier)), nil
			}
		}
	}

	return 0, fmt.Errorf("invalid size format: %s", sizeStr)
}
