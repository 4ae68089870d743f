// Package config provides loading and parsing of memstore configuration
// from YAML files and environment variables. Environment variables
// override file values, file values override defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level memstore configuration.
type Config struct {
	// DBPath is the SQLite database file. Empty runs in-memory.
	DBPath string `yaml:"db_path,omitempty"`

	// LocalVectorCache enables caching small embedding vectors locally
	// for offline similarity search.
	LocalVectorCache bool `yaml:"local_vector_cache"`

	Sync      SyncConfig      `yaml:"sync"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Retention RetentionConfig `yaml:"retention"`
}

// SyncConfig controls the background sync loop.
type SyncConfig struct {
	// Enabled turns the background sync loop on. Off, the store is
	// local-only and documents simply accumulate Pending status.
	Enabled bool `yaml:"enabled"`

	// Gateway is the remote sync endpoint URL.
	Gateway string `yaml:"gateway,omitempty"`

	// APIToken is the bearer token presented to the gateway.
	APIToken string `yaml:"api_token,omitempty"`

	// Interval between sync cycles. Go duration string. Default: 60s.
	Interval string `yaml:"interval,omitempty"`

	// BatchSize is the number of pending documents drained per cycle.
	// Default: 100.
	BatchSize int `yaml:"batch_size,omitempty"`

	// MaxRetries is the attempt count per push before giving the batch
	// back to the next cycle. Default: 3.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// BaseDelay seeds the per-push exponential backoff. Default: 1s.
	BaseDelay string `yaml:"base_delay,omitempty"`

	// MaxBackoff caps the cycle-level interval backoff. Default: 5m.
	MaxBackoff string `yaml:"max_backoff,omitempty"`

	// PushTimeout bounds each remote call. Default: 30s.
	PushTimeout string `yaml:"push_timeout,omitempty"`
}

// BreakerConfig tunes the circuit breaker wrapping remote calls.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker. Default: 5.
	FailureThreshold int `yaml:"failure_threshold,omitempty"`

	// SuccessThreshold is the consecutive success count that closes the
	// breaker from half-open. Default: 2.
	SuccessThreshold int `yaml:"success_threshold,omitempty"`

	// Timeout is how long the breaker stays open before probing.
	// Go duration string. Default: 60s.
	Timeout string `yaml:"timeout,omitempty"`
}

// RetentionConfig bounds local storage growth. Zero values disable the
// corresponding rule.
type RetentionConfig struct {
	// TTL expires synced documents older than this. Go duration string.
	TTL string `yaml:"ttl,omitempty"`

	// MaxDocuments evicts the oldest synced documents beyond this count.
	MaxDocuments int64 `yaml:"max_documents,omitempty"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		LocalVectorCache: true,
		Sync: SyncConfig{
			Interval:    "60s",
			BatchSize:   100,
			MaxRetries:  3,
			BaseDelay:   "1s",
			MaxBackoff:  "5m",
			PushTimeout: "30s",
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          "60s",
		},
	}
}

// Load reads a YAML config file over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults plus environment
// overrides, with no file involved.
func FromEnv() (Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Environment variables recognized by applyEnv. Each overrides the
// matching field when set.
const (
	EnvDBPath       = "MEMSTORE_DB_PATH"
	EnvSyncEnabled  = "MEMSTORE_SYNC_ENABLED"
	EnvSyncGateway  = "MEMSTORE_SYNC_GATEWAY"
	EnvAPIToken     = "MEMSTORE_API_TOKEN"
	EnvSyncInterval = "MEMSTORE_SYNC_INTERVAL"
	EnvBatchSize    = "MEMSTORE_SYNC_BATCH_SIZE"
	EnvTTL          = "MEMSTORE_TTL"
	EnvMaxDocuments = "MEMSTORE_MAX_DOCUMENTS"
	EnvLocalVectors = "MEMSTORE_LOCAL_VECTORS"
)

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvSyncEnabled); v != "" {
		c.Sync.Enabled = envBool(v)
	}
	if v := os.Getenv(EnvSyncGateway); v != "" {
		c.Sync.Gateway = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.Sync.APIToken = v
	}
	if v := os.Getenv(EnvSyncInterval); v != "" {
		c.Sync.Interval = v
	}
	if v := os.Getenv(EnvBatchSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.BatchSize = n
		}
	}
	if v := os.Getenv(EnvTTL); v != "" {
		c.Retention.TTL = v
	}
	if v := os.Getenv(EnvMaxDocuments); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Retention.MaxDocuments = n
		}
	}
	if v := os.Getenv(EnvLocalVectors); v != "" {
		c.LocalVectorCache = envBool(v)
	}
}

func envBool(v string) bool {
	switch v {
	case "1", "true", "yes", "on", "TRUE", "True":
		return true
	}
	return false
}

// Validate checks cross-field consistency after all overrides are
// applied.
func (c *Config) Validate() error {
	if c.Sync.Enabled && c.Sync.Gateway == "" {
		return fmt.Errorf("config: sync enabled without a gateway URL")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("config: sync batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("config: sync max_retries must not be negative, got %d", c.Sync.MaxRetries)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("config: breaker failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("config: breaker success_threshold must be positive, got %d", c.Breaker.SuccessThreshold)
	}
	for name, v := range map[string]string{
		"sync.interval":     c.Sync.Interval,
		"sync.base_delay":   c.Sync.BaseDelay,
		"sync.max_backoff":  c.Sync.MaxBackoff,
		"sync.push_timeout": c.Sync.PushTimeout,
		"breaker.timeout":   c.Breaker.Timeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if c.Retention.TTL != "" {
		if _, err := time.ParseDuration(c.Retention.TTL); err != nil {
			return fmt.Errorf("config: retention.ttl: %w", err)
		}
	}
	if c.Retention.MaxDocuments < 0 {
		return fmt.Errorf("config: retention.max_documents must not be negative, got %d", c.Retention.MaxDocuments)
	}
	return nil
}

// Duration accessors parse the string fields, falling back to the
// documented defaults when unset or invalid.

func (c SyncConfig) GetInterval() time.Duration {
	return parseDuration(c.Interval, 60*time.Second)
}

func (c SyncConfig) GetBaseDelay() time.Duration {
	return parseDuration(c.BaseDelay, time.Second)
}

func (c SyncConfig) GetMaxBackoff() time.Duration {
	return parseDuration(c.MaxBackoff, 5*time.Minute)
}

func (c SyncConfig) GetPushTimeout() time.Duration {
	return parseDuration(c.PushTimeout, 30*time.Second)
}

func (c BreakerConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 60*time.Second)
}

func (c RetentionConfig) GetTTL() time.Duration {
	return parseDuration(c.TTL, 0)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
