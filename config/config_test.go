package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Empty(t, cfg.DBPath)
	assert.False(t, cfg.Sync.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Sync.GetInterval())
	assert.Equal(t, 100, cfg.Sync.BatchSize)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, time.Second, cfg.Sync.GetBaseDelay())
	assert.Equal(t, 5*time.Minute, cfg.Sync.GetMaxBackoff())
	assert.Equal(t, 30*time.Second, cfg.Sync.GetPushTimeout())
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.GetTimeout())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/mem.db
sync:
  enabled: true
  gateway: https://sync.example.com
  interval: 5s
  batch_size: 25
breaker:
  failure_threshold: 3
retention:
  ttl: 72h
  max_documents: 10000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/mem.db", cfg.DBPath)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, "https://sync.example.com", cfg.Sync.Gateway)
	assert.Equal(t, 5*time.Second, cfg.Sync.GetInterval())
	assert.Equal(t, 25, cfg.Sync.BatchSize)
	// unset fields keep defaults
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, 72*time.Hour, cfg.Retention.GetTTL())
	assert.Equal(t, int64(10000), cfg.Retention.MaxDocuments)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
sync:
  enabled: false
  interval: 120s
`)
	t.Setenv(EnvSyncEnabled, "true")
	t.Setenv(EnvSyncGateway, "https://env.example.com")
	t.Setenv(EnvSyncInterval, "10s")
	t.Setenv(EnvBatchSize, "7")
	t.Setenv(EnvMaxDocuments, "500")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, "https://env.example.com", cfg.Sync.Gateway)
	assert.Equal(t, 10*time.Second, cfg.Sync.GetInterval())
	assert.Equal(t, 7, cfg.Sync.BatchSize)
	assert.Equal(t, int64(500), cfg.Retention.MaxDocuments)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvDBPath, "/data/mem.db")
	t.Setenv(EnvLocalVectors, "off")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/data/mem.db", cfg.DBPath)
	assert.False(t, cfg.LocalVectorCache)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sync enabled without gateway", func(c *Config) { c.Sync.Enabled = true }},
		{"zero batch size", func(c *Config) { c.Sync.BatchSize = 0 }},
		{"negative retries", func(c *Config) { c.Sync.MaxRetries = -1 }},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"zero success threshold", func(c *Config) { c.Breaker.SuccessThreshold = 0 }},
		{"bad interval", func(c *Config) { c.Sync.Interval = "soon" }},
		{"bad ttl", func(c *Config) { c.Retention.TTL = "forever" }},
		{"negative max documents", func(c *Config) { c.Retention.MaxDocuments = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
