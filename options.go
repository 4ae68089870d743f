package memstore

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/memstore/config"
	"github.com/zero-day-ai/memstore/remote"
	"github.com/zero-day-ai/memstore/syncer"
)

// Option configures a Memstore instance.
type Option func(*openConfig)

// openConfig holds configuration collected from Options before Open
// wires the components together.
type openConfig struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	remote     remote.Remote
	embedder   syncer.Embedder
}

// WithConfigFile loads configuration from a YAML file. Environment
// variables still override file values.
func WithConfigFile(path string) Option {
	return func(c *openConfig) {
		c.configPath = path
	}
}

// WithConfig supplies a complete configuration, bypassing file and
// environment loading.
func WithConfig(cfg config.Config) Option {
	return func(c *openConfig) {
		c.cfg = &cfg
	}
}

// WithLogger sets a custom structured logger. If not provided, a JSON
// logger on stdout is created.
func WithLogger(logger *slog.Logger) Option {
	return func(c *openConfig) {
		c.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer. Each sync cycle then records
// one span.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *openConfig) {
		c.tracer = tracer
	}
}

// WithMeter sets an OpenTelemetry meter for circuit breaker metrics.
func WithMeter(meter metric.Meter) Option {
	return func(c *openConfig) {
		c.meter = meter
	}
}

// WithRemote replaces the remote built from configuration. Useful for
// Redis-backed sync or a custom gateway client.
func WithRemote(r remote.Remote) Option {
	return func(c *openConfig) {
		c.remote = r
	}
}

// WithEmbedder enables lazy embedding of bead content during sync.
func WithEmbedder(e syncer.Embedder) Option {
	return func(c *openConfig) {
		c.embedder = e
	}
}
