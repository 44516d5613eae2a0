// Package config loads ctxgraph configuration.
//
// Values come from hardcoded defaults, then an optional YAML file, then
// environment variables. Sections map one-to-one onto the daemon's
// components: server, observability, logging, retriever, cache, embeddings
// and persistence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete ctxgraph configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Retriever     RetrieverConfig     `koanf:"retriever"`
	Cache         CacheConfig         `koanf:"cache"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Persistence   PersistenceConfig   `koanf:"persistence"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Insecure        bool    `koanf:"insecure"`
	Protocol        string  `koanf:"protocol"` // grpc or http/protobuf
	SamplingRate    float64 `koanf:"sampling_rate"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

// RetrieverConfig holds fusion and traversal parameters.
type RetrieverConfig struct {
	GraphWeight         float64 `koanf:"graph_weight"`
	VectorWeight        float64 `koanf:"vector_weight"`
	MaxGraphDepth       int     `koanf:"max_graph_depth"`
	MaxResults          int     `koanf:"max_results"`
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
	TraversalThreshold  float64 `koanf:"traversal_threshold"`
	MaxSeeds            int     `koanf:"max_seeds"`
	SeedBoost           float64 `koanf:"seed_boost"`
	DefaultStrategy     string  `koanf:"default_strategy"`
	MaxIterations       int     `koanf:"max_iterations"`
}

// CacheConfig sizes the result and embedding caches.
type CacheConfig struct {
	ResultTTL     Duration `koanf:"result_ttl"`
	ResultSize    int      `koanf:"result_size"`
	EmbeddingSize int      `koanf:"embedding_size"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	Provider       string   `koanf:"provider"` // fastembed, tei or hash
	Model          string   `koanf:"model"`
	BaseURL        string   `koanf:"base_url"`
	APIKey         Secret   `koanf:"api_key"`
	Dimension      int      `koanf:"dimension"`
	Timeout        Duration `koanf:"timeout"`
	CacheDir       string   `koanf:"cache_dir"`
	InstallRuntime bool     `koanf:"install_runtime"`

	// Fallback names providers tried in order after the primary fails. They
	// share the primary's model, base_url and dimension.
	Fallback []string `koanf:"fallback"`

	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`

	BreakerEnabled   bool     `koanf:"breaker_enabled"`
	BreakerThreshold float64  `koanf:"breaker_threshold"`
	BreakerTimeout   Duration `koanf:"breaker_timeout"`
}

// PersistenceConfig controls snapshot storage.
type PersistenceConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
	// SaveInterval periodically snapshots a running daemon. Zero saves only
	// on shutdown.
	SaveInterval Duration `koanf:"save_interval"`
}

var validProviders = map[string]bool{"fastembed": true, "tei": true, "hash": true}

var validStrategies = map[string]bool{
	"graph_first": true, "vector_first": true, "balanced": true, "adaptive": true,
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "ctxgraph"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
		cfg.Observability.Insecure = true
	}
	if cfg.Observability.SamplingRate == 0 {
		cfg.Observability.SamplingRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	r := &cfg.Retriever
	if r.GraphWeight == 0 && r.VectorWeight == 0 {
		r.GraphWeight, r.VectorWeight = 0.5, 0.5
	}
	if r.MaxGraphDepth == 0 {
		r.MaxGraphDepth = 2
	}
	if r.MaxResults == 0 {
		r.MaxResults = 10
	}
	if r.SimilarityThreshold == 0 {
		r.SimilarityThreshold = 0.3
	}
	if r.TraversalThreshold == 0 {
		r.TraversalThreshold = 0.1
	}
	if r.MaxSeeds == 0 {
		r.MaxSeeds = 5
	}
	if r.SeedBoost == 0 {
		r.SeedBoost = 0.3
	}
	if r.DefaultStrategy == "" {
		r.DefaultStrategy = "balanced"
	}
	if r.MaxIterations == 0 {
		r.MaxIterations = 3
	}

	if cfg.Cache.ResultTTL == 0 {
		cfg.Cache.ResultTTL = Duration(time.Hour)
	}
	if cfg.Cache.ResultSize == 0 {
		cfg.Cache.ResultSize = 1000
	}
	if cfg.Cache.EmbeddingSize == 0 {
		cfg.Cache.EmbeddingSize = 10000
	}

	e := &cfg.Embeddings
	if e.Provider == "" {
		e.Provider = "fastembed"
	}
	if e.Model == "" {
		e.Model = "BAAI/bge-small-en-v1.5"
	}
	if e.BaseURL == "" {
		e.BaseURL = "http://localhost:8080"
	}
	if e.Timeout == 0 {
		e.Timeout = Duration(30 * time.Second)
	}
	if e.BreakerThreshold == 0 {
		e.BreakerThreshold = 0.6
	}
	if e.BreakerTimeout == 0 {
		e.BreakerTimeout = Duration(30 * time.Second)
	}

	if cfg.Persistence.Path == "" {
		cfg.Persistence.Path = "~/.config/ctxgraph/ctxgraph.db"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	switch c.Observability.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("observability.protocol must be grpc or http/protobuf, got %q", c.Observability.Protocol)
	}
	if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
		return fmt.Errorf("observability.sampling_rate must be between 0 and 1, got %f", c.Observability.SamplingRate)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if err := c.Retriever.validate(); err != nil {
		return fmt.Errorf("retriever: %w", err)
	}

	if c.Cache.ResultSize < 0 || c.Cache.EmbeddingSize < 0 {
		return errors.New("cache sizes must not be negative")
	}

	if err := c.Embeddings.validate(); err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}

	if c.Persistence.Enabled && c.Persistence.Path == "" {
		return errors.New("persistence.path required when persistence is enabled")
	}
	return nil
}

func (r RetrieverConfig) validate() error {
	if r.GraphWeight < 0 || r.VectorWeight < 0 {
		return errors.New("weights must not be negative")
	}
	if r.GraphWeight+r.VectorWeight == 0 {
		return errors.New("graph_weight and vector_weight must not both be zero")
	}
	if r.SimilarityThreshold < 0 || r.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be between 0 and 1, got %f", r.SimilarityThreshold)
	}
	if !validStrategies[r.DefaultStrategy] {
		return fmt.Errorf("unknown default_strategy %q", r.DefaultStrategy)
	}
	if r.MaxGraphDepth < 0 || r.MaxResults < 0 || r.MaxSeeds < 0 || r.MaxIterations < 0 {
		return errors.New("depths and counts must not be negative")
	}
	return nil
}

func (e EmbeddingsConfig) validate() error {
	if !validProviders[e.Provider] {
		return fmt.Errorf("unknown provider %q", e.Provider)
	}
	for _, fb := range e.Fallback {
		if !validProviders[fb] {
			return fmt.Errorf("unknown fallback provider %q", fb)
		}
	}
	if e.Provider == "tei" && e.BaseURL == "" {
		return errors.New("base_url required for tei provider")
	}
	if e.Dimension < 0 {
		return errors.New("dimension must not be negative")
	}
	if e.RateLimit < 0 || e.Burst < 0 {
		return errors.New("rate_limit and burst must not be negative")
	}
	if e.BreakerEnabled && (e.BreakerThreshold <= 0 || e.BreakerThreshold > 1) {
		return fmt.Errorf("breaker_threshold must be in (0,1], got %f", e.BreakerThreshold)
	}
	return nil
}
