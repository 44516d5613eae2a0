package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "ctxgraph", cfg.Observability.ServiceName)
	assert.Equal(t, 0.5, cfg.Retriever.GraphWeight)
	assert.Equal(t, 0.5, cfg.Retriever.VectorWeight)
	assert.Equal(t, 2, cfg.Retriever.MaxGraphDepth)
	assert.Equal(t, 0.3, cfg.Retriever.SimilarityThreshold)
	assert.Equal(t, "balanced", cfg.Retriever.DefaultStrategy)
	assert.Equal(t, time.Hour, cfg.Cache.ResultTTL.Duration())
	assert.Equal(t, 1000, cfg.Cache.ResultSize)
	assert.Equal(t, 10000, cfg.Cache.EmbeddingSize)
	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.False(t, cfg.Persistence.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestDefault_KeepsExplicitZeroSide(t *testing.T) {
	cfg := &Config{Retriever: RetrieverConfig{GraphWeight: 1}}
	applyDefaults(cfg)

	assert.Equal(t, 1.0, cfg.Retriever.GraphWeight)
	assert.Zero(t, cfg.Retriever.VectorWeight, "only both-zero weights get defaults")
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero shutdown", func(c *Config) { c.Server.ShutdownTimeout = -1 }, "shutdown timeout"},
		{"sampling", func(c *Config) { c.Observability.SamplingRate = 2 }, "sampling_rate"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"negative weight", func(c *Config) { c.Retriever.GraphWeight = -1 }, "weights"},
		{"strategy", func(c *Config) { c.Retriever.DefaultStrategy = "random" }, "default_strategy"},
		{"threshold", func(c *Config) { c.Retriever.SimilarityThreshold = 1.5 }, "similarity_threshold"},
		{"provider", func(c *Config) { c.Embeddings.Provider = "openai" }, "unknown provider"},
		{"fallback", func(c *Config) { c.Embeddings.Fallback = []string{"hash", "x"} }, "fallback"},
		{"tei url", func(c *Config) {
			c.Embeddings.Provider = "tei"
			c.Embeddings.BaseURL = ""
		}, "base_url"},
		{"breaker", func(c *Config) {
			c.Embeddings.BreakerEnabled = true
			c.Embeddings.BreakerThreshold = 3
		}, "breaker_threshold"},
		{"persistence path", func(c *Config) {
			c.Persistence.Enabled = true
			c.Persistence.Path = ""
		}, "persistence.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())
	assert.Empty(t, Secret("").String())

	b, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(b))

	var back struct{ Key Secret }
	assert.Error(t, json.Unmarshal(b, &back), "redacted placeholder is not a key")

	require.NoError(t, json.Unmarshal([]byte(`{"Key":"real"}`), &back))
	assert.Equal(t, "real", back.Key.Value())
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	b, err := json.Marshal(Duration(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"1m0s"`, string(b))
}
