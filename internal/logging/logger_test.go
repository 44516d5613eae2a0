package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/ctxgraph/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad format", func(c *Config) { c.Format = "xml" }, "format must be"},
		{"no outputs", func(c *Config) { c.Stdout = false }, "at least one output"},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, "sampling tick"},
		{"zero initial", func(c *Config) { c.Sampling.Initial = 0 }, "initial >= 1"},
		{"sampling off ignores tick", func(c *Config) { c.Sampling = Sampling{} }, ""},
		{"bad pattern", func(c *Config) { c.RedactPatterns = []string{"("} }, "invalid redaction pattern"},
		{"empty field", func(c *Config) { c.Fields = map[string]string{"env": ""} }, "non-empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "debug", Format: "console"}, true)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.True(t, cfg.OTEL)
	assert.True(t, cfg.Stdout)

	cfg, err = FromAppConfig(config.LoggingConfig{}, false)
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level)

	_, err = FromAppConfig(config.LoggingConfig{Level: "loud"}, false)
	assert.ErrorContains(t, err, "invalid log level")
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.NotNil(t, l.Underlying())
	assert.NotPanics(t, func() { l.Info(context.Background(), "started") })
	assert.NoError(t, l.Sync())

	// OTEL requested without a provider falls back to stdout alone.
	cfg := NewDefaultConfig()
	cfg.OTEL = true
	_, err = NewLogger(cfg, nil)
	assert.NoError(t, err)

	cfg = NewDefaultConfig()
	cfg.Stdout = false
	cfg.OTEL = true
	_, err = NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "no log output")
}

func TestLogger_ContextFieldsAttached(t *testing.T) {
	l, logs := NewObserved(zapcore.DebugLevel)

	ctx, err := WithAgentID(context.Background(), "planner-1")
	require.NoError(t, err)
	ctx = WithSessionKey(ctx, "planner-1:graphs")

	l.Info(ctx, "retrieval served", zap.Int("results", 3))
	l.Debug(context.Background(), "no tags")

	entries := logs.FilterMessage("retrieval served").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "planner-1", fields["agent.id"])
	assert.Equal(t, "planner-1:graphs", fields["session.key"])
	assert.EqualValues(t, 3, fields["results"])

	require.Len(t, logs.FilterMessage("no tags").All(), 1)
	assert.Empty(t, logs.FilterMessage("no tags").All()[0].Context)
}

func TestLogger_Component(t *testing.T) {
	l, logs := NewObserved(zapcore.InfoLevel)

	l.Component("retriever").Info("ingested")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "retriever", entries[0].LoggerName)
}

func TestRedactingEncoder(t *testing.T) {
	cfg := NewDefaultConfig()
	enc, err := newRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), cfg.RedactKeys, cfg.RedactPatterns)
	require.NoError(t, err)

	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel)
	zap.New(core).Info("provider configured",
		zap.String("API_KEY", "sk-123"),
		zap.String("header", "Bearer abc.def"),
		zap.String("model", "bge-small"),
		zap.Binary("token", []byte("raw")),
		zap.Any("secret", map[string]string{"k": "v"}),
	)

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, redacted, got["API_KEY"])
	assert.Equal(t, redacted, got["header"])
	assert.Equal(t, redacted, got["token"])
	assert.Equal(t, redacted, got["secret"])
	assert.Equal(t, "bge-small", got["model"])
}

func TestNewRedactingEncoder_RejectsLongPattern(t *testing.T) {
	long := make([]byte, maxPatternLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := newRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), nil, []string{string(long)})
	assert.ErrorContains(t, err, "too long")
}

func TestSample(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	z := zap.New(sample(core, Sampling{Enabled: true, Tick: time.Minute, Initial: 2, Thereafter: 0}))

	for i := 0; i < 10; i++ {
		z.Info("repeated")
		z.Error("failure")
	}

	assert.Equal(t, 2, logs.FilterMessage("repeated").Len())
	assert.Equal(t, 10, logs.FilterMessage("failure").Len(), "errors are never sampled")
}

func TestSample_Disabled(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	z := zap.New(sample(core, Sampling{}))
	for i := 0; i < 5; i++ {
		z.Info("repeated")
	}
	assert.Equal(t, 5, logs.Len())
}
