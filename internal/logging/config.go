package logging

import (
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ctxgraph/internal/config"
)

// Config holds logger settings.
type Config struct {
	Level  zapcore.Level
	Format string // json or console

	// Stdout writes encoded entries to the console.
	Stdout bool
	// Stderr moves the console output to stderr. Set when stdout carries the
	// MCP stream.
	Stderr bool
	// OTEL forwards entries to the OpenTelemetry log provider.
	OTEL bool

	Sampling Sampling
	Caller   bool

	// Fields are attached to every entry.
	Fields map[string]string

	// RedactKeys are field keys whose values are never written.
	RedactKeys []string
	// RedactPatterns mask any string value they match.
	RedactPatterns []string
}

// Sampling bounds the volume of repeated entries below error level. Within
// each tick the first Initial entries with the same message are kept, then
// every Thereafter-th.
type Sampling struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// NewDefaultConfig returns JSON logs on stdout at info with sampling and
// credential redaction on.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Stdout: true,
		Sampling: Sampling{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{"service": "ctxgraph"},
		RedactKeys: []string{
			"api_key", "authorization", "password", "secret", "token",
		},
		RedactPatterns: []string{
			`(?i)bearer\s+\S+`,
			`(?i)api[_-]?key[=:]\s*\S+`,
		},
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Stdout && !c.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout or otel)")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick <= 0 {
			return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
		}
		if c.Sampling.Initial < 1 || c.Sampling.Thereafter < 0 {
			return fmt.Errorf("sampling needs initial >= 1 and thereafter >= 0")
		}
	}
	for _, p := range c.RedactPatterns {
		if len(p) > maxPatternLen {
			return fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant field %q must have a non-empty key and value", k)
		}
	}
	return nil
}

// FromAppConfig builds a logger config from the daemon's logging section.
// otel turns on the OpenTelemetry output alongside the console.
func FromAppConfig(app config.LoggingConfig, otel bool) (*Config, error) {
	cfg := NewDefaultConfig()
	if app.Level != "" {
		level, err := zapcore.ParseLevel(app.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", app.Level, err)
		}
		cfg.Level = level
	}
	if app.Format != "" {
		cfg.Format = app.Format
	}
	cfg.OTEL = otel
	return cfg, cfg.Validate()
}
