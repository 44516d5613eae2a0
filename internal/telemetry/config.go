package telemetry

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fyrsmithlabs/ctxgraph/internal/config"
)

// Config selects the OTLP collector and export behavior.
type Config struct {
	Enabled        bool           `koanf:"enabled"`
	Endpoint       string         `koanf:"endpoint"`
	Protocol       string         `koanf:"protocol"` // "grpc" or "http/protobuf"
	ServiceName    string         `koanf:"service_name"`
	ServiceVersion string         `koanf:"service_version"`
	Insecure       bool           `koanf:"insecure"`
	TLSSkipVerify  bool           `koanf:"tls_skip_verify"`
	Sampling       SamplingConfig `koanf:"sampling"`
	Metrics        MetricsConfig  `koanf:"metrics"`
	Shutdown       ShutdownConfig `koanf:"shutdown"`
}

// SamplingConfig sets the head sampling ratio for root spans.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"`
}

type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	ExportInterval config.Duration `koanf:"export_interval"`
}

type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns local-development defaults. Telemetry is off
// until an OTLP collector is configured.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "ctxgraph",
		ServiceVersion: "0.1.0",
		Insecure:       true,
		Sampling:       SamplingConfig{Rate: 1.0},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
	}
}

// FromAppConfig derives telemetry settings from the application's
// observability section. version is reported as service.version.
func FromAppConfig(obs config.ObservabilityConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = obs.EnableTelemetry
	if obs.Endpoint != "" {
		cfg.Endpoint = obs.Endpoint
	}
	if obs.Protocol != "" {
		cfg.Protocol = obs.Protocol
	}
	if obs.ServiceName != "" {
		cfg.ServiceName = obs.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Insecure = obs.Insecure
	cfg.Sampling.Rate = obs.SamplingRate
	return cfg
}

// Validate reports the first problem with an enabled config. A disabled
// config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	checks := []struct {
		bad bool
		msg string
	}{
		{c.Endpoint == "", "endpoint is required when telemetry is enabled"},
		{c.ServiceName == "", "service_name is required when telemetry is enabled"},
		{c.ServiceVersion == "", "service_version is required when telemetry is enabled"},
		{c.Protocol != "" && c.Protocol != "grpc" && c.Protocol != protocolHTTP, fmt.Sprintf("unsupported protocol %q", c.Protocol)},
		{c.Insecure && !c.isLocalEndpoint(), "insecure connections to remote endpoints are not allowed; use TLS or a loopback endpoint"},
		{c.Sampling.Rate < 0 || c.Sampling.Rate > 1, fmt.Sprintf("sampling.rate must be within [0, 1], got %g", c.Sampling.Rate)},
		{c.Metrics.Enabled && c.Metrics.ExportInterval <= 0, "metrics.export_interval must be positive when metrics are enabled"},
		{c.Shutdown.Timeout <= 0, "shutdown.timeout must be positive"},
	}
	for _, check := range checks {
		if check.bad {
			return errors.New(check.msg)
		}
	}
	return nil
}

// isLocalEndpoint reports whether Endpoint resolves to a loopback host
// without a DNS lookup.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
