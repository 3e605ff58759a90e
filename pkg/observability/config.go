package observability

import (
	"fmt"
	"time"
)

// Config configures the observability system.
type Config struct {
	// Tracing configures OpenTelemetry distributed tracing.
	Tracing TracingConfig `yaml:"tracing,omitempty"`

	// Metrics configures Prometheus metrics collection.
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on distributed tracing.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter specifies the trace exporter type.
	// Values: "otlp" (default), "stdout"
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the OTLP collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint,omitempty"`

	// SamplingRate controls what fraction of traces are sampled.
	// Range: 0.0 (none) to 1.0 (all)
	// Default: 1.0
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`

	// ServiceName identifies this service in traces.
	// Default: "locodiff"
	ServiceName string `yaml:"service_name,omitempty"`

	// ServiceVersion is the version of this service.
	ServiceVersion string `yaml:"service_version,omitempty"`

	// Insecure disables TLS for the exporter connection.
	// Default: true (for local collectors)
	Insecure *bool `yaml:"insecure,omitempty"`

	// Timeout for exporter operations.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns on metrics collection.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// Endpoint is the path the status server exposes metrics on.
	// Default: "/metrics"
	Endpoint string `yaml:"endpoint,omitempty"`

	// Namespace prefixes all metric names.
	// Default: "locodiff"
	Namespace string `yaml:"namespace,omitempty"`
}

// SetDefaults applies default values to Config.
func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks the Config for errors.
func (c *Config) Validate() error {
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// SetDefaults applies default values to TracingConfig.
func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = DefaultSamplingRate
	}
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultOTLPEndpoint
	}
	if c.Insecure == nil {
		insecure := true
		c.Insecure = &insecure
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate checks TracingConfig for errors.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when tracing is enabled")
	}

	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}

	if c.Exporter != "otlp" && c.Exporter != "stdout" {
		return fmt.Errorf("invalid exporter %q (valid: otlp, stdout)", c.Exporter)
	}

	return nil
}

// IsInsecure returns whether to use an insecure exporter connection.
func (c *TracingConfig) IsInsecure() bool {
	if c.Insecure == nil {
		return true
	}
	return *c.Insecure
}

// SetDefaults applies default values to MetricsConfig.
func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultMetricsPath
	}
	if c.Namespace == "" {
		c.Namespace = DefaultServiceName
	}
}

// Validate checks MetricsConfig for errors.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when metrics are enabled")
	}

	return nil
}
