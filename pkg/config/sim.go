package config

import (
	"fmt"
	"time"
)

// SimConfig configures the remote simulator bridge. Built-in tasks ignore it.
type SimConfig struct {
	// Endpoint is the base URL of an external simulator exposing the
	// reset/step HTTP API. Empty selects the built-in environment for the
	// task.
	Endpoint string `yaml:"endpoint,omitempty"`

	// RequestTimeout bounds each bridge request.
	// Default: 10s
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// MaxRetries is the retry budget for transient bridge failures.
	// Default: 2
	MaxRetries int `yaml:"max_retries,omitempty"`

	// CACert is a path to a PEM bundle for simulators behind a private CA.
	CACert string `yaml:"ca_cert,omitempty"`

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`
}

// SetDefaults applies default values.
func (c *SimConfig) SetDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
}

// Validate checks the sim configuration.
func (c *SimConfig) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}
