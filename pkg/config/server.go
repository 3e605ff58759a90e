package config

import "fmt"

// ServerConfig configures the optional status server that exposes health,
// metrics, and the run registry during training.
type ServerConfig struct {
	// Enabled starts the status server alongside training.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// Host to bind to.
	Host string `yaml:"host,omitempty"`

	// Port to listen on.
	Port int `yaml:"port,omitempty"`

	// Auth configures JWT-based authentication.
	Auth *AuthConfig `yaml:"auth,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}

	if c.Auth != nil {
		c.Auth.SetDefaults()
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.Auth != nil {
		if err := c.Auth.Validate(); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	return nil
}

// Address returns the HTTP server address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
