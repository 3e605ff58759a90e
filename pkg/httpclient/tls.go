package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"
)

// TLSConfig holds TLS options for bridge connections.
type TLSConfig struct {
	InsecureSkipVerify bool   // Skip certificate verification (dev/test only)
	CACertificate      []byte // PEM-encoded custom CA certificate
}

// ConfigureTLS creates an http.Transport with the given TLS configuration.
func ConfigureTLS(config *TLSConfig) (*http.Transport, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{},
	}

	if config != nil && len(config.CACertificate) > 0 {
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(config.CACertificate) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		transport.TLSClientConfig.RootCAs = caCertPool
	}

	if config != nil && config.InsecureSkipVerify {
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	return transport, nil
}

// WithTLSConfig configures the client's transport for TLS.
func WithTLSConfig(config *TLSConfig) (Option, error) {
	transport, err := ConfigureTLS(config)
	if err != nil {
		return nil, err
	}

	return func(c *Client) {
		if c.client != nil {
			c.client.Transport = transport
		} else {
			c.client = &http.Client{
				Transport: transport,
				Timeout:   60 * time.Second,
			}
		}
	}, nil
}
