package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/reeceomahoney/locodiff/pkg/config/provider"
)

// Loader loads and watches experiment configuration from a Provider.
type Loader struct {
	provider provider.Provider
	onChange func(*Config)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange sets a callback invoked when config changes.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) {
		l.onChange = fn
	}
}

// NewLoader creates a Loader with the given provider.
func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{
		provider: p,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads, composes, and processes the configuration.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	// 1. Read raw bytes from provider
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Parse YAML/JSON into map
	rawMap, err := parseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// 3. Merge the defaults list presets
	composed, err := composeDefaults(ctx, rawMap, l.provider)
	if err != nil {
		return nil, fmt.Errorf("failed to compose config: %w", err)
	}

	// 4. Expand environment variables
	expanded, ok := ExpandEnvVarsInData(composed).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected type after env var expansion")
	}

	// 5. Resolve ${...} references and ${now:...} templates
	resolved, err := interpolate(expanded, time.Now())
	if err != nil {
		return nil, err
	}

	// 6. Decode into Config struct
	cfg := &Config{}
	if err := decodeConfig(resolved, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// 7. Apply defaults
	cfg.SetDefaults()

	// 8. Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Watch starts watching for config changes.
// When changes are detected, the config is reloaded and onChange is called.
// Blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}

	if changes == nil {
		slog.Info("Config watching not supported by provider", "type", l.provider.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	slog.Info("Started watching for config changes", "type", l.provider.Type())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil // Channel closed
			}

			cfg, err := l.Load(ctx)
			if err != nil {
				slog.Error("Failed to reload config", "error", err)
				continue
			}

			slog.Info("Configuration reloaded successfully")
			if l.onChange != nil {
				l.onChange(cfg)
			}
		}
	}
}

// Close releases resources held by the loader.
func (l *Loader) Close() error {
	return l.provider.Close()
}

// Provider returns the underlying provider.
func (l *Loader) Provider() provider.Provider {
	return l.provider
}

// parseBytes parses raw bytes into a map.
// Supports YAML (primary) and JSON (fallback).
func parseBytes(data []byte) (map[string]any, error) {
	var result map[string]any

	// Try YAML first (YAML is a superset of JSON)
	if err := yaml.Unmarshal(data, &result); err == nil {
		return result, nil
	}

	// Fallback to JSON
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse as YAML or JSON: %w", err)
	}

	return result, nil
}

// decodeConfig decodes a map into a Config struct using mapstructure.
func decodeConfig(input map[string]any, output *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}

	return nil
}

// LoadConfig is a convenience function that creates a provider and loads config.
func LoadConfig(ctx context.Context, opts provider.ProviderConfig) (*Config, *Loader, error) {
	p, err := provider.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	loader := NewLoader(p)
	cfg, err := loader.Load(ctx)
	if err != nil {
		p.Close()
		return nil, nil, err
	}

	return cfg, loader, nil
}

// LoadConfigFile is a convenience function for loading from a file.
func LoadConfigFile(ctx context.Context, path string) (*Config, *Loader, error) {
	return LoadConfig(ctx, provider.ProviderConfig{
		Type: provider.TypeFile,
		Path: path,
	})
}
