// Package provider defines the config source abstraction.
//
// Providers load experiment configuration from various sources (file, consul,
// etcd, zookeeper) and support watching for changes. LoadRef resolves preset
// references from the defaults list against the same source.
package provider

import (
	"context"
	"fmt"
	"path"
)

// Type identifies the config source type.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "file", "":
		return TypeFile, nil
	case "consul":
		return TypeConsul, nil
	case "etcd":
		return TypeEtcd, nil
	case "zookeeper", "zk":
		return TypeZookeeper, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// Provider abstracts config sources.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Type returns the provider type for logging/debugging.
	Type() Type

	// Load reads raw config bytes from the source.
	Load(ctx context.Context) ([]byte, error)

	// LoadRef reads a sibling document relative to the main config location.
	// The defaults list uses refs like "model/unet.yaml".
	LoadRef(ctx context.Context, ref string) ([]byte, error)

	// Watch starts watching for changes and signals via the returned channel.
	// The channel receives a value when config changes.
	// Cancel the context to stop watching.
	// Returns nil channel if watching is not supported.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ProviderConfig configures provider creation.
type ProviderConfig struct {
	// Type specifies the provider type (file, consul, etcd, zookeeper).
	Type Type

	// Path is the config path (file path or key path).
	Path string

	// Endpoints for remote providers (consul, etcd, zookeeper).
	Endpoints []string
}

// New creates a Provider based on ProviderConfig.
func New(opts ProviderConfig) (Provider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	if len(opts.Endpoints) == 0 {
		switch opts.Type {
		case TypeConsul:
			opts.Endpoints = []string{"localhost:8500"}
		case TypeEtcd:
			opts.Endpoints = []string{"localhost:2379"}
		case TypeZookeeper:
			opts.Endpoints = []string{"localhost:2181"}
		}
	}

	switch opts.Type {
	case TypeFile, "":
		return NewFileProvider(opts.Path)
	case TypeConsul:
		return NewConsulProvider(opts.Endpoints, opts.Path)
	case TypeEtcd:
		return NewEtcdProvider(opts.Endpoints, opts.Path)
	case TypeZookeeper:
		return NewZookeeperProvider(opts.Endpoints, opts.Path)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", opts.Type)
	}
}

// joinKey resolves ref against the parent of a slash-separated key path.
func joinKey(dir, ref string) string {
	if dir == "" || dir == "." {
		return ref
	}
	return path.Join(dir, ref)
}
