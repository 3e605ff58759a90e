package provider

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdProvider loads config from an etcd cluster.
type EtcdProvider struct {
	client *clientv3.Client
	key    string
}

// NewEtcdProvider creates a provider that reads from an etcd key.
func NewEtcdProvider(endpoints []string, key string) (*EtcdProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &EtcdProvider{
		client: client,
		key:    key,
	}, nil
}

// Type returns TypeEtcd.
func (p *EtcdProvider) Type() Type {
	return TypeEtcd
}

// Load reads the config key.
func (p *EtcdProvider) Load(ctx context.Context) ([]byte, error) {
	return p.get(ctx, p.key)
}

// LoadRef reads a key relative to the parent of the config key.
func (p *EtcdProvider) LoadRef(ctx context.Context, ref string) ([]byte, error) {
	return p.get(ctx, joinKey(path.Dir(p.key), ref))
}

func (p *EtcdProvider) get(ctx context.Context, key string) ([]byte, error) {
	resp, err := p.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", key)
	}
	return resp.Kvs[0].Value, nil
}

// Watch uses the native etcd watch stream.
func (p *EtcdProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	wch := p.client.Watch(ctx, p.key)

	go func() {
		defer close(ch)
		for resp := range wch {
			if err := resp.Err(); err != nil {
				slog.Error("Etcd watch error", "key", p.key, "error", err)
				return
			}
			if len(resp.Events) == 0 {
				continue
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()

	slog.Info("Watching etcd key", "key", p.key)
	return ch, nil
}

// Close shuts down the etcd client.
func (p *EtcdProvider) Close() error {
	return p.client.Close()
}

var _ Provider = (*EtcdProvider)(nil)
