package provider

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/hashicorp/consul/api"
)

const (
	// consulWaitTime bounds each blocking query.
	consulWaitTime = 5 * time.Minute

	// watchRetryDelay spaces out retries after watch errors.
	watchRetryDelay = time.Second
)

// ConsulProvider loads config from the Consul KV store.
type ConsulProvider struct {
	kv  *api.KV
	key string
}

// NewConsulProvider creates a provider that reads from a Consul KV key.
func NewConsulProvider(endpoints []string, key string) (*ConsulProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("consul endpoints are required")
	}

	cfg := api.DefaultConfig()
	cfg.Address = endpoints[0]

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulProvider{
		kv:  client.KV(),
		key: key,
	}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the config key.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	return p.get(ctx, p.key)
}

// LoadRef reads a key relative to the parent of the config key.
func (p *ConsulProvider) LoadRef(ctx context.Context, ref string) ([]byte, error) {
	return p.get(ctx, joinKey(path.Dir(p.key), ref))
}

func (p *ConsulProvider) get(ctx context.Context, key string) ([]byte, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)

	pair, _, err := p.kv.Get(key, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", key)
	}

	return pair.Value, nil
}

// Watch polls the key with blocking queries and signals on index changes.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go p.watchLoop(ctx, ch)

	slog.Info("Watching consul key", "key", p.key)
	return ch, nil
}

func (p *ConsulProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	var lastIndex uint64
	for {
		opts := (&api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  consulWaitTime,
		}).WithContext(ctx)

		_, meta, err := p.kv.Get(p.key, opts)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("Consul watch error", "key", p.key, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(watchRetryDelay):
			}
			continue
		}
		if meta == nil {
			continue
		}

		// An index that went backwards means the view was reset.
		if meta.LastIndex < lastIndex {
			lastIndex = 0
			continue
		}

		if lastIndex != 0 && meta.LastIndex != lastIndex {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		lastIndex = meta.LastIndex
	}
}

// Close releases resources. The consul client holds no persistent connection.
func (p *ConsulProvider) Close() error {
	return nil
}

var _ Provider = (*ConsulProvider)(nil)
