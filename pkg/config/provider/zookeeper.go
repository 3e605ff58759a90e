package provider

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZookeeperProvider loads config from a zookeeper znode.
type ZookeeperProvider struct {
	conn *zk.Conn
	path string
}

// NewZookeeperProvider creates a provider that reads from a znode.
func NewZookeeperProvider(endpoints []string, znode string) (*ZookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}

	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	return &ZookeeperProvider{
		conn: conn,
		path: znode,
	}, nil
}

// Type returns TypeZookeeper.
func (p *ZookeeperProvider) Type() Type {
	return TypeZookeeper
}

// Load reads the config znode. The zk client manages its own deadlines, so
// ctx is not consulted mid-read.
func (p *ZookeeperProvider) Load(ctx context.Context) ([]byte, error) {
	return p.get(p.path)
}

// LoadRef reads a znode relative to the parent of the config znode.
func (p *ZookeeperProvider) LoadRef(ctx context.Context, ref string) ([]byte, error) {
	return p.get(joinKey(path.Dir(p.path), ref))
}

func (p *ZookeeperProvider) get(znode string) ([]byte, error) {
	data, _, err := p.conn.Get(znode)
	if err != nil {
		return nil, fmt.Errorf("failed to read zookeeper path %s: %w", znode, err)
	}
	return data, nil
}

// Watch re-arms a GetW watch after each event.
func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go p.watchLoop(ctx, ch)

	slog.Info("Watching zookeeper path", "path", p.path)
	return ch, nil
}

func (p *ZookeeperProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	for {
		if ctx.Err() != nil {
			return
		}

		_, _, eventCh, err := p.conn.GetW(p.path)
		if err != nil {
			slog.Error("Zookeeper watch error", "path", p.path, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(watchRetryDelay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case event := <-eventCh:
			switch event.Type {
			case zk.EventNodeDataChanged:
				select {
				case ch <- struct{}{}:
				default:
				}
			case zk.EventNodeDeleted:
				slog.Warn("Zookeeper node was deleted", "path", p.path)
				return
			case zk.EventNotWatching:
				slog.Warn("Zookeeper watch lost", "path", p.path)
				return
			}
		}
	}
}

// Close shuts down the zookeeper connection.
func (p *ZookeeperProvider) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

var _ Provider = (*ZookeeperProvider)(nil)
