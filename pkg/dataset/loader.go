package dataset

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// DataLoader serves shuffled window batches from a subset, reshuffling at
// every epoch boundary and wrapping around indefinitely. With NumWorkers
// greater than zero, batches are collated by a pool of prefetch goroutines
// and their delivery order is not deterministic.
type DataLoader struct {
	subset    *Subset
	windows   []Window
	batchSize int

	// synchronous path
	rng  *rand.Rand
	perm []int
	pos  int

	// prefetch path
	out    chan *Batch
	cancel context.CancelFunc
	g      *errgroup.Group
}

// NewDataLoader builds a loader over all windows of length tCond+t-1 in the
// subset. It fails when no episode is long enough to yield a window.
func NewDataLoader(s *Subset, t, batchSize, numWorkers int, seed int64) (*DataLoader, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	windows := s.Windows(t)
	if len(windows) == 0 {
		return nil, fmt.Errorf("no windows of length %d in %d episodes", s.d.tCond+t-1, s.NumEpisodes())
	}

	l := &DataLoader{subset: s, windows: windows, batchSize: batchSize}
	if numWorkers <= 0 {
		l.rng = rand.New(rand.NewSource(seed))
		return l, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	l.g = g
	l.out = make(chan *Batch, numWorkers)

	assign := make(chan []Window)
	g.Go(func() error {
		rng := rand.New(rand.NewSource(seed))
		for {
			perm := rng.Perm(len(windows))
			for start := 0; start < len(perm); start += batchSize {
				end := start + batchSize
				if end > len(perm) {
					end = len(perm)
				}
				ws := make([]Window, end-start)
				for i, p := range perm[start:end] {
					ws[i] = windows[p]
				}
				select {
				case assign <- ws:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})
	for i := 0; i < numWorkers; i++ {
		g.Go(func() error {
			for {
				select {
				case ws := <-assign:
					select {
					case l.out <- s.collate(ws):
					case <-gctx.Done():
						return nil
					}
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	return l, nil
}

// Len returns the number of batches in one epoch.
func (l *DataLoader) Len() int {
	return (len(l.windows) + l.batchSize - 1) / l.batchSize
}

// NumWindows returns the total number of windows.
func (l *DataLoader) NumWindows() int { return len(l.windows) }

// Next returns the next batch, blocking until one is ready or the context
// is canceled.
func (l *DataLoader) Next(ctx context.Context) (*Batch, error) {
	if l.out != nil {
		select {
		case b := <-l.out:
			return b, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.pos >= len(l.windows) {
		l.pos = 0
	}
	if l.pos == 0 {
		l.perm = l.rng.Perm(len(l.windows))
	}
	end := l.pos + l.batchSize
	if end > len(l.windows) {
		end = len(l.windows)
	}
	ws := make([]Window, end-l.pos)
	for i, p := range l.perm[l.pos:end] {
		ws[i] = l.windows[p]
	}
	l.pos = end
	return l.subset.collate(ws), nil
}

// Close stops the prefetch goroutines, if any.
func (l *DataLoader) Close() error {
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	return l.g.Wait()
}
