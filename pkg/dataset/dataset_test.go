package dataset

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rowTagged builds an episode whose first observation column encodes
// 100*id + step, so window identity survives collation.
func rowTagged(id, steps, obsDim, actDim int) Episode {
	ep := Episode{
		Obs:     make([][]float64, steps),
		Actions: make([][]float64, steps),
	}
	for i := 0; i < steps; i++ {
		ep.Obs[i] = make([]float64, obsDim)
		ep.Actions[i] = make([]float64, actDim)
		ep.Obs[i][0] = float64(100*id + i)
		ep.Actions[i][0] = float64(-(100*id + i))
	}
	return ep
}

func TestNewExpertDatasetPadding(t *testing.T) {
	eps := []Episode{rowTagged(0, 3, 2, 1), rowTagged(1, 5, 2, 1)}
	ds, err := NewExpertDataset(eps, 3)
	require.NoError(t, err)

	// Padded length is tCond-1 + longest episode.
	require.Len(t, ds.obs[0], 7)
	require.Len(t, ds.masks[1], 7)

	// Left pad rows are zero but valid; right pad rows are invalid.
	assert.Equal(t, 0.0, ds.obs[0][0][0])
	assert.Equal(t, 0.0, ds.obs[0][1][0])
	assert.Equal(t, 0.0, eps[0].Obs[0][0]-ds.obs[0][2][0])
	assert.Equal(t, 1.0, ds.masks[0][0])
	assert.Equal(t, 1.0, ds.masks[0][4])
	assert.Equal(t, 0.0, ds.masks[0][5])

	assert.Equal(t, 5, ds.validLen(0))
	assert.Equal(t, 7, ds.validLen(1))
	assert.Equal(t, 2, ds.ObsDim())
	assert.Equal(t, 1, ds.ActDim())
}

func TestNewExpertDatasetErrors(t *testing.T) {
	t.Run("no episodes", func(t *testing.T) {
		_, err := NewExpertDataset(nil, 2)
		assert.Error(t, err)
	})

	t.Run("dim mismatch", func(t *testing.T) {
		eps := []Episode{rowTagged(0, 3, 2, 1), rowTagged(1, 3, 4, 1)}
		_, err := NewExpertDataset(eps, 2)
		assert.Error(t, err)
	})

	t.Run("bad t_cond", func(t *testing.T) {
		_, err := NewExpertDataset([]Episode{rowTagged(0, 3, 2, 1)}, 0)
		assert.Error(t, err)
	})
}

func TestStatsComputedBeforePadding(t *testing.T) {
	ep := Episode{
		Obs:     [][]float64{{1}, {3}},
		Actions: [][]float64{{2}, {4}},
	}
	ds, err := NewExpertDataset([]Episode{ep}, 4)
	require.NoError(t, err)

	stats := ds.Stats()
	assert.InDelta(t, 2.0, stats.ObsMean[0], 1e-12)
	assert.InDelta(t, math.Sqrt(2), stats.ObsStd[0], 1e-12)
	assert.Equal(t, 1.0, stats.ObsMin[0])
	assert.Equal(t, 3.0, stats.ObsMax[0])

	// Output stats cover obs then action columns.
	require.Len(t, stats.OutMean, 2)
	assert.InDelta(t, 2.0, stats.OutMean[0], 1e-12)
	assert.InDelta(t, 3.0, stats.OutMean[1], 1e-12)
	assert.Equal(t, 2.0, stats.OutMin[1])
	assert.Equal(t, 4.0, stats.OutMax[1])
}

func TestSplit(t *testing.T) {
	eps := make([]Episode, 10)
	for i := range eps {
		eps[i] = rowTagged(i, 4, 2, 1)
	}
	ds, err := NewExpertDataset(eps, 2)
	require.NoError(t, err)

	train, test, err := ds.Split(0.8, 7)
	require.NoError(t, err)
	assert.Equal(t, 8, train.NumEpisodes())
	assert.Equal(t, 2, test.NumEpisodes())

	// Same seed, same partition.
	train2, _, err := ds.Split(0.8, 7)
	require.NoError(t, err)
	assert.Equal(t, train.indices, train2.indices)

	// Together the subsets cover every episode exactly once.
	seen := make(map[int]bool)
	for _, idx := range append(append([]int{}, train.indices...), test.indices...) {
		assert.False(t, seen[idx])
		seen[idx] = true
	}
	assert.Len(t, seen, 10)

	t.Run("rounding leftover joins train", func(t *testing.T) {
		small, err := NewExpertDataset(eps[:3], 2)
		require.NoError(t, err)
		tr, te, err := small.Split(0.5, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, tr.NumEpisodes())
		assert.Equal(t, 1, te.NumEpisodes())
	})

	t.Run("bad fraction", func(t *testing.T) {
		_, _, err := ds.Split(1.0, 1)
		assert.Error(t, err)
	})
}

func TestWindows(t *testing.T) {
	// tCond=2, t=3 makes the window 4 rows. An episode of 5 raw steps has
	// 6 valid rows and therefore 3 windows; one of 2 raw steps has none.
	eps := []Episode{rowTagged(0, 5, 2, 1), rowTagged(1, 2, 2, 1)}
	ds, err := NewExpertDataset(eps, 2)
	require.NoError(t, err)

	all := &Subset{d: ds, indices: []int{0, 1}}
	ws := all.Windows(3)
	require.Len(t, ws, 3)
	for i, w := range ws {
		assert.Equal(t, 0, w.Episode)
		assert.Equal(t, i, w.Start)
		assert.Equal(t, i+4, w.End)
	}
}

func TestCollate(t *testing.T) {
	eps := []Episode{rowTagged(0, 5, 2, 1)}
	ds, err := NewExpertDataset(eps, 2)
	require.NoError(t, err)

	sub := &Subset{d: ds, indices: []int{0}}
	batch := sub.collate([]Window{{0, 0, 4}, {0, 2, 6}})

	assert.Equal(t, []int{2, 4, 2}, batch.Obs.Shape())
	assert.Equal(t, []int{2, 4, 1}, batch.Action.Shape())

	// First window starts in the left pad: row 0 is zero, row 1 is step 0.
	assert.Equal(t, 0.0, batch.Obs.At(0, 0, 0))
	assert.Equal(t, 0.0, batch.Obs.At(0, 1, 0))
	assert.Equal(t, 1.0, batch.Obs.At(0, 2, 0))
	// Second window maps padded row 2 to raw step 1.
	assert.Equal(t, 1.0, batch.Obs.At(1, 0, 0))
	assert.Equal(t, 4.0, batch.Obs.At(1, 3, 0))
	assert.Equal(t, -4.0, batch.Action.At(1, 3, 0))
}

func TestDataLoaderSequential(t *testing.T) {
	eps := []Episode{rowTagged(0, 5, 2, 1), rowTagged(1, 6, 2, 1)}
	ds, err := NewExpertDataset(eps, 2)
	require.NoError(t, err)
	sub := &Subset{d: ds, indices: []int{0, 1}}

	// W=4: episode 0 has 3 windows, episode 1 has 4.
	loader, err := NewDataLoader(sub, 3, 2, 0, 11)
	require.NoError(t, err)
	assert.Equal(t, 7, loader.NumWindows())
	assert.Equal(t, 4, loader.Len())

	ctx := context.Background()
	countWindows := func() map[float64]int {
		seen := make(map[float64]int)
		for i := 0; i < loader.Len(); i++ {
			b, err := loader.Next(ctx)
			require.NoError(t, err)
			shape := b.Obs.Shape()
			for r := 0; r < shape[0]; r++ {
				// The last window row is always a real step and identifies
				// the (episode, start) pair.
				seen[b.Obs.At(r, shape[1]-1, 0)]++
			}
		}
		return seen
	}

	// Each epoch covers every window exactly once.
	for epoch := 0; epoch < 2; epoch++ {
		seen := countWindows()
		assert.Len(t, seen, 7)
		for id, n := range seen {
			assert.Equal(t, 1, n, "window %v seen %d times", id, n)
		}
	}
}

func TestDataLoaderPrefetch(t *testing.T) {
	eps := []Episode{rowTagged(0, 8, 3, 2)}
	ds, err := NewExpertDataset(eps, 2)
	require.NoError(t, err)
	sub := &Subset{d: ds, indices: []int{0}}

	loader, err := NewDataLoader(sub, 4, 3, 2, 5)
	require.NoError(t, err)

	ctx := context.Background()
	total := 0
	for i := 0; i < 2*loader.Len(); i++ {
		b, err := loader.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, b.Obs)
		assert.Equal(t, 5, b.Obs.Shape()[1])
		total += b.Obs.Shape()[0]
	}
	assert.Equal(t, 2*loader.NumWindows(), total)

	require.NoError(t, loader.Close())
}

func TestDataLoaderErrors(t *testing.T) {
	eps := []Episode{rowTagged(0, 2, 2, 1)}
	ds, err := NewExpertDataset(eps, 2)
	require.NoError(t, err)
	sub := &Subset{d: ds, indices: []int{0}}

	t.Run("no windows", func(t *testing.T) {
		_, err := NewDataLoader(sub, 8, 2, 0, 1)
		assert.Error(t, err)
	})

	t.Run("bad batch size", func(t *testing.T) {
		_, err := NewDataLoader(sub, 1, 0, 0, 1)
		assert.Error(t, err)
	})

	t.Run("canceled context", func(t *testing.T) {
		loader, err := NewDataLoader(sub, 1, 2, 0, 1)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = loader.Next(ctx)
		assert.Error(t, err)
	})
}
