// Package dataset loads expert trajectory archives and serves sliced
// training windows. Episodes are padded to a common length with TCond-1
// leading zero rows so that windows can start at episode boundaries, and
// normalization statistics are computed from the raw rows before padding.
package dataset

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/reeceomahoney/locodiff/pkg/nn"
)

// Stats hold the per-dimension normalization statistics of an expert
// dataset. Obs covers observation rows, Out the obs-then-action rows the
// policy denoises.
type Stats struct {
	ObsMean []float64
	ObsStd  []float64
	ObsMin  []float64
	ObsMax  []float64

	OutMean []float64
	OutStd  []float64
	OutMin  []float64
	OutMax  []float64
}

// Batch is one collated training batch. Obs is [B, W, obsDim] and Action
// [B, W, actDim], where W is the slicing window TCond+T-1.
type Batch struct {
	Obs    *nn.Tensor
	Action *nn.Tensor
}

// Statistics are computed over at most this many rows.
const maxStatsRows = 1_000_000

// ExpertDataset stores padded episodes and their validity masks. Each
// episode is left-padded with TCond-1 zero rows (marked valid, so windows
// may condition on the padding at an episode start) and right-padded to the
// longest episode (marked invalid).
type ExpertDataset struct {
	obs     [][][]float64
	actions [][][]float64
	masks   [][]float64
	stats   Stats

	tCond  int
	obsDim int
	actDim int
}

// NewExpertDataset builds a padded dataset from raw episodes.
func NewExpertDataset(episodes []Episode, tCond int) (*ExpertDataset, error) {
	if len(episodes) == 0 {
		return nil, fmt.Errorf("no episodes in archive")
	}
	if tCond < 1 {
		return nil, fmt.Errorf("t_cond must be positive, got %d", tCond)
	}

	obsDim, actDim := episodes[0].ObsDim(), episodes[0].ActDim()
	maxLen := 0
	for i := range episodes {
		ep := &episodes[i]
		if err := ep.Validate(); err != nil {
			return nil, fmt.Errorf("invalid episode %d: %w", i, err)
		}
		if ep.ObsDim() != obsDim || ep.ActDim() != actDim {
			return nil, fmt.Errorf("episode %d has dims (%d, %d), expected (%d, %d)",
				i, ep.ObsDim(), ep.ActDim(), obsDim, actDim)
		}
		if ep.Len() > maxLen {
			maxLen = ep.Len()
		}
	}

	d := &ExpertDataset{
		obs:     make([][][]float64, len(episodes)),
		actions: make([][][]float64, len(episodes)),
		masks:   make([][]float64, len(episodes)),
		stats:   computeStats(episodes),
		tCond:   tCond,
		obsDim:  obsDim,
		actDim:  actDim,
	}

	// Left pad of tCond-1 zero rows plus right pad to the longest episode.
	padded := tCond - 1 + maxLen
	for i := range episodes {
		ep := &episodes[i]
		obs := make([][]float64, padded)
		act := make([][]float64, padded)
		mask := make([]float64, padded)
		for r := 0; r < padded; r++ {
			obs[r] = make([]float64, obsDim)
			act[r] = make([]float64, actDim)
			src := r - (tCond - 1)
			if src >= 0 && src < ep.Len() {
				copy(obs[r], ep.Obs[src])
				copy(act[r], ep.Actions[src])
			}
			// The left pad counts as valid so episode starts stay sliceable.
			if r < tCond-1+ep.Len() {
				mask[r] = 1
			}
		}
		d.obs[i] = obs
		d.actions[i] = act
		d.masks[i] = mask
	}

	slog.Info("Loaded expert data",
		"episodes", len(episodes), "max_len", maxLen, "obs_dim", obsDim, "act_dim", actDim)
	return d, nil
}

// NumEpisodes returns the number of episodes.
func (d *ExpertDataset) NumEpisodes() int { return len(d.obs) }

// ObsDim returns the observation width.
func (d *ExpertDataset) ObsDim() int { return d.obsDim }

// ActDim returns the action width.
func (d *ExpertDataset) ActDim() int { return d.actDim }

// Stats returns the normalization statistics.
func (d *ExpertDataset) Stats() Stats { return d.stats }

// validLen is the number of valid rows of episode i, left pad included.
func (d *ExpertDataset) validLen(i int) int {
	n := 0
	for _, m := range d.masks[i] {
		if m > 0 {
			n++
		}
	}
	return n
}

// Split partitions the episodes into train and test subsets. The shuffle is
// seeded so a given (dataset, seed) pair always yields the same split, and
// any rounding leftover joins the train side.
func (d *ExpertDataset) Split(trainFraction float64, seed int64) (train, test *Subset, err error) {
	if trainFraction <= 0 || trainFraction >= 1 {
		return nil, nil, fmt.Errorf("train_fraction must be in (0, 1), got %v", trainFraction)
	}

	n := d.NumEpisodes()
	perm := rand.New(rand.NewSource(seed)).Perm(n)

	nTrain := int(math.Floor(trainFraction * float64(n)))
	nTest := int(math.Floor((1 - trainFraction) * float64(n)))
	if rem := n - nTrain - nTest; rem > 0 {
		nTrain += rem
	}

	train = &Subset{d: d, indices: perm[:nTrain]}
	test = &Subset{d: d, indices: perm[nTrain:]}
	return train, test, nil
}

// Subset is a view over a fixed set of episode indices.
type Subset struct {
	d       *ExpertDataset
	indices []int
}

// NumEpisodes returns the number of episodes in the subset.
func (s *Subset) NumEpisodes() int { return len(s.indices) }

// Window addresses one training slice: rows [Start, End) of an episode.
type Window struct {
	Episode int
	Start   int
	End     int
}

// Windows enumerates every slice of length tCond+t-1 that fits inside the
// valid rows of the subset's episodes. Episodes shorter than the window
// contribute nothing.
func (s *Subset) Windows(t int) []Window {
	window := s.d.tCond + t - 1
	var ws []Window
	for _, idx := range s.indices {
		length := s.d.validLen(idx)
		for start := 0; start+window <= length; start++ {
			ws = append(ws, Window{Episode: idx, Start: start, End: start + window})
		}
	}
	return ws
}

// collate copies the addressed windows into a batch of [B, W, dim] tensors.
func (s *Subset) collate(ws []Window) *Batch {
	if len(ws) == 0 {
		return &Batch{}
	}
	w := ws[0].End - ws[0].Start
	obs := nn.New(len(ws), w, s.d.obsDim)
	act := nn.New(len(ws), w, s.d.actDim)
	for b, win := range ws {
		for r := 0; r < w; r++ {
			copy(obs.Data[(b*w+r)*s.d.obsDim:(b*w+r+1)*s.d.obsDim], s.d.obs[win.Episode][win.Start+r])
			copy(act.Data[(b*w+r)*s.d.actDim:(b*w+r+1)*s.d.actDim], s.d.actions[win.Episode][win.Start+r])
		}
	}
	return &Batch{Obs: obs, Action: act}
}

// computeStats reduces the raw (unpadded) rows. Observation stats feed the
// conditioning normalizer; output stats cover the obs-then-action rows the
// denoiser predicts. Standard deviations use the n-1 sample estimator.
func computeStats(episodes []Episode) Stats {
	obsDim, actDim := episodes[0].ObsDim(), episodes[0].ActDim()
	outDim := obsDim + actDim

	obsAcc := newStatsAccumulator(obsDim)
	outAcc := newStatsAccumulator(outDim)

	row := make([]float64, outDim)
	rows := 0
	for i := range episodes {
		ep := &episodes[i]
		for r := 0; r < ep.Len() && rows < maxStatsRows; r++ {
			copy(row[:obsDim], ep.Obs[r])
			copy(row[obsDim:], ep.Actions[r])
			obsAcc.add(row[:obsDim])
			outAcc.add(row)
			rows++
		}
	}

	return Stats{
		ObsMean: obsAcc.mean(), ObsStd: obsAcc.std(), ObsMin: obsAcc.min, ObsMax: obsAcc.max,
		OutMean: outAcc.mean(), OutStd: outAcc.std(), OutMin: outAcc.min, OutMax: outAcc.max,
	}
}

type statsAccumulator struct {
	n        int
	sum      []float64
	sumSq    []float64
	min, max []float64
}

func newStatsAccumulator(dim int) *statsAccumulator {
	a := &statsAccumulator{
		sum:   make([]float64, dim),
		sumSq: make([]float64, dim),
		min:   make([]float64, dim),
		max:   make([]float64, dim),
	}
	for j := range a.min {
		a.min[j] = math.Inf(1)
		a.max[j] = math.Inf(-1)
	}
	return a
}

func (a *statsAccumulator) add(row []float64) {
	a.n++
	for j, v := range row {
		a.sum[j] += v
		a.sumSq[j] += v * v
		if v < a.min[j] {
			a.min[j] = v
		}
		if v > a.max[j] {
			a.max[j] = v
		}
	}
}

func (a *statsAccumulator) mean() []float64 {
	m := make([]float64, len(a.sum))
	for j, s := range a.sum {
		m[j] = s / float64(a.n)
	}
	return m
}

func (a *statsAccumulator) std() []float64 {
	sd := make([]float64, len(a.sum))
	if a.n < 2 {
		return sd
	}
	for j := range sd {
		mean := a.sum[j] / float64(a.n)
		variance := (a.sumSq[j] - float64(a.n)*mean*mean) / float64(a.n-1)
		if variance < 0 {
			variance = 0
		}
		sd[j] = math.Sqrt(variance)
	}
	return sd
}
