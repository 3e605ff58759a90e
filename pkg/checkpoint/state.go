// Package checkpoint persists and restores training state.
//
// A checkpoint is one gob-encoded State file under a run directory's
// checkpoints/ subdirectory: model weights, optimizer moments, EMA shadow,
// normalizer statistics, and the resolved config document the run was
// launched with. Files rotate per Config.KeepLast; Latest/LatestRun resolve
// resume and play targets by scanning run directories.
package checkpoint

import (
	"time"

	"github.com/reeceomahoney/locodiff/pkg/nn"
)

// EMAState snapshots an EMA helper: the shadow copy of every parameter
// tensor plus the update counter driving decay warmup.
type EMAState struct {
	Shadow  [][]float64
	Updates int
}

// NormState snapshots normalizer statistics. It mirrors the dataset's stats
// shape without importing it so this package stays free of config-coupled
// dependencies.
type NormState struct {
	ObsMean []float64
	ObsStd  []float64
	ObsMin  []float64
	ObsMax  []float64

	OutMean []float64
	OutStd  []float64
	OutMin  []float64
	OutMax  []float64
}

// State is everything needed to resume a training run.
type State struct {
	// Iter is the iteration the state was captured after.
	Iter int

	// ModelState maps parameter names to flattened weights.
	ModelState map[string][]float64

	// OptimizerState carries the AdamW step counter and moment estimates.
	OptimizerState nn.AdamWState

	// EMAState carries the EMA shadow weights. Nil-shadowed when the run
	// trains without EMA.
	EMAState EMAState

	// NormState carries the dataset normalization statistics so a restored
	// policy scales inputs exactly as the original run did.
	NormState NormState

	// ConfigYAML is the resolved config document of the run.
	ConfigYAML []byte

	// SavedAt is the wall-clock save time.
	SavedAt time.Time
}
