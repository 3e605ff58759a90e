// Package envs provides the vectorized simulation environments the training
// runner rolls policies out in. Built-in tasks (cartpole, reacher) run
// in-process; anything heavier bridges to an external simulator over HTTP.
//
// All environments auto-reset: when an instance finishes its episode, Step
// reports done=true and the returned observation is already the first
// observation of the next episode.
package envs

import "context"

// StepResult is one vectorized transition.
type StepResult struct {
	// Obs holds the next observation per environment instance. For
	// instances that finished this step it is the reset observation.
	Obs [][]float64

	// Rewards holds the per-instance step reward.
	Rewards []float64

	// Dones marks instances whose episode ended this step.
	Dones []bool
}

// VecEnv is a batch of simulated environment instances driven in lockstep.
// Implementations are not safe for concurrent use.
type VecEnv interface {
	// Reset restarts every instance and returns the initial observations,
	// shaped [NumEnvs][ObsDim].
	Reset(ctx context.Context) ([][]float64, error)

	// Step advances every instance by one control step. actions is shaped
	// [NumEnvs][ActDim].
	Step(ctx context.Context, actions [][]float64) (*StepResult, error)

	// Observations returns the current observations without advancing.
	Observations() [][]float64

	ObsDim() int
	ActDim() int
	NumEnvs() int

	Close() error
}

func cloneBatch(src [][]float64) [][]float64 {
	out := make([][]float64, len(src))
	for i, row := range src {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}
	return out
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
