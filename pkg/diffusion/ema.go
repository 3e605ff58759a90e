package diffusion

import (
	"fmt"
	"math"

	"github.com/reeceomahoney/locodiff/pkg/nn"
)

// EMA keeps an exponential moving average of model parameters. The shadow
// weights are swapped in for evaluation and checkpointing, then restored so
// training continues on the live weights.
type EMA struct {
	decay   float64
	updates int

	shadow [][]float64
	backup [][]float64
}

func NewEMA(params []*nn.Tensor, decay float64) *EMA {
	e := &EMA{decay: decay, shadow: make([][]float64, len(params))}
	for i, p := range params {
		e.shadow[i] = append([]float64(nil), p.Data...)
	}
	return e
}

// Update folds the current parameter values into the shadow copy. Early
// updates use a ramped decay so the average warms up quickly.
func (e *EMA) Update(params []*nn.Tensor) {
	e.updates++
	decay := math.Min(e.decay, (1+float64(e.updates))/(10+float64(e.updates)))
	for i, p := range params {
		s := e.shadow[i]
		for j, v := range p.Data {
			s[j] = decay*s[j] + (1-decay)*v
		}
	}
}

// Store snapshots the live parameters so CopyTo can be undone with Restore.
func (e *EMA) Store(params []*nn.Tensor) {
	e.backup = make([][]float64, len(params))
	for i, p := range params {
		e.backup[i] = append([]float64(nil), p.Data...)
	}
}

// CopyTo writes the shadow weights into the parameters.
func (e *EMA) CopyTo(params []*nn.Tensor) {
	for i, p := range params {
		copy(p.Data, e.shadow[i])
	}
}

// Restore writes the snapshot taken by Store back into the parameters.
func (e *EMA) Restore(params []*nn.Tensor) {
	for i, p := range params {
		copy(p.Data, e.backup[i])
	}
	e.backup = nil
}

// StateDict exposes the shadow weights and update count for checkpointing.
func (e *EMA) StateDict() ([][]float64, int) {
	out := make([][]float64, len(e.shadow))
	for i, s := range e.shadow {
		out[i] = append([]float64(nil), s...)
	}
	return out, e.updates
}

// LoadStateDict restores a checkpointed shadow copy.
func (e *EMA) LoadStateDict(shadow [][]float64, updates int) error {
	if len(shadow) != len(e.shadow) {
		return fmt.Errorf("diffusion: ema parameter count mismatch: have %d, want %d",
			len(shadow), len(e.shadow))
	}
	for i, s := range shadow {
		if len(s) != len(e.shadow[i]) {
			return fmt.Errorf("diffusion: ema parameter %d size mismatch", i)
		}
		copy(e.shadow[i], s)
	}
	e.updates = updates
	return nil
}
