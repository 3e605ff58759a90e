package nn

import (
	"fmt"
	"math"
)

// AdamW implements Adam with decoupled weight decay. Parameters flagged
// NoDecay (biases, norm gains, position tables) skip the decay term.
type AdamW struct {
	params []*Tensor
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	decay  float64

	step int
	m    [][]float64
	v    [][]float64
}

func NewAdamW(params []*Tensor, lr, beta1, beta2, decay float64) *AdamW {
	opt := &AdamW{
		params: params,
		lr:     lr,
		beta1:  beta1,
		beta2:  beta2,
		eps:    1e-8,
		decay:  decay,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		opt.m[i] = make([]float64, p.Size())
		opt.v[i] = make([]float64, p.Size())
	}
	return opt
}

// SetLR replaces the base learning rate, normally from a scheduler.
func (o *AdamW) SetLR(lr float64) { o.lr = lr }

func (o *AdamW) LR() float64 { return o.lr }

// Step applies one update from the accumulated gradients.
func (o *AdamW) Step() {
	o.step++
	c1 := 1 - math.Pow(o.beta1, float64(o.step))
	c2 := 1 - math.Pow(o.beta2, float64(o.step))
	for i, p := range o.params {
		decay := o.decay
		if p.noDecay {
			decay = 0
		}
		m, v := o.m[i], o.v[i]
		for j := range p.Data {
			g := p.Grad[j]
			m[j] = o.beta1*m[j] + (1-o.beta1)*g
			v[j] = o.beta2*v[j] + (1-o.beta2)*g*g
			mhat := m[j] / c1
			vhat := v[j] / c2
			p.Data[j] -= o.lr * (mhat/(math.Sqrt(vhat)+o.eps) + decay*p.Data[j])
		}
	}
}

// AdamWState is the optimizer's moment estimates and step count, exported
// for checkpointing.
type AdamWState struct {
	Step int
	M    [][]float64
	V    [][]float64
}

// StateDict snapshots the optimizer state.
func (o *AdamW) StateDict() AdamWState {
	s := AdamWState{Step: o.step, M: make([][]float64, len(o.m)), V: make([][]float64, len(o.v))}
	for i := range o.m {
		s.M[i] = append([]float64(nil), o.m[i]...)
		s.V[i] = append([]float64(nil), o.v[i]...)
	}
	return s
}

// LoadStateDict restores a snapshot taken with StateDict.
func (o *AdamW) LoadStateDict(s AdamWState) error {
	if len(s.M) != len(o.m) || len(s.V) != len(o.v) {
		return fmt.Errorf("nn: optimizer state has %d moment slices, want %d", len(s.M), len(o.m))
	}
	for i := range o.m {
		if len(s.M[i]) != len(o.m[i]) || len(s.V[i]) != len(o.v[i]) {
			return fmt.Errorf("nn: optimizer state slice %d size mismatch", i)
		}
		copy(o.m[i], s.M[i])
		copy(o.v[i], s.V[i])
	}
	o.step = s.Step
	return nil
}

// ClipGradNorm scales gradients so their global L2 norm is at most maxNorm
// and returns the pre-clip norm. A maxNorm <= 0 disables clipping.
func ClipGradNorm(params []*Tensor, maxNorm float64) float64 {
	total := 0.0
	for _, p := range params {
		for _, g := range p.Grad {
			total += g * g
		}
	}
	norm := math.Sqrt(total)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	scale := maxNorm / (norm + 1e-6)
	for _, p := range params {
		for j := range p.Grad {
			p.Grad[j] *= scale
		}
	}
	return norm
}

// CosineLR anneals the learning rate from base to min over horizon steps
// following half a cosine period, then holds at min.
type CosineLR struct {
	base, min float64
	horizon   int
}

func NewCosineLR(base, min float64, horizon int) *CosineLR {
	return &CosineLR{base: base, min: min, horizon: horizon}
}

// At reports the learning rate for the given step.
func (s *CosineLR) At(step int) float64 {
	if s.horizon <= 0 || step >= s.horizon {
		return s.min
	}
	frac := float64(step) / float64(s.horizon)
	return s.min + 0.5*(s.base-s.min)*(1+math.Cos(math.Pi*frac))
}
