package nn

import (
	"fmt"
	"math/rand"
)

// Module is the common surface of every layer: parameters for the
// optimizer and a train/eval switch for dropout-style layers.
type Module interface {
	Params() []*Tensor
	SetTraining(training bool)
}

// baseModule provides the no-op SetTraining shared by stateless layers.
type baseModule struct{}

func (baseModule) SetTraining(bool) {}

// Param creates a named parameter tensor initialized from N(0, std²).
func Param(rng *rand.Rand, name string, std float64, shape ...int) *Tensor {
	t := NewRandn(rng, std, shape...)
	t.name = name
	return t
}

// ZeroParam creates a named parameter tensor initialized to zero.
// Used for biases and FiLM projections that should start as identity.
func ZeroParam(name string, shape ...int) *Tensor {
	t := New(shape...)
	t.name = name
	return t
}

// OnesParam creates a named parameter tensor initialized to one (norm gains).
func OnesParam(name string, shape ...int) *Tensor {
	t := New(shape...)
	t.name = name
	t.Fill(1)
	return t
}

// NoDecay marks a parameter as excluded from weight decay and returns it.
func NoDecay(t *Tensor) *Tensor {
	t.noDecay = true
	return t
}

// StateDict collects parameter data keyed by name. Every parameter must be
// named and names must be unique.
func StateDict(params []*Tensor) (map[string][]float64, error) {
	state := make(map[string][]float64, len(params))
	for _, p := range params {
		if p.name == "" {
			return nil, fmt.Errorf("nn: unnamed parameter in state dict")
		}
		if _, ok := state[p.name]; ok {
			return nil, fmt.Errorf("nn: duplicate parameter name %q", p.name)
		}
		state[p.name] = append([]float64(nil), p.Data...)
	}
	return state, nil
}

// LoadStateDict copies saved values back into the matching parameters.
// Every parameter must be present in the state with a matching size.
func LoadStateDict(params []*Tensor, state map[string][]float64) error {
	for _, p := range params {
		data, ok := state[p.name]
		if !ok {
			return fmt.Errorf("nn: state dict missing parameter %q", p.name)
		}
		if len(data) != len(p.Data) {
			return fmt.Errorf("nn: parameter %q size mismatch: have %d, want %d",
				p.name, len(data), len(p.Data))
		}
		copy(p.Data, data)
	}
	return nil
}

// ZeroGrads clears the gradients of all parameters.
func ZeroGrads(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
