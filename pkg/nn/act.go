package nn

import "math"

// Activation is an elementwise nonlinearity with an explicit backward pass.
type Activation struct {
	baseModule

	fn    func(float64) float64
	deriv func(float64) float64

	x *Tensor
}

// NewSiLU returns the sigmoid-weighted linear unit x·σ(x).
func NewSiLU() *Activation {
	return &Activation{
		fn: func(x float64) float64 { return x * sigmoid(x) },
		deriv: func(x float64) float64 {
			s := sigmoid(x)
			return s * (1 + x*(1-s))
		},
	}
}

// NewMish returns x·tanh(softplus(x)).
func NewMish() *Activation {
	return &Activation{
		fn: func(x float64) float64 { return x * math.Tanh(softplus(x)) },
		deriv: func(x float64) float64 {
			t := math.Tanh(softplus(x))
			return t + x*(1-t*t)*sigmoid(x)
		},
	}
}

// NewGELU returns the tanh approximation of the Gaussian error linear unit.
func NewGELU() *Activation {
	const c = 0.7978845608028654 // sqrt(2/pi)
	return &Activation{
		fn: func(x float64) float64 {
			return 0.5 * x * (1 + math.Tanh(c*(x+0.044715*x*x*x)))
		},
		deriv: func(x float64) float64 {
			u := c * (x + 0.044715*x*x*x)
			t := math.Tanh(u)
			du := c * (1 + 3*0.044715*x*x)
			return 0.5*(1+t) + 0.5*x*(1-t*t)*du
		},
	}
}

func (a *Activation) Params() []*Tensor { return nil }

func (a *Activation) Forward(x *Tensor) *Tensor {
	a.x = x
	y := New(x.Shape()...)
	for i, v := range x.Data {
		y.Data[i] = a.fn(v)
	}
	return y
}

func (a *Activation) Backward(gradY *Tensor) *Tensor {
	dx := New(a.x.Shape()...)
	for i, v := range a.x.Data {
		dx.Data[i] = gradY.Data[i] * a.deriv(v)
	}
	return dx
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func softplus(x float64) float64 {
	// Stable form: max(x, 0) + log1p(exp(-|x|)).
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}
