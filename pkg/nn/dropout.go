package nn

import "math/rand"

// Dropout zeroes elements with probability p during training, scaling the
// survivors by 1/(1-p). It is the identity in eval mode.
type Dropout struct {
	p        float64
	rng      *rand.Rand
	training bool

	mask []float64
}

func NewDropout(rng *rand.Rand, p float64) *Dropout {
	return &Dropout{p: p, rng: rng}
}

func (d *Dropout) Params() []*Tensor        { return nil }
func (d *Dropout) SetTraining(training bool) { d.training = training }

func (d *Dropout) Forward(x *Tensor) *Tensor {
	if !d.training || d.p == 0 {
		d.mask = nil
		return x
	}
	scale := 1 / (1 - d.p)
	d.mask = make([]float64, x.Size())
	y := New(x.Shape()...)
	for i, v := range x.Data {
		if d.rng.Float64() < d.p {
			continue
		}
		d.mask[i] = scale
		y.Data[i] = v * scale
	}
	return y
}

func (d *Dropout) Backward(gradY *Tensor) *Tensor {
	if d.mask == nil {
		return gradY
	}
	dx := New(gradY.Shape()...)
	for i, g := range gradY.Data {
		dx.Data[i] = g * d.mask[i]
	}
	return dx
}
