package models

import (
	"math/rand"

	"github.com/reeceomahoney/locodiff/pkg/nn"
)

// CFGWrapper adds classifier-free guidance around a denoiser. During
// training it drops the observation conditioning of whole samples with
// probability condMaskProb, teaching the model an unconditional mode. At
// sampling time it evaluates both modes and blends them:
//
//	uncond + lambda*(cond - uncond)
type CFGWrapper struct {
	inner        Denoiser
	condLambda   float64
	condMaskProb float64
	rng          *rand.Rand

	training bool
}

func NewCFGWrapper(inner Denoiser, condLambda, condMaskProb float64, rng *rand.Rand) *CFGWrapper {
	return &CFGWrapper{
		inner:        inner,
		condLambda:   condLambda,
		condMaskProb: condMaskProb,
		rng:          rng,
	}
}

// maskCond zeroes the observation history of randomly chosen samples.
func (c *CFGWrapper) maskCond(cond *Condition) *Condition {
	dims := cond.Obs.Shape()
	batch := dims[0]
	perSample := cond.Obs.Size() / batch
	masked := cond.clone()
	masked.Obs = cond.Obs.Clone()
	for b := 0; b < batch; b++ {
		if c.rng.Float64() >= c.condMaskProb {
			continue
		}
		for i := b * perSample; i < (b+1)*perSample; i++ {
			masked.Obs.Data[i] = 0
		}
	}
	return masked
}

// uncond returns the condition with the observation history fully zeroed.
func (c *CFGWrapper) uncond(cond *Condition) *Condition {
	out := cond.clone()
	out.Obs = nn.New(cond.Obs.Shape()...)
	return out
}

func (c *CFGWrapper) Forward(x *nn.Tensor, sigma []float64, cond *Condition) *nn.Tensor {
	if c.training {
		return c.inner.Forward(x, sigma, c.maskCond(cond))
	}
	withCond := c.inner.Forward(x, sigma, cond)
	without := c.inner.Forward(x, sigma, c.uncond(cond))
	out := nn.New(withCond.Shape()...)
	for i := range out.Data {
		out.Data[i] = without.Data[i] + c.condLambda*(withCond.Data[i]-without.Data[i])
	}
	return out
}

func (c *CFGWrapper) Backward(grad *nn.Tensor) { c.inner.Backward(grad) }

func (c *CFGWrapper) Loss(input, noise *nn.Tensor, sigma []float64, cond *Condition) float64 {
	return c.inner.Loss(input, noise, sigma, c.maskCond(cond))
}

func (c *CFGWrapper) Params() []*nn.Tensor { return c.inner.Params() }

func (c *CFGWrapper) SetTraining(training bool) {
	c.training = training
	c.inner.SetTraining(training)
}
