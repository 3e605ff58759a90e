package models

import (
	"math"

	"github.com/reeceomahoney/locodiff/pkg/nn"
)

// ScalingWrapper applies the Karras preconditioning around a backbone:
//
//	D(x, sigma) = c_skip*x + c_out*F(c_in*x, c_noise)
//
// with the scalings derived from sigma and the data standard deviation. It
// also applies the inpainting constraint before every evaluation so samplers
// see a denoiser that respects known trajectory values.
type ScalingWrapper struct {
	inner     Backbone
	sigmaData float64

	cOut    []float64
	lastDim []int
}

func NewScalingWrapper(inner Backbone, sigmaData float64) *ScalingWrapper {
	return &ScalingWrapper{inner: inner, sigmaData: sigmaData}
}

// scalings returns c_skip, c_out, c_in, c_noise for one noise level.
func (s *ScalingWrapper) scalings(sigma float64) (cSkip, cOut, cIn, cNoise float64) {
	sd2 := s.sigmaData * s.sigmaData
	denom := sigma*sigma + sd2
	cSkip = sd2 / denom
	cOut = sigma * s.sigmaData / math.Sqrt(denom)
	cIn = 1 / math.Sqrt(denom)
	cNoise = math.Log(sigma) / 4
	return
}

func (s *ScalingWrapper) Forward(x *nn.Tensor, sigma []float64, cond *Condition) *nn.Tensor {
	x = Inpaint(x, cond)
	dims := x.Shape()
	batch := dims[0]
	perSample := x.Size() / batch

	scaled := nn.New(dims...)
	cNoise := make([]float64, batch)
	s.cOut = make([]float64, batch)
	cSkips := make([]float64, batch)
	for b := 0; b < batch; b++ {
		cSkip, cOut, cIn, cn := s.scalings(sigma[b])
		cSkips[b] = cSkip
		s.cOut[b] = cOut
		cNoise[b] = cn
		for i := b * perSample; i < (b+1)*perSample; i++ {
			scaled.Data[i] = x.Data[i] * cIn
		}
	}
	s.lastDim = dims

	f := s.inner.Forward(scaled, cNoise, cond)
	out := nn.New(dims...)
	for b := 0; b < batch; b++ {
		for i := b * perSample; i < (b+1)*perSample; i++ {
			out.Data[i] = cSkips[b]*x.Data[i] + s.cOut[b]*f.Data[i]
		}
	}
	return out
}

// Backward propagates an output gradient into the backbone parameters. The
// input itself is data, so no input gradient is returned.
func (s *ScalingWrapper) Backward(grad *nn.Tensor) {
	batch := s.lastDim[0]
	perSample := grad.Size() / batch
	df := nn.New(grad.Shape()...)
	for b := 0; b < batch; b++ {
		for i := b * perSample; i < (b+1)*perSample; i++ {
			df.Data[i] = grad.Data[i] * s.cOut[b]
		}
	}
	s.inner.Backward(df)
}

// Loss computes the preconditioned denoising score-matching loss for clean
// trajectories diffused with the given per-sample noise levels, accumulating
// parameter gradients. The relative weighting of samples follows from
// regressing F against (input - c_skip*noised)/c_out.
func (s *ScalingWrapper) Loss(input, noise *nn.Tensor, sigma []float64, cond *Condition) float64 {
	dims := input.Shape()
	batch := dims[0]
	perSample := input.Size() / batch

	noised := nn.New(dims...)
	for b := 0; b < batch; b++ {
		for i := b * perSample; i < (b+1)*perSample; i++ {
			noised.Data[i] = input.Data[i] + noise.Data[i]*sigma[b]
		}
	}

	scaled := nn.New(dims...)
	cNoise := make([]float64, batch)
	target := nn.New(dims...)
	type sc struct{ skip, out float64 }
	scs := make([]sc, batch)
	for b := 0; b < batch; b++ {
		cSkip, cOut, cIn, cn := s.scalings(sigma[b])
		scs[b] = sc{cSkip, cOut}
		cNoise[b] = cn
		for i := b * perSample; i < (b+1)*perSample; i++ {
			scaled.Data[i] = noised.Data[i] * cIn
			target.Data[i] = (input.Data[i] - cSkip*noised.Data[i]) / cOut
		}
	}

	f := s.inner.Forward(scaled, cNoise, cond)
	n := float64(f.Size())
	loss := 0.0
	df := nn.New(dims...)
	for i := range f.Data {
		diff := f.Data[i] - target.Data[i]
		loss += diff * diff
		df.Data[i] = 2 * diff / n
	}
	s.inner.Backward(df)
	return loss / n
}

func (s *ScalingWrapper) Params() []*nn.Tensor      { return s.inner.Params() }
func (s *ScalingWrapper) SetTraining(training bool) { s.inner.SetTraining(training) }
