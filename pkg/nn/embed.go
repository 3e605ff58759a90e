package nn

import (
	"fmt"
	"math"
)

// SinusoidalEmb maps a batch of scalars to fixed sin/cos features of the
// given dimension. It has no parameters and treats its input as constant,
// so there is no backward pass.
type SinusoidalEmb struct {
	baseModule
	dim int
}

func NewSinusoidalEmb(dim int) *SinusoidalEmb {
	if dim%2 != 0 {
		panic(fmt.Sprintf("nn: sinusoidal embedding dim %d must be even", dim))
	}
	return &SinusoidalEmb{dim: dim}
}

func (s *SinusoidalEmb) Params() []*Tensor { return nil }

// Forward embeds x of shape [n] into [n, dim].
func (s *SinusoidalEmb) Forward(x *Tensor) *Tensor {
	n := x.Size()
	half := s.dim / 2
	y := New(n, s.dim)
	logBase := math.Log(10000) / float64(half-1)
	for i := 0; i < n; i++ {
		for j := 0; j < half; j++ {
			f := x.Data[i] * math.Exp(-logBase*float64(j))
			y.Data[i*s.dim+j] = math.Sin(f)
			y.Data[i*s.dim+half+j] = math.Cos(f)
		}
	}
	return y
}

// PosEmbedding adds a learned position embedding to [batch, tokens, dim]
// inputs.
type PosEmbedding struct {
	baseModule

	P *Tensor // [maxLen, dim]

	maxLen, dim int
	lastTokens  int
	lastBatch   int
}

func NewPosEmbedding(name string, maxLen, dim int) *PosEmbedding {
	return &PosEmbedding{
		P:      NoDecay(ZeroParam(name+".pos", maxLen, dim)),
		maxLen: maxLen,
		dim:    dim,
	}
}

func (p *PosEmbedding) Params() []*Tensor { return []*Tensor{p.P} }

func (p *PosEmbedding) Forward(x *Tensor) *Tensor {
	dims := x.Shape()
	batch, tokens := dims[0], dims[1]
	if tokens > p.maxLen {
		panic(fmt.Sprintf("nn: %d tokens exceed position table of %d", tokens, p.maxLen))
	}
	p.lastBatch, p.lastTokens = batch, tokens
	y := New(batch, tokens, p.dim)
	for b := 0; b < batch; b++ {
		for t := 0; t < tokens; t++ {
			base := (b*tokens + t) * p.dim
			for j := 0; j < p.dim; j++ {
				y.Data[base+j] = x.Data[base+j] + p.P.Data[t*p.dim+j]
			}
		}
	}
	return y
}

func (p *PosEmbedding) Backward(gradY *Tensor) *Tensor {
	for b := 0; b < p.lastBatch; b++ {
		for t := 0; t < p.lastTokens; t++ {
			base := (b*p.lastTokens + t) * p.dim
			for j := 0; j < p.dim; j++ {
				p.P.Grad[t*p.dim+j] += gradY.Data[base+j]
			}
		}
	}
	return gradY
}
