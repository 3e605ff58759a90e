package nn

import (
	"fmt"
	"math"
)

const normEps = 1e-5

// LayerNorm normalizes over the last dimension with learned gain and bias.
type LayerNorm struct {
	baseModule

	G *Tensor // [dim]
	B *Tensor // [dim]

	dim int

	xhat *Tensor   // cached normalized input
	istd []float64 // cached 1/std per row
}

func NewLayerNorm(name string, dim int) *LayerNorm {
	return &LayerNorm{
		G:   NoDecay(OnesParam(name+".g", dim)),
		B:   NoDecay(ZeroParam(name+".b", dim)),
		dim: dim,
	}
}

func (l *LayerNorm) Params() []*Tensor { return []*Tensor{l.G, l.B} }

func (l *LayerNorm) Forward(x *Tensor) *Tensor {
	dims := x.Shape()
	if dims[len(dims)-1] != l.dim {
		panic(fmt.Sprintf("nn: layernorm dim %d, want %d", dims[len(dims)-1], l.dim))
	}
	rows := x.Size() / l.dim
	l.xhat = New(rows, l.dim)
	l.istd = make([]float64, rows)
	y := New(x.Shape()...)

	for r := 0; r < rows; r++ {
		base := r * l.dim
		mean := 0.0
		for j := 0; j < l.dim; j++ {
			mean += x.Data[base+j]
		}
		mean /= float64(l.dim)
		variance := 0.0
		for j := 0; j < l.dim; j++ {
			d := x.Data[base+j] - mean
			variance += d * d
		}
		variance /= float64(l.dim)
		istd := 1 / math.Sqrt(variance+normEps)
		l.istd[r] = istd
		for j := 0; j < l.dim; j++ {
			h := (x.Data[base+j] - mean) * istd
			l.xhat.Data[base+j] = h
			y.Data[base+j] = h*l.G.Data[j] + l.B.Data[j]
		}
	}
	return y
}

func (l *LayerNorm) Backward(gradY *Tensor) *Tensor {
	rows := gradY.Size() / l.dim
	dx := New(gradY.Shape()...)
	n := float64(l.dim)

	for r := 0; r < rows; r++ {
		base := r * l.dim
		var sumDh, sumDhXhat float64
		for j := 0; j < l.dim; j++ {
			g := gradY.Data[base+j]
			h := l.xhat.Data[base+j]
			l.G.Grad[j] += g * h
			l.B.Grad[j] += g
			dh := g * l.G.Data[j]
			sumDh += dh
			sumDhXhat += dh * h
		}
		for j := 0; j < l.dim; j++ {
			dh := gradY.Data[base+j] * l.G.Data[j]
			h := l.xhat.Data[base+j]
			dx.Data[base+j] = l.istd[r] / n * (n*dh - sumDh - h*sumDhXhat)
		}
	}
	return dx
}

// GroupNorm normalizes channel groups of [batch, channels, length] inputs.
type GroupNorm struct {
	baseModule

	G *Tensor // [channels]
	B *Tensor // [channels]

	groups, channels int

	x    *Tensor
	xhat *Tensor
	istd []float64 // per (batch, group)
}

func NewGroupNorm(name string, groups, channels int) *GroupNorm {
	if channels%groups != 0 {
		panic(fmt.Sprintf("nn: groupnorm channels %d not divisible by groups %d", channels, groups))
	}
	return &GroupNorm{
		G:        NoDecay(OnesParam(name+".g", channels)),
		B:        NoDecay(ZeroParam(name+".b", channels)),
		groups:   groups,
		channels: channels,
	}
}

func (g *GroupNorm) Params() []*Tensor { return []*Tensor{g.G, g.B} }

func (g *GroupNorm) Forward(x *Tensor) *Tensor {
	dims := x.Shape()
	if len(dims) != 3 || dims[1] != g.channels {
		panic(fmt.Sprintf("nn: groupnorm input %v, want [batch, %d, length]", dims, g.channels))
	}
	batch, length := dims[0], dims[2]
	perGroup := g.channels / g.groups
	n := float64(perGroup * length)

	g.x = x
	g.xhat = New(batch, g.channels, length)
	g.istd = make([]float64, batch*g.groups)
	y := New(batch, g.channels, length)

	for b := 0; b < batch; b++ {
		for grp := 0; grp < g.groups; grp++ {
			c0 := grp * perGroup
			mean := 0.0
			for c := c0; c < c0+perGroup; c++ {
				base := (b*g.channels + c) * length
				for t := 0; t < length; t++ {
					mean += x.Data[base+t]
				}
			}
			mean /= n
			variance := 0.0
			for c := c0; c < c0+perGroup; c++ {
				base := (b*g.channels + c) * length
				for t := 0; t < length; t++ {
					d := x.Data[base+t] - mean
					variance += d * d
				}
			}
			variance /= n
			istd := 1 / math.Sqrt(variance+normEps)
			g.istd[b*g.groups+grp] = istd
			for c := c0; c < c0+perGroup; c++ {
				base := (b*g.channels + c) * length
				for t := 0; t < length; t++ {
					h := (x.Data[base+t] - mean) * istd
					g.xhat.Data[base+t] = h
					y.Data[base+t] = h*g.G.Data[c] + g.B.Data[c]
				}
			}
		}
	}
	return y
}

func (g *GroupNorm) Backward(gradY *Tensor) *Tensor {
	dims := g.x.Shape()
	batch, length := dims[0], dims[2]
	perGroup := g.channels / g.groups
	n := float64(perGroup * length)
	dx := New(batch, g.channels, length)

	for b := 0; b < batch; b++ {
		for grp := 0; grp < g.groups; grp++ {
			c0 := grp * perGroup
			var sumDh, sumDhXhat float64
			for c := c0; c < c0+perGroup; c++ {
				base := (b*g.channels + c) * length
				for t := 0; t < length; t++ {
					gy := gradY.Data[base+t]
					h := g.xhat.Data[base+t]
					g.G.Grad[c] += gy * h
					g.B.Grad[c] += gy
					dh := gy * g.G.Data[c]
					sumDh += dh
					sumDhXhat += dh * h
				}
			}
			istd := g.istd[b*g.groups+grp]
			for c := c0; c < c0+perGroup; c++ {
				base := (b*g.channels + c) * length
				for t := 0; t < length; t++ {
					dh := gradY.Data[base+t] * g.G.Data[c]
					h := g.xhat.Data[base+t]
					dx.Data[base+t] = istd / n * (n*dh - sumDh - h*sumDhXhat)
				}
			}
		}
	}
	return dx
}
