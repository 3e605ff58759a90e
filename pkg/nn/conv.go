package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Conv1d is a 1-D convolution over [batch, channels, length] inputs.
type Conv1d struct {
	baseModule

	W *Tensor // [out, in, kernel]
	B *Tensor // [out], nil when bias is disabled

	in, out, kernel, stride, pad int

	x *Tensor
}

func NewConv1d(rng *rand.Rand, name string, in, out, kernel, stride, pad int, bias bool) *Conv1d {
	c := &Conv1d{
		W:      Param(rng, name+".w", 1/math.Sqrt(float64(in*kernel)), out, in, kernel),
		in:     in,
		out:    out,
		kernel: kernel,
		stride: stride,
		pad:    pad,
	}
	if bias {
		c.B = NoDecay(ZeroParam(name+".b", out))
	}
	return c
}

func (c *Conv1d) Params() []*Tensor {
	if c.B == nil {
		return []*Tensor{c.W}
	}
	return []*Tensor{c.W, c.B}
}

// OutLen reports the output length for an input of length l.
func (c *Conv1d) OutLen(l int) int {
	return (l+2*c.pad-c.kernel)/c.stride + 1
}

func (c *Conv1d) Forward(x *Tensor) *Tensor {
	dims := x.Shape()
	if len(dims) != 3 || dims[1] != c.in {
		panic(fmt.Sprintf("nn: conv1d input %v, want [batch, %d, length]", dims, c.in))
	}
	batch, length := dims[0], dims[2]
	outLen := c.OutLen(length)
	c.x = x
	y := New(batch, c.out, outLen)

	for b := 0; b < batch; b++ {
		for co := 0; co < c.out; co++ {
			bias := 0.0
			if c.B != nil {
				bias = c.B.Data[co]
			}
			for t := 0; t < outLen; t++ {
				sum := bias
				start := t*c.stride - c.pad
				for ci := 0; ci < c.in; ci++ {
					xBase := (b*c.in + ci) * length
					wBase := (co*c.in + ci) * c.kernel
					for k := 0; k < c.kernel; k++ {
						s := start + k
						if s < 0 || s >= length {
							continue
						}
						sum += c.W.Data[wBase+k] * x.Data[xBase+s]
					}
				}
				y.Data[(b*c.out+co)*outLen+t] = sum
			}
		}
	}
	return y
}

func (c *Conv1d) Backward(gradY *Tensor) *Tensor {
	dims := c.x.Shape()
	batch, length := dims[0], dims[2]
	outLen := c.OutLen(length)
	dx := New(batch, c.in, length)

	for b := 0; b < batch; b++ {
		for co := 0; co < c.out; co++ {
			yBase := (b*c.out + co) * outLen
			for t := 0; t < outLen; t++ {
				g := gradY.Data[yBase+t]
				if g == 0 {
					continue
				}
				if c.B != nil {
					c.B.Grad[co] += g
				}
				start := t*c.stride - c.pad
				for ci := 0; ci < c.in; ci++ {
					xBase := (b*c.in + ci) * length
					wBase := (co*c.in + ci) * c.kernel
					for k := 0; k < c.kernel; k++ {
						s := start + k
						if s < 0 || s >= length {
							continue
						}
						c.W.Grad[wBase+k] += g * c.x.Data[xBase+s]
						dx.Data[xBase+s] += g * c.W.Data[wBase+k]
					}
				}
			}
		}
	}
	return dx
}

// Downsample1d halves the temporal length with a stride-2 convolution.
type Downsample1d struct {
	baseModule
	conv *Conv1d
}

func NewDownsample1d(rng *rand.Rand, name string, dim int) *Downsample1d {
	return &Downsample1d{conv: NewConv1d(rng, name, dim, dim, 3, 2, 1, true)}
}

func (d *Downsample1d) Params() []*Tensor          { return d.conv.Params() }
func (d *Downsample1d) Forward(x *Tensor) *Tensor  { return d.conv.Forward(x) }
func (d *Downsample1d) Backward(g *Tensor) *Tensor { return d.conv.Backward(g) }

// Upsample1d doubles the temporal length with nearest-neighbor repetition
// followed by a smoothing convolution.
type Upsample1d struct {
	baseModule
	conv *Conv1d

	inLen int
}

func NewUpsample1d(rng *rand.Rand, name string, dim int) *Upsample1d {
	return &Upsample1d{conv: NewConv1d(rng, name, dim, dim, 3, 1, 1, true)}
}

func (u *Upsample1d) Params() []*Tensor { return u.conv.Params() }

func (u *Upsample1d) Forward(x *Tensor) *Tensor {
	dims := x.Shape()
	batch, channels, length := dims[0], dims[1], dims[2]
	u.inLen = length
	up := New(batch, channels, 2*length)
	for bc := 0; bc < batch*channels; bc++ {
		src := bc * length
		dst := bc * 2 * length
		for t := 0; t < length; t++ {
			up.Data[dst+2*t] = x.Data[src+t]
			up.Data[dst+2*t+1] = x.Data[src+t]
		}
	}
	return u.conv.Forward(up)
}

func (u *Upsample1d) Backward(gradY *Tensor) *Tensor {
	dUp := u.conv.Backward(gradY)
	dims := dUp.Shape()
	batch, channels := dims[0], dims[1]
	dx := New(batch, channels, u.inLen)
	for bc := 0; bc < batch*channels; bc++ {
		src := bc * 2 * u.inLen
		dst := bc * u.inLen
		for t := 0; t < u.inLen; t++ {
			dx.Data[dst+t] = dUp.Data[src+2*t] + dUp.Data[src+2*t+1]
		}
	}
	return dx
}
