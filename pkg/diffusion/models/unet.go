package models

import (
	"fmt"
	"math/rand"

	"github.com/reeceomahoney/locodiff/pkg/nn"
)

// ConditionalUnet1D denoises [batch, length, dim] trajectories with a 1-D
// convolutional encoder/decoder over the time axis. Conditioning (noise
// embedding plus the flattened observation history) enters every residual
// block through FiLM modulation. Skip connections concatenate encoder
// activations into the decoder; odd lengths are handled by cropping after
// upsampling.
type ConditionalUnet1D struct {
	inputDim      int
	globalCondDim int
	sed           int
	condDim       int

	sigmaEmb *nn.SinusoidalEmb
	sigmaL1  *nn.Linear
	sigmaAct *nn.Activation
	sigmaL2  *nn.Linear

	downs      []*downLevel
	mid1, mid2 *condResBlock
	ups        []*upLevel
	finalBlock *conv1dBlock
	finalConv  *nn.Conv1d

	params []*nn.Tensor

	batch    int
	skipLens []int
	dCond    *nn.Tensor
}

type conv1dBlock struct {
	conv *nn.Conv1d
	norm *nn.GroupNorm
	act  *nn.Activation
}

func newConv1dBlock(rng *rand.Rand, name string, in, out, kernel, nGroups int) *conv1dBlock {
	return &conv1dBlock{
		conv: nn.NewConv1d(rng, name+".conv", in, out, kernel, 1, kernel/2, true),
		norm: nn.NewGroupNorm(name+".gn", nGroups, out),
		act:  nn.NewMish(),
	}
}

func (b *conv1dBlock) forward(x *nn.Tensor) *nn.Tensor {
	return b.act.Forward(b.norm.Forward(b.conv.Forward(x)))
}

func (b *conv1dBlock) backward(g *nn.Tensor) *nn.Tensor {
	return b.conv.Backward(b.norm.Backward(b.act.Backward(g)))
}

func (b *conv1dBlock) params() []*nn.Tensor {
	return append(b.conv.Params(), b.norm.Params()...)
}

// condResBlock is two conv blocks with FiLM scale/shift conditioning after
// the first, plus a residual path (1x1 conv when channel counts differ).
type condResBlock struct {
	block1, block2 *conv1dBlock
	condAct        *nn.Activation
	condLin        *nn.Linear
	resConv        *nn.Conv1d

	out int

	h1    *nn.Tensor // block1 output, pre-FiLM
	scale *nn.Tensor // [batch, out]
}

func newCondResBlock(rng *rand.Rand, name string, in, out, condDim, kernel, nGroups int) *condResBlock {
	r := &condResBlock{
		block1:  newConv1dBlock(rng, name+".b1", in, out, kernel, nGroups),
		block2:  newConv1dBlock(rng, name+".b2", out, out, kernel, nGroups),
		condAct: nn.NewMish(),
		condLin: nn.NewLinear(rng, name+".cond", condDim, 2*out, true),
		out:     out,
	}
	if in != out {
		r.resConv = nn.NewConv1d(rng, name+".res", in, out, 1, 1, 0, true)
	}
	return r
}

func (r *condResBlock) forward(x, cond *nn.Tensor) *nn.Tensor {
	h := r.block1.forward(x)
	r.h1 = h

	film := r.condLin.Forward(r.condAct.Forward(cond))
	dims := h.Shape()
	batch, length := dims[0], dims[2]
	r.scale = nn.New(batch, r.out)
	h2 := nn.New(dims...)
	for b := 0; b < batch; b++ {
		for c := 0; c < r.out; c++ {
			scale := film.Data[b*2*r.out+c]
			bias := film.Data[b*2*r.out+r.out+c]
			r.scale.Data[b*r.out+c] = scale
			base := (b*r.out + c) * length
			for l := 0; l < length; l++ {
				h2.Data[base+l] = scale*h.Data[base+l] + bias
			}
		}
	}

	out := r.block2.forward(h2)
	if r.resConv != nil {
		res := r.resConv.Forward(x)
		for i := range out.Data {
			out.Data[i] += res.Data[i]
		}
	} else {
		for i := range out.Data {
			out.Data[i] += x.Data[i]
		}
	}
	return out
}

// backward returns the input gradient and accumulates the conditioning
// gradient into dCond.
func (r *condResBlock) backward(g, dCond *nn.Tensor) *nn.Tensor {
	dh2 := r.block2.backward(g)

	dims := r.h1.Shape()
	batch, length := dims[0], dims[2]
	dh := nn.New(dims...)
	dFilm := nn.New(batch, 2*r.out)
	for b := 0; b < batch; b++ {
		for c := 0; c < r.out; c++ {
			scale := r.scale.Data[b*r.out+c]
			base := (b*r.out + c) * length
			var dScale, dBias float64
			for l := 0; l < length; l++ {
				gv := dh2.Data[base+l]
				dh.Data[base+l] = scale * gv
				dScale += gv * r.h1.Data[base+l]
				dBias += gv
			}
			dFilm.Data[b*2*r.out+c] = dScale
			dFilm.Data[b*2*r.out+r.out+c] = dBias
		}
	}
	dCondPart := r.condAct.Backward(r.condLin.Backward(dFilm))
	for i := range dCond.Data {
		dCond.Data[i] += dCondPart.Data[i]
	}

	dx := r.block1.backward(dh)
	if r.resConv != nil {
		dRes := r.resConv.Backward(g)
		for i := range dx.Data {
			dx.Data[i] += dRes.Data[i]
		}
	} else {
		for i := range dx.Data {
			dx.Data[i] += g.Data[i]
		}
	}
	return dx
}

func (r *condResBlock) params() []*nn.Tensor {
	ps := append(r.block1.params(), r.block2.params()...)
	ps = append(ps, r.condLin.Params()...)
	if r.resConv != nil {
		ps = append(ps, r.resConv.Params()...)
	}
	return ps
}

type downLevel struct {
	res1, res2 *condResBlock
	down       *nn.Downsample1d // nil on the innermost level
}

type upLevel struct {
	res1, res2 *condResBlock
	up         *nn.Upsample1d

	preCropLen int
}

func NewConditionalUnet1D(rng *rand.Rand, inputDim, globalCondDim, sed int, downDims []int, kernel, nGroups int) (*ConditionalUnet1D, error) {
	if len(downDims) < 2 {
		return nil, fmt.Errorf("models: unet needs at least two down dims, got %v", downDims)
	}
	for _, d := range downDims {
		if d%nGroups != 0 {
			return nil, fmt.Errorf("models: unet dim %d not divisible by %d groups", d, nGroups)
		}
	}
	condDim := sed + globalCondDim
	u := &ConditionalUnet1D{
		inputDim:      inputDim,
		globalCondDim: globalCondDim,
		sed:           sed,
		condDim:       condDim,
		sigmaEmb:      nn.NewSinusoidalEmb(sed),
		sigmaL1:       nn.NewLinear(rng, "unet.sigma.l1", sed, 4*sed, true),
		sigmaAct:      nn.NewMish(),
		sigmaL2:       nn.NewLinear(rng, "unet.sigma.l2", 4*sed, sed, true),
	}

	allDims := append([]int{inputDim}, downDims...)
	n := len(downDims)
	for i := 0; i < n; i++ {
		in, out := allDims[i], allDims[i+1]
		lvl := &downLevel{
			res1: newCondResBlock(rng, fmt.Sprintf("unet.down%d.r1", i), in, out, condDim, kernel, nGroups),
			res2: newCondResBlock(rng, fmt.Sprintf("unet.down%d.r2", i), out, out, condDim, kernel, nGroups),
		}
		if i < n-1 {
			lvl.down = nn.NewDownsample1d(rng, fmt.Sprintf("unet.down%d.ds", i), out)
		}
		u.downs = append(u.downs, lvl)
	}

	mid := downDims[n-1]
	u.mid1 = newCondResBlock(rng, "unet.mid1", mid, mid, condDim, kernel, nGroups)
	u.mid2 = newCondResBlock(rng, "unet.mid2", mid, mid, condDim, kernel, nGroups)

	// Decoder levels walk the encoder pairs in reverse, skipping the
	// outermost pair; each consumes one skip connection.
	for i := n - 1; i >= 1; i-- {
		in, out := allDims[i], allDims[i+1]
		idx := n - 1 - i
		lvl := &upLevel{
			res1: newCondResBlock(rng, fmt.Sprintf("unet.up%d.r1", idx), 2*out, in, condDim, kernel, nGroups),
			res2: newCondResBlock(rng, fmt.Sprintf("unet.up%d.r2", idx), in, in, condDim, kernel, nGroups),
			up:   nn.NewUpsample1d(rng, fmt.Sprintf("unet.up%d.us", idx), in),
		}
		u.ups = append(u.ups, lvl)
	}

	u.finalBlock = newConv1dBlock(rng, "unet.final.b", downDims[0], downDims[0], kernel, nGroups)
	u.finalConv = nn.NewConv1d(rng, "unet.final.conv", downDims[0], inputDim, 1, 1, 0, true)

	u.params = append(u.params, u.sigmaL1.Params()...)
	u.params = append(u.params, u.sigmaL2.Params()...)
	for _, lvl := range u.downs {
		u.params = append(u.params, lvl.res1.params()...)
		u.params = append(u.params, lvl.res2.params()...)
		if lvl.down != nil {
			u.params = append(u.params, lvl.down.Params()...)
		}
	}
	u.params = append(u.params, u.mid1.params()...)
	u.params = append(u.params, u.mid2.params()...)
	for _, lvl := range u.ups {
		u.params = append(u.params, lvl.res1.params()...)
		u.params = append(u.params, lvl.res2.params()...)
		u.params = append(u.params, lvl.up.Params()...)
	}
	u.params = append(u.params, u.finalBlock.params()...)
	u.params = append(u.params, u.finalConv.Params()...)
	return u, nil
}

func (u *ConditionalUnet1D) Params() []*nn.Tensor { return u.params }

func (u *ConditionalUnet1D) SetTraining(bool) {}

// buildCond assembles [sigma features || flattened observations].
func (u *ConditionalUnet1D) buildCond(sigma []float64, cond *Condition) *nn.Tensor {
	batch := len(sigma)
	sf := u.sigmaL2.Forward(u.sigmaAct.Forward(u.sigmaL1.Forward(
		u.sigmaEmb.Forward(nn.FromSlice(sigma, batch)))))

	out := nn.New(batch, u.condDim)
	for b := 0; b < batch; b++ {
		copy(out.Data[b*u.condDim:], sf.Data[b*u.sed:(b+1)*u.sed])
		copy(out.Data[b*u.condDim+u.sed:], cond.Obs.Data[b*u.globalCondDim:(b+1)*u.globalCondDim])
	}
	return out
}

func (u *ConditionalUnet1D) Forward(x *nn.Tensor, sigma []float64, cond *Condition) *nn.Tensor {
	dims := x.Shape()
	batch, length, dim := dims[0], dims[1], dims[2]
	if dim != u.inputDim {
		panic(fmt.Sprintf("models: unet input dim %d, want %d", dim, u.inputDim))
	}
	u.batch = batch
	condVec := u.buildCond(sigma, cond)

	h := transposeToChannels(x)
	var skips []*nn.Tensor
	u.skipLens = u.skipLens[:0]
	for _, lvl := range u.downs {
		h = lvl.res1.forward(h, condVec)
		h = lvl.res2.forward(h, condVec)
		skips = append(skips, h)
		u.skipLens = append(u.skipLens, h.Shape()[2])
		if lvl.down != nil {
			h = lvl.down.Forward(h)
		}
	}

	h = u.mid1.forward(h, condVec)
	h = u.mid2.forward(h, condVec)

	for i, lvl := range u.ups {
		skip := skips[len(skips)-1-i]
		h = catChannels(h, skip)
		h = lvl.res1.forward(h, condVec)
		h = lvl.res2.forward(h, condVec)
		h = lvl.up.Forward(h)
		target := u.skipLens[len(skips)-2-i]
		lvl.preCropLen = h.Shape()[2]
		h = cropLen(h, target)
	}

	h = u.finalBlock.forward(h)
	h = u.finalConv.Forward(h)
	if h.Shape()[2] != length {
		panic(fmt.Sprintf("models: unet output length %d, want %d", h.Shape()[2], length))
	}
	return transposeToTime(h)
}

func (u *ConditionalUnet1D) Backward(grad *nn.Tensor) {
	u.dCond = nn.New(u.batch, u.condDim)

	g := transposeToChannels(grad)
	g = u.finalConv.Backward(g)
	g = u.finalBlock.backward(g)

	n := len(u.downs)
	skipGrads := make([]*nn.Tensor, n)
	for i := len(u.ups) - 1; i >= 0; i-- {
		lvl := u.ups[i]
		g = padLen(g, lvl.preCropLen)
		g = lvl.up.Backward(g)
		g = lvl.res2.backward(g, u.dCond)
		g = lvl.res1.backward(g, u.dCond)
		var dSkip *nn.Tensor
		g, dSkip = splitChannels(g, g.Shape()[1]/2)
		skipGrads[n-1-i] = dSkip
	}

	g = u.mid2.backward(g, u.dCond)
	g = u.mid1.backward(g, u.dCond)

	for i := n - 1; i >= 0; i-- {
		lvl := u.downs[i]
		if lvl.down != nil {
			g = lvl.down.Backward(g)
		}
		if skipGrads[i] != nil {
			for j := range g.Data {
				g.Data[j] += skipGrads[i].Data[j]
			}
		}
		g = lvl.res2.backward(g, u.dCond)
		g = lvl.res1.backward(g, u.dCond)
	}

	// The observation part of the conditioning is data; only the sigma
	// features propagate further.
	dsf := nn.New(u.batch, u.sed)
	for b := 0; b < u.batch; b++ {
		copy(dsf.Data[b*u.sed:], u.dCond.Data[b*u.condDim:b*u.condDim+u.sed])
	}
	u.sigmaL1.Backward(u.sigmaAct.Backward(u.sigmaL2.Backward(dsf)))
}

// transposeToChannels permutes [batch, length, dim] to [batch, dim, length].
func transposeToChannels(x *nn.Tensor) *nn.Tensor {
	dims := x.Shape()
	batch, length, dim := dims[0], dims[1], dims[2]
	y := nn.New(batch, dim, length)
	for b := 0; b < batch; b++ {
		for l := 0; l < length; l++ {
			for d := 0; d < dim; d++ {
				y.Data[(b*dim+d)*length+l] = x.Data[(b*length+l)*dim+d]
			}
		}
	}
	return y
}

// transposeToTime permutes [batch, dim, length] back to [batch, length, dim].
func transposeToTime(x *nn.Tensor) *nn.Tensor {
	dims := x.Shape()
	batch, dim, length := dims[0], dims[1], dims[2]
	y := nn.New(batch, length, dim)
	for b := 0; b < batch; b++ {
		for d := 0; d < dim; d++ {
			for l := 0; l < length; l++ {
				y.Data[(b*length+l)*dim+d] = x.Data[(b*dim+d)*length+l]
			}
		}
	}
	return y
}

func catChannels(a, b *nn.Tensor) *nn.Tensor {
	ad, bd := a.Shape(), b.Shape()
	batch, ca, cb, length := ad[0], ad[1], bd[1], ad[2]
	y := nn.New(batch, ca+cb, length)
	for n := 0; n < batch; n++ {
		copy(y.Data[n*(ca+cb)*length:], a.Data[n*ca*length:(n+1)*ca*length])
		copy(y.Data[(n*(ca+cb)+ca)*length:], b.Data[n*cb*length:(n+1)*cb*length])
	}
	return y
}

func splitChannels(x *nn.Tensor, ca int) (a, b *nn.Tensor) {
	dims := x.Shape()
	batch, c, length := dims[0], dims[1], dims[2]
	cb := c - ca
	a = nn.New(batch, ca, length)
	b = nn.New(batch, cb, length)
	for n := 0; n < batch; n++ {
		copy(a.Data[n*ca*length:], x.Data[n*c*length:(n*c+ca)*length])
		copy(b.Data[n*cb*length:], x.Data[(n*c+ca)*length:(n+1)*c*length])
	}
	return a, b
}

func cropLen(x *nn.Tensor, target int) *nn.Tensor {
	dims := x.Shape()
	batch, c, length := dims[0], dims[1], dims[2]
	if length == target {
		return x
	}
	y := nn.New(batch, c, target)
	for bc := 0; bc < batch*c; bc++ {
		copy(y.Data[bc*target:], x.Data[bc*length:bc*length+target])
	}
	return y
}

func padLen(x *nn.Tensor, target int) *nn.Tensor {
	dims := x.Shape()
	batch, c, length := dims[0], dims[1], dims[2]
	if length == target {
		return x
	}
	y := nn.New(batch, c, target)
	for bc := 0; bc < batch*c; bc++ {
		copy(y.Data[bc*target:], x.Data[bc*length:(bc+1)*length])
	}
	return y
}
