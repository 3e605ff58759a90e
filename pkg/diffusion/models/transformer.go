package models

import (
	"fmt"
	"math/rand"

	"github.com/reeceomahoney/locodiff/pkg/nn"
)

// DiffusionTransformer denoises trajectories with one token per timestep.
// Conditioning tokens (a noise-embedding token followed by the observation
// history) pass through a small encoder; decoder blocks interleave
// self-attention over the trajectory, cross-attention into the conditioning
// memory and a GELU MLP, all pre-LayerNorm.
type DiffusionTransformer struct {
	inputDim, obsDim, dModel int

	inputEmb *nn.Linear
	posEmb   *nn.PosEmbedding
	drop     *nn.Dropout

	sigmaEmb *nn.SinusoidalEmb
	sigmaL1  *nn.Linear
	sigmaAct *nn.Activation
	sigmaL2  *nn.Linear

	obsEmb     *nn.Linear
	condPosEmb *nn.PosEmbedding

	encoder []*encoderBlock
	decoder []*decoderBlock
	lnF     *nn.LayerNorm
	head    *nn.Linear

	params []*nn.Tensor

	batch, tCond int
}

type mlp struct {
	l1   *nn.Linear
	act  *nn.Activation
	l2   *nn.Linear
	drop *nn.Dropout
}

func newMLP(rng *rand.Rand, name string, dim int, dropout float64) *mlp {
	return &mlp{
		l1:   nn.NewLinear(rng, name+".fc1", dim, 4*dim, true),
		act:  nn.NewGELU(),
		l2:   nn.NewLinear(rng, name+".fc2", 4*dim, dim, true),
		drop: nn.NewDropout(rng, dropout),
	}
}

func (m *mlp) forward(x *nn.Tensor) *nn.Tensor {
	return m.drop.Forward(m.l2.Forward(m.act.Forward(m.l1.Forward(x))))
}

func (m *mlp) backward(g *nn.Tensor) *nn.Tensor {
	return m.l1.Backward(m.act.Backward(m.l2.Backward(m.drop.Backward(g))))
}

func (m *mlp) params() []*nn.Tensor {
	return append(m.l1.Params(), m.l2.Params()...)
}

func (m *mlp) setTraining(training bool) { m.drop.SetTraining(training) }

type encoderBlock struct {
	ln1  *nn.LayerNorm
	attn *nn.Attention
	ln2  *nn.LayerNorm
	mlp  *mlp
}

func newEncoderBlock(rng *rand.Rand, name string, dim, heads int, dropout float64) *encoderBlock {
	return &encoderBlock{
		ln1:  nn.NewLayerNorm(name+".ln1", dim),
		attn: nn.NewAttention(rng, name+".attn", dim, heads, dropout, false),
		ln2:  nn.NewLayerNorm(name+".ln2", dim),
		mlp:  newMLP(rng, name+".mlp", dim, dropout),
	}
}

func (b *encoderBlock) forward(x *nn.Tensor) *nn.Tensor {
	h := b.ln1.Forward(x)
	a := b.attn.Forward(h, h)
	x1 := nn.Add(x, a)
	x2 := nn.Add(x1, b.mlp.forward(b.ln2.Forward(x1)))
	return x2
}

func (b *encoderBlock) backward(g *nn.Tensor) *nn.Tensor {
	dx1 := nn.Add(g, b.ln2.Backward(b.mlp.backward(g)))
	da, _ := b.attn.Backward(dx1)
	return nn.Add(dx1, b.ln1.Backward(da))
}

func (b *encoderBlock) params() []*nn.Tensor {
	ps := append(b.ln1.Params(), b.attn.Params()...)
	ps = append(ps, b.ln2.Params()...)
	return append(ps, b.mlp.params()...)
}

func (b *encoderBlock) setTraining(t bool) {
	b.attn.SetTraining(t)
	b.mlp.setTraining(t)
}

type decoderBlock struct {
	ln1   *nn.LayerNorm
	self  *nn.Attention
	ln2   *nn.LayerNorm
	cross *nn.Attention
	ln3   *nn.LayerNorm
	mlp   *mlp
}

func newDecoderBlock(rng *rand.Rand, name string, dim, heads int, dropout float64) *decoderBlock {
	return &decoderBlock{
		ln1:   nn.NewLayerNorm(name+".ln1", dim),
		self:  nn.NewAttention(rng, name+".self", dim, heads, dropout, false),
		ln2:   nn.NewLayerNorm(name+".ln2", dim),
		cross: nn.NewAttention(rng, name+".cross", dim, heads, dropout, false),
		ln3:   nn.NewLayerNorm(name+".ln3", dim),
		mlp:   newMLP(rng, name+".mlp", dim, dropout),
	}
}

func (b *decoderBlock) forward(x, mem *nn.Tensor) *nn.Tensor {
	h := b.ln1.Forward(x)
	x1 := nn.Add(x, b.self.Forward(h, h))
	x2 := nn.Add(x1, b.cross.Forward(b.ln2.Forward(x1), mem))
	x3 := nn.Add(x2, b.mlp.forward(b.ln3.Forward(x2)))
	return x3
}

// backward returns the input gradient and accumulates the conditioning
// memory gradient into dMem.
func (b *decoderBlock) backward(g, dMem *nn.Tensor) *nn.Tensor {
	dx2 := nn.Add(g, b.ln3.Backward(b.mlp.backward(g)))
	dq, dctx := b.cross.Backward(dx2)
	for i := range dMem.Data {
		dMem.Data[i] += dctx.Data[i]
	}
	dx1 := nn.Add(dx2, b.ln2.Backward(dq))
	ds, _ := b.self.Backward(dx1)
	return nn.Add(dx1, b.ln1.Backward(ds))
}

func (b *decoderBlock) params() []*nn.Tensor {
	ps := append(b.ln1.Params(), b.self.Params()...)
	ps = append(ps, b.ln2.Params()...)
	ps = append(ps, b.cross.Params()...)
	ps = append(ps, b.ln3.Params()...)
	return append(ps, b.mlp.params()...)
}

func (b *decoderBlock) setTraining(t bool) {
	b.self.SetTraining(t)
	b.cross.SetTraining(t)
	b.mlp.setTraining(t)
}

func NewDiffusionTransformer(rng *rand.Rand, inputDim, obsDim, inputLen, tCond, dModel, nHeads, nLayers, nCondLayers int, dropout float64) (*DiffusionTransformer, error) {
	if dModel%nHeads != 0 {
		return nil, fmt.Errorf("models: d_model %d not divisible by %d heads", dModel, nHeads)
	}
	if nLayers < 1 {
		return nil, fmt.Errorf("models: transformer needs at least one layer")
	}
	d := &DiffusionTransformer{
		inputDim:   inputDim,
		obsDim:     obsDim,
		dModel:     dModel,
		tCond:      tCond,
		inputEmb:   nn.NewLinear(rng, "dit.input", inputDim, dModel, true),
		posEmb:     nn.NewPosEmbedding("dit", inputLen, dModel),
		drop:       nn.NewDropout(rng, dropout),
		sigmaEmb:   nn.NewSinusoidalEmb(dModel),
		sigmaL1:    nn.NewLinear(rng, "dit.sigma.l1", dModel, 4*dModel, true),
		sigmaAct:   nn.NewSiLU(),
		sigmaL2:    nn.NewLinear(rng, "dit.sigma.l2", 4*dModel, dModel, true),
		obsEmb:     nn.NewLinear(rng, "dit.obs", obsDim, dModel, true),
		condPosEmb: nn.NewPosEmbedding("dit.cond", tCond+1, dModel),
		lnF:        nn.NewLayerNorm("dit.lnf", dModel),
		head:       nn.NewLinear(rng, "dit.head", dModel, inputDim, true),
	}
	for i := 0; i < nCondLayers; i++ {
		d.encoder = append(d.encoder, newEncoderBlock(rng, fmt.Sprintf("dit.enc%d", i), dModel, nHeads, dropout))
	}
	for i := 0; i < nLayers; i++ {
		d.decoder = append(d.decoder, newDecoderBlock(rng, fmt.Sprintf("dit.dec%d", i), dModel, nHeads, dropout))
	}

	d.params = append(d.params, d.inputEmb.Params()...)
	d.params = append(d.params, d.posEmb.Params()...)
	d.params = append(d.params, d.sigmaL1.Params()...)
	d.params = append(d.params, d.sigmaL2.Params()...)
	d.params = append(d.params, d.obsEmb.Params()...)
	d.params = append(d.params, d.condPosEmb.Params()...)
	for _, b := range d.encoder {
		d.params = append(d.params, b.params()...)
	}
	for _, b := range d.decoder {
		d.params = append(d.params, b.params()...)
	}
	d.params = append(d.params, d.lnF.Params()...)
	d.params = append(d.params, d.head.Params()...)
	return d, nil
}

func (d *DiffusionTransformer) Params() []*nn.Tensor { return d.params }

func (d *DiffusionTransformer) SetTraining(t bool) {
	d.drop.SetTraining(t)
	for _, b := range d.encoder {
		b.setTraining(t)
	}
	for _, b := range d.decoder {
		b.setTraining(t)
	}
}

// buildMemory embeds [sigma token || observation tokens] and runs the
// conditioning encoder.
func (d *DiffusionTransformer) buildMemory(sigma []float64, cond *Condition) *nn.Tensor {
	batch := len(sigma)
	sf := d.sigmaL2.Forward(d.sigmaAct.Forward(d.sigmaL1.Forward(
		d.sigmaEmb.Forward(nn.FromSlice(sigma, batch)))))
	obs := d.obsEmb.Forward(cond.Obs)

	tokens := d.tCond + 1
	mem := nn.New(batch, tokens, d.dModel)
	for b := 0; b < batch; b++ {
		copy(mem.Data[b*tokens*d.dModel:], sf.Data[b*d.dModel:(b+1)*d.dModel])
		copy(mem.Data[(b*tokens+1)*d.dModel:], obs.Data[b*d.tCond*d.dModel:(b+1)*d.tCond*d.dModel])
	}
	mem = d.condPosEmb.Forward(mem)
	for _, b := range d.encoder {
		mem = b.forward(mem)
	}
	return mem
}

func (d *DiffusionTransformer) Forward(x *nn.Tensor, sigma []float64, cond *Condition) *nn.Tensor {
	dims := x.Shape()
	d.batch = dims[0]
	mem := d.buildMemory(sigma, cond)

	h := d.drop.Forward(d.posEmb.Forward(d.inputEmb.Forward(x)))
	for _, b := range d.decoder {
		h = b.forward(h, mem)
	}
	return d.head.Forward(d.lnF.Forward(h))
}

func (d *DiffusionTransformer) Backward(grad *nn.Tensor) {
	g := d.lnF.Backward(d.head.Backward(grad))

	tokens := d.tCond + 1
	dMem := nn.New(d.batch, tokens, d.dModel)
	for i := len(d.decoder) - 1; i >= 0; i-- {
		g = d.decoder[i].backward(g, dMem)
	}
	d.inputEmb.Backward(d.posEmb.Backward(d.drop.Backward(g)))

	for i := len(d.encoder) - 1; i >= 0; i-- {
		dMem = d.encoder[i].backward(dMem)
	}
	dMem = d.condPosEmb.Backward(dMem)

	dsf := nn.New(d.batch, d.dModel)
	dObs := nn.New(d.batch, d.tCond, d.dModel)
	for b := 0; b < d.batch; b++ {
		copy(dsf.Data[b*d.dModel:], dMem.Data[b*tokens*d.dModel:(b*tokens+1)*d.dModel])
		copy(dObs.Data[b*d.tCond*d.dModel:], dMem.Data[(b*tokens+1)*d.dModel:(b+1)*tokens*d.dModel])
	}
	d.sigmaL1.Backward(d.sigmaAct.Backward(d.sigmaL2.Backward(dsf)))
	d.obsEmb.Backward(dObs)
}
