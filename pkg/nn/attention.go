package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Attention is batched multi-head attention over [batch, tokens, dim]
// sequences. Query and context may be the same tensor (self-attention) or
// differ (cross-attention); with causal set, token i only attends to
// context tokens j <= i.
type Attention struct {
	heads, dim, headDim int
	causal              bool

	wq, wk, wv, wo *Linear
	drop           *Dropout

	q, k, v *Tensor // [batch, heads, tokens, headDim]
	probs   *Tensor // softmax output [batch, heads, qTokens, kTokens]
	attn    *Tensor // probs after dropout, used against v
	selfAtt bool
}

func NewAttention(rng *rand.Rand, name string, dim, heads int, dropout float64, causal bool) *Attention {
	if dim%heads != 0 {
		panic(fmt.Sprintf("nn: attention dim %d not divisible by %d heads", dim, heads))
	}
	return &Attention{
		heads:   heads,
		dim:     dim,
		headDim: dim / heads,
		causal:  causal,
		wq:      NewLinear(rng, name+".q", dim, dim, true),
		wk:      NewLinear(rng, name+".k", dim, dim, true),
		wv:      NewLinear(rng, name+".v", dim, dim, true),
		wo:      NewLinear(rng, name+".o", dim, dim, true),
		drop:    NewDropout(rng, dropout),
	}
}

func (a *Attention) Params() []*Tensor {
	var ps []*Tensor
	ps = append(ps, a.wq.Params()...)
	ps = append(ps, a.wk.Params()...)
	ps = append(ps, a.wv.Params()...)
	ps = append(ps, a.wo.Params()...)
	return ps
}

func (a *Attention) SetTraining(training bool) { a.drop.SetTraining(training) }

// splitHeads permutes [batch, tokens, dim] into [batch, heads, tokens, headDim].
func (a *Attention) splitHeads(x *Tensor) *Tensor {
	dims := x.Shape()
	batch, tokens := dims[0], dims[1]
	y := New(batch, a.heads, tokens, a.headDim)
	for b := 0; b < batch; b++ {
		for t := 0; t < tokens; t++ {
			src := (b*tokens + t) * a.dim
			for h := 0; h < a.heads; h++ {
				dst := ((b*a.heads+h)*tokens + t) * a.headDim
				copy(y.Data[dst:dst+a.headDim], x.Data[src+h*a.headDim:src+(h+1)*a.headDim])
			}
		}
	}
	return y
}

// mergeHeads is the inverse permutation back to [batch, tokens, dim].
func (a *Attention) mergeHeads(x *Tensor) *Tensor {
	dims := x.Shape()
	batch, tokens := dims[0], dims[2]
	y := New(batch, tokens, a.dim)
	for b := 0; b < batch; b++ {
		for t := 0; t < tokens; t++ {
			dst := (b*tokens + t) * a.dim
			for h := 0; h < a.heads; h++ {
				src := ((b*a.heads+h)*tokens + t) * a.headDim
				copy(y.Data[dst+h*a.headDim:dst+(h+1)*a.headDim], x.Data[src:src+a.headDim])
			}
		}
	}
	return y
}

// Forward attends query tokens over context tokens. Pass ctx == query for
// self-attention.
func (a *Attention) Forward(query, ctx *Tensor) *Tensor {
	a.selfAtt = query == ctx
	qDims, cDims := query.Shape(), ctx.Shape()
	batch, nq, nk := qDims[0], qDims[1], cDims[1]

	a.q = a.splitHeads(a.wq.Forward(query))
	a.k = a.splitHeads(a.wk.Forward(ctx))
	a.v = a.splitHeads(a.wv.Forward(ctx))

	scale := 1 / math.Sqrt(float64(a.headDim))
	a.probs = New(batch, a.heads, nq, nk)
	for bh := 0; bh < batch*a.heads; bh++ {
		qBase := bh * nq * a.headDim
		kBase := bh * nk * a.headDim
		sBase := bh * nq * nk
		for i := 0; i < nq; i++ {
			limit := nk
			if a.causal {
				limit = i + 1
			}
			maxScore := math.Inf(-1)
			for j := 0; j < limit; j++ {
				s := 0.0
				for d := 0; d < a.headDim; d++ {
					s += a.q.Data[qBase+i*a.headDim+d] * a.k.Data[kBase+j*a.headDim+d]
				}
				s *= scale
				a.probs.Data[sBase+i*nk+j] = s
				if s > maxScore {
					maxScore = s
				}
			}
			sum := 0.0
			for j := 0; j < limit; j++ {
				e := math.Exp(a.probs.Data[sBase+i*nk+j] - maxScore)
				a.probs.Data[sBase+i*nk+j] = e
				sum += e
			}
			for j := 0; j < limit; j++ {
				a.probs.Data[sBase+i*nk+j] /= sum
			}
		}
	}
	a.attn = a.drop.Forward(a.probs)

	out := New(batch, a.heads, nq, a.headDim)
	for bh := 0; bh < batch*a.heads; bh++ {
		aBase := bh * nq * nk
		vBase := bh * nk * a.headDim
		oBase := bh * nq * a.headDim
		for i := 0; i < nq; i++ {
			for j := 0; j < nk; j++ {
				w := a.attn.Data[aBase+i*nk+j]
				if w == 0 {
					continue
				}
				for d := 0; d < a.headDim; d++ {
					out.Data[oBase+i*a.headDim+d] += w * a.v.Data[vBase+j*a.headDim+d]
				}
			}
		}
	}
	return a.wo.Forward(a.mergeHeads(out))
}

// Backward returns gradients for the query and context inputs. For
// self-attention the context gradient is already folded into the query
// gradient and dCtx is nil.
func (a *Attention) Backward(gradY *Tensor) (dQuery, dCtx *Tensor) {
	dMerged := a.splitHeads(a.wo.Backward(gradY))
	dims := a.probs.Shape()
	batch, nq, nk := dims[0], dims[2], dims[3]

	dAttn := New(batch, a.heads, nq, nk)
	dV := New(batch, a.heads, nk, a.headDim)
	for bh := 0; bh < batch*a.heads; bh++ {
		aBase := bh * nq * nk
		vBase := bh * nk * a.headDim
		oBase := bh * nq * a.headDim
		for i := 0; i < nq; i++ {
			for j := 0; j < nk; j++ {
				w := a.attn.Data[aBase+i*nk+j]
				dot := 0.0
				for d := 0; d < a.headDim; d++ {
					g := dMerged.Data[oBase+i*a.headDim+d]
					dot += g * a.v.Data[vBase+j*a.headDim+d]
					dV.Data[vBase+j*a.headDim+d] += w * g
				}
				dAttn.Data[aBase+i*nk+j] = dot
			}
		}
	}
	dAttn = a.drop.Backward(dAttn)

	// Softmax backward per row, then distribute through the scaled scores.
	scale := 1 / math.Sqrt(float64(a.headDim))
	dQ := New(batch, a.heads, nq, a.headDim)
	dK := New(batch, a.heads, nk, a.headDim)
	for bh := 0; bh < batch*a.heads; bh++ {
		aBase := bh * nq * nk
		qBase := bh * nq * a.headDim
		kBase := bh * nk * a.headDim
		for i := 0; i < nq; i++ {
			rowDot := 0.0
			for j := 0; j < nk; j++ {
				rowDot += a.probs.Data[aBase+i*nk+j] * dAttn.Data[aBase+i*nk+j]
			}
			for j := 0; j < nk; j++ {
				w := a.probs.Data[aBase+i*nk+j]
				if w == 0 {
					continue
				}
				ds := w * (dAttn.Data[aBase+i*nk+j] - rowDot) * scale
				for d := 0; d < a.headDim; d++ {
					dQ.Data[qBase+i*a.headDim+d] += ds * a.k.Data[kBase+j*a.headDim+d]
					dK.Data[kBase+j*a.headDim+d] += ds * a.q.Data[qBase+i*a.headDim+d]
				}
			}
		}
	}

	dQuery = a.wq.Backward(a.mergeHeads(dQ))
	dKIn := a.wk.Backward(a.mergeHeads(dK))
	dVIn := a.wv.Backward(a.mergeHeads(dV))
	if a.selfAtt {
		for i := range dQuery.Data {
			dQuery.Data[i] += dKIn.Data[i] + dVIn.Data[i]
		}
		return dQuery, nil
	}
	dCtx = dKIn
	for i := range dCtx.Data {
		dCtx.Data[i] += dVIn.Data[i]
	}
	return dQuery, dCtx
}
