package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Linear is a fully connected layer over the last dimension. Inputs are
// treated as [rows, in] where rows is the product of the leading dims.
type Linear struct {
	baseModule

	W *Tensor // [in, out]
	B *Tensor // [out], nil when bias is disabled

	in, out int

	x *Tensor // cached input from the last Forward
}

// NewLinear creates a linear layer with Kaiming-style initialization.
func NewLinear(rng *rand.Rand, name string, in, out int, bias bool) *Linear {
	l := &Linear{
		W:   Param(rng, name+".w", 1/math.Sqrt(float64(in)), in, out),
		in:  in,
		out: out,
	}
	if bias {
		l.B = NoDecay(ZeroParam(name+".b", out))
	}
	return l
}

func (l *Linear) Params() []*Tensor {
	if l.B == nil {
		return []*Tensor{l.W}
	}
	return []*Tensor{l.W, l.B}
}

// Forward computes x·W + B. The last dimension of x must equal in; the
// output keeps the leading dimensions and replaces the last with out.
func (l *Linear) Forward(x *Tensor) *Tensor {
	dims := x.Shape()
	last := dims[len(dims)-1]
	if last != l.in {
		panic(fmt.Sprintf("nn: linear input dim %d, want %d", last, l.in))
	}
	rows := x.Size() / last
	l.x = x

	flat := x.Reshape(rows, last)
	y := MatMul(flat, l.W)
	if l.B != nil {
		for i := 0; i < rows; i++ {
			for j := 0; j < l.out; j++ {
				y.Data[i*l.out+j] += l.B.Data[j]
			}
		}
	}
	outDims := append(append([]int(nil), dims[:len(dims)-1]...), l.out)
	return y.Reshape(outDims...)
}

// Backward accumulates parameter gradients and returns the input gradient,
// shaped like the cached input.
func (l *Linear) Backward(gradY *Tensor) *Tensor {
	rows := l.x.Size() / l.in
	flat := l.x.Reshape(rows, l.in)
	grad := gradY.Reshape(rows, l.out)

	dX, dW := MatMulBackward(flat, l.W, grad)
	l.W.AddGrad(dW.Data)
	if l.B != nil {
		for i := 0; i < rows; i++ {
			for j := 0; j < l.out; j++ {
				l.B.Grad[j] += grad.Data[i*l.out+j]
			}
		}
	}
	return dX.Reshape(l.x.Shape()...)
}
