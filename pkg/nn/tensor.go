// Package nn implements the small tensor and layer toolkit the diffusion
// backbones are built from: float64 tensors, explicit per-layer forward and
// backward passes, and an AdamW optimizer with cosine annealing.
//
// Layers cache whatever the backward pass needs during Forward, so a
// training step is always Forward → Backward → Step on a single goroutine.
// Inference-only paths (samplers, rollouts) just never call Backward.
package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Tensor is a dense row-major array of float64 values with a gradient
// buffer of the same size. Tensors are not safe for concurrent use.
type Tensor struct {
	Data []float64
	Grad []float64

	shape []int

	// name identifies parameter tensors in checkpoint state dicts.
	name string

	// noDecay excludes the tensor from AdamW weight decay (biases, norm
	// gains, embeddings).
	noDecay bool
}

// New creates a zero tensor with the given shape.
func New(shape ...int) *Tensor {
	size := checkShape(shape)
	return &Tensor{
		Data:  make([]float64, size),
		Grad:  make([]float64, size),
		shape: append([]int(nil), shape...),
	}
}

// NewRandn creates a tensor with values drawn from N(0, std²).
func NewRandn(rng *rand.Rand, std float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64() * std
	}
	return t
}

// FromSlice creates a tensor that adopts data (no copy). The data length
// must match the shape.
func FromSlice(data []float64, shape ...int) *Tensor {
	size := checkShape(shape)
	if len(data) != size {
		panic(fmt.Sprintf("nn: data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{
		Data:  data,
		Grad:  make([]float64, size),
		shape: append([]int(nil), shape...),
	}
}

func checkShape(shape []int) int {
	if len(shape) == 0 {
		panic("nn: shape cannot be empty")
	}
	size := 1
	for i, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("nn: shape[%d] must be positive, got %d", i, d))
		}
		size *= d
	}
	return size
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Dims returns the rank of the tensor.
func (t *Tensor) Dims() int { return len(t.shape) }

// Size returns the total number of elements.
func (t *Tensor) Size() int { return len(t.Data) }

// Name returns the parameter name, empty for activations.
func (t *Tensor) Name() string { return t.name }

// NoDecay reports whether the tensor is excluded from weight decay.
func (t *Tensor) NoDecay() bool { return t.noDecay }

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float64 {
	return t.Data[t.flatIndex(indices)]
}

// Set stores v at the given indices.
func (t *Tensor) Set(v float64, indices ...int) {
	t.Data[t.flatIndex(indices)] = v
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("nn: expected %d indices, got %d", len(t.shape), len(indices)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("nn: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}
	return idx
}

// Reshape returns a view over the same data with a new shape. The total
// element count must be unchanged; the gradient buffer is shared too.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	size := checkShape(shape)
	if size != len(t.Data) {
		panic(fmt.Sprintf("nn: cannot reshape %v to %v", t.shape, shape))
	}
	return &Tensor{
		Data:  t.Data,
		Grad:  t.Grad,
		shape: append([]int(nil), shape...),
	}
}

// Clone returns a deep copy of the tensor's data (gradients start at zero).
func (t *Tensor) Clone() *Tensor {
	c := New(t.shape...)
	copy(c.Data, t.Data)
	return c
}

// ZeroGrad clears the gradient buffer.
func (t *Tensor) ZeroGrad() {
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// AddGrad accumulates g into the gradient buffer.
func (t *Tensor) AddGrad(g []float64) {
	if len(g) != len(t.Grad) {
		panic(fmt.Sprintf("nn: gradient length %d does not match %d", len(g), len(t.Grad)))
	}
	for i, v := range g {
		t.Grad[i] += v
	}
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// MatMul computes C = A·B for 2-D tensors (m,k)·(k,n) → (m,n).
func MatMul(a, b *Tensor) *Tensor {
	if a.Dims() != 2 || b.Dims() != 2 || a.shape[1] != b.shape[0] {
		panic(fmt.Sprintf("nn: matmul shape mismatch %v x %v", a.shape, b.shape))
	}
	m, k, n := a.shape[0], a.shape[1], b.shape[1]
	c := New(m, n)
	for i := 0; i < m; i++ {
		ai := a.Data[i*k : (i+1)*k]
		ci := c.Data[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := ai[p]
			if av == 0 {
				continue
			}
			bp := b.Data[p*n : (p+1)*n]
			for j := 0; j < n; j++ {
				ci[j] += av * bp[j]
			}
		}
	}
	return c
}

// MatMulBackward computes the input gradients of C = A·B given dC.
// Returns (dA, dB) where dA = dC·Bᵀ and dB = Aᵀ·dC.
func MatMulBackward(a, b, gradC *Tensor) (*Tensor, *Tensor) {
	m, k, n := a.shape[0], a.shape[1], b.shape[1]
	gradA := New(m, k)
	gradB := New(k, n)
	for i := 0; i < m; i++ {
		gi := gradC.Data[i*n : (i+1)*n]
		ai := a.Data[i*k : (i+1)*k]
		gai := gradA.Data[i*k : (i+1)*k]
		for p := 0; p < k; p++ {
			bp := b.Data[p*n : (p+1)*n]
			gbp := gradB.Data[p*n : (p+1)*n]
			var s float64
			for j := 0; j < n; j++ {
				s += gi[j] * bp[j]
				gbp[j] += ai[p] * gi[j]
			}
			gai[p] = s
		}
	}
	return gradA, gradB
}

// Transpose returns the transpose of a 2-D tensor.
func Transpose(t *Tensor) *Tensor {
	if t.Dims() != 2 {
		panic("nn: transpose expects a 2-D tensor")
	}
	m, n := t.shape[0], t.shape[1]
	out := New(n, m)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.Data[j*m+i] = t.Data[i*n+j]
		}
	}
	return out
}

// Add returns a + b elementwise. Shapes must match.
func Add(a, b *Tensor) *Tensor {
	if a.Size() != b.Size() {
		panic(fmt.Sprintf("nn: add size mismatch %v vs %v", a.shape, b.shape))
	}
	out := New(a.shape...)
	for i := range out.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return out
}

// Scale returns t·s elementwise.
func Scale(t *Tensor, s float64) *Tensor {
	out := New(t.shape...)
	for i := range out.Data {
		out.Data[i] = t.Data[i] * s
	}
	return out
}

// SoftmaxRows applies a numerically stable softmax to each row of a 2-D
// tensor.
func SoftmaxRows(t *Tensor) *Tensor {
	m, n := t.shape[0], t.shape[1]
	out := New(m, n)
	for i := 0; i < m; i++ {
		row := t.Data[i*n : (i+1)*n]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float64
		o := out.Data[i*n : (i+1)*n]
		for j, v := range row {
			e := math.Exp(v - max)
			o[j] = e
			sum += e
		}
		for j := range o {
			o[j] /= sum
		}
	}
	return out
}

// SoftmaxRowsBackward computes the gradient through SoftmaxRows given the
// softmax output and the upstream gradient.
func SoftmaxRowsBackward(softmax, grad *Tensor) *Tensor {
	m, n := softmax.shape[0], softmax.shape[1]
	out := New(m, n)
	for i := 0; i < m; i++ {
		s := softmax.Data[i*n : (i+1)*n]
		g := grad.Data[i*n : (i+1)*n]
		var dot float64
		for j := 0; j < n; j++ {
			dot += s[j] * g[j]
		}
		o := out.Data[i*n : (i+1)*n]
		for j := 0; j < n; j++ {
			o[j] = s[j] * (g[j] - dot)
		}
	}
	return out
}
