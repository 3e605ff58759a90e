package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorShape(t *testing.T) {
	x := New(2, 3, 4)
	assert.Equal(t, []int{2, 3, 4}, x.Shape())
	assert.Equal(t, 24, x.Size())
	assert.Equal(t, 3, x.Dims())

	y := x.Reshape(6, 4)
	assert.Equal(t, []int{6, 4}, y.Shape())

	// Reshape is a view: writes through one alias are visible in the other.
	y.Data[0] = 7
	assert.Equal(t, 7.0, x.Data[0])

	assert.Panics(t, func() { x.Reshape(5, 5) })
}

func TestTensorAtSet(t *testing.T) {
	x := New(2, 3)
	x.Set(4.5, 1, 2)
	assert.Equal(t, 4.5, x.At(1, 2))
	assert.Equal(t, 4.5, x.Data[5])
}

func TestFromSlice(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, 2.0, x.At(0, 1))
	assert.Equal(t, 6.0, x.At(1, 2))

	assert.Panics(t, func() { FromSlice([]float64{1, 2}, 3) })
}

func TestClone(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3, 4}, 2, 2)
	y := x.Clone()
	y.Data[0] = 99
	assert.Equal(t, 1.0, x.Data[0])
}

func TestMatMul(t *testing.T) {
	a := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	b := FromSlice([]float64{7, 8, 9, 10, 11, 12}, 3, 2)
	c := MatMul(a, b)
	require.Equal(t, []int{2, 2}, c.Shape())
	assert.InDeltaSlice(t, []float64{58, 64, 139, 154}, c.Data, 1e-12)
}

func TestMatMulBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := NewRandn(rng, 1, 3, 4)
	b := NewRandn(rng, 1, 4, 2)
	gradC := NewRandn(rng, 1, 3, 2)

	dA, dB := MatMulBackward(a, b, gradC)

	loss := func() float64 {
		c := MatMul(a, b)
		sum := 0.0
		for i, v := range c.Data {
			sum += v * gradC.Data[i]
		}
		return sum
	}
	const h = 1e-6
	for i := range a.Data {
		orig := a.Data[i]
		a.Data[i] = orig + h
		up := loss()
		a.Data[i] = orig - h
		down := loss()
		a.Data[i] = orig
		assert.InDelta(t, (up-down)/(2*h), dA.Data[i], 1e-5)
	}
	for i := range b.Data {
		orig := b.Data[i]
		b.Data[i] = orig + h
		up := loss()
		b.Data[i] = orig - h
		down := loss()
		b.Data[i] = orig
		assert.InDelta(t, (up-down)/(2*h), dB.Data[i], 1e-5)
	}
}

func TestSoftmaxRows(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3, 1000, 1001, 1002}, 2, 3)
	y := SoftmaxRows(x)
	for r := 0; r < 2; r++ {
		sum := 0.0
		for j := 0; j < 3; j++ {
			sum += y.At(r, j)
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
	// Large logits must not overflow and both rows share the same profile.
	assert.InDelta(t, y.At(0, 2), y.At(1, 2), 1e-12)
}

func TestStateDictRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	l := NewLinear(rng, "fc", 3, 2, true)

	state, err := StateDict(l.Params())
	require.NoError(t, err)

	l2 := NewLinear(rand.New(rand.NewSource(3)), "fc", 3, 2, true)
	require.NoError(t, LoadStateDict(l2.Params(), state))
	assert.Equal(t, l.W.Data, l2.W.Data)
	assert.Equal(t, l.B.Data, l2.B.Data)

	err = LoadStateDict(l2.Params(), map[string][]float64{"fc.w": {1}})
	assert.Error(t, err)
}

func TestStateDictRejectsDuplicates(t *testing.T) {
	a := ZeroParam("p", 2)
	b := ZeroParam("p", 2)
	_, err := StateDict([]*Tensor{a, b})
	assert.Error(t, err)
}
