package diffusion

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigmasExponential(t *testing.T) {
	sigmas := SigmasExponential(10, 0.002, 80)

	require.Len(t, sigmas, 11)
	assert.InDelta(t, 80, sigmas[0], 1e-12)
	assert.InDelta(t, 0.002, sigmas[9], 1e-12)
	assert.Zero(t, sigmas[10])
	for i := 1; i < 10; i++ {
		assert.Less(t, sigmas[i], sigmas[i-1])
	}
}

func TestSigmasLinear(t *testing.T) {
	sigmas := SigmasLinear(5, 1, 9)

	require.Len(t, sigmas, 6)
	assert.InDelta(t, 9, sigmas[0], 1e-12)
	assert.InDelta(t, 7, sigmas[1], 1e-12)
	assert.InDelta(t, 1, sigmas[4], 1e-12)
	assert.Zero(t, sigmas[5])
}

func TestSigmasSingleStep(t *testing.T) {
	sigmas := SigmasExponential(1, 0.002, 80)
	require.Len(t, sigmas, 2)
	assert.InDelta(t, 80, sigmas[0], 1e-12)
	assert.Zero(t, sigmas[1])
}

func TestRandLogLogisticBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		s := RandLogLogistic(rng, math.Log(0.5), 0.5, 0.002, 80)
		assert.GreaterOrEqual(t, s, 0.002)
		assert.LessOrEqual(t, s, 80.0)
	}
}

func TestDDPMSchedulerRamp(t *testing.T) {
	s := NewDDPMScheduler(50)

	prev := 1.0
	for i := 0; i < 50; i++ {
		assert.Greater(t, s.betas[i], 0.0)
		assert.LessOrEqual(t, s.betas[i], 0.999)
		assert.Less(t, s.alphaBar[i], prev)
		assert.Greater(t, s.alphaBar[i], 0.0)
		prev = s.alphaBar[i]
	}
}

func TestDDPMAddNoise(t *testing.T) {
	s := NewDDPMScheduler(10)

	ab := s.alphaBar[3]
	got := s.AddNoise(0.5, -1.2, 3)
	want := math.Sqrt(ab)*0.5 + math.Sqrt(1-ab)*(-1.2)
	assert.InDelta(t, want, got, 1e-12)
}

func TestDDPMStepFinalIsDeterministic(t *testing.T) {
	s := NewDDPMScheduler(10)

	// At t == 0 the posterior variance is dropped, so z must not matter.
	a := s.Step(0.3, 0.1, 0, 5)
	b := s.Step(0.3, 0.1, 0, -5)
	assert.Equal(t, a, b)
}
