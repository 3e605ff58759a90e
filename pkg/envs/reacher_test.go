package envs

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReacherDims(t *testing.T) {
	env := NewReacher(4, 100, rand.New(rand.NewSource(1)))

	assert.Equal(t, 4, env.ObsDim())
	assert.Equal(t, 2, env.ActDim())
	assert.Equal(t, 4, env.NumEnvs())
}

func TestReacherReset(t *testing.T) {
	env := NewReacher(3, 100, rand.New(rand.NewSource(1)))

	obs, err := env.Reset(context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 3)
	for i, o := range obs {
		require.Len(t, o, 4)
		assert.LessOrEqual(t, math.Abs(o[0]), 0.1)
		assert.LessOrEqual(t, math.Abs(o[1]), 0.1)
		assert.LessOrEqual(t, math.Abs(o[2]), 0.005)
		assert.LessOrEqual(t, math.Abs(o[3]), 0.005)

		radius := math.Hypot(env.targets[i][0], env.targets[i][1])
		assert.GreaterOrEqual(t, radius, 0.05)
		assert.LessOrEqual(t, radius, 0.2)
	}
}

func TestReacherTorqueAcceleratesJoint(t *testing.T) {
	env := NewReacher(1, 100, rand.New(rand.NewSource(1)))
	_, err := env.Reset(context.Background())
	require.NoError(t, err)
	env.state[0][2] = 0
	env.state[0][3] = 0

	result, err := env.Step(context.Background(), [][]float64{{1, 0}})
	require.NoError(t, err)

	assert.Greater(t, result.Obs[0][2], 0.0, "positive torque should accelerate joint 1")
	assert.Equal(t, 0.0, result.Obs[0][3], "unactuated joint should stay still")
}

func TestReacherVelocityClamp(t *testing.T) {
	env := NewReacher(1, 100, rand.New(rand.NewSource(1)))
	_, err := env.Reset(context.Background())
	require.NoError(t, err)
	env.state[0][2] = 100

	result, err := env.Step(context.Background(), [][]float64{{1, 0}})
	require.NoError(t, err)

	assert.LessOrEqual(t, math.Abs(result.Obs[0][2]), reacherMaxVel)
}

func TestReacherRewardNonPositive(t *testing.T) {
	env := NewReacher(2, 100, rand.New(rand.NewSource(3)))
	_, err := env.Reset(context.Background())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		result, err := env.Step(context.Background(), [][]float64{{0.5, -0.5}, {-1, 1}})
		require.NoError(t, err)
		for _, r := range result.Rewards {
			assert.LessOrEqual(t, r, 0.0)
		}
	}
}

func TestReacherDoneOnlyAtEpisodeEnd(t *testing.T) {
	env := NewReacher(1, 2, rand.New(rand.NewSource(1)))
	_, err := env.Reset(context.Background())
	require.NoError(t, err)
	firstTarget := env.targets[0]

	result, err := env.Step(context.Background(), [][]float64{{1, 1}})
	require.NoError(t, err)
	assert.False(t, result.Dones[0])

	result, err = env.Step(context.Background(), [][]float64{{1, 1}})
	require.NoError(t, err)
	assert.True(t, result.Dones[0])
	assert.NotEqual(t, firstTarget, env.targets[0], "auto-reset should draw a new target")
}

func TestReacherStepShapeErrors(t *testing.T) {
	env := NewReacher(2, 100, rand.New(rand.NewSource(1)))
	_, err := env.Reset(context.Background())
	require.NoError(t, err)

	_, err = env.Step(context.Background(), [][]float64{{0, 0}})
	assert.ErrorContains(t, err, "expected 2 actions")

	_, err = env.Step(context.Background(), [][]float64{{0, 0}, {0}})
	assert.ErrorContains(t, err, "expected 2 action values")
}

func TestFingertip(t *testing.T) {
	x, y := fingertip(0, 0)
	assert.InDelta(t, reacherLink1Len+reacherLink2Len, x, 1e-12)
	assert.InDelta(t, 0.0, y, 1e-12)

	x, y = fingertip(math.Pi/2, 0)
	assert.InDelta(t, 0.0, x, 1e-12)
	assert.InDelta(t, reacherLink1Len+reacherLink2Len, y, 1e-12)
}

func TestWrapAngle(t *testing.T) {
	assert.InDelta(t, 0.1-math.Pi, wrapAngle(math.Pi+0.1), 1e-12)
	assert.InDelta(t, math.Pi-0.1, wrapAngle(-math.Pi-0.1), 1e-12)
	assert.InDelta(t, 0.5, wrapAngle(0.5), 1e-12)
}
