package envs

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

// Classic cartpole constants (Barto, Sutton & Anderson).
const (
	cartpoleGravity        = 9.8
	cartpoleMassCart       = 1.0
	cartpoleMassPole       = 0.1
	cartpolePoleHalfLen    = 0.5
	cartpoleForceMag       = 10.0
	cartpoleTau            = 0.02
	cartpoleXThreshold     = 2.4
	cartpoleThetaThreshold = 12 * math.Pi / 180
)

// Cartpole is a vectorized cart-pole balancing task with continuous force
// control. Observations are [x, x_dot, theta, theta_dot]; the single action
// in [-1, 1] scales the maximum push force.
type Cartpole struct {
	numEnvs       int
	episodeLength int
	rng           *rand.Rand

	state [][]float64
	steps []int
}

// NewCartpole builds numEnvs cartpole instances sharing one RNG.
func NewCartpole(numEnvs, episodeLength int, rng *rand.Rand) *Cartpole {
	env := &Cartpole{
		numEnvs:       numEnvs,
		episodeLength: episodeLength,
		rng:           rng,
		state:         make([][]float64, numEnvs),
		steps:         make([]int, numEnvs),
	}
	for i := range env.state {
		env.state[i] = make([]float64, 4)
	}
	return env
}

func (e *Cartpole) ObsDim() int  { return 4 }
func (e *Cartpole) ActDim() int  { return 1 }
func (e *Cartpole) NumEnvs() int { return e.numEnvs }

// Reset restarts every instance near the upright equilibrium.
func (e *Cartpole) Reset(ctx context.Context) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i := range e.state {
		e.resetInstance(i)
	}
	return e.Observations(), nil
}

func (e *Cartpole) resetInstance(i int) {
	for j := range e.state[i] {
		e.state[i][j] = e.rng.Float64()*0.1 - 0.05
	}
	e.steps[i] = 0
}

// Step applies one force per instance and integrates the dynamics by one
// tick. Failed or timed-out instances auto-reset.
func (e *Cartpole) Step(ctx context.Context, actions [][]float64) (*StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(actions) != e.numEnvs {
		return nil, fmt.Errorf("expected %d actions, got %d", e.numEnvs, len(actions))
	}

	result := &StepResult{
		Obs:     make([][]float64, e.numEnvs),
		Rewards: make([]float64, e.numEnvs),
		Dones:   make([]bool, e.numEnvs),
	}

	for i := 0; i < e.numEnvs; i++ {
		if len(actions[i]) != 1 {
			return nil, fmt.Errorf("instance %d: expected 1 action value, got %d", i, len(actions[i]))
		}
		force := clip(actions[i][0], -1, 1) * cartpoleForceMag

		x, xDot, theta, thetaDot := e.state[i][0], e.state[i][1], e.state[i][2], e.state[i][3]
		cosTheta := math.Cos(theta)
		sinTheta := math.Sin(theta)

		totalMass := cartpoleMassCart + cartpoleMassPole
		poleMassLength := cartpoleMassPole * cartpolePoleHalfLen

		temp := (force + poleMassLength*thetaDot*thetaDot*sinTheta) / totalMass
		thetaAcc := (cartpoleGravity*sinTheta - cosTheta*temp) /
			(cartpolePoleHalfLen * (4.0/3.0 - cartpoleMassPole*cosTheta*cosTheta/totalMass))
		xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

		x += cartpoleTau * xDot
		xDot += cartpoleTau * xAcc
		theta += cartpoleTau * thetaDot
		thetaDot += cartpoleTau * thetaAcc

		e.state[i][0], e.state[i][1], e.state[i][2], e.state[i][3] = x, xDot, theta, thetaDot
		e.steps[i]++

		failed := math.Abs(x) > cartpoleXThreshold || math.Abs(theta) > cartpoleThetaThreshold
		done := failed || e.steps[i] >= e.episodeLength

		// Shaped reward: 1 at center/upright, falling off toward the
		// failure thresholds.
		reward := 1.0 -
			0.5*math.Abs(x)/cartpoleXThreshold -
			0.5*math.Abs(theta)/cartpoleThetaThreshold
		if failed {
			reward = 0
		}

		result.Rewards[i] = reward
		result.Dones[i] = done
		if done {
			e.resetInstance(i)
		}
		result.Obs[i] = make([]float64, 4)
		copy(result.Obs[i], e.state[i])
	}

	return result, nil
}

// Observations returns a copy of the current state of every instance.
func (e *Cartpole) Observations() [][]float64 {
	return cloneBatch(e.state)
}

func (e *Cartpole) Close() error { return nil }
