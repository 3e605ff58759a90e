package envs

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

const (
	reacherLink1Len  = 0.1
	reacherLink2Len  = 0.11
	reacherDamping   = 1.0
	reacherInertia   = 0.1
	reacherTau       = 0.02
	reacherMaxVel    = 5.0
	reacherMaxTorque = 1.0
)

// Reacher is a vectorized two-link planar arm under joint torque control.
// Observations are [q1, q2, qd1, qd2]; actions are the two joint torques in
// [-1, 1]. Each episode draws a fresh fingertip target; the distance to it
// shapes the reward. Episodes run to the configured length, there are no
// failure states.
type Reacher struct {
	numEnvs       int
	episodeLength int
	rng           *rand.Rand

	state   [][]float64
	targets [][2]float64
	steps   []int
}

// NewReacher builds numEnvs reacher instances sharing one RNG.
func NewReacher(numEnvs, episodeLength int, rng *rand.Rand) *Reacher {
	env := &Reacher{
		numEnvs:       numEnvs,
		episodeLength: episodeLength,
		rng:           rng,
		state:         make([][]float64, numEnvs),
		targets:       make([][2]float64, numEnvs),
		steps:         make([]int, numEnvs),
	}
	for i := range env.state {
		env.state[i] = make([]float64, 4)
	}
	return env
}

func (e *Reacher) ObsDim() int  { return 4 }
func (e *Reacher) ActDim() int  { return 2 }
func (e *Reacher) NumEnvs() int { return e.numEnvs }

// Reset restarts every instance with small random joint state and a new
// target.
func (e *Reacher) Reset(ctx context.Context) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i := range e.state {
		e.resetInstance(i)
	}
	return e.Observations(), nil
}

func (e *Reacher) resetInstance(i int) {
	e.state[i][0] = e.rng.Float64()*0.2 - 0.1
	e.state[i][1] = e.rng.Float64()*0.2 - 0.1
	e.state[i][2] = e.rng.Float64()*0.01 - 0.005
	e.state[i][3] = e.rng.Float64()*0.01 - 0.005
	e.steps[i] = 0

	// Target on a reachable disk around the shoulder.
	radius := 0.05 + e.rng.Float64()*0.15
	angle := e.rng.Float64() * 2 * math.Pi
	e.targets[i] = [2]float64{radius * math.Cos(angle), radius * math.Sin(angle)}
}

// Step applies the joint torques and integrates the damped dynamics by one
// tick.
func (e *Reacher) Step(ctx context.Context, actions [][]float64) (*StepResult, error) {
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
		if len(actions[i]) != 2 {
			return nil, fmt.Errorf("instance %d: expected 2 action values, got %d", i, len(actions[i]))
		}
		torque := [2]float64{
			clip(actions[i][0], -reacherMaxTorque, reacherMaxTorque),
			clip(actions[i][1], -reacherMaxTorque, reacherMaxTorque),
		}

		for j := 0; j < 2; j++ {
			q, qd := e.state[i][j], e.state[i][2+j]
			qdd := (torque[j] - reacherDamping*qd) / reacherInertia
			qd = clip(qd+reacherTau*qdd, -reacherMaxVel, reacherMaxVel)
			q = wrapAngle(q + reacherTau*qd)
			e.state[i][j], e.state[i][2+j] = q, qd
		}
		e.steps[i]++

		fx, fy := fingertip(e.state[i][0], e.state[i][1])
		dx, dy := fx-e.targets[i][0], fy-e.targets[i][1]
		dist2 := dx*dx + dy*dy
		ctrl := torque[0]*torque[0] + torque[1]*torque[1]

		result.Rewards[i] = -dist2 - 0.01*ctrl
		done := e.steps[i] >= e.episodeLength
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
func (e *Reacher) Observations() [][]float64 {
	return cloneBatch(e.state)
}

func (e *Reacher) Close() error { return nil }

func fingertip(q1, q2 float64) (x, y float64) {
	x = reacherLink1Len*math.Cos(q1) + reacherLink2Len*math.Cos(q1+q2)
	y = reacherLink1Len*math.Sin(q1) + reacherLink2Len*math.Sin(q1+q2)
	return x, y
}

func wrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
