package envs

import "fmt"

// Expert is a scripted controller that produces demonstration actions for a
// built-in task. Experts are stateless: actions depend only on the current
// observation batch.
type Expert interface {
	Act(obs [][]float64) [][]float64
}

// NewExpert returns the scripted expert for a built-in task.
func NewExpert(task string) (Expert, error) {
	switch task {
	case "cartpole":
		return CartpoleExpert{}, nil
	case "reacher":
		return ReacherExpert{}, nil
	default:
		return nil, fmt.Errorf("no scripted expert for task %q (available: cartpole, reacher)", task)
	}
}

// CartpoleExpert stabilizes the pole with linear state feedback.
type CartpoleExpert struct{}

// Act maps [x, x_dot, theta, theta_dot] to a single normalized force.
func (CartpoleExpert) Act(obs [][]float64) [][]float64 {
	actions := make([][]float64, len(obs))
	for i, o := range obs {
		force := 0.1*o[0] + 0.2*o[1] + 2.0*o[2] + 0.3*o[3]
		actions[i] = []float64{clip(force, -1, 1)}
	}
	return actions
}

// Reacher demonstrations drive the arm to a fixed goal pose so collected
// trajectories share a common terminal state.
var reacherGoal = [2]float64{1, 0}

// ReacherExpert runs joint-space PD control toward the goal pose.
type ReacherExpert struct{}

// Act maps [q1, q2, qd1, qd2] to two normalized joint torques.
func (ReacherExpert) Act(obs [][]float64) [][]float64 {
	const kp, kd = 2.0, 0.6

	actions := make([][]float64, len(obs))
	for i, o := range obs {
		actions[i] = make([]float64, 2)
		for j := 0; j < 2; j++ {
			torque := kp*wrapAngle(reacherGoal[j]-o[j]) - kd*o[2+j]
			actions[i][j] = clip(torque, -1, 1)
		}
	}
	return actions
}
