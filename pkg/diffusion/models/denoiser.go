// Package models contains the denoising backbones (a conditional 1-D UNet
// and an encoder/decoder transformer) plus the preconditioning and
// classifier-free-guidance wrappers that turn a backbone into a trainable
// denoiser.
package models

import "github.com/reeceomahoney/locodiff/pkg/nn"

// Condition carries everything a denoiser is conditioned on for one batch.
type Condition struct {
	// Obs is the normalized observation history [batch, T_cond, obs_dim].
	Obs *nn.Tensor

	// Tgt and Mask constrain known trajectory values during sampling
	// (observation inpainting). Mask entries are 1 where Tgt is authoritative.
	// Both are nil during training.
	Tgt  *nn.Tensor
	Mask *nn.Tensor
}

// clone returns a shallow copy sharing the inpainting tensors, used by
// wrappers that substitute the observation conditioning.
func (c *Condition) clone() *Condition {
	return &Condition{Obs: c.Obs, Tgt: c.Tgt, Mask: c.Mask}
}

// Inpaint overwrites the masked region of x with the known target values.
// Wrappers apply it before every denoiser evaluation and samplers apply it
// to the final trajectory so masked entries match Tgt exactly.
func Inpaint(x *nn.Tensor, cond *Condition) *nn.Tensor {
	if cond == nil || cond.Mask == nil {
		return x
	}
	y := x.Clone()
	for i := range y.Data {
		m := cond.Mask.Data[i]
		y.Data[i] = (1-m)*y.Data[i] + m*cond.Tgt.Data[i]
	}
	return y
}

// Backbone is a raw denoising network F_theta over [batch, length, dim]
// trajectories. sigma holds one preconditioned noise value per batch sample.
type Backbone interface {
	Forward(x *nn.Tensor, sigma []float64, cond *Condition) *nn.Tensor
	Backward(grad *nn.Tensor)
	Params() []*nn.Tensor
	SetTraining(training bool)
}

// Denoiser is a backbone wrapped for training and sampling; sigma here is
// the raw noise level (or DDPM timestep). Backward is only valid after a
// single-pass Forward in training mode.
type Denoiser interface {
	Forward(x *nn.Tensor, sigma []float64, cond *Condition) *nn.Tensor
	Backward(grad *nn.Tensor)
	Loss(input, noise *nn.Tensor, sigma []float64, cond *Condition) float64
	Params() []*nn.Tensor
	SetTraining(training bool)
}
