package diffusion

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/reeceomahoney/locodiff/pkg/diffusion/models"
	"github.com/reeceomahoney/locodiff/pkg/nn"
)

// Sampler types selectable from configuration.
const (
	SamplerDDPM       = "ddpm"
	SamplerDDIM       = "ddim"
	SamplerResampling = "resampling"
)

// Sampler turns pure noise into a clean trajectory with repeated denoiser
// evaluations.
type Sampler interface {
	Sample(model models.Denoiser, x *nn.Tensor, cond *models.Condition) *nn.Tensor
}

// NewSampler builds the configured sampler. steps is the number of denoising
// iterations; resamplingSteps and jumpLength are only used by the
// resampling variant.
func NewSampler(samplerType string, steps int, sigmaMin, sigmaMax float64, resamplingSteps, jumpLength int, rng *rand.Rand) (Sampler, error) {
	switch samplerType {
	case SamplerDDIM:
		return &DDIMSampler{Sigmas: SigmasExponential(steps, sigmaMin, sigmaMax)}, nil
	case SamplerResampling:
		return &ResamplingSampler{
			Sigmas:     SigmasExponential(steps, sigmaMin, sigmaMax),
			Repeats:    resamplingSteps,
			JumpLength: jumpLength,
			rng:        rng,
		}, nil
	case SamplerDDPM:
		return &DDPMSampler{Scheduler: NewDDPMScheduler(steps), rng: rng}, nil
	default:
		return nil, fmt.Errorf("diffusion: unknown sampler type %q", samplerType)
	}
}

// DDIMSampler runs the deterministic probability-flow update over a
// descending sigma schedule ending in zero.
type DDIMSampler struct {
	Sigmas []float64
}

func ddimStep(model models.Denoiser, x *nn.Tensor, cond *models.Condition, sigma, sigmaNext float64) *nn.Tensor {
	batch := x.Shape()[0]
	sigmas := make([]float64, batch)
	for b := range sigmas {
		sigmas[b] = sigma
	}
	denoised := model.Forward(x, sigmas, cond)
	ratio := sigmaNext / sigma
	out := nn.New(x.Shape()...)
	for i := range out.Data {
		out.Data[i] = denoised.Data[i] + (x.Data[i]-denoised.Data[i])*ratio
	}
	return out
}

func (s *DDIMSampler) Sample(model models.Denoiser, x *nn.Tensor, cond *models.Condition) *nn.Tensor {
	for i := 0; i < len(s.Sigmas)-1; i++ {
		x = ddimStep(model, x, cond, s.Sigmas[i], s.Sigmas[i+1])
	}
	return models.Inpaint(x, cond)
}

// ResamplingSampler interleaves the DDIM update with renoising jumps: each
// block of jumpLength steps is denoised, renoised back to the block start
// and repeated, harmonizing inpainted regions with the generated remainder.
type ResamplingSampler struct {
	Sigmas     []float64
	Repeats    int
	JumpLength int

	rng *rand.Rand
}

func (s *ResamplingSampler) Sample(model models.Denoiser, x *nn.Tensor, cond *models.Condition) *nn.Tensor {
	n := len(s.Sigmas) - 1
	for i := 0; i < n; {
		end := i + s.JumpLength
		if end > n {
			end = n
		}
		for r := 0; r < s.Repeats; r++ {
			y := x
			for j := i; j < end; j++ {
				y = ddimStep(model, y, cond, s.Sigmas[j], s.Sigmas[j+1])
			}
			if r == s.Repeats-1 {
				x = y
				break
			}
			// Renoise from the block end back up to the block start level.
			std := math.Sqrt(s.Sigmas[i]*s.Sigmas[i] - s.Sigmas[end]*s.Sigmas[end])
			renoised := nn.New(y.Shape()...)
			for k := range renoised.Data {
				renoised.Data[k] = y.Data[k] + s.rng.NormFloat64()*std
			}
			x = renoised
		}
		i = end
	}
	return models.Inpaint(x, cond)
}

// DDPMSampler walks the discrete reverse chain with the stochastic
// posterior update. Timesteps are embedded 1-based so the preconditioner's
// log-noise embedding stays finite.
type DDPMSampler struct {
	Scheduler *DDPMScheduler

	rng *rand.Rand
}

func (s *DDPMSampler) Sample(model models.Denoiser, x *nn.Tensor, cond *models.Condition) *nn.Tensor {
	batch := x.Shape()[0]
	sigmas := make([]float64, batch)
	for t := s.Scheduler.Timesteps - 1; t >= 0; t-- {
		for b := range sigmas {
			sigmas[b] = float64(t + 1)
		}
		eps := model.Forward(x, sigmas, cond)
		next := nn.New(x.Shape()...)
		for i := range next.Data {
			z := 0.0
			if t > 0 {
				z = s.rng.NormFloat64()
			}
			next.Data[i] = s.Scheduler.Step(x.Data[i], eps.Data[i], t, z)
		}
		x = next
	}
	return models.Inpaint(x, cond)
}
