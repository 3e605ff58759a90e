package config

import "fmt"

// Diffusion sampler names accepted by PolicyConfig.Sampler.
const (
	SamplerDDPM       = "ddpm"
	SamplerDDIM       = "ddim"
	SamplerResampling = "resampling"
)

// PolicyConfig holds the diffusion policy hyperparameters.
type PolicyConfig struct {
	// ObsDim and ActDim are placeholders (0 or null in documents) filled
	// from the environment before training.
	ObsDim int `yaml:"obs_dim,omitempty"`
	ActDim int `yaml:"act_dim,omitempty"`

	// SamplingSteps is the number of denoising steps at inference.
	SamplingSteps int `yaml:"sampling_steps,omitempty"`

	// Sampler selects the denoising procedure: ddpm, ddim, or resampling.
	Sampler string `yaml:"sampler,omitempty"`

	// SigmaData, SigmaMin, and SigmaMax parameterize the Karras
	// preconditioning and the inference noise schedule.
	SigmaData float64 `yaml:"sigma_data,omitempty"`
	SigmaMin  float64 `yaml:"sigma_min,omitempty"`
	SigmaMax  float64 `yaml:"sigma_max,omitempty"`

	// CondLambda is the classifier-free guidance scale; CondMaskProb the
	// conditioning dropout probability during training (0 disables CFG).
	CondLambda   float64 `yaml:"cond_lambda,omitempty"`
	CondMaskProb float64 `yaml:"cond_mask_prob,omitempty"`

	// Optimizer settings.
	LR          float64   `yaml:"lr,omitempty"`
	Betas       []float64 `yaml:"betas,omitempty"`
	WeightDecay float64   `yaml:"weight_decay,omitempty"`
	GradClip    float64   `yaml:"grad_clip,omitempty"`

	// InpaintObs constrains the observed prefix of sampled trajectories;
	// InpaintFinalObs additionally pins the final observation to
	// FinalObsTarget.
	InpaintObs      bool      `yaml:"inpaint_obs,omitempty"`
	InpaintFinalObs bool      `yaml:"inpaint_final_obs,omitempty"`
	FinalObsTarget  []float64 `yaml:"final_obs_target,omitempty"`

	// ResamplingSteps and JumpLength drive the resampling sampler's
	// renoise loops.
	ResamplingSteps int `yaml:"resampling_steps,omitempty"`
	JumpLength      int `yaml:"jump_length,omitempty"`
}

// SetDefaults applies default values.
func (c *PolicyConfig) SetDefaults() {
	if c.SamplingSteps == 0 {
		c.SamplingSteps = 10
	}
	if c.Sampler == "" {
		c.Sampler = SamplerDDIM
	}
	if c.SigmaData == 0 {
		c.SigmaData = 0.5
	}
	if c.SigmaMin == 0 {
		c.SigmaMin = 0.002
	}
	if c.SigmaMax == 0 {
		c.SigmaMax = 80
	}
	if c.CondLambda == 0 {
		c.CondLambda = 1
	}
	if c.LR == 0 {
		c.LR = 1e-4
	}
	if len(c.Betas) == 0 {
		c.Betas = []float64{0.9, 0.999}
	}
}

// Validate checks the policy configuration.
func (c *PolicyConfig) Validate() error {
	if c.ObsDim < 0 || c.ActDim < 0 {
		return fmt.Errorf("obs_dim and act_dim must be non-negative")
	}
	if c.SamplingSteps < 1 {
		return fmt.Errorf("sampling_steps must be positive")
	}

	switch c.Sampler {
	case SamplerDDPM, SamplerDDIM, SamplerResampling:
	default:
		return fmt.Errorf("invalid sampler %q (valid: ddpm, ddim, resampling)", c.Sampler)
	}

	if c.SigmaData <= 0 {
		return fmt.Errorf("sigma_data must be positive")
	}
	if c.SigmaMin <= 0 || c.SigmaMax <= 0 {
		return fmt.Errorf("sigma_min and sigma_max must be positive")
	}
	if c.SigmaMin >= c.SigmaMax {
		return fmt.Errorf("sigma_min (%g) must be less than sigma_max (%g)", c.SigmaMin, c.SigmaMax)
	}

	if c.CondMaskProb < 0 || c.CondMaskProb > 1 {
		return fmt.Errorf("cond_mask_prob must be in [0, 1]")
	}

	if c.LR <= 0 {
		return fmt.Errorf("lr must be positive")
	}
	if len(c.Betas) != 2 {
		return fmt.Errorf("betas must have exactly 2 entries, got %d", len(c.Betas))
	}
	for i, b := range c.Betas {
		if b < 0 || b >= 1 {
			return fmt.Errorf("betas[%d] must be in [0, 1), got %g", i, b)
		}
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be non-negative")
	}
	if c.GradClip < 0 {
		return fmt.Errorf("grad_clip must be non-negative")
	}

	if c.Sampler == SamplerResampling {
		if c.ResamplingSteps < 1 {
			return fmt.Errorf("resampling_steps must be positive for the resampling sampler")
		}
		if c.JumpLength < 1 {
			return fmt.Errorf("jump_length must be positive for the resampling sampler")
		}
	}

	return nil
}
