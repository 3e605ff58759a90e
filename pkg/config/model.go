package config

import "fmt"

// Denoising backbone types accepted by ModelConfig.Type.
const (
	ModelUNet        = "unet"
	ModelTransformer = "transformer"
)

// ModelConfig selects and parameterizes the denoising backbone. Documents
// usually bring this section in through the defaults list
// (e.g. "- model: unet").
type ModelConfig struct {
	// Type is "unet" or "transformer".
	Type string `yaml:"type,omitempty"`

	// UNet settings.
	SigmaEmbedDim int   `yaml:"sigma_embed_dim,omitempty"`
	DownDims      []int `yaml:"down_dims,omitempty"`
	KernelSize    int   `yaml:"kernel_size,omitempty"`
	NGroups       int   `yaml:"n_groups,omitempty"`

	// Transformer settings.
	DModel      int     `yaml:"d_model,omitempty"`
	NHeads      int     `yaml:"n_heads,omitempty"`
	NLayers     int     `yaml:"n_layers,omitempty"`
	NCondLayers int     `yaml:"n_cond_layers,omitempty"`
	Dropout     float64 `yaml:"dropout,omitempty"`
}

// SetDefaults applies default values.
func (c *ModelConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ModelUNet
	}

	if c.SigmaEmbedDim == 0 {
		c.SigmaEmbedDim = 64
	}
	if len(c.DownDims) == 0 {
		c.DownDims = []int{64, 128, 256}
	}
	if c.KernelSize == 0 {
		c.KernelSize = 5
	}
	if c.NGroups == 0 {
		c.NGroups = 8
	}

	if c.DModel == 0 {
		c.DModel = 128
	}
	if c.NHeads == 0 {
		c.NHeads = 4
	}
	if c.NLayers == 0 {
		c.NLayers = 4
	}
	if c.NCondLayers == 0 {
		c.NCondLayers = 2
	}
}

// Validate checks the model configuration.
func (c *ModelConfig) Validate() error {
	switch c.Type {
	case ModelUNet, ModelTransformer:
	default:
		return fmt.Errorf("invalid type %q (valid: unet, transformer)", c.Type)
	}

	if c.SigmaEmbedDim < 1 {
		return fmt.Errorf("sigma_embed_dim must be positive")
	}
	if len(c.DownDims) == 0 {
		return fmt.Errorf("down_dims must not be empty")
	}
	for i, d := range c.DownDims {
		if d < 1 {
			return fmt.Errorf("down_dims[%d] must be positive", i)
		}
		if d%c.NGroups != 0 {
			return fmt.Errorf("down_dims[%d] (%d) must be divisible by n_groups (%d)", i, d, c.NGroups)
		}
	}
	if c.KernelSize < 1 || c.KernelSize%2 == 0 {
		return fmt.Errorf("kernel_size must be a positive odd number, got %d", c.KernelSize)
	}
	if c.NGroups < 1 {
		return fmt.Errorf("n_groups must be positive")
	}

	if c.DModel < 1 {
		return fmt.Errorf("d_model must be positive")
	}
	if c.NHeads < 1 {
		return fmt.Errorf("n_heads must be positive")
	}
	if c.DModel%c.NHeads != 0 {
		return fmt.Errorf("d_model (%d) must be divisible by n_heads (%d)", c.DModel, c.NHeads)
	}
	if c.NLayers < 1 {
		return fmt.Errorf("n_layers must be positive")
	}
	if c.NCondLayers < 0 {
		return fmt.Errorf("n_cond_layers must be non-negative")
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	}

	return nil
}
