package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{
		Task: "cartpole",
		Policy: PolicyConfig{
			ObsDim: 4,
			ActDim: 1,
		},
		Dataset: DatasetConfig{
			Source:   "data/cartpole.db",
			TaskName: "cartpole",
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestConfigSetDefaults(t *testing.T) {
	cfg := &Config{Task: "cartpole"}
	cfg.SetDefaults()

	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, 1000, cfg.NumIters)
	assert.Equal(t, 200, cfg.EpisodeLength)
	assert.Equal(t, 100, cfg.LogInterval)
	assert.Equal(t, 500, cfg.EvalInterval)
	assert.Equal(t, 500, cfg.SimInterval)
	assert.True(t, cfg.EMAEnabled())
	assert.Equal(t, 0.999, cfg.EMADecay)
	assert.Equal(t, 16, cfg.T)
	assert.Equal(t, 2, cfg.TCond)
	assert.Equal(t, 8, cfg.TAction)
	assert.Equal(t, 16, cfg.NumEnvs)
	assert.Equal(t, "logs", cfg.LogDir)

	assert.Equal(t, 10, cfg.Policy.SamplingSteps)
	assert.Equal(t, SamplerDDIM, cfg.Policy.Sampler)
	assert.Equal(t, 0.5, cfg.Policy.SigmaData)
	assert.Equal(t, []float64{0.9, 0.999}, cfg.Policy.Betas)

	assert.Equal(t, 0.9, cfg.Dataset.TrainFraction)
	assert.Equal(t, 64, cfg.Dataset.TrainBatchSize)
	assert.Equal(t, ScalingGaussian, cfg.Dataset.Scaling)

	assert.Equal(t, ModelUNet, cfg.Model.Type)
	assert.Equal(t, []int{64, 128, 256}, cfg.Model.DownDims)

	assert.Equal(t, 10*time.Second, cfg.Sim.RequestTimeout)
	assert.Equal(t, 2, cfg.Sim.MaxRetries)

	require.NotNil(t, cfg.Database)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "logs/locodiff.db", cfg.Database.Database)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing task",
			mutate:  func(c *Config) { c.Task = "" },
			wantErr: "task is required",
		},
		{
			name:    "unsupported device",
			mutate:  func(c *Config) { c.Device = "cuda" },
			wantErr: "invalid device",
		},
		{
			name:    "negative num_iters",
			mutate:  func(c *Config) { c.NumIters = -1 },
			wantErr: "num_iters",
		},
		{
			name:    "ema_decay out of range",
			mutate:  func(c *Config) { c.EMADecay = 1.5 },
			wantErr: "ema_decay",
		},
		{
			name:    "action horizon exceeds trajectory",
			mutate:  func(c *Config) { c.TAction = c.T + 1 },
			wantErr: "t_action",
		},
		{
			name:    "negative num_envs",
			mutate:  func(c *Config) { c.NumEnvs = -2 },
			wantErr: "num_envs",
		},
		{
			name:    "bad policy section",
			mutate:  func(c *Config) { c.Policy.Sampler = "warp" },
			wantErr: "policy:",
		},
		{
			name:    "bad dataset section",
			mutate:  func(c *Config) { c.Dataset.TrainFraction = 1.2 },
			wantErr: "dataset:",
		},
		{
			name:    "bad model section",
			mutate:  func(c *Config) { c.Model.Type = "mlp" },
			wantErr: "model:",
		},
		{
			name:    "bad sim section",
			mutate:  func(c *Config) { c.Sim.RequestTimeout = -time.Second },
			wantErr: "sim:",
		},
		{
			name:    "bad server section",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server:",
		},
		{
			name:    "bad database section",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestPolicyConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PolicyConfig)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *PolicyConfig) {},
		},
		{
			name:    "negative sampling steps",
			mutate:  func(c *PolicyConfig) { c.SamplingSteps = -1 },
			wantErr: "sampling_steps",
		},
		{
			name:    "unknown sampler",
			mutate:  func(c *PolicyConfig) { c.Sampler = "euler" },
			wantErr: "invalid sampler",
		},
		{
			name:    "sigma range inverted",
			mutate:  func(c *PolicyConfig) { c.SigmaMin = 80; c.SigmaMax = 0.002 },
			wantErr: "sigma_min",
		},
		{
			name:    "cond_mask_prob out of range",
			mutate:  func(c *PolicyConfig) { c.CondMaskProb = -0.1 },
			wantErr: "cond_mask_prob",
		},
		{
			name:    "negative lr",
			mutate:  func(c *PolicyConfig) { c.LR = -1 },
			wantErr: "lr",
		},
		{
			name:    "wrong betas length",
			mutate:  func(c *PolicyConfig) { c.Betas = []float64{0.9} },
			wantErr: "betas",
		},
		{
			name:    "beta out of range",
			mutate:  func(c *PolicyConfig) { c.Betas = []float64{0.9, 1.0} },
			wantErr: "betas[1]",
		},
		{
			name:    "resampling without steps",
			mutate:  func(c *PolicyConfig) { c.Sampler = SamplerResampling },
			wantErr: "resampling_steps",
		},
		{
			name: "resampling configured",
			mutate: func(c *PolicyConfig) {
				c.Sampler = SamplerResampling
				c.ResamplingSteps = 4
				c.JumpLength = 2
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &PolicyConfig{ObsDim: 4, ActDim: 1}
			c.SetDefaults()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestModelConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ModelConfig)
		wantErr string
	}{
		{
			name:   "valid unet",
			mutate: func(c *ModelConfig) {},
		},
		{
			name:   "valid transformer",
			mutate: func(c *ModelConfig) { c.Type = ModelTransformer },
		},
		{
			name:    "unknown type",
			mutate:  func(c *ModelConfig) { c.Type = "mlp" },
			wantErr: "invalid type",
		},
		{
			name:    "even kernel size",
			mutate:  func(c *ModelConfig) { c.KernelSize = 4 },
			wantErr: "kernel_size",
		},
		{
			name:    "channels not divisible by groups",
			mutate:  func(c *ModelConfig) { c.DownDims = []int{30, 64} },
			wantErr: "n_groups",
		},
		{
			name:    "heads do not divide width",
			mutate:  func(c *ModelConfig) { c.DModel = 100; c.NHeads = 3 },
			wantErr: "d_model",
		},
		{
			name:    "dropout out of range",
			mutate:  func(c *ModelConfig) { c.Dropout = 1.0 },
			wantErr: "dropout",
		},
		{
			name:    "negative cond layers",
			mutate:  func(c *ModelConfig) { c.NCondLayers = -1 },
			wantErr: "n_cond_layers",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ModelConfig{}
			c.SetDefaults()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDatasetConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DatasetConfig)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *DatasetConfig) {},
		},
		{
			name:    "fraction too high",
			mutate:  func(c *DatasetConfig) { c.TrainFraction = 1 },
			wantErr: "train_fraction",
		},
		{
			name:    "negative batch",
			mutate:  func(c *DatasetConfig) { c.TrainBatchSize = -1 },
			wantErr: "train_batch_size",
		},
		{
			name:    "negative workers",
			mutate:  func(c *DatasetConfig) { c.NumWorkers = -1 },
			wantErr: "num_workers",
		},
		{
			name:    "unknown scaling",
			mutate:  func(c *DatasetConfig) { c.Scaling = "robust" },
			wantErr: "invalid scaling",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &DatasetConfig{}
			c.SetDefaults()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateResolved(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.ValidateResolved())

	unresolved := validConfig()
	unresolved.Policy.ObsDim = 0
	err := unresolved.ValidateResolved()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "obs_dim")

	noSource := validConfig()
	noSource.Dataset.Source = ""
	err = noSource.ValidateResolved()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset.source")

	badTarget := validConfig()
	badTarget.Policy.InpaintFinalObs = true
	badTarget.Policy.FinalObsTarget = []float64{0, 0}
	err = badTarget.ValidateResolved()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "final_obs_target")

	okTarget := validConfig()
	okTarget.Policy.InpaintFinalObs = true
	okTarget.Policy.FinalObsTarget = []float64{0, 0, 0, 0}
	assert.NoError(t, okTarget.ValidateResolved())
}

func TestBoolHelpers(t *testing.T) {
	assert.True(t, BoolValue(nil, true))
	assert.False(t, BoolValue(nil, false))
	assert.False(t, BoolValue(BoolPtr(false), true))
	assert.True(t, BoolValue(BoolPtr(true), false))
}
