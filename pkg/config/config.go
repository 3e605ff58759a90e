// Package config loads and validates locodiff experiment configuration.
//
// Config documents are hierarchical YAML (JSON accepted) with Hydra-style
// composition: a defaults list merges named presets, ${dotted.path}
// references resolve against the composed tree, ${UPPER_CASE} references
// expand from the environment, and ${now:<layout>} stamps the load time into
// run directory paths. Documents load through a Provider (local file, consul,
// etcd, or zookeeper), decode into typed structs, receive defaults, and are
// validated before any training code sees them.
package config

import (
	"fmt"

	"github.com/reeceomahoney/locodiff/pkg/checkpoint"
	"github.com/reeceomahoney/locodiff/pkg/observability"
)

// Config is the root experiment configuration.
type Config struct {
	// Task selects the environment and dataset, e.g. "cartpole".
	Task string `yaml:"task"`

	// Seed initializes every RNG in the run.
	Seed int64 `yaml:"seed,omitempty"`

	// Device is the compute device. Only "cpu" is supported; the field is
	// kept so documents written for GPU trainers still load.
	Device string `yaml:"device,omitempty"`

	// NumIters is the training iteration budget.
	NumIters int `yaml:"num_iters,omitempty"`

	// Resume continues from the latest checkpoint of the task.
	Resume bool `yaml:"resume,omitempty"`

	// EpisodeLength is the environment episode length in steps.
	EpisodeLength int `yaml:"episode_length,omitempty"`

	LogInterval  int `yaml:"log_interval,omitempty"`
	EvalInterval int `yaml:"eval_interval,omitempty"`
	SimInterval  int `yaml:"sim_interval,omitempty"`

	// UseEMA rolls out and checkpoints with the EMA weights.
	// Default: true
	UseEMA   *bool   `yaml:"use_ema,omitempty"`
	EMADecay float64 `yaml:"ema_decay,omitempty"`

	// T, TCond, and TAction are the modeled trajectory, conditioning, and
	// executed action-chunk horizons, in timesteps.
	T       int `yaml:"t,omitempty"`
	TCond   int `yaml:"t_cond,omitempty"`
	TAction int `yaml:"t_action,omitempty"`

	// NumEnvs is the number of vectorized environment instances.
	NumEnvs int `yaml:"num_envs,omitempty"`

	// LogDir is the run directory. Configs usually template it, e.g.
	// "logs/${task}/${now:2006-01-02_15-04-05}".
	LogDir string `yaml:"log_dir,omitempty"`

	// WandbProject groups runs in the run registry.
	WandbProject string `yaml:"wandb_project,omitempty"`

	Policy  PolicyConfig  `yaml:"policy,omitempty"`
	Dataset DatasetConfig `yaml:"dataset,omitempty"`
	Model   ModelConfig   `yaml:"model,omitempty"`
	Sim     SimConfig     `yaml:"sim,omitempty"`

	Server        ServerConfig         `yaml:"server,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`
	Checkpoint    checkpoint.Config    `yaml:"checkpoint,omitempty"`

	// Database backs the run registry and sqlite episode archives.
	Database *DatabaseConfig `yaml:"database,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Device == "" {
		c.Device = "cpu"
	}
	if c.NumIters == 0 {
		c.NumIters = 1000
	}
	if c.EpisodeLength == 0 {
		c.EpisodeLength = 200
	}
	if c.LogInterval == 0 {
		c.LogInterval = 100
	}
	if c.EvalInterval == 0 {
		c.EvalInterval = 500
	}
	if c.SimInterval == 0 {
		c.SimInterval = 500
	}
	if c.UseEMA == nil {
		c.UseEMA = BoolPtr(true)
	}
	if c.EMADecay == 0 {
		c.EMADecay = 0.999
	}
	if c.T == 0 {
		c.T = 16
	}
	if c.TCond == 0 {
		c.TCond = 2
	}
	if c.TAction == 0 {
		c.TAction = 8
	}
	if c.NumEnvs == 0 {
		c.NumEnvs = 16
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.Database == nil {
		c.Database = DefaultDatabaseConfig("sqlite")
	}

	c.Policy.SetDefaults()
	c.Dataset.SetDefaults()
	c.Model.SetDefaults()
	c.Sim.SetDefaults()
	c.Server.SetDefaults()
	c.Observability.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.Database.SetDefaults()
}

// Validate checks the configuration. Placeholder fields filled later by the
// runner (obs_dim, act_dim) are checked by ValidateResolved instead.
func (c *Config) Validate() error {
	if c.Task == "" {
		return fmt.Errorf("task is required")
	}
	if c.Device != "cpu" {
		return fmt.Errorf("invalid device %q (only cpu is supported)", c.Device)
	}
	if c.NumIters < 1 {
		return fmt.Errorf("num_iters must be positive")
	}
	if c.EpisodeLength < 1 {
		return fmt.Errorf("episode_length must be positive")
	}
	if c.LogInterval < 1 {
		return fmt.Errorf("log_interval must be positive")
	}
	if c.EvalInterval < 1 {
		return fmt.Errorf("eval_interval must be positive")
	}
	if c.SimInterval < 1 {
		return fmt.Errorf("sim_interval must be positive")
	}
	if c.EMADecay <= 0 || c.EMADecay >= 1 {
		return fmt.Errorf("ema_decay must be in (0, 1)")
	}
	if c.T < 1 {
		return fmt.Errorf("t must be positive")
	}
	if c.TCond < 1 {
		return fmt.Errorf("t_cond must be positive")
	}
	if c.TAction < 1 {
		return fmt.Errorf("t_action must be positive")
	}
	if c.TAction > c.T {
		return fmt.Errorf("t_action (%d) cannot exceed t (%d)", c.TAction, c.T)
	}
	if c.NumEnvs < 1 {
		return fmt.Errorf("num_envs must be positive")
	}

	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if err := c.Dataset.Validate(); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := c.Sim.Validate(); err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	return nil
}

// ValidateResolved re-checks the placeholder fields the runner fills from the
// environment. Loading tolerates the nulls, training does not.
func (c *Config) ValidateResolved() error {
	if c.Policy.ObsDim < 1 {
		return fmt.Errorf("policy.obs_dim is unresolved")
	}
	if c.Policy.ActDim < 1 {
		return fmt.Errorf("policy.act_dim is unresolved")
	}
	if c.Dataset.Source == "" {
		return fmt.Errorf("dataset.source is unresolved")
	}
	if c.Dataset.TaskName == "" {
		return fmt.Errorf("dataset.task_name is unresolved")
	}
	if c.Policy.InpaintFinalObs && len(c.Policy.FinalObsTarget) != c.Policy.ObsDim {
		return fmt.Errorf("policy.final_obs_target must have obs_dim (%d) entries, got %d",
			c.Policy.ObsDim, len(c.Policy.FinalObsTarget))
	}
	return nil
}

// EMAEnabled reports whether rollouts and checkpoints use the EMA weights.
func (c *Config) EMAEnabled() bool {
	return BoolValue(c.UseEMA, true)
}

// BoolPtr returns a pointer to the given bool value.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue returns the value of the bool pointer, or the default if nil.
func BoolValue(b *bool, defaultValue bool) bool {
	if b == nil {
		return defaultValue
	}
	return *b
}
