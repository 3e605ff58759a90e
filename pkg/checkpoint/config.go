package checkpoint

import (
	"fmt"
)

// Strategy determines when checkpoints are created.
type Strategy string

const (
	// StrategyEvent - Checkpoint on training events (new best rollout reward).
	StrategyEvent Strategy = "event"

	// StrategyInterval - Checkpoint every N iterations.
	StrategyInterval Strategy = "interval"

	// StrategyHybrid - Both event and interval checkpointing.
	StrategyHybrid Strategy = "hybrid"
)

// Config configures checkpoint behavior.
//
// Example YAML configuration:
//
//	checkpoint:
//	  enabled: true
//	  strategy: hybrid
//	  interval: 1000
//	  keep_last: 5
type Config struct {
	// Enabled enables checkpointing. The final checkpoint at the end of a
	// run is always written while enabled.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// Strategy determines when checkpoints are created.
	// Values: "event", "interval", "hybrid"
	// Default: "interval"
	Strategy Strategy `yaml:"strategy,omitempty"`

	// Interval specifies checkpoint frequency (every N iterations).
	// Only used when Strategy is "interval" or "hybrid".
	// Default: 1000
	Interval int `yaml:"interval,omitempty"`

	// KeepLast bounds how many checkpoint files a run keeps; older ones are
	// removed after each save. 0 keeps everything.
	// Default: 5
	KeepLast int `yaml:"keep_last,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
	if c.Strategy == "" {
		c.Strategy = StrategyInterval
	}
	if c.Interval == 0 {
		c.Interval = 1000
	}
	if c.KeepLast == 0 {
		c.KeepLast = 5
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Strategy != "" &&
		c.Strategy != StrategyEvent &&
		c.Strategy != StrategyInterval &&
		c.Strategy != StrategyHybrid {
		return fmt.Errorf("invalid checkpoint strategy '%s' (valid: event, interval, hybrid)", c.Strategy)
	}
	if c.Interval < 0 {
		return fmt.Errorf("checkpoint interval must be non-negative")
	}
	if c.KeepLast < 0 {
		return fmt.Errorf("keep_last must be non-negative")
	}
	return nil
}

// IsEnabled returns whether checkpointing is enabled.
func (c *Config) IsEnabled() bool {
	return c != nil && (c.Enabled == nil || *c.Enabled)
}

// ShouldCheckpointInterval returns whether interval checkpointing is enabled.
func (c *Config) ShouldCheckpointInterval() bool {
	return c.IsEnabled() &&
		(c.Strategy == StrategyInterval || c.Strategy == StrategyHybrid) &&
		c.Interval > 0
}

// ShouldCheckpointAtIteration returns whether to checkpoint at the given
// iteration.
func (c *Config) ShouldCheckpointAtIteration(iteration int) bool {
	if !c.ShouldCheckpointInterval() {
		return false
	}
	return iteration > 0 && iteration%c.Interval == 0
}

// ShouldCheckpointOnEvent returns whether event checkpoints (new best
// rollout reward) are enabled.
func (c *Config) ShouldCheckpointOnEvent() bool {
	return c.IsEnabled() &&
		(c.Strategy == StrategyEvent || c.Strategy == StrategyHybrid)
}
