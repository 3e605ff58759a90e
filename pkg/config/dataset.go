package config

import "fmt"

// Normalization modes accepted by DatasetConfig.Scaling.
const (
	ScalingGaussian = "gaussian"
	ScalingMinMax   = "minmax"
)

// DatasetConfig describes the expert episode archive and how it is sliced
// into training batches.
type DatasetConfig struct {
	// Source is the archive path: a .db/.sqlite file or a .jsonl file.
	Source string `yaml:"source,omitempty"`

	// TaskName filters archive episodes; empty loads every episode.
	// Documents usually set it to ${task}.
	TaskName string `yaml:"task_name,omitempty"`

	// TrainFraction is the episode-level train split, in (0, 1).
	TrainFraction float64 `yaml:"train_fraction,omitempty"`

	TrainBatchSize int `yaml:"train_batch_size,omitempty"`
	TestBatchSize  int `yaml:"test_batch_size,omitempty"`

	// NumWorkers sets the loader prefetch goroutines; 0 loads batches
	// synchronously.
	NumWorkers int `yaml:"num_workers,omitempty"`

	// Scaling selects the normalization mode: gaussian or minmax.
	Scaling string `yaml:"scaling,omitempty"`
}

// SetDefaults applies default values.
func (c *DatasetConfig) SetDefaults() {
	if c.TrainFraction == 0 {
		c.TrainFraction = 0.9
	}
	if c.TrainBatchSize == 0 {
		c.TrainBatchSize = 64
	}
	if c.TestBatchSize == 0 {
		c.TestBatchSize = 64
	}
	if c.Scaling == "" {
		c.Scaling = ScalingGaussian
	}
}

// Validate checks the dataset configuration. Source may still be empty here;
// ValidateResolved enforces it before training.
func (c *DatasetConfig) Validate() error {
	if c.TrainFraction <= 0 || c.TrainFraction >= 1 {
		return fmt.Errorf("train_fraction must be in (0, 1), got %g", c.TrainFraction)
	}
	if c.TrainBatchSize < 1 {
		return fmt.Errorf("train_batch_size must be positive")
	}
	if c.TestBatchSize < 1 {
		return fmt.Errorf("test_batch_size must be positive")
	}
	if c.NumWorkers < 0 {
		return fmt.Errorf("num_workers must be non-negative")
	}

	switch c.Scaling {
	case ScalingGaussian, ScalingMinMax:
	default:
		return fmt.Errorf("invalid scaling %q (valid: gaussian, minmax)", c.Scaling)
	}

	return nil
}
