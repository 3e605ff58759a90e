package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// loadString writes content as a config file in a fresh temp dir and loads it.
func loadString(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := writeFixture(t, t.TempDir(), "config.yaml", content)
	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if loader != nil {
		t.Cleanup(func() { loader.Close() })
	}
	return cfg, err
}

func TestLoaderComposePipeline(t *testing.T) {
	dir := t.TempDir()

	writeFixture(t, dir, "model/unet.yaml", `
type: unet
sigma_embed_dim: 32
down_dims: [32, 64]
n_groups: 8
kernel_size: 5
`)

	mainPath := writeFixture(t, dir, "cartpole.yaml", `
defaults:
  - model: unet

task: cartpole
seed: 42
t: 8
t_cond: 2
t_action: 4
num_envs: 4
episode_length: 50
log_dir: logs/${task}/${now:2006-01-02_15-04-05}

policy:
  obs_dim: 4
  act_dim: 1

dataset:
  source: data/cartpole.db
  task_name: ${task}
  train_batch_size: 8
  test_batch_size: 8

model:
  kernel_size: 3
`)

	cfg, loader, err := LoadConfigFile(context.Background(), mainPath)
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, "cartpole", cfg.Task)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 8, cfg.T)
	assert.Equal(t, 2, cfg.TCond)
	assert.Equal(t, 4, cfg.TAction)
	assert.Equal(t, 4, cfg.NumEnvs)

	// Preset keys merge in, the main document wins on overlap.
	assert.Equal(t, "unet", cfg.Model.Type)
	assert.Equal(t, 32, cfg.Model.SigmaEmbedDim)
	assert.Equal(t, []int{32, 64}, cfg.Model.DownDims)
	assert.Equal(t, 3, cfg.Model.KernelSize)

	// ${task} resolves against the composed tree.
	assert.Equal(t, "cartpole", cfg.Dataset.TaskName)
	assert.Equal(t, 8, cfg.Dataset.TrainBatchSize)

	// ${now:...} stamps the load time using Go layouts.
	rest := strings.TrimPrefix(cfg.LogDir, "logs/cartpole/")
	require.NotEqual(t, cfg.LogDir, rest)
	_, err = time.Parse("2006-01-02_15-04-05", rest)
	assert.NoError(t, err)

	// Defaults fill everything the document left out.
	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, 1000, cfg.NumIters)
	assert.Equal(t, 0.999, cfg.EMADecay)
	assert.True(t, cfg.EMAEnabled())
	assert.Equal(t, SamplerDDIM, cfg.Policy.Sampler)
	assert.Equal(t, ScalingGaussian, cfg.Dataset.Scaling)
	require.NotNil(t, cfg.Database)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoaderEnvDefault(t *testing.T) {
	cfg, err := loadString(t, `
task: cartpole
dataset:
  train_batch_size: ${LOCODIFF_TEST_BATCH:-8}
`)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Dataset.TrainBatchSize)
}

func TestLoaderEnvOverride(t *testing.T) {
	t.Setenv("LOCODIFF_TEST_BATCH", "32")

	cfg, err := loadString(t, `
task: cartpole
dataset:
  train_batch_size: ${LOCODIFF_TEST_BATCH:-8}
`)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Dataset.TrainBatchSize)
}

func TestLoaderUnknownPreset(t *testing.T) {
	_, err := loadString(t, `
defaults:
  - model: missing

task: cartpole
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown preset model=missing")
}

func TestLoaderUnresolvedReference(t *testing.T) {
	_, err := loadString(t, `
task: cartpole
dataset:
  task_name: ${nope.missing}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved config references")
	assert.Contains(t, err.Error(), "${nope.missing} (no such key)")
}

func TestLoaderValidationFailure(t *testing.T) {
	_, err := loadString(t, `
task: cartpole
policy:
  sampler: warp
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
	assert.Contains(t, err.Error(), "invalid sampler")
}

func TestLoaderInvalidDocument(t *testing.T) {
	_, err := loadString(t, "a: [1,\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoaderFileNotFound(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoaderJSONDocument(t *testing.T) {
	cfg, err := loadString(t, `{"task": "reacher", "seed": 7}`)
	require.NoError(t, err)
	assert.Equal(t, "reacher", cfg.Task)
	assert.Equal(t, int64(7), cfg.Seed)
}

func TestParseBytes(t *testing.T) {
	m, err := parseBytes([]byte("task: cartpole\nseed: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, "cartpole", m["task"])

	m, err = parseBytes([]byte(`{"task": "cartpole"}`))
	require.NoError(t, err)
	assert.Equal(t, "cartpole", m["task"])

	_, err = parseBytes([]byte("just-a-scalar"))
	assert.Error(t, err)
}
