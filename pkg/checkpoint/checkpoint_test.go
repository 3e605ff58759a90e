package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeceomahoney/locodiff/pkg/nn"
)

func sampleState(iter int) *State {
	return &State{
		Iter: iter,
		ModelState: map[string][]float64{
			"layer.weight": {0.1, 0.2, 0.3},
			"layer.bias":   {0.4},
		},
		OptimizerState: nn.AdamWState{
			Step: iter,
			M:    [][]float64{{0.01, 0.02, 0.03}, {0.04}},
			V:    [][]float64{{0.001, 0.002, 0.003}, {0.004}},
		},
		EMAState: EMAState{
			Shadow:  [][]float64{{0.11, 0.21, 0.31}, {0.41}},
			Updates: iter,
		},
		NormState: NormState{
			ObsMean: []float64{0, 0},
			ObsStd:  []float64{1, 1},
			ObsMin:  []float64{-1, -1},
			ObsMax:  []float64{1, 1},
			OutMean: []float64{0, 0, 0},
			OutStd:  []float64{1, 1, 1},
			OutMin:  []float64{-1, -1, -1},
			OutMax:  []float64{1, 1, 1},
		},
		ConfigYAML: []byte("task: cartpole\n"),
	}
}

func TestConfigSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, StrategyInterval, cfg.Strategy)
	assert.Equal(t, 1000, cfg.Interval)
	assert.Equal(t, 5, cfg.KeepLast)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "zero value", cfg: Config{}},
		{name: "hybrid", cfg: Config{Strategy: StrategyHybrid, Interval: 10, KeepLast: 2}},
		{name: "bad strategy", cfg: Config{Strategy: "always"}, wantErr: "invalid checkpoint strategy"},
		{name: "negative interval", cfg: Config{Interval: -1}, wantErr: "interval must be non-negative"},
		{name: "negative keep_last", cfg: Config{KeepLast: -1}, wantErr: "keep_last must be non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestConfigShouldCheckpointAtIteration(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.Interval = 100

	assert.False(t, cfg.ShouldCheckpointAtIteration(0))
	assert.False(t, cfg.ShouldCheckpointAtIteration(50))
	assert.True(t, cfg.ShouldCheckpointAtIteration(100))
	assert.True(t, cfg.ShouldCheckpointAtIteration(300))

	eventOnly := &Config{Strategy: StrategyEvent, Interval: 100}
	assert.False(t, eventOnly.ShouldCheckpointAtIteration(100))
	assert.True(t, eventOnly.ShouldCheckpointOnEvent())

	disabled := &Config{}
	disabled.SetDefaults()
	disabled.Interval = 100
	off := false
	disabled.Enabled = &off
	assert.False(t, disabled.ShouldCheckpointAtIteration(100))
	assert.False(t, disabled.ShouldCheckpointOnEvent())
}

func TestSaveLoadRoundtrip(t *testing.T) {
	runDir := t.TempDir()
	want := sampleState(100)

	path, err := Save(runDir, want)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(runDir, "checkpoints", "ckpt-00000100.gob"), path)
	assert.False(t, want.SavedAt.IsZero())

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want.Iter, got.Iter)
	assert.Equal(t, want.ModelState, got.ModelState)
	assert.Equal(t, want.OptimizerState, got.OptimizerState)
	assert.Equal(t, want.EMAState, got.EMAState)
	assert.Equal(t, want.NormState, got.NormState)
	assert.Equal(t, want.ConfigYAML, got.ConfigYAML)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.gob"))
	assert.ErrorContains(t, err, "failed to open checkpoint")
}

func TestLatestAndList(t *testing.T) {
	runDir := t.TempDir()

	_, err := Latest(runDir)
	assert.ErrorContains(t, err, "no checkpoints")

	for _, iter := range []int{100, 300, 200} {
		_, err := Save(runDir, sampleState(iter))
		require.NoError(t, err)
	}

	paths, err := List(runDir)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, "ckpt-00000100.gob", filepath.Base(paths[0]))
	assert.Equal(t, "ckpt-00000300.gob", filepath.Base(paths[2]))

	latest, err := Latest(runDir)
	require.NoError(t, err)
	assert.Equal(t, "ckpt-00000300.gob", filepath.Base(latest))
}

func TestManagerSaveRotates(t *testing.T) {
	runDir := t.TempDir()
	cfg := &Config{KeepLast: 2}
	cfg.SetDefaults()
	manager := NewManager(cfg, runDir)

	for _, iter := range []int{100, 200, 300} {
		require.NoError(t, manager.Save(sampleState(iter)))
	}

	paths, err := List(runDir)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "ckpt-00000200.gob", filepath.Base(paths[0]))
	assert.Equal(t, "ckpt-00000300.gob", filepath.Base(paths[1]))

	state, err := manager.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, 300, state.Iter)
}

func TestManagerDisabledSkipsSave(t *testing.T) {
	runDir := t.TempDir()
	off := false
	manager := NewManager(&Config{Enabled: &off}, runDir)

	require.NoError(t, manager.Save(sampleState(100)))

	paths, err := List(runDir)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLatestRun(t *testing.T) {
	root := t.TempDir()

	oldRun := filepath.Join(root, "2024-01-01_00-00-00")
	newRun := filepath.Join(root, "2024-06-01_00-00-00")
	emptyRun := filepath.Join(root, "2024-12-01_00-00-00")
	require.NoError(t, os.MkdirAll(emptyRun, 0o755))

	_, err := Save(oldRun, sampleState(100))
	require.NoError(t, err)
	_, err = Save(newRun, sampleState(100))
	require.NoError(t, err)

	// Make modification order explicit.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldRun, past, past))

	got, err := LatestRun(root)
	require.NoError(t, err)
	assert.Equal(t, newRun, got)
}

func TestLatestRunEmpty(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "run"), 0o755))

	_, err := LatestRun(root)
	assert.ErrorContains(t, err, "no runs with checkpoints")
}
