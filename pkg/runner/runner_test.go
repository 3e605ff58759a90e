package runner

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeceomahoney/locodiff/pkg/checkpoint"
	"github.com/reeceomahoney/locodiff/pkg/config"
	"github.com/reeceomahoney/locodiff/pkg/dataset"
	"github.com/reeceomahoney/locodiff/pkg/envs"
	"github.com/reeceomahoney/locodiff/pkg/observability"
)

// writeEpisodes fills a jsonl archive with synthetic cartpole-shaped
// episodes (obs dim 4, act dim 1).
func writeEpisodes(t *testing.T, path string, n, steps int) {
	t.Helper()
	archive := dataset.NewJSONLArchive(path, "cartpole")
	for e := 0; e < n; e++ {
		ep := dataset.Episode{Task: "cartpole"}
		for i := 0; i < steps; i++ {
			phase := float64(i) + 0.3*float64(e)
			ep.Obs = append(ep.Obs, []float64{
				0.1 * math.Sin(phase),
				0.1 * math.Cos(phase),
				0.02 * phase,
				-0.01 * phase,
			})
			ep.Actions = append(ep.Actions, []float64{0.5 * math.Sin(phase+1)})
		}
		require.NoError(t, archive.Append(context.Background(), ep))
	}
	require.NoError(t, archive.Close())
}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	source := filepath.Join(dir, "episodes.jsonl")
	writeEpisodes(t, source, 4, 12)

	cfg := &config.Config{
		Task:          "cartpole",
		Seed:          7,
		NumIters:      4,
		EpisodeLength: 5,
		LogInterval:   2,
		EvalInterval:  2,
		SimInterval:   2,
		T:             4,
		TCond:         2,
		TAction:       2,
		NumEnvs:       2,
		LogDir:        filepath.Join(dir, "run"),
	}
	cfg.Policy.SamplingSteps = 2
	cfg.Dataset.Source = source
	cfg.Dataset.TaskName = "cartpole"
	cfg.Dataset.TrainFraction = 0.75
	cfg.Dataset.TrainBatchSize = 4
	cfg.Dataset.TestBatchSize = 4
	cfg.Model.SigmaEmbedDim = 8
	cfg.Model.DownDims = []int{8, 16}
	cfg.Model.KernelSize = 3
	cfg.Model.NGroups = 4
	cfg.Checkpoint.Strategy = checkpoint.StrategyInterval
	cfg.Checkpoint.Interval = 2

	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestRunner(t *testing.T, cfg *config.Config, opts func(*Config)) *Runner {
	t.Helper()
	env := envs.NewCartpole(cfg.NumEnvs, cfg.EpisodeLength, rand.New(rand.NewSource(cfg.Seed)))
	rc := Config{
		Experiment:  cfg,
		Env:         env,
		Checkpoints: checkpoint.NewManager(&cfg.Checkpoint, cfg.LogDir),
		Output:      &bytes.Buffer{},
	}
	if opts != nil {
		opts(&rc)
	}
	r, err := New(context.Background(), rc)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

type countingRecorder struct {
	observability.NoopRecorder
	iterations  int
	rollouts    int
	evals       int
	checkpoints int
}

func (r *countingRecorder) RecordIteration(context.Context, float64, time.Duration) { r.iterations++ }

func (r *countingRecorder) RecordRollout(context.Context, float64, float64) { r.rollouts++ }

func (r *countingRecorder) RecordEval(context.Context, float64) { r.evals++ }

func (r *countingRecorder) RecordCheckpoint(context.Context) { r.checkpoints++ }

type recordedProgress struct {
	iters []int
}

func (p *recordedProgress) UpdateProgress(_ context.Context, iter int, _ float64) error {
	p.iters = append(p.iters, iter)
	return nil
}

// cancellingProgress cancels the training context at the first progress
// report, so the loop stops at the next iteration boundary.
type cancellingProgress struct {
	cancel context.CancelFunc
}

func (p *cancellingProgress) UpdateProgress(context.Context, int, float64) error {
	p.cancel()
	return nil
}

func TestNewFillsDimsFromEnv(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	r := newTestRunner(t, cfg, nil)

	assert.Equal(t, 4, cfg.Policy.ObsDim)
	assert.Equal(t, 1, cfg.Policy.ActDim)
	assert.Equal(t, 2, cfg.NumEnvs)
	assert.Equal(t, 0, r.Iter())
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "experiment config is required")

	cfg := testConfig(t, t.TempDir())
	_, err = New(context.Background(), Config{Experiment: cfg})
	require.ErrorContains(t, err, "environment is required")
}

func TestBuildDenoiserUnknownType(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Policy.ObsDim, cfg.Policy.ActDim = 4, 1
	cfg.Model.Type = "mlp"

	_, err := buildDenoiser(cfg, rand.New(rand.NewSource(1)))
	require.ErrorContains(t, err, "unknown model type")
}

func TestBuildDenoiserTransformer(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Policy.ObsDim, cfg.Policy.ActDim = 4, 1
	cfg.Model.Type = config.ModelTransformer
	cfg.Model.DModel = 16
	cfg.Model.NHeads = 2
	cfg.Model.NLayers = 1
	cfg.Model.NCondLayers = 1

	model, err := buildDenoiser(cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.NotEmpty(t, model.Params())
}

func TestLearnTrainsAndCheckpoints(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	recorder := &countingRecorder{}
	progress := &recordedProgress{}
	output := &bytes.Buffer{}
	r := newTestRunner(t, cfg, func(rc *Config) {
		rc.Recorder = recorder
		rc.Progress = progress
		rc.Output = output
	})

	require.NoError(t, r.Learn(context.Background()))

	assert.Equal(t, 3, r.Iter())
	assert.Equal(t, 4, recorder.iterations)
	assert.Equal(t, 2, recorder.evals)
	assert.GreaterOrEqual(t, recorder.rollouts, 2)
	assert.Equal(t, []int{0, 2}, progress.iters)
	assert.Contains(t, output.String(), "Learning iteration")
	assert.Contains(t, output.String(), "Mean reward:")

	// One interval checkpoint at iteration 2 plus the final one.
	files, err := checkpoint.List(cfg.LogDir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, 2, recorder.checkpoints)
}

func TestLearnStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRunner(t, cfg, func(rc *Config) {
		rc.Progress = &cancellingProgress{cancel: cancel}
	})

	err := r.Learn(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.Iter())

	// The interrupt checkpoint was still written.
	files, listErr := checkpoint.List(cfg.LogDir)
	require.NoError(t, listErr)
	require.Len(t, files, 1)
}

func TestRollout(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	r := newTestRunner(t, cfg, nil)

	stats, err := r.Rollout(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, stats.Episodes, cfg.NumEnvs)
	assert.Greater(t, stats.MeanLength, 0.0)
	assert.LessOrEqual(t, stats.MeanLength, float64(cfg.EpisodeLength))
}

func TestRestoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	// Without EMA the checkpointed weights are the live weights, so the
	// round trip can be compared directly.
	cfg.UseEMA = config.BoolPtr(false)
	r1 := newTestRunner(t, cfg, nil)
	require.NoError(t, r1.Learn(context.Background()))
	require.Equal(t, 3, r1.Iter())

	trained, err := r1.policy.StateDict()
	require.NoError(t, err)

	// A fresh runner over the same run directory picks the training back up.
	cfg2 := testConfig(t, t.TempDir())
	cfg2.UseEMA = config.BoolPtr(false)
	cfg2.LogDir = cfg.LogDir
	r2 := newTestRunner(t, cfg2, nil)

	fresh, err := r2.policy.StateDict()
	require.NoError(t, err)
	assert.NotEqual(t, fresh, trained)

	iter, err := r2.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, 3, iter)
	assert.Equal(t, 3, r2.Iter())

	restored, err := r2.policy.StateDict()
	require.NoError(t, err)
	assert.Equal(t, trained, restored)
}

func TestLoadLatestWithoutManager(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	r := newTestRunner(t, cfg, func(rc *Config) {
		rc.Checkpoints = nil
	})

	_, err := r.LoadLatest()
	require.ErrorContains(t, err, "no checkpoint manager")
}

func TestInferencePolicyActs(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	r := newTestRunner(t, cfg, nil)

	act := r.InferencePolicy()
	obs, err := r.env.Reset(context.Background())
	require.NoError(t, err)

	res := act(r.obsTensor(obs))
	require.NotNil(t, res)
	assert.Equal(t, []int{cfg.NumEnvs, 1}, res.Action.Shape())
}
