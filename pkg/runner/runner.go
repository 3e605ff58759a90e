// Package runner orchestrates diffusion policy training.
//
// The Runner builds everything a run needs from the experiment config:
//   - Episode archive, dataset split and batch loaders
//   - Normalizer from dataset statistics
//   - Denoising backbone, preconditioning and guidance wrappers, policy
//   - EMA weight averaging
//
// Learn drives the iterate/rollout/evaluate/checkpoint loop; Rollout and
// InferencePolicy expose the trained policy for the play command.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"gopkg.in/yaml.v3"

	"github.com/reeceomahoney/locodiff/pkg/checkpoint"
	"github.com/reeceomahoney/locodiff/pkg/config"
	"github.com/reeceomahoney/locodiff/pkg/dataset"
	"github.com/reeceomahoney/locodiff/pkg/diffusion"
	"github.com/reeceomahoney/locodiff/pkg/diffusion/models"
	"github.com/reeceomahoney/locodiff/pkg/envs"
	"github.com/reeceomahoney/locodiff/pkg/nn"
	"github.com/reeceomahoney/locodiff/pkg/observability"
)

// ProgressReporter receives training progress at every log interval.
// The run registry implements it; a nil reporter disables reporting.
type ProgressReporter interface {
	UpdateProgress(ctx context.Context, iter int, loss float64) error
}

// Config contains the collaborators for creating a Runner.
type Config struct {
	// Experiment is the resolved experiment configuration (required).
	// The runner fills Policy.ObsDim, Policy.ActDim and NumEnvs from the
	// environment before building the policy.
	Experiment *config.Config

	// Env is the vectorized environment to train against (required).
	Env envs.VecEnv

	// Pool opens sqlite episode archives (optional for jsonl sources).
	Pool *config.DBPool

	// Checkpoints saves and restores training state (optional).
	Checkpoints *checkpoint.Manager

	// Recorder receives training metrics (optional).
	Recorder observability.Recorder

	// Tracer opens spans around rollout, evaluation and checkpointing
	// (optional).
	Tracer trace.Tracer

	// Progress receives progress updates for the run registry (optional).
	Progress ProgressReporter

	// RNG drives initialization, noise draws and loader shuffling. When
	// nil, a generator seeded from Experiment.Seed is used.
	RNG *rand.Rand

	// Output receives the periodic console block. Defaults to stdout.
	Output io.Writer
}

// Runner trains a diffusion policy against a vectorized environment.
type Runner struct {
	cfg *config.Config
	env envs.VecEnv

	policy     *diffusion.Policy
	normalizer *diffusion.Normalizer
	ema        *diffusion.EMA

	trainLoader *dataset.DataLoader
	testLoader  *dataset.DataLoader

	checkpoints *checkpoint.Manager
	recorder    observability.Recorder
	tracer      trace.Tracer
	progress    ProgressReporter
	output      io.Writer
	rng         *rand.Rand

	iter         int
	sessionIters int
	totTime      time.Duration
	lastRollout  RolloutStats
	bestReward   float64
	hasBest      bool
}

// New creates a Runner: loads the episode archive, splits it, builds the
// model stack and the policy. The environment is queried for observation and
// action dimensions, which overwrite the config placeholders.
func New(ctx context.Context, cfg Config) (*Runner, error) {
	if cfg.Experiment == nil {
		return nil, fmt.Errorf("experiment config is required")
	}
	if cfg.Env == nil {
		return nil, fmt.Errorf("environment is required")
	}
	exp := cfg.Experiment

	exp.Policy.ObsDim = cfg.Env.ObsDim()
	exp.Policy.ActDim = cfg.Env.ActDim()
	exp.NumEnvs = cfg.Env.NumEnvs()
	if err := exp.ValidateResolved(); err != nil {
		return nil, fmt.Errorf("config not resolved: %w", err)
	}

	rng := cfg.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(exp.Seed))
	}

	archive, err := dataset.OpenArchive(&exp.Dataset, cfg.Pool)
	if err != nil {
		return nil, fmt.Errorf("failed to open episode archive: %w", err)
	}
	episodes, err := archive.Episodes(ctx)
	if closeErr := archive.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load episodes: %w", err)
	}

	ds, err := dataset.NewExpertDataset(episodes, exp.TCond)
	if err != nil {
		return nil, err
	}
	if ds.ObsDim() != exp.Policy.ObsDim || ds.ActDim() != exp.Policy.ActDim {
		return nil, fmt.Errorf("dataset dims (obs %d, act %d) do not match environment (obs %d, act %d)",
			ds.ObsDim(), ds.ActDim(), exp.Policy.ObsDim, exp.Policy.ActDim)
	}

	train, test, err := ds.Split(exp.Dataset.TrainFraction, exp.Seed)
	if err != nil {
		return nil, err
	}
	trainLoader, err := dataset.NewDataLoader(train, exp.T, exp.Dataset.TrainBatchSize, exp.Dataset.NumWorkers, exp.Seed)
	if err != nil {
		return nil, fmt.Errorf("train loader: %w", err)
	}
	testLoader, err := dataset.NewDataLoader(test, exp.T, exp.Dataset.TestBatchSize, 0, exp.Seed+1)
	if err != nil {
		trainLoader.Close()
		return nil, fmt.Errorf("test loader: %w", err)
	}

	normalizer, err := diffusion.NewNormalizer(ds.Stats(), exp.Dataset.Scaling)
	if err != nil {
		return nil, err
	}
	model, err := buildDenoiser(exp, rng)
	if err != nil {
		return nil, err
	}
	policy, err := diffusion.NewPolicy(model, normalizer, exp, rng)
	if err != nil {
		return nil, err
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = observability.NoopRecorder{}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("runner")
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	slog.Info("Runner initialized",
		"task", exp.Task,
		"model", exp.Model.Type,
		"sampler", exp.Policy.Sampler,
		"episodes", ds.NumEpisodes(),
		"train_windows", trainLoader.NumWindows(),
		"test_windows", testLoader.NumWindows())

	return &Runner{
		cfg:         exp,
		env:         cfg.Env,
		policy:      policy,
		normalizer:  normalizer,
		ema:         diffusion.NewEMA(policy.Params(), exp.EMADecay),
		trainLoader: trainLoader,
		testLoader:  testLoader,
		checkpoints: cfg.Checkpoints,
		recorder:    recorder,
		tracer:      tracer,
		progress:    cfg.Progress,
		output:      output,
		rng:         rng,
	}, nil
}

// buildDenoiser constructs the configured backbone and wraps it with Karras
// preconditioning and, when conditioning dropout is configured,
// classifier-free guidance.
func buildDenoiser(cfg *config.Config, rng *rand.Rand) (models.Denoiser, error) {
	inputDim := cfg.Policy.ObsDim + cfg.Policy.ActDim
	inputLen := cfg.T
	if cfg.Policy.InpaintObs {
		inputLen = cfg.T + cfg.TCond - 1
	}

	var backbone models.Backbone
	var err error
	switch cfg.Model.Type {
	case config.ModelUNet:
		backbone, err = models.NewConditionalUnet1D(rng, inputDim, cfg.TCond*cfg.Policy.ObsDim,
			cfg.Model.SigmaEmbedDim, cfg.Model.DownDims, cfg.Model.KernelSize, cfg.Model.NGroups)
	case config.ModelTransformer:
		backbone, err = models.NewDiffusionTransformer(rng, inputDim, cfg.Policy.ObsDim, inputLen,
			cfg.TCond, cfg.Model.DModel, cfg.Model.NHeads, cfg.Model.NLayers,
			cfg.Model.NCondLayers, cfg.Model.Dropout)
	default:
		return nil, fmt.Errorf("unknown model type %q", cfg.Model.Type)
	}
	if err != nil {
		return nil, err
	}

	var model models.Denoiser = models.NewScalingWrapper(backbone, cfg.Policy.SigmaData)
	if cfg.Policy.CondMaskProb > 0 {
		model = models.NewCFGWrapper(model, cfg.Policy.CondLambda, cfg.Policy.CondMaskProb, rng)
	}
	return model, nil
}

// Iter returns the last completed training iteration.
func (r *Runner) Iter() int { return r.iter }

// InferencePolicy switches the policy to evaluation mode and returns its
// act function.
func (r *Runner) InferencePolicy() func(obs *nn.Tensor) *diffusion.ActResult {
	r.policy.Eval()
	return r.policy.Act
}

// Close stops the batch loaders. The environment is owned by the caller.
func (r *Runner) Close() error {
	if err := r.trainLoader.Close(); err != nil {
		return err
	}
	return r.testLoader.Close()
}

// saveCheckpoint captures and persists the training state. With EMA enabled,
// the shadow weights are swapped in for the snapshot so restored policies
// act with the averaged weights.
func (r *Runner) saveCheckpoint(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, observability.SpanCheckpoint)
	defer span.End()

	useEMA := r.cfg.EMAEnabled()
	params := r.policy.Params()
	if useEMA {
		r.ema.Store(params)
		r.ema.CopyTo(params)
	}
	state, err := r.captureState()
	if useEMA {
		r.ema.Restore(params)
	}
	if err != nil {
		return err
	}
	if err := r.checkpoints.Save(state); err != nil {
		return err
	}
	r.recorder.RecordCheckpoint(ctx)
	return nil
}

func (r *Runner) captureState() (*checkpoint.State, error) {
	modelState, err := r.policy.StateDict()
	if err != nil {
		return nil, err
	}
	cfgYAML, err := yaml.Marshal(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	shadow, updates := r.ema.StateDict()

	return &checkpoint.State{
		Iter:           r.iter,
		ModelState:     modelState,
		OptimizerState: r.policy.Optimizer().StateDict(),
		EMAState:       checkpoint.EMAState{Shadow: shadow, Updates: updates},
		NormState:      normState(r.normalizer.StateDict()),
		ConfigYAML:     cfgYAML,
	}, nil
}

// Restore loads a checkpoint into the policy, optimizer, EMA helper and
// normalizer, and aligns the iteration counter and learning-rate schedule.
func (r *Runner) Restore(state *checkpoint.State) error {
	if err := r.policy.LoadStateDict(state.ModelState); err != nil {
		return fmt.Errorf("failed to restore model: %w", err)
	}
	if err := r.policy.Optimizer().LoadStateDict(state.OptimizerState); err != nil {
		return fmt.Errorf("failed to restore optimizer: %w", err)
	}
	if len(state.EMAState.Shadow) > 0 {
		if err := r.ema.LoadStateDict(state.EMAState.Shadow, state.EMAState.Updates); err != nil {
			return fmt.Errorf("failed to restore EMA: %w", err)
		}
	}
	r.normalizer.LoadStateDict(statsFromNorm(state.NormState))
	r.policy.SetStep(state.Iter)
	r.iter = state.Iter
	return nil
}

// LoadLatest restores the newest checkpoint of the configured run directory
// and returns its iteration.
func (r *Runner) LoadLatest() (int, error) {
	if r.checkpoints == nil {
		return 0, fmt.Errorf("no checkpoint manager configured")
	}
	state, err := r.checkpoints.LoadLatest()
	if err != nil {
		return 0, err
	}
	if err := r.Restore(state); err != nil {
		return 0, err
	}
	slog.Info("Restored checkpoint", "iter", state.Iter, "run_dir", r.checkpoints.RunDir())
	return state.Iter, nil
}

func normState(s dataset.Stats) checkpoint.NormState {
	return checkpoint.NormState{
		ObsMean: s.ObsMean, ObsStd: s.ObsStd, ObsMin: s.ObsMin, ObsMax: s.ObsMax,
		OutMean: s.OutMean, OutStd: s.OutStd, OutMin: s.OutMin, OutMax: s.OutMax,
	}
}

func statsFromNorm(n checkpoint.NormState) dataset.Stats {
	return dataset.Stats{
		ObsMean: n.ObsMean, ObsStd: n.ObsStd, ObsMin: n.ObsMin, ObsMax: n.ObsMax,
		OutMean: n.OutMean, OutStd: n.OutStd, OutMin: n.OutMin, OutMax: n.OutMax,
	}
}

// obsTensor packs [NumEnvs][ObsDim] observations into a tensor.
func (r *Runner) obsTensor(obs [][]float64) *nn.Tensor {
	dim := r.env.ObsDim()
	t := nn.New(len(obs), dim)
	for i, row := range obs {
		copy(t.Data[i*dim:], row)
	}
	return t
}

// actionRows views a [NumEnvs, ActDim] action tensor as per-env rows.
func actionRows(action *nn.Tensor) [][]float64 {
	dims := action.Shape()
	out := make([][]float64, dims[0])
	for i := range out {
		out[i] = action.Data[i*dims[1] : (i+1)*dims[1]]
	}
	return out
}
