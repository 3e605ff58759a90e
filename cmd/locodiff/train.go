package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/reeceomahoney/locodiff/pkg/checkpoint"
	"github.com/reeceomahoney/locodiff/pkg/config"
	"github.com/reeceomahoney/locodiff/pkg/envs"
	"github.com/reeceomahoney/locodiff/pkg/observability"
	"github.com/reeceomahoney/locodiff/pkg/runner"
	"github.com/reeceomahoney/locodiff/pkg/runs"
	"github.com/reeceomahoney/locodiff/pkg/server"
)

// TrainCmd trains a diffusion policy per the experiment config.
type TrainCmd struct {
	Resume bool `help:"Resume from the latest checkpoint of the task."`
	Iters  int  `help:"Override the training iteration budget."`
}

func (c *TrainCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, loader, err := loadExperiment(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	if c.Resume {
		cfg.Resume = true
	}
	if c.Iters > 0 {
		cfg.NumIters = c.Iters
	}

	runDir, err := resolveRunDir(cfg, cfg.Resume)
	if err != nil {
		return err
	}
	slog.Info("Starting training", "task", cfg.Task, "run_dir", runDir, "resume", cfg.Resume)

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	pool := config.NewDBPool()
	defer pool.Close()

	// The run registry is optional: without a database section, training
	// simply is not recorded.
	var registry *runs.Registry
	if cfg.Database != nil {
		registry, err = runs.NewRegistryFromConfig(pool, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open run registry: %w", err)
		}
	}

	env, err := envs.Make(ctx, cfg, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return fmt.Errorf("failed to create environment: %w", err)
	}
	defer env.Close()

	checkpoints := checkpoint.NewManager(&cfg.Checkpoint, runDir)

	var progress runner.ProgressReporter
	var runID string
	if registry != nil {
		run, err := registry.Create(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to register run: %w", err)
		}
		runID = run.ID
		progress = registry.ReporterFor(run.ID)
		slog.Info("Registered run", "id", run.ID)
	}

	if cfg.Server.Enabled {
		srv, err := server.New(ctx, server.Options{
			Config:   &cfg.Server,
			Registry: registry,
			Metrics:  obs.MetricsHandler(),
			Tracer:   obs.Tracer("server"),
			Recorder: obs.Recorder(),
		})
		if err != nil {
			return fmt.Errorf("failed to create status server: %w", err)
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				slog.Warn("Status server shutdown failed", "error", err)
			}
		}()
	}

	r, err := runner.New(ctx, runner.Config{
		Experiment:  cfg,
		Env:         env,
		Pool:        pool,
		Checkpoints: checkpoints,
		Recorder:    obs.Recorder(),
		Tracer:      obs.Tracer("runner"),
		Progress:    progress,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	if cfg.Resume {
		iter, err := r.LoadLatest()
		if err != nil {
			return fmt.Errorf("failed to resume: %w", err)
		}
		slog.Info("Resuming training", "iter", iter)
	}

	err = r.Learn(ctx)
	if registry != nil && runID != "" {
		finishRun(registry, runID, err)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resolveRunDir picks the run directory: the config's templated log_dir for
// a fresh run, or the latest existing run of the task when resuming.
func resolveRunDir(cfg *config.Config, resume bool) (string, error) {
	if resume {
		runDir, err := checkpoint.LatestRun(filepath.Dir(cfg.LogDir))
		if err != nil {
			return "", fmt.Errorf("no run to resume: %w", err)
		}
		return runDir, nil
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	return cfg.LogDir, nil
}

func finishRun(registry *runs.Registry, id string, trainErr error) {
	status := runs.StatusCompleted
	switch {
	case errors.Is(trainErr, context.Canceled):
		status = runs.StatusInterrupted
	case trainErr != nil:
		status = runs.StatusFailed
	}
	if err := registry.Finish(context.Background(), id, status); err != nil {
		slog.Warn("Failed to finalize run registry entry", "error", err)
	}
}
