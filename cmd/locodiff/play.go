package main

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/reeceomahoney/locodiff/pkg/checkpoint"
	"github.com/reeceomahoney/locodiff/pkg/config"
	"github.com/reeceomahoney/locodiff/pkg/envs"
	"github.com/reeceomahoney/locodiff/pkg/runner"
)

// PlayCmd rolls out a trained policy in the environment.
type PlayCmd struct {
	RunDir   string `help:"Run directory to load the checkpoint from (default: latest run of the task)." type:"path"`
	Episodes int    `help:"Number of rollout episodes." default:"1"`
}

func (c *PlayCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, loader, err := loadExperiment(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	runDir := c.RunDir
	if runDir == "" {
		runDir, err = checkpoint.LatestRun(filepath.Dir(cfg.LogDir))
		if err != nil {
			return fmt.Errorf("no trained run found: %w", err)
		}
	}

	pool := config.NewDBPool()
	defer pool.Close()

	env, err := envs.Make(ctx, cfg, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return fmt.Errorf("failed to create environment: %w", err)
	}
	defer env.Close()

	r, err := runner.New(ctx, runner.Config{
		Experiment:  cfg,
		Env:         env,
		Pool:        pool,
		Checkpoints: checkpoint.NewManager(&cfg.Checkpoint, runDir),
	})
	if err != nil {
		return err
	}
	defer r.Close()

	iter, err := r.LoadLatest()
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	fmt.Printf("Playing %s from %s (iteration %d)\n", cfg.Task, runDir, iter)

	for ep := 1; ep <= c.Episodes; ep++ {
		stats, err := r.Rollout(ctx)
		if err != nil {
			return fmt.Errorf("rollout %d failed: %w", ep, err)
		}
		fmt.Printf("Rollout %d: mean reward %.2f, mean episode length %.1f (%d episodes)\n",
			ep, stats.MeanReward, stats.MeanLength, stats.Episodes)
	}
	return nil
}
