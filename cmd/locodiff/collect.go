package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/reeceomahoney/locodiff/pkg/config"
	"github.com/reeceomahoney/locodiff/pkg/dataset"
	"github.com/reeceomahoney/locodiff/pkg/envs"
)

// CollectCmd runs the scripted expert for the configured task and writes
// the demonstrations to the dataset archive.
type CollectCmd struct {
	Episodes int `help:"Number of episodes to collect." default:"100"`
}

func (c *CollectCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, loader, err := loadExperiment(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	expert, err := envs.NewExpert(cfg.Task)
	if err != nil {
		return err
	}
	env, err := envs.Make(ctx, cfg, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return fmt.Errorf("failed to create environment: %w", err)
	}
	defer env.Close()

	pool := config.NewDBPool()
	defer pool.Close()

	archive, err := dataset.OpenArchive(&cfg.Dataset, pool)
	if err != nil {
		return fmt.Errorf("failed to open episode archive: %w", err)
	}
	defer archive.Close()

	episodes, err := collectEpisodes(ctx, env, expert, cfg.Task, c.Episodes)
	if err != nil {
		return err
	}
	if err := archive.Append(ctx, episodes...); err != nil {
		return fmt.Errorf("failed to write episodes: %w", err)
	}

	var steps int
	for i := range episodes {
		steps += episodes[i].Len()
	}
	slog.Info("Collected demonstrations",
		"task", cfg.Task, "episodes", len(episodes), "steps", steps, "archive", cfg.Dataset.Source)
	return nil
}

// collectEpisodes steps the vectorized environment with the expert until n
// episodes have finished. Auto-reset means a done instance starts its next
// episode on the following step.
func collectEpisodes(ctx context.Context, env envs.VecEnv, expert envs.Expert, task string, n int) ([]dataset.Episode, error) {
	obs, err := env.Reset(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reset environment: %w", err)
	}

	buffers := make([]dataset.Episode, env.NumEnvs())
	for i := range buffers {
		buffers[i].Task = task
	}

	var episodes []dataset.Episode
	for len(episodes) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		actions := expert.Act(obs)
		result, err := env.Step(ctx, actions)
		if err != nil {
			return nil, fmt.Errorf("environment step failed: %w", err)
		}

		for i := range buffers {
			buffers[i].Obs = append(buffers[i].Obs, cloneRow(obs[i]))
			buffers[i].Actions = append(buffers[i].Actions, cloneRow(actions[i]))
			buffers[i].Rewards = append(buffers[i].Rewards, result.Rewards[i])
			if result.Dones[i] {
				episodes = append(episodes, buffers[i])
				buffers[i] = dataset.Episode{Task: task}
			}
		}
		obs = result.Obs
	}
	return episodes[:n], nil
}

func cloneRow(row []float64) []float64 {
	return append([]float64(nil), row...)
}
