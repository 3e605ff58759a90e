package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/reeceomahoney/locodiff/pkg/config"
	"github.com/reeceomahoney/locodiff/pkg/runs"
)

// ValidateCmd runs the full config pipeline (composition, interpolation,
// decoding, validation) and reports the result.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, loader, err := loadExperiment(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	fmt.Printf("✓ %s is valid\n", cli.Config)
	if err := cfg.ValidateResolved(); err != nil {
		fmt.Printf("  note: %v (filled from the environment at train time)\n", err)
	}
	return nil
}

// InfoCmd prints the resolved experiment summary.
type InfoCmd struct{}

func (c *InfoCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, loader, err := loadExperiment(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Task:\t%s\n", cfg.Task)
	fmt.Fprintf(w, "Model:\t%s\n", cfg.Model.Type)
	fmt.Fprintf(w, "Sampler:\t%s (%d steps)\n", cfg.Policy.Sampler, cfg.Policy.SamplingSteps)
	fmt.Fprintf(w, "Horizons:\tT=%d T_cond=%d T_action=%d\n", cfg.T, cfg.TCond, cfg.TAction)
	fmt.Fprintf(w, "Iterations:\t%d\n", cfg.NumIters)
	fmt.Fprintf(w, "Environments:\t%d\n", cfg.NumEnvs)
	fmt.Fprintf(w, "Dataset:\t%s (split %.2f, batch %d)\n",
		cfg.Dataset.Source, cfg.Dataset.TrainFraction, cfg.Dataset.TrainBatchSize)
	fmt.Fprintf(w, "EMA:\t%v (decay %g)\n", cfg.EMAEnabled(), cfg.EMADecay)
	fmt.Fprintf(w, "Run directory:\t%s\n", cfg.LogDir)
	return w.Flush()
}

// RunsCmd lists runs from the run registry.
type RunsCmd struct {
	Limit int `help:"Maximum number of runs to show." default:"20"`
}

func (c *RunsCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, loader, err := loadExperiment(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	if cfg.Database == nil {
		return fmt.Errorf("no database configured: add a database section to %s", cli.Config)
	}

	pool := config.NewDBPool()
	defer pool.Close()

	registry, err := runs.NewRegistryFromConfig(pool, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open run registry: %w", err)
	}

	list, err := registry.List(ctx, c.Limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTASK\tMODEL\tSAMPLER\tSTATUS\tITER\tLOSS\tCREATED")
	for _, run := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%.4f\t%s\n",
			run.ID, run.Task, run.Model, run.Sampler, run.Status,
			run.Iter, run.Loss, run.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
