// Command locodiff trains and evaluates diffusion robot control policies.
//
// Usage:
//
//	locodiff collect --config configs/cartpole.yaml --episodes 200
//	locodiff train --config configs/cartpole.yaml
//	locodiff play --config configs/cartpole.yaml
//	locodiff runs --config configs/cartpole.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	locodiff "github.com/reeceomahoney/locodiff"
	"github.com/reeceomahoney/locodiff/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Train    TrainCmd    `cmd:"" help:"Train a diffusion policy."`
	Play     PlayCmd     `cmd:"" help:"Roll out a trained policy in the environment."`
	Collect  CollectCmd  `cmd:"" help:"Collect expert demonstrations into an episode archive."`
	Validate ValidateCmd `cmd:"" help:"Validate an experiment configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for experiment configs."`
	Info     InfoCmd     `cmd:"" help:"Show the resolved experiment summary."`
	Runs     RunsCmd     `cmd:"" help:"List runs from the run registry."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to experiment config file." type:"path" default:"configs/cartpole.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(locodiff.GetVersion().String())
	return nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()
	return ctx, cancel
}

// loadExperiment loads .env files and the experiment config.
func loadExperiment(ctx context.Context, path string) (*config.Config, *config.Loader, error) {
	if err := config.LoadEnvFiles(); err != nil {
		slog.Warn("Failed to load .env files", "error", err)
	}
	cfg, loader, err := config.LoadConfigFile(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, loader, nil
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("locodiff"),
		kong.Description("Diffusion policy training harness for simulated robot control."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
