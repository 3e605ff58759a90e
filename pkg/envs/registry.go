package envs

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/reeceomahoney/locodiff/pkg/config"
	"github.com/reeceomahoney/locodiff/pkg/registry"
)

// Factory constructs a built-in environment from the experiment config.
type Factory func(cfg *config.Config, rng *rand.Rand) (VecEnv, error)

var tasks = registry.NewBaseRegistry[Factory]()

func init() {
	mustRegister("cartpole", func(cfg *config.Config, rng *rand.Rand) (VecEnv, error) {
		return NewCartpole(cfg.NumEnvs, cfg.EpisodeLength, rng), nil
	})
	mustRegister("reacher", func(cfg *config.Config, rng *rand.Rand) (VecEnv, error) {
		return NewReacher(cfg.NumEnvs, cfg.EpisodeLength, rng), nil
	})
}

func mustRegister(name string, factory Factory) {
	if err := tasks.Register(name, factory); err != nil {
		panic(err)
	}
}

// Register adds a task factory. Built-in tasks register at package init.
func Register(name string, factory Factory) error {
	return tasks.Register(name, factory)
}

// Tasks returns the registered task names in sorted order.
func Tasks() []string {
	return tasks.Names()
}

// Make builds the environment for cfg.Task. A configured sim endpoint takes
// precedence over built-in tasks, so heavyweight simulators can serve any
// task name.
func Make(ctx context.Context, cfg *config.Config, rng *rand.Rand) (VecEnv, error) {
	if cfg.Sim.Endpoint != "" {
		return NewRemote(ctx, &cfg.Sim)
	}

	factory, ok := tasks.Get(cfg.Task)
	if !ok {
		return nil, fmt.Errorf("unknown task %q (available: %s)", cfg.Task, strings.Join(Tasks(), ", "))
	}
	return factory(cfg, rng)
}
