package envs

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeceomahoney/locodiff/pkg/config"
)

func TestTasks(t *testing.T) {
	names := Tasks()
	assert.Contains(t, names, "cartpole")
	assert.Contains(t, names, "reacher")
}

func TestMakeBuiltin(t *testing.T) {
	cfg := &config.Config{Task: "cartpole", NumEnvs: 4, EpisodeLength: 50}

	env, err := Make(context.Background(), cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	defer env.Close()

	assert.IsType(t, &Cartpole{}, env)
	assert.Equal(t, 4, env.NumEnvs())
	assert.Equal(t, 4, env.ObsDim())
	assert.Equal(t, 1, env.ActDim())
}

func TestMakeUnknownTask(t *testing.T) {
	cfg := &config.Config{Task: "walker", NumEnvs: 1, EpisodeLength: 50}

	_, err := Make(context.Background(), cfg, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown task "walker"`)
	assert.ErrorContains(t, err, "cartpole")
	assert.ErrorContains(t, err, "reacher")
}

func TestMakePrefersEndpoint(t *testing.T) {
	server := newSimServer(t)
	defer server.Close()

	cfg := &config.Config{
		Task:          "cartpole",
		NumEnvs:       4,
		EpisodeLength: 50,
		Sim: config.SimConfig{
			Endpoint:       server.URL,
			RequestTimeout: 5 * time.Second,
			MaxRetries:     1,
		},
	}

	env, err := Make(context.Background(), cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	defer env.Close()

	assert.IsType(t, &Remote{}, env)
	assert.Equal(t, 2, env.NumEnvs(), "instance count comes from the simulator, not the config")
}

func TestRegisterDuplicate(t *testing.T) {
	err := Register("cartpole", func(cfg *config.Config, rng *rand.Rand) (VecEnv, error) {
		return nil, nil
	})
	assert.Error(t, err)
}
