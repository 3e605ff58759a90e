package envs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeceomahoney/locodiff/pkg/config"
)

func simConfig(endpoint string) *config.SimConfig {
	return &config.SimConfig{
		Endpoint:       endpoint,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     1,
	}
}

// newSimServer serves a minimal two-instance simulator: /step echoes the
// first action value of each instance back as its reward.
func newSimServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /spec", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"obs_dim": 3, "act_dim": 2, "num_envs": 2})
	})
	mux.HandleFunc("POST /reset", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"obs": [][]float64{{0, 0, 0}, {1, 1, 1}},
		})
	})
	mux.HandleFunc("POST /step", func(w http.ResponseWriter, r *http.Request) {
		var req remoteStepRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode step request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		rewards := make([]float64, len(req.Actions))
		for i, a := range req.Actions {
			rewards[i] = a[0]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"obs":     [][]float64{{0.1, 0.2, 0.3}, {1.1, 1.2, 1.3}},
			"rewards": rewards,
			"dones":   []bool{false, true},
		})
	})
	return httptest.NewServer(mux)
}

func TestRemoteLifecycle(t *testing.T) {
	server := newSimServer(t)
	defer server.Close()

	env, err := NewRemote(context.Background(), simConfig(server.URL))
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, 3, env.ObsDim())
	assert.Equal(t, 2, env.ActDim())
	assert.Equal(t, 2, env.NumEnvs())

	obs, err := env.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0, 0}, {1, 1, 1}}, obs)
	assert.Equal(t, obs, env.Observations())

	result, err := env.Step(context.Background(), [][]float64{{0.5, 0}, {-0.5, 0}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.1, 0.2, 0.3}, {1.1, 1.2, 1.3}}, result.Obs)
	assert.Equal(t, []float64{0.5, -0.5}, result.Rewards)
	assert.Equal(t, []bool{false, true}, result.Dones)
	assert.Equal(t, result.Obs, env.Observations())
}

func TestRemoteStepSizeMismatch(t *testing.T) {
	server := newSimServer(t)
	defer server.Close()

	env, err := NewRemote(context.Background(), simConfig(server.URL))
	require.NoError(t, err)

	_, err = env.Step(context.Background(), [][]float64{{0.5, 0}})
	assert.ErrorContains(t, err, "expected 2 actions")
}

func TestRemoteIncompleteSpec(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"obs_dim": 3})
	}))
	defer server.Close()

	_, err := NewRemote(context.Background(), simConfig(server.URL))
	assert.ErrorContains(t, err, "simulator spec is incomplete")
}

func TestRemoteSpecUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := NewRemote(context.Background(), simConfig(server.URL))
	assert.ErrorContains(t, err, "simulator /spec failed")
}

func TestRemoteMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := NewRemote(context.Background(), simConfig(server.URL))
	assert.ErrorContains(t, err, "failed to decode /spec response")
}
