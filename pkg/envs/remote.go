package envs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/reeceomahoney/locodiff/pkg/config"
	"github.com/reeceomahoney/locodiff/pkg/httpclient"
)

type remoteSpec struct {
	ObsDim  int `json:"obs_dim"`
	ActDim  int `json:"act_dim"`
	NumEnvs int `json:"num_envs"`
}

type remoteResetResponse struct {
	Obs [][]float64 `json:"obs"`
}

type remoteStepRequest struct {
	Actions [][]float64 `json:"actions"`
}

type remoteStepResponse struct {
	Obs     [][]float64 `json:"obs"`
	Rewards []float64   `json:"rewards"`
	Dones   []bool      `json:"dones"`
}

// Remote drives an external simulator over its JSON HTTP API. The simulator
// owns the vectorization: GET /spec reports its dimensions and instance
// count, POST /reset and POST /step move every instance at once.
type Remote struct {
	endpoint string
	client   *httpclient.Client

	obsDim  int
	actDim  int
	numEnvs int

	lastObs [][]float64
}

// NewRemote connects to the simulator at cfg.Endpoint and fetches its spec.
func NewRemote(ctx context.Context, cfg *config.SimConfig) (*Remote, error) {
	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithHeaderParser(httpclient.ParseRateLimitHeaders),
	}

	if cfg.CACert != "" || cfg.InsecureSkipVerify {
		tlsConfig := &httpclient.TLSConfig{InsecureSkipVerify: cfg.InsecureSkipVerify}
		if cfg.CACert != "" {
			pem, err := os.ReadFile(cfg.CACert)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA certificate: %w", err)
			}
			tlsConfig.CACertificate = pem
		}
		tlsOpt, err := httpclient.WithTLSConfig(tlsConfig)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tlsOpt)
	}

	env := &Remote{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		client:   httpclient.New(opts...),
	}

	var spec remoteSpec
	if err := env.doJSON(ctx, http.MethodGet, "/spec", nil, &spec); err != nil {
		return nil, err
	}
	if spec.ObsDim < 1 || spec.ActDim < 1 || spec.NumEnvs < 1 {
		return nil, fmt.Errorf("simulator spec is incomplete: %+v", spec)
	}
	env.obsDim = spec.ObsDim
	env.actDim = spec.ActDim
	env.numEnvs = spec.NumEnvs

	return env, nil
}

func (e *Remote) ObsDim() int  { return e.obsDim }
func (e *Remote) ActDim() int  { return e.actDim }
func (e *Remote) NumEnvs() int { return e.numEnvs }

// Reset restarts every simulator instance.
func (e *Remote) Reset(ctx context.Context) ([][]float64, error) {
	var resp remoteResetResponse
	if err := e.doJSON(ctx, http.MethodPost, "/reset", struct{}{}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Obs) != e.numEnvs {
		return nil, fmt.Errorf("simulator returned %d observations, expected %d", len(resp.Obs), e.numEnvs)
	}
	e.lastObs = resp.Obs
	return cloneBatch(resp.Obs), nil
}

// Step sends one action batch and returns the transition.
func (e *Remote) Step(ctx context.Context, actions [][]float64) (*StepResult, error) {
	if len(actions) != e.numEnvs {
		return nil, fmt.Errorf("expected %d actions, got %d", e.numEnvs, len(actions))
	}

	var resp remoteStepResponse
	if err := e.doJSON(ctx, http.MethodPost, "/step", remoteStepRequest{Actions: actions}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Obs) != e.numEnvs || len(resp.Rewards) != e.numEnvs || len(resp.Dones) != e.numEnvs {
		return nil, fmt.Errorf("simulator step response has inconsistent sizes (obs=%d rewards=%d dones=%d, expected %d)",
			len(resp.Obs), len(resp.Rewards), len(resp.Dones), e.numEnvs)
	}
	e.lastObs = resp.Obs

	return &StepResult{Obs: cloneBatch(resp.Obs), Rewards: resp.Rewards, Dones: resp.Dones}, nil
}

// Observations returns the last observation batch the simulator reported.
func (e *Remote) Observations() [][]float64 {
	return cloneBatch(e.lastObs)
}

func (e *Remote) Close() error { return nil }

func (e *Remote) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("simulator %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
