package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()

	if cfg.Tracing.Exporter != "otlp" {
		t.Errorf("expected default exporter otlp, got %q", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.Endpoint != DefaultOTLPEndpoint {
		t.Errorf("expected default endpoint %q, got %q", DefaultOTLPEndpoint, cfg.Tracing.Endpoint)
	}
	if cfg.Tracing.SamplingRate != 1.0 {
		t.Errorf("expected default sampling rate 1.0, got %f", cfg.Tracing.SamplingRate)
	}
	if cfg.Tracing.ServiceName != DefaultServiceName {
		t.Errorf("expected service name %q, got %q", DefaultServiceName, cfg.Tracing.ServiceName)
	}
	if !cfg.Tracing.IsInsecure() {
		t.Error("expected insecure exporter connection by default")
	}
	if cfg.Tracing.Timeout != 10*time.Second {
		t.Errorf("expected 10s exporter timeout, got %v", cfg.Tracing.Timeout)
	}
	if cfg.Metrics.Endpoint != DefaultMetricsPath {
		t.Errorf("expected metrics path %q, got %q", DefaultMetricsPath, cfg.Metrics.Endpoint)
	}
	if cfg.Metrics.Namespace != DefaultServiceName {
		t.Errorf("expected namespace %q, got %q", DefaultServiceName, cfg.Metrics.Namespace)
	}

	t.Log("✅ Config defaults applied correctly")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"zero value passes", func(c *Config) {}, false},
		{"enabled with defaults passes", func(c *Config) { c.Tracing.Enabled = true; c.Metrics.Enabled = true }, false},
		{"unknown exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"sampling rate above 1", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SamplingRate = 2.0 }, true},
		{"negative sampling rate", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SamplingRate = -0.1 }, true},
		{"missing metrics endpoint", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Endpoint = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}
			cfg.SetDefaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNoopManager(t *testing.T) {
	ctx := context.Background()
	m := NoopManager()

	_, span := m.Tracer("test").Start(ctx, "noop_span")
	span.End()

	m.Recorder().RecordIteration(ctx, 0.5, 10*time.Millisecond)
	m.Recorder().RecordCheckpoint(ctx)

	w := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 from disabled metrics handler, got %d", w.Code)
	}
	if m.MetricsPath() != DefaultMetricsPath {
		t.Errorf("expected metrics path %q, got %q", DefaultMetricsPath, m.MetricsPath())
	}

	t.Log("✅ Noop manager hands out safe defaults")
}

func TestManagerStdoutTracing(t *testing.T) {
	cfg := Config{Tracing: TracingConfig{Enabled: true, Exporter: "stdout"}}
	cfg.SetDefaults()

	ctx := context.Background()
	m := NewManager(cfg)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	_, span := m.Tracer("test").Start(ctx, SpanTrainIteration)
	span.End()

	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	t.Log("✅ Stdout tracer initialized and shut down cleanly")
}

func TestManagerMetricsScrape(t *testing.T) {
	cfg := Config{Metrics: MetricsConfig{Enabled: true}}
	cfg.SetDefaults()

	ctx := context.Background()
	m := NewManager(cfg)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		SetGlobalRecorder(nil)
		if err := m.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	}()

	rec := m.Recorder()
	if _, ok := rec.(*TrainingMetrics); !ok {
		t.Fatalf("expected *TrainingMetrics recorder, got %T", rec)
	}
	rec.RecordIteration(ctx, 0.42, 15*time.Millisecond)
	rec.RecordRollout(ctx, 180.5, 240)
	rec.RecordEval(ctx, 0.003)
	rec.RecordCheckpoint(ctx)

	w := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, m.MetricsPath(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("scrape returned %d", w.Code)
	}
	body := w.Body.String()
	for _, metric := range []string{
		"locodiff_train_iterations_total",
		"locodiff_train_loss",
		"locodiff_rollout_reward",
		"locodiff_checkpoint_saves_total",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("scrape output missing %s", metric)
		}
	}

	t.Log("✅ Recorded metrics appear in scrape output")
}

// captureRecorder remembers the last HTTP request it saw.
type captureRecorder struct {
	NoopRecorder
	method string
	path   string
	status int
	calls  int
}

func (r *captureRecorder) RecordHTTPRequest(_ context.Context, method, path string, status int, _ time.Duration) {
	r.method = method
	r.path = path
	r.status = status
	r.calls++
}

func TestHTTPMiddleware(t *testing.T) {
	rec := &captureRecorder{}
	tracer := NoopManager().Tracer("test")

	handler := HTTPMiddleware(tracer, rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no such run"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 response, got %d", w.Code)
	}
	if rec.calls != 1 {
		t.Fatalf("expected 1 recorded request, got %d", rec.calls)
	}
	if rec.method != http.MethodGet || rec.path != "/api/runs/missing" {
		t.Errorf("recorded %s %s, want GET /api/runs/missing", rec.method, rec.path)
	}
	if rec.status != http.StatusNotFound {
		t.Errorf("recorded status %d, want 404", rec.status)
	}

	t.Log("✅ Middleware records method, path, and status")
}

func TestHTTPMiddlewareImplicitStatus(t *testing.T) {
	rec := &captureRecorder{}

	handler := HTTPMiddleware(nil, rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.status != http.StatusOK {
		t.Errorf("expected implicit 200, got %d", rec.status)
	}

	t.Log("✅ Implicit WriteHeader reported as 200")
}

func TestGlobalRecorder(t *testing.T) {
	SetGlobalRecorder(nil)
	if _, ok := GetGlobalRecorder().(NoopRecorder); !ok {
		t.Errorf("expected NoopRecorder after SetGlobalRecorder(nil), got %T", GetGlobalRecorder())
	}

	rec := &captureRecorder{}
	SetGlobalRecorder(rec)
	if GetGlobalRecorder() != rec {
		t.Error("expected the installed recorder back from GetGlobalRecorder")
	}

	SetGlobalRecorder(nil)

	t.Log("✅ Global recorder is never nil")
}
