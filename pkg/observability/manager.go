// Package observability wires OpenTelemetry tracing and Prometheus metrics
// into training runs and the status server. Everything is opt-in: with both
// subsystems disabled the Manager hands out noop tracers and recorders and
// training pays nothing.
package observability

import (
	"context"
	"net/http"
	"sync"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Manager owns the configured tracer provider and metrics recorder.
type Manager struct {
	config Config

	mu             sync.RWMutex
	tracerProvider trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	recorder       Recorder
	metricsHandler http.Handler
}

// NewManager creates a Manager. Call Initialize before use; an
// uninitialized Manager behaves like a noop one.
func NewManager(cfg Config) *Manager {
	return &Manager{
		config:         cfg,
		tracerProvider: noop.NewTracerProvider(),
		recorder:       NoopRecorder{},
		metricsHandler: noopMetricsHandler(),
	}
}

// Initialize starts the configured exporters and installs the recorder
// globally.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := initTracerProvider(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	metrics, handler, provider, err := initMetrics(m.config.Metrics)
	if err != nil {
		return err
	}
	if metrics != nil {
		m.recorder = metrics
		m.metricsHandler = handler
		m.meterProvider = provider
	}

	SetGlobalRecorder(m.recorder)
	return nil
}

// Tracer returns a named tracer from the manager's provider.
func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracerProvider.Tracer(name)
}

// Recorder returns the metrics recorder. It is never nil.
func (m *Manager) Recorder() Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recorder
}

// MetricsHandler returns the scrape handler for the status server.
func (m *Manager) MetricsHandler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metricsHandler
}

// MetricsPath returns the configured scrape path.
func (m *Manager) MetricsPath() string {
	if m.config.Metrics.Endpoint == "" {
		return DefaultMetricsPath
	}
	return m.config.Metrics.Endpoint
}

// Shutdown flushes and stops the exporters.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tp, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
	}
	if m.meterProvider != nil {
		return m.meterProvider.Shutdown(ctx)
	}
	return nil
}
