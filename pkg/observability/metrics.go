package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// initMetrics builds the Prometheus-backed meter provider and the training
// instruments. A dedicated registry keeps the scrape surface limited to this
// process's metrics.
func initMetrics(cfg MetricsConfig) (*TrainingMetrics, http.Handler, *sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		return nil, nil, nil, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(cfg.Namespace)
	name := func(suffix string) string { return cfg.Namespace + "_" + suffix }

	iterations, err := meter.Int64Counter(
		name("train_iterations_total"),
		metric.WithDescription("Completed training iterations"),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create iterations counter: %w", err)
	}

	loss, err := meter.Float64Gauge(
		name("train_loss"),
		metric.WithDescription("Denoising loss of the last training batch"),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create loss gauge: %w", err)
	}

	iterDuration, err := meter.Float64Histogram(
		name("train_iteration_duration_seconds"),
		metric.WithDescription("Training iteration duration in seconds"),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create iteration duration histogram: %w", err)
	}

	reward, err := meter.Float64Gauge(
		name("rollout_reward"),
		metric.WithDescription("Mean step reward of the last rollout"),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create reward gauge: %w", err)
	}

	episodeLength, err := meter.Float64Gauge(
		name("rollout_episode_length"),
		metric.WithDescription("Mean episode length of the last rollout"),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create episode length gauge: %w", err)
	}

	evalMSE, err := meter.Float64Gauge(
		name("eval_mse"),
		metric.WithDescription("Mean squared error on the test split"),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create eval mse gauge: %w", err)
	}

	checkpointSaves, err := meter.Int64Counter(
		name("checkpoint_saves_total"),
		metric.WithDescription("Checkpoints written"),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create checkpoint counter: %w", err)
	}

	httpRequests, err := meter.Int64Counter(
		name("http_requests_total"),
		metric.WithDescription("Status server requests"),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	httpDuration, err := meter.Float64Histogram(
		name("http_request_duration_seconds"),
		metric.WithDescription("Status server request duration in seconds"),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	metrics := &TrainingMetrics{
		iterations:      iterations,
		loss:            loss,
		iterDuration:    iterDuration,
		reward:          reward,
		episodeLength:   episodeLength,
		evalMSE:         evalMSE,
		checkpointSaves: checkpointSaves,
		httpRequests:    httpRequests,
		httpDuration:    httpDuration,
	}
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return metrics, handler, provider, nil
}
