package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalRecorder Recorder = NoopRecorder{}
	recorderMu     sync.RWMutex
)

// Recorder receives training and serving measurements. The runner calls it
// at every log interval; the status server calls it per request.
type Recorder interface {
	RecordIteration(ctx context.Context, loss float64, duration time.Duration)
	RecordRollout(ctx context.Context, meanReward, meanEpisodeLength float64)
	RecordEval(ctx context.Context, mse float64)
	RecordCheckpoint(ctx context.Context)
	RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration)
}

// TrainingMetrics is the Prometheus-backed Recorder.
type TrainingMetrics struct {
	iterations      metric.Int64Counter
	loss            metric.Float64Gauge
	iterDuration    metric.Float64Histogram
	reward          metric.Float64Gauge
	episodeLength   metric.Float64Gauge
	evalMSE         metric.Float64Gauge
	checkpointSaves metric.Int64Counter
	httpRequests    metric.Int64Counter
	httpDuration    metric.Float64Histogram
}

// RecordIteration records one completed training iteration.
func (m *TrainingMetrics) RecordIteration(ctx context.Context, loss float64, duration time.Duration) {
	if m == nil {
		return
	}
	m.iterations.Add(ctx, 1)
	m.loss.Record(ctx, loss)
	m.iterDuration.Record(ctx, duration.Seconds())
}

// RecordRollout records the episode statistics of a simulation rollout.
func (m *TrainingMetrics) RecordRollout(ctx context.Context, meanReward, meanEpisodeLength float64) {
	if m == nil {
		return
	}
	m.reward.Record(ctx, meanReward)
	m.episodeLength.Record(ctx, meanEpisodeLength)
}

// RecordEval records the test-split MSE.
func (m *TrainingMetrics) RecordEval(ctx context.Context, mse float64) {
	if m == nil {
		return
	}
	m.evalMSE.Record(ctx, mse)
}

// RecordCheckpoint counts a written checkpoint.
func (m *TrainingMetrics) RecordCheckpoint(ctx context.Context) {
	if m == nil {
		return
	}
	m.checkpointSaves.Add(ctx, 1)
}

// RecordHTTPRequest records one status server request.
func (m *TrainingMetrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPPath, path),
		attribute.Int(AttrHTTPStatus, statusCode),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

// SetGlobalRecorder installs the process-wide recorder.
func SetGlobalRecorder(r Recorder) {
	recorderMu.Lock()
	defer recorderMu.Unlock()
	if r == nil {
		r = NoopRecorder{}
	}
	globalRecorder = r
}

// GetGlobalRecorder returns the process-wide recorder. It is never nil.
func GetGlobalRecorder() Recorder {
	recorderMu.RLock()
	defer recorderMu.RUnlock()
	return globalRecorder
}
