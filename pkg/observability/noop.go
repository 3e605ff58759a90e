package observability

import (
	"context"
	"net/http"
	"time"
)

// NoopManager returns a Manager that records nothing. Use when observability
// is disabled entirely (collect/validate commands, tests).
func NoopManager() *Manager {
	return NewManager(Config{})
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) RecordIteration(context.Context, float64, time.Duration) {}

func (NoopRecorder) RecordRollout(context.Context, float64, float64) {}

func (NoopRecorder) RecordEval(context.Context, float64) {}

func (NoopRecorder) RecordCheckpoint(context.Context) {}

func (NoopRecorder) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}

var _ Recorder = NoopRecorder{}
var _ Recorder = (*TrainingMetrics)(nil)

// noopMetricsHandler answers scrapes while metrics are disabled.
func noopMetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}
