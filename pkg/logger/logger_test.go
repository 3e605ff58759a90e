package logger

import (
	"bytes"
	"context"
	"log/slog"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "info", want: slog.LevelInfo},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "bogus", want: slog.LevelWarn},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "ParseLevel(%q)", tt.in)
	}
}

func TestSimpleTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := &simpleTextHandler{
		handler: slog.NewTextHandler(&buf, nil),
		writer:  &buf,
	}

	record := slog.NewRecord(time.Now(), slog.LevelInfo, "training", 0)
	record.AddAttrs(slog.Int("iter", 10), slog.String("task", "cartpole"))

	require.NoError(t, h.Handle(context.Background(), record))
	assert.Equal(t, "INFO training iter=10 task=cartpole\n", buf.String())
}

func TestNormalizeLevel(t *testing.T) {
	assert.Equal(t, "WARN", normalizeLevel(slog.LevelWarn))
	assert.Equal(t, "INFO", normalizeLevel(slog.LevelInfo))
	assert.Equal(t, "ERROR", normalizeLevel(slog.LevelError))
}

func TestFilteringHandlerLevelGate(t *testing.T) {
	var buf bytes.Buffer
	h := &filteringHandler{
		handler:  &simpleTextHandler{handler: slog.NewTextHandler(&buf, nil), writer: &buf},
		minLevel: slog.LevelWarn,
	}

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestFilteringHandlerDropsForeignRecords(t *testing.T) {
	var buf bytes.Buffer
	h := &filteringHandler{
		handler:  &simpleTextHandler{handler: slog.NewTextHandler(&buf, nil), writer: &buf},
		minLevel: slog.LevelInfo,
	}

	// Unknown origin is treated as third-party and dropped above debug.
	foreign := slog.NewRecord(time.Now(), slog.LevelInfo, "noise", 0)
	require.NoError(t, h.Handle(context.Background(), foreign))
	assert.Empty(t, buf.String())

	// A record originating in this module passes.
	pc, _, _, ok := runtime.Caller(0)
	require.True(t, ok)
	local := slog.NewRecord(time.Now(), slog.LevelInfo, "signal", pc)
	require.NoError(t, h.Handle(context.Background(), local))
	assert.Contains(t, buf.String(), "signal")
}

func TestFilteringHandlerDebugPassesEverything(t *testing.T) {
	var buf bytes.Buffer
	h := &filteringHandler{
		handler:  &simpleTextHandler{handler: slog.NewTextHandler(&buf, nil), writer: &buf},
		minLevel: slog.LevelDebug,
	}

	foreign := slog.NewRecord(time.Now(), slog.LevelInfo, "noise", 0)
	require.NoError(t, h.Handle(context.Background(), foreign))
	assert.Contains(t, buf.String(), "noise")
}
