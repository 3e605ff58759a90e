package main

import (
	"fmt"
	"os"

	"github.com/reeceomahoney/locodiff/pkg/logger"
)

// Environment variable overrides, applied when the CLI flags are left at
// their zero value. Priority: CLI flags > env vars > defaults.
const (
	logFileEnvVar   = "LOG_FILE"
	logLevelEnvVar  = "LOG_LEVEL"
	logFormatEnvVar = "LOG_FORMAT"
)

// initLogger configures the process-wide slog logger from CLI flags and
// environment variables. The returned cleanup closes the log file, if any.
func initLogger(cliLevel, cliFile, cliFormat string) (func(), error) {
	level := cliLevel
	if level == "" {
		level = os.Getenv(logLevelEnvVar)
	}
	if level == "" {
		level = "info"
	}

	file := cliFile
	if file == "" {
		file = os.Getenv(logFileEnvVar)
	}

	format := cliFormat
	if format == "" {
		format = os.Getenv(logFormatEnvVar)
	}
	if format == "" {
		format = "simple"
	}

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	var cleanup func()
	if file != "" {
		f, cleanupFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = cleanupFn
	}

	logger.Init(parsed, output, format)
	return cleanup, nil
}
