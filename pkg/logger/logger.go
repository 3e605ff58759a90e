// Package logger configures the process-wide slog logger.
//
// Training prints a console block every log interval, so the default handler
// keeps records terse: level + message + attrs, colored when the output is a
// terminal. Records emitted by third-party libraries are dropped below debug
// level so imported clients cannot flood a run's console.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"golang.org/x/term"
)

var defaultLogger *slog.Logger

const modulePrefix = "github.com/reeceomahoney/locodiff"

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error. Unknown strings fall back to warn.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

// filteringHandler drops records from outside this module unless the level
// is debug. Everything below minLevel is dropped regardless of origin.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.minLevel {
		return false
	}
	// Origin is only known from the record's PC, so filtering happens in
	// Handle; Enabled just applies the level gate.
	return h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug {
		return h.handler.Handle(ctx, record)
	}

	if h.isModuleRecord(record.PC) {
		return h.handler.Handle(ctx, record)
	}

	// Third-party record outside debug mode.
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{
		handler:  h.handler.WithAttrs(attrs),
		minLevel: h.minLevel,
	}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{
		handler:  h.handler.WithGroup(name),
		minLevel: h.minLevel,
	}
}

// isModuleRecord reports whether the record was emitted from this module.
func (h *filteringHandler) isModuleRecord(pc uintptr) bool {
	if pc == 0 {
		return false
	}

	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}

	fullName := fn.Name()
	file, _ := fn.FileLine(pc)

	return strings.Contains(fullName, modulePrefix) ||
		strings.Contains(file, "locodiff/")
}

// getLevelColor returns the ANSI color code for a log level.
func getLevelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m" // red
	case level >= slog.LevelWarn:
		return "\033[33m" // yellow
	case level >= slog.LevelInfo:
		return "\033[36m" // cyan
	default:
		return "\033[90m" // gray
	}
}

// isTerminal checks whether the file is attached to a terminal.
func isTerminal(file *os.File) bool {
	return term.IsTerminal(int(file.Fd()))
}

// coloredTextHandler formats records directly with ANSI level colors.
type coloredTextHandler struct {
	handler  slog.Handler
	writer   io.Writer
	useColor bool
	simple   bool // simple format: level + message + attrs, no timestamp
}

func (h *coloredTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *coloredTextHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.useColor {
		return h.handler.Handle(ctx, record)
	}

	colorCode := getLevelColor(record.Level)
	resetCode := "\033[0m"

	var buf strings.Builder

	if !h.simple && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}

	buf.WriteString(colorCode)
	buf.WriteString(normalizeLevel(record.Level))
	buf.WriteString(resetCode)
	buf.WriteString(" ")
	buf.WriteString(record.Message)

	record.Attrs(func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *coloredTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &coloredTextHandler{
		handler:  h.handler.WithAttrs(attrs),
		writer:   h.writer,
		useColor: h.useColor,
		simple:   h.simple,
	}
}

func (h *coloredTextHandler) WithGroup(name string) slog.Handler {
	return &coloredTextHandler{
		handler:  h.handler.WithGroup(name),
		writer:   h.writer,
		useColor: h.useColor,
		simple:   h.simple,
	}
}

// normalizeLevel renders a level name, shortening WARNING to WARN.
func normalizeLevel(level slog.Level) string {
	levelStr := strings.ToUpper(level.String())
	if levelStr == "WARNING" {
		return "WARN"
	}
	return levelStr
}

// Init initializes the process logger with the given level and format.
//
// format is "simple" (level + message, the default) or "verbose" (adds the
// timestamp); any other value falls back to the standard slog text format.
// Colors are enabled automatically when output is a terminal, and records
// from outside this module are dropped unless level is debug.
func Init(level slog.Level, output *os.File, format string) {
	useColor := isTerminal(output)
	simple := format == "simple" || format == ""
	verbose := format == "verbose"

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if a.Value.String() == "WARNING" {
					return slog.String("level", "WARN")
				}
			}
			return a
		},
	}

	baseHandler := slog.NewTextHandler(output, opts)

	var handler slog.Handler = baseHandler
	if useColor {
		if simple || verbose {
			handler = &coloredTextHandler{
				handler:  baseHandler,
				writer:   output,
				useColor: true,
				simple:   simple,
			}
		}
	} else if simple {
		handler = &simpleTextHandler{
			handler: baseHandler,
			writer:  output,
		}
	}

	defaultLogger = slog.New(&filteringHandler{
		handler:  handler,
		minLevel: level,
	})

	// Libraries logging through the slog default pick this up too.
	slog.SetDefault(defaultLogger)
}

// simpleTextHandler formats records as level + message for non-terminal output.
type simpleTextHandler struct {
	handler slog.Handler
	writer  io.Writer
}

func (h *simpleTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *simpleTextHandler) Handle(ctx context.Context, record slog.Record) error {
	var buf strings.Builder

	buf.WriteString(normalizeLevel(record.Level))
	buf.WriteString(" ")
	buf.WriteString(record.Message)

	record.Attrs(func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *simpleTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &simpleTextHandler{
		handler: h.handler.WithAttrs(attrs),
		writer:  h.writer,
	}
}

func (h *simpleTextHandler) WithGroup(name string) slog.Handler {
	return &simpleTextHandler{
		handler: h.handler.WithGroup(name),
		writer:  h.writer,
	}
}

// OpenLogFile opens or creates an append-mode log file.
// Returns the file handle and a cleanup function.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		file.Close()
	}

	return file, cleanup, nil
}

// GetLogger returns the default slog logger, initializing it at info level
// with the simple format on first use.
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "simple")
	}
	return defaultLogger
}
