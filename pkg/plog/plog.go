package plog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log levels. Notice sits between Debug and Info and is used for per-file
// actions (ADD, UPDATE, DELETE) so they can be silenced independently of
// run-level information.
const (
	LevelDebug  = slog.LevelDebug
	LevelNotice = slog.Level(-2)
	LevelInfo   = slog.LevelInfo
	LevelWarn   = slog.LevelWarn
	LevelError  = slog.LevelError
)

var levelNames = map[slog.Level]string{
	LevelDebug:  "DEBUG",
	LevelNotice: "NOTICE",
	LevelInfo:   "INFO",
	LevelWarn:   "WARN",
	LevelError:  "ERROR",
}

// LevelFromString parses a case-insensitive level name.
func LevelFromString(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "notice":
		return LevelNotice, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
}

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. INFO and below go to one handler,
// while WARNING and above go to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

// teeHandler forwards every record to all of its handlers.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

var (
	mu            sync.Mutex
	defaultLogger atomic.Pointer[slog.Logger]
	consoleOut    slog.Handler
	fileOut       *lumberjack.Logger
	level         slog.LevelVar
	quietMode     atomic.Bool // Use an atomic bool for safe concurrent reads.
)

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			if name, ok := levelNames[lvl]; ok {
				a.Value = slog.StringValue(name)
			}
		}
	}
	return a
}

func newTextHandler(w io.Writer, minLevel slog.Leveler) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: minLevel, ReplaceAttr: replaceLevel})
}

// rebuild swaps the active logger. Callers must hold mu.
func rebuild() {
	var h slog.Handler = consoleOut
	if fileOut != nil {
		h = teeHandler{consoleOut, newTextHandler(fileOut, &level)}
	}
	defaultLogger.Store(slog.New(h))
}

// SetOutput allows redirecting the logger's output, primarily for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	// When redirecting output for tests, ensure quiet mode is off
	// so that all levels are written to the provided writer.
	quietMode.Store(false)
	consoleOut = newTextHandler(w, &level)
	rebuild()
}

// SetLevel sets the minimum level for stdout and file output.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetQuiet enables or disables quiet mode for the global logger.
// In quiet mode, INFO and NOTICE level logs are suppressed.
func SetQuiet(quiet bool) {
	quietMode.Store(quiet)
}

// IsQuiet returns true if the global logger is in quiet mode.
func IsQuiet() bool {
	return quietMode.Load()
}

// SetLogFile additionally writes every record to a size-rotated file.
// An empty path disables file output. The returned closer flushes and
// closes the current file.
func SetLogFile(path string, maxSizeMB, maxBackups int) (io.Closer, error) {
	mu.Lock()
	defer mu.Unlock()
	if fileOut != nil {
		_ = fileOut.Close()
		fileOut = nil
	}
	if path == "" {
		rebuild()
		return io.NopCloser(nil), nil
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	fileOut = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	rebuild()
	return fileOut, nil
}

func init() {
	level.Set(LevelInfo)
	// Handler for info-level logs (and below) to stdout
	stdoutHandler := newTextHandler(os.Stdout, &level)

	// Handler for warning/error-level logs to stderr
	stderrHandler := newTextHandler(os.Stderr, LevelWarn)

	consoleOut = &LevelDispatchHandler{
		stdoutHandler: stdoutHandler,
		stderrHandler: stderrHandler,
	}
	rebuild()
}

// Logger returns the current slog logger, for libraries that accept one.
func Logger() *slog.Logger {
	return defaultLogger.Load()
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	defaultLogger.Load().Log(context.Background(), LevelDebug, msg, args...)
}

// Notice logs a per-item action message.
func Notice(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Load().Log(context.Background(), LevelNotice, msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Load().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	defaultLogger.Load().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	defaultLogger.Load().Error(msg, args...)
}
