// Package logger wraps log/slog with the hub's level ladder and a pluggable
// secondary-handler fan-out used by remote logging.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DATA, THREADING, SQL, DEBUG, INFO, WARN, ERROR or a number
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	mu       sync.RWMutex
	minLevel = slog.LevelInfo
	format   = "text"
	output   io.Writer = os.Stdout
	useColor           = true
	extra    []slog.Handler
	slogger  *slog.Logger
)

func init() {
	if f, ok := output.(*os.File); ok {
		useColor = isTerminal(f.Fd())
	}
	rebuild()
}

// rebuild recomposes the handler chain. Callers must hold mu.
func rebuild() {
	levelVar := new(slog.LevelVar)
	levelVar.Set(minLevel)
	opts := &slog.HandlerOptions{Level: levelVar}

	var primary slog.Handler
	if format == "json" {
		primary = slog.NewJSONHandler(output, opts)
	} else {
		primary = NewColorTextHandler(output, opts, useColor)
	}

	if len(extra) == 0 {
		slogger = slog.New(primary)
		return
	}
	handlers := make([]slog.Handler, 0, len(extra)+1)
	handlers = append(handlers, primary)
	handlers = append(handlers, extra...)
	slogger = slog.New(&multiHandler{handlers: handlers})
}

// Init initializes the logger with the given configuration.
// Output can be "stdout", "stderr", or a file path.
func Init(cfg Config) error {
	if cfg.Output != "" {
		mu.Lock()
		switch strings.ToLower(cfg.Output) {
		case "stdout":
			output = os.Stdout
			useColor = isTerminal(os.Stdout.Fd())
		case "stderr":
			output = os.Stderr
			useColor = isTerminal(os.Stderr.Fd())
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				mu.Unlock()
				return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			output = f
			useColor = false
		}
		mu.Unlock()
	}

	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}
	return nil
}

// InitWithWriter points the logger at a custom writer. Primarily for tests.
func InitWithWriter(w io.Writer, level, fmtName string, enableColor bool) {
	mu.Lock()
	output = w
	useColor = enableColor
	mu.Unlock()

	if level != "" {
		SetLevel(level)
	}
	if fmtName != "" {
		SetFormat(fmtName)
	}
}

// SetLevel sets the minimum console log level. Accepts level names
// (including the hub-specific DATA, THREADING and SQL levels) or a bare
// number in the remote-logging convention.
func SetLevel(level string) {
	l, ok := ParseLevel(level)
	if !ok {
		return
	}
	mu.Lock()
	minLevel = l
	rebuild()
	mu.Unlock()
}

// SetFormat sets the output format (text or json).
func SetFormat(f string) {
	f = strings.ToLower(f)
	if f != "text" && f != "json" {
		return
	}
	mu.Lock()
	format = f
	rebuild()
	mu.Unlock()
}

// ParseLevel resolves a level name or numeric threshold.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToUpper(level) {
	case "DATA":
		return LevelData, true
	case "THREADING":
		return LevelThreading, true
	case "SQL":
		return LevelSQL, true
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	if n, err := strconv.Atoi(level); err == nil {
		return ThresholdFromNumeric(n), true
	}
	return 0, false
}

// AddHandler attaches a secondary handler that receives every record the
// logger emits, regardless of the console level. The remote-logging bot
// attaches per-op handlers here.
func AddHandler(h slog.Handler) {
	mu.Lock()
	extra = append(extra, h)
	rebuild()
	mu.Unlock()
}

// RemoveHandler detaches a handler previously added with AddHandler.
func RemoveHandler(h slog.Handler) {
	mu.Lock()
	for i, e := range extra {
		if e == h {
			extra = append(extra[:i], extra[i+1:]...)
			break
		}
	}
	rebuild()
	mu.Unlock()
}

func getLogger() *slog.Logger {
	mu.RLock()
	l := slogger
	mu.RUnlock()
	return l
}

func enabled(l slog.Level) bool {
	mu.RLock()
	ok := l >= minLevel || len(extra) > 0
	mu.RUnlock()
	return ok
}

// Log emits a record at an arbitrary level. The hub-specific levels (Data,
// Threading, SQL) go through here.
func Log(level slog.Level, msg string, args ...any) {
	if !enabled(level) {
		return
	}
	getLogger().Log(nil, level, msg, args...) //nolint:staticcheck // handlers ignore the context
}

// Debug logs at debug level with structured fields.
func Debug(msg string, args ...any) {
	if !enabled(slog.LevelDebug) {
		return
	}
	getLogger().Debug(msg, args...)
}

// Info logs at info level with structured fields.
func Info(msg string, args ...any) {
	if !enabled(slog.LevelInfo) {
		return
	}
	getLogger().Info(msg, args...)
}

// Warn logs at warn level with structured fields.
func Warn(msg string, args ...any) {
	if !enabled(slog.LevelWarn) {
		return
	}
	getLogger().Warn(msg, args...)
}

// Error logs at error level with structured fields.
func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}

// With returns a slog.Logger with pre-bound attributes.
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}
