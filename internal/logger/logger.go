// Package logger provides structured, level-gated logging for the gateway.
//
// Each Logger is scoped to one module ("PIPELINE", "MITM", "REDACT", ...) and
// gated at a minimum severity. Entries below the configured level are
// dropped before formatting, so callers never pay for Debugf arguments that
// won't be emitted.
//
// log_format controls the wire shape: "text" renders a human console line via
// zerolog.ConsoleWriter; "json" emits one JSON object per line, suitable for
// ingestion by a log pipeline.
//
// Usage:
//
//	log := logger.New("pipeline", cfg.LogLevel, cfg.LogFormat)
//	log.Info("step_run", "secret_redact completed")
//	log.Errorf("upstream_connect", "dial %s: %v", host, err)
package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog.Level under names matching spec.md §6's log_level enum.
type Level = zerolog.Level

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Logger writes structured log lines for a single module.
type Logger struct {
	module string
	zl     zerolog.Logger
}

var baseOnce struct {
	text zerolog.Logger
	json zerolog.Logger
}

func init() {
	baseOnce.json = zerolog.New(os.Stderr).With().Timestamp().Logger()
	baseOnce.text = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// New creates a Logger for the given module, gated at levelStr, rendered per
// formatStr ("text" or "json"; unrecognized values default to "text").
func New(module, levelStr, formatStr string) *Logger {
	base := baseOnce.text
	if strings.EqualFold(formatStr, "json") {
		base = baseOnce.json
	}
	return &Logger{
		module: strings.ToUpper(module),
		zl:     base.Level(ParseLevel(levelStr)).With().Str("module", strings.ToUpper(module)).Logger(),
	}
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(levelStr string) {
	l.zl = l.zl.Level(ParseLevel(levelStr))
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.write(zerolog.DebugLevel, action, msg) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.write(zerolog.InfoLevel, action, msg) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.write(zerolog.WarnLevel, action, msg) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.write(zerolog.ErrorLevel, action, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	l.Debug(action, fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	l.Info(action, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

// Fatal logs at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatal(action, msg string) {
	l.Error(action, msg)
	os.Exit(1)
}

// Fatalf logs a formatted message at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatalf(action, format string, args ...any) {
	l.Fatal(action, fmt.Sprintf(format, args...))
}

func (l *Logger) write(level zerolog.Level, action, msg string) {
	l.zl.WithLevel(level).Str("action", action).Msg(msg)
}

// ParseLevel converts a string to a zerolog.Level, defaulting to InfoLevel.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
