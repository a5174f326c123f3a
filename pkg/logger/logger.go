package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var Log *slog.Logger

// Audit is an optional dedicated audit logger. Callers may use
// logger.Audit.Info(...) to emit audit records; if nil, audit events
// should fall back to the main logger.
var Audit *slog.Logger

func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global slog logger with a text handler at Info level.
// Sink and level may be overridden via env vars for tests and production.
func Init() {
	InitWithLevel(os.Getenv("MSGCORE_LOG_LEVEL"))
}

// InitWithLevel initializes the global logger honoring the provided
// `level` string ("debug", "info", "warn", "error"). If level is empty,
// it falls back to MSGCORE_LOG_LEVEL.
func InitWithLevel(level string) {
	sink := os.Getenv("MSGCORE_LOG_SINK") // e.g. "file:/path/to/log"
	if strings.TrimSpace(level) == "" {
		level = os.Getenv("MSGCORE_LOG_LEVEL")
	}
	lv := parseLevel(level)

	if strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err == nil {
			Log = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: lv}))
			return
		}
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
	}
	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

func ensure() {
	if Log == nil {
		Init()
	}
}

// Debug logs at debug level via the global logger.
func Debug(msg string, args ...any) {
	ensure()
	Log.Debug(msg, args...)
}

// Info logs at info level via the global logger.
func Info(msg string, args ...any) {
	ensure()
	Log.Info(msg, args...)
}

// Warn logs at warn level via the global logger.
func Warn(msg string, args ...any) {
	ensure()
	Log.Warn(msg, args...)
}

// Error logs at error level via the global logger.
func Error(msg string, args ...any) {
	ensure()
	Log.Error(msg, args...)
}
