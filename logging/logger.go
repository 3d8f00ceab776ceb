// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer FinLogger with contextual helpers
// (user, session, component) and domain specific logging helpers for tools,
// handoffs and model calls.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a LogLevel. Unknown values fall back
// to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface for FinMesh.
// This allows users to provide their own logger implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// LoggerConfig configures construction of a FinLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout, AddSource: false}
}

// FinLogger wraps slog.Logger adding contextual cloning helpers and domain
// convenience methods. It is cheap to copy via the With* methods.
type FinLogger struct {
	logger    *slog.Logger
	level     LogLevel
	component string
	userID    string
	sessionID string
}

// NewLogger builds a FinLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *FinLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &FinLogger{logger: slog.New(handler), level: cfg.Level, component: cfg.Component}
}

// NewSlogLogger creates a new FinLogger with the specified configuration.
func NewSlogLogger(level LogLevel, format string, addSource bool) *FinLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent sets the logical component (sandbox, memory, handoff, orchestrator).
func (l *FinLogger) WithComponent(c string) *FinLogger {
	nl := *l
	nl.component = c
	return &nl
}

// WithUser attaches user and session identifiers to subsequent entries.
func (l *FinLogger) WithUser(userID, sessionID string) *FinLogger {
	nl := *l
	nl.userID = userID
	nl.sessionID = sessionID
	return &nl
}

func (l *FinLogger) kvs(args []any) []any {
	out := make([]any, 0, len(args)+6)
	if l.component != "" {
		out = append(out, "component", l.component)
	}
	if l.userID != "" {
		out = append(out, "user_id", l.userID)
	}
	if l.sessionID != "" {
		out = append(out, "session_id", l.sessionID)
	}
	return append(out, args...)
}

// Debug logs at debug level with key/value args.
func (l *FinLogger) Debug(msg string, args ...any) {
	if l.level > LogLevelDebug {
		return
	}
	l.logger.Debug(msg, l.kvs(args)...)
}

// Info logs at info level with key/value args.
func (l *FinLogger) Info(msg string, args ...any) {
	if l.level > LogLevelInfo {
		return
	}
	l.logger.Info(msg, l.kvs(args)...)
}

// Warn logs at warn level with key/value args.
func (l *FinLogger) Warn(msg string, args ...any) {
	if l.level > LogLevelWarn {
		return
	}
	l.logger.Warn(msg, l.kvs(args)...)
}

// Error logs at error level with key/value args.
func (l *FinLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, l.kvs(args)...)
}

// LogToolCall records execution details for a tool invocation.
func (l *FinLogger) LogToolCall(tool string, dur time.Duration, success bool, err error) {
	args := []any{"tool_name", tool, "duration", dur, "success", success}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	if success {
		l.Info("Tool execution completed", args...)
		return
	}
	l.Error("Tool execution failed", args...)
}

// LogHandoff records the outcome of a handoff attempt.
func (l *FinLogger) LogHandoff(from, to string, dur time.Duration, success bool, escalationLevel int) {
	args := []any{"from_agent", from, "to_agent", to, "duration", dur, "success", success, "escalation_level", escalationLevel}
	if success {
		l.Info("Handoff completed", args...)
		return
	}
	l.Warn("Handoff failed", args...)
}

// LogModelCall records model call latency and success.
func (l *FinLogger) LogModelCall(modelName string, dur time.Duration, success bool, err error) {
	args := []any{"model", modelName, "duration", dur, "success", success}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	if success {
		l.Info("Model call completed", args...)
		return
	}
	l.Error("Model call failed", args...)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}
