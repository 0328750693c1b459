// Package logger provides structured logging built on slog with
// levels, JSON output for production, and contextual fields.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents logging levels
type Level string

const (
	// DebugLevel for detailed troubleshooting
	DebugLevel Level = "debug"
	// InfoLevel for general operational entries
	InfoLevel Level = "info"
	// WarnLevel for non-critical issues
	WarnLevel Level = "warn"
	// ErrorLevel for errors that should be addressed
	ErrorLevel Level = "error"
)

// Config holds configuration for the logger
type Config struct {
	// Level is the minimum level to log
	Level Level
	// JSON determines if logs are output in JSON format
	JSON bool
	// Output is where logs are written to
	Output io.Writer
	// AddSource adds file and line number to log entries
	AddSource bool
}

// DefaultConfig returns a default configuration for the logger
func DefaultConfig() Config {
	return Config{
		Level:     InfoLevel,
		JSON:      true,
		Output:    os.Stdout,
		AddSource: true,
	}
}

// Logger wraps slog.Logger to provide additional functionality
type Logger struct {
	logger *slog.Logger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// New creates a new logger with the given configuration
func New(config Config) *Logger {
	var level slog.Level
	switch strings.ToLower(string(config.Level)) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.JSON {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		logger: slog.New(handler),
	}
}

// SetGlobal sets the global logger instance
func SetGlobal(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobal returns the global logger instance, creating a default one if needed
func GetGlobal() *Logger {
	globalMu.RLock()
	if globalLogger != nil {
		defer globalMu.RUnlock()
		return globalLogger
	}
	globalMu.RUnlock()

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = New(DefaultConfig())
	}
	return globalLogger
}

// With returns a logger with the given attributes added to all log entries
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		logger: l.logger.With(args...),
	}
}

// Debug logs a message at debug level
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Info logs a message at info level
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn logs a message at warn level
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs a message at error level
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// LogError logs an error with additional context
func (l *Logger) LogError(err error, msg string, args ...any) {
	if err == nil {
		return
	}

	allArgs := append([]any{"error", err.Error()}, args...)

	_, file, line, ok := runtime.Caller(1)
	if ok {
		allArgs = append(allArgs, "error_source", fmt.Sprintf("%s:%d", file, line))
	}

	l.logger.Error(msg, allArgs...)
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With("request_id", requestID)
}

// WithUserID returns a logger with user ID
func (l *Logger) WithUserID(userID string) *Logger {
	return l.With("user_id", userID)
}

// WithConnectionID returns a logger scoped to one websocket connection
func (l *Logger) WithConnectionID(connID string) *Logger {
	return l.With("connection_id", connID)
}

// WithChatID returns a logger scoped to a chat session
func (l *Logger) WithChatID(chatID string) *Logger {
	return l.With("chat_id", chatID)
}

// LogRequest logs information about an HTTP request
func (l *Logger) LogRequest(method, path, ip, userAgent string, status int, latency time.Duration, args ...any) {
	allArgs := append([]any{
		"method", method,
		"path", path,
		"ip", ip,
		"user_agent", userAgent,
		"status", status,
		"latency_ms", latency.Milliseconds(),
	}, args...)

	if status >= 500 {
		l.logger.Error("Server error", allArgs...)
	} else if status >= 400 {
		l.logger.Warn("Client error", allArgs...)
	} else {
		l.logger.Info("Request completed", allArgs...)
	}
}
