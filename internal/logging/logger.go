package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kyleking/sqlrag/internal/config"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

const (
	logDirPerm  = 0755
	logFilePerm = 0644
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides structured logging on top of a slog handler
type Logger struct {
	level  LogLevel
	format string
	output io.Writer
	file   *os.File
	slog   *slog.Logger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitializeLogger replaces the global logger with one built from cfg
func InitializeLogger(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}

	globalMu.Lock()
	previous := globalLogger
	globalLogger = logger
	globalMu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}

	return nil
}

// NewLogger creates a new logger with the given configuration
func NewLogger(cfg config.LoggingConfig) (*Logger, error) {
	logger := &Logger{
		level:  parseLogLevel(cfg.Level),
		format: strings.ToLower(cfg.Format),
	}

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		logger.output = os.Stdout
	case "stderr", "":
		logger.output = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, errors.New("log file path is required when output is 'file'")
		}

		if err := os.MkdirAll(filepath.Dir(cfg.File), logDirPerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		logger.file = file
		logger.output = file
	default:
		return nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger.slog = slog.New(newHandler(logger.output, logger.format, logger.level, cfg.AddSource || logger.level == DebugLevel))

	return logger, nil
}

// NewWriterLogger builds a logger that writes to w; used by tests and tools
func NewWriterLogger(w io.Writer, format string, level LogLevel) *Logger {
	return &Logger{
		level:  level,
		format: format,
		output: w,
		slog:   slog.New(newHandler(w, format, level, false)),
	}
}

func newHandler(w io.Writer, format string, level LogLevel, addSource bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level.slogLevel(), AddSource: addSource}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

// parseLogLevel parses a string log level into LogLevel
func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Slog exposes the underlying slog.Logger for libraries that take one
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{
		level:  l.level,
		format: l.format,
		output: l.output,
		file:   l.file,
		slog:   l.slog.With(args...),
	}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value any) *Logger {
	return l.with(key, value)
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}

	return l.with(args...)
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}

	return l.with("error", err.Error())
}

func (l *Logger) log(level LogLevel, message string, err error) {
	if level < l.level {
		return
	}

	if err != nil {
		l.slog.Log(context.Background(), level.slogLevel(), message, "error", err.Error())
		return
	}

	l.slog.Log(context.Background(), level.slogLevel(), message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(DebugLevel, message, nil)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...any) {
	l.log(DebugLevel, fmt.Sprintf(format, args...), nil)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(InfoLevel, message, nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...any) {
	l.log(InfoLevel, fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(WarnLevel, message, nil)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...any) {
	l.log(WarnLevel, fmt.Sprintf(format, args...), nil)
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.log(ErrorLevel, message, nil)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...any) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...), nil)
}

// ErrorWithErr logs an error message with an associated error
func (l *Logger) ErrorWithErr(message string, err error) {
	l.log(ErrorLevel, message, err)
}

// Close closes the logger and any associated resources
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}

	return nil
}

// GetLogger returns the global logger, falling back to a stderr logger
func GetLogger() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()

	if logger != nil {
		return logger
	}

	SetupFallbackLogger()

	globalMu.RLock()
	defer globalMu.RUnlock()

	return globalLogger
}

// SetupFallbackLogger sets up a basic logger for cases where configuration fails
func SetupFallbackLogger() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		globalLogger = NewWriterLogger(os.Stderr, "text", InfoLevel)
	}
}

// SetLogger swaps the global logger and returns the previous one
func SetLogger(logger *Logger) *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	previous := globalLogger
	globalLogger = logger

	return previous
}

// Debug logs a debug message using the global logger
func Debug(message string) { GetLogger().Debug(message) }

// Debugf logs a formatted debug message using the global logger
func Debugf(format string, args ...any) { GetLogger().Debugf(format, args...) }

// Info logs an info message using the global logger
func Info(message string) { GetLogger().Info(message) }

// Infof logs a formatted info message using the global logger
func Infof(format string, args ...any) { GetLogger().Infof(format, args...) }

// Warn logs a warning message using the global logger
func Warn(message string) { GetLogger().Warn(message) }

// Warnf logs a formatted warning message using the global logger
func Warnf(format string, args ...any) { GetLogger().Warnf(format, args...) }

// Error logs an error message using the global logger
func Error(message string) { GetLogger().Error(message) }

// Errorf logs a formatted error message using the global logger
func Errorf(format string, args ...any) { GetLogger().Errorf(format, args...) }

// ErrorWithErr logs an error message with an associated error using the global logger
func ErrorWithErr(message string, err error) { GetLogger().ErrorWithErr(message, err) }

// WithField adds a field to the global logger context
func WithField(key string, value any) *Logger { return GetLogger().WithField(key, value) }

// WithFields adds multiple fields to the global logger context
func WithFields(fields map[string]any) *Logger { return GetLogger().WithFields(fields) }

// WithError adds an error to the global logger context
func WithError(err error) *Logger { return GetLogger().WithError(err) }

// LoggerMiddleware provides a way to wrap functions with logging
func LoggerMiddleware(operation string, fn func() error) error {
	logger := WithField("operation", operation)
	logger.Debug("Starting operation")

	start := time.Now()
	err := fn()
	duration := time.Since(start)

	if err != nil {
		logger.WithField("duration", duration).ErrorWithErr("Operation failed", err)
	} else {
		logger.WithField("duration", duration).Debug("Operation completed successfully")
	}

	return err
}
