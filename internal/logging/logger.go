// Package logging wraps log/slog with the fields the estimation core cares
// about: truck, reading, and service-subscriber context instead of
// HTTP request/user context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level      LogLevel
	Format     string // "json" or "text"
	Output     io.Writer
	AddSource  bool
	TimeFormat string
}

// DefaultLoggerConfig returns default logger configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:      LevelInfo,
		Format:     "json",
		Output:     os.Stdout,
		AddSource:  true,
		TimeFormat: time.RFC3339,
	}
}

// Logger wraps slog.Logger with domain-specific helpers.
type Logger struct {
	*slog.Logger
	config *LoggerConfig
}

// NewLogger creates a new structured logger.
func NewLogger(config *LoggerConfig) *Logger {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	var level slog.Level
	switch config.Level {
	case LevelDebug:
		level = slog.LevelDebug
	case LevelInfo:
		level = slog.LevelInfo
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{Logger: slog.New(handler), config: config}
}

// WithContext returns a logger carrying truck/worker context values.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{Logger: l.Logger.With(contextFields(ctx)...), config: l.config}
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.Logger.With(args...), config: l.config}
}

// WithField returns a logger with one additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(key, value), config: l.config}
}

// LogReadingRejected logs a per-reading failure that the coordinator
// recovered from locally (range violation, stale timestamp, ECU regression).
func (l *Logger) LogReadingRejected(truckID, channel, reason string) {
	l.Warn("reading rejected",
		"truck_id", truckID,
		"channel", channel,
		"reason", reason,
	)
}

// LogEventPublish logs one event-bus publish at debug level.
func (l *Logger) LogEventPublish(topic, truckID string, subscriberCount int) {
	l.Debug("event published",
		"topic", topic,
		"truck_id", truckID,
		"subscribers", subscriberCount,
	)
}

// LogSubscriberFailure logs a subscriber handler panic/error without
// failing the publish.
func (l *Logger) LogSubscriberFailure(topic, subscriber string, err error) {
	l.Error("subscriber failed",
		"topic", topic,
		"subscriber", subscriber,
		"error", err,
	)
}

// LogJobExecution logs ingest-worker job outcomes.
func (l *Logger) LogJobExecution(truckID, stage, status string, duration time.Duration, err error) {
	args := []interface{}{
		"truck_id", truckID,
		"stage", stage,
		"status", status,
		"duration", duration,
	}
	if err != nil {
		args = append(args, "error", err)
	}
	if status == "failed" {
		l.Error("worker job failed", args...)
	} else {
		l.Info("worker job completed", args...)
	}
}

// LogAudit logs an operator command (reset_ekf, reset_idle_kalman, ...).
func (l *Logger) LogAudit(action, truckID, actor string, fields map[string]interface{}) {
	args := []interface{}{
		"audit_type", "operator_command",
		"action", action,
		"truck_id", truckID,
		"actor", actor,
	}
	for k, v := range fields {
		args = append(args, k, v)
	}
	l.Info("operator command", args...)
}

// LogCheckpoint logs a persistence checkpoint write.
func (l *Logger) LogCheckpoint(truckID string, duration time.Duration, err error) {
	if err != nil {
		l.Error("checkpoint failed", "truck_id", truckID, "duration", duration, "error", err)
		return
	}
	l.Debug("checkpoint written", "truck_id", truckID, "duration", duration)
}

func contextFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 4)
	if truckID := ctx.Value(ctxKeyTruckID); truckID != nil {
		fields = append(fields, "truck_id", truckID)
	}
	if workerID := ctx.Value(ctxKeyWorkerID); workerID != nil {
		fields = append(fields, "worker_id", workerID)
	}
	return fields
}

type ctxKey string

const (
	ctxKeyTruckID  ctxKey = "truck_id"
	ctxKeyWorkerID ctxKey = "worker_id"
)

// WithTruckID attaches a truck_id to a context for WithContext to pick up.
func WithTruckID(ctx context.Context, truckID string) context.Context {
	return context.WithValue(ctx, ctxKeyTruckID, truckID)
}

// WithWorkerID attaches a worker_id to a context for WithContext to pick up.
func WithWorkerID(ctx context.Context, workerID int) context.Context {
	return context.WithValue(ctx, ctxKeyWorkerID, workerID)
}

var defaultLogger *Logger

// InitDefaultLogger initializes the global logger.
func InitDefaultLogger(config *LoggerConfig) {
	defaultLogger = NewLogger(config)
}

// GetLogger returns the global logger, initializing it with defaults if
// needed.
func GetLogger() *Logger {
	if defaultLogger == nil {
		defaultLogger = NewLogger(DefaultLoggerConfig())
	}
	return defaultLogger
}

func Debug(msg string, args ...interface{}) { GetLogger().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { GetLogger().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { GetLogger().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { GetLogger().Error(msg, args...) }

func WithFields(fields map[string]interface{}) *Logger { return GetLogger().WithFields(fields) }
func WithField(key string, value interface{}) *Logger   { return GetLogger().WithField(key, value) }
