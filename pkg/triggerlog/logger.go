// Package triggerlog provides the zap-backed Logger every queuetrigger
// component logs through: Debugf/Infof/Warnf/Errorf(ctx, ...), a
// context-value field extractor, and a JSON production encoder.
package triggerlog

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"queuetrigger/internal/trigger"
)

type contextKey string

const (
	// MessageIDKey tags a context with the message ID currently being
	// processed, for inclusion in every log line derived from that context.
	MessageIDKey contextKey = "message_id"
	// QueueNameKey tags a context with the queue name being polled.
	QueueNameKey contextKey = "queue_name"
)

// WithMessageID returns a child context carrying id for log extraction.
func WithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, MessageIDKey, id)
}

// WithQueueName returns a child context carrying name for log extraction.
func WithQueueName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, QueueNameKey, name)
}

// ZapLogger implements trigger.Logger over go.uber.org/zap.
type ZapLogger struct {
	logger *zap.Logger
}

// New builds a ZapLogger at the given level ("debug", "info", "warn", or
// "error"; anything else defaults to "info").
func New(level string) (*ZapLogger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{logger: logger}, nil
}

func (l *ZapLogger) fields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if id, ok := ctx.Value(MessageIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String("message_id", id))
	}
	if name, ok := ctx.Value(QueueNameKey).(string); ok && name != "" {
		fields = append(fields, zap.String("queue_name", name))
	}
	return fields
}

func (l *ZapLogger) Debugf(ctx context.Context, format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), l.fields(ctx)...)
}

func (l *ZapLogger) Infof(ctx context.Context, format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...), l.fields(ctx)...)
}

func (l *ZapLogger) Warnf(ctx context.Context, format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), l.fields(ctx)...)
}

func (l *ZapLogger) Errorf(ctx context.Context, format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), l.fields(ctx)...)
}

// Sync flushes any buffered log entries. Callers should defer this at
// process shutdown.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

var _ trigger.Logger = (*ZapLogger)(nil)
