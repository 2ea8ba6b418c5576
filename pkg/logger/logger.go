package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	*logrus.Logger
}

type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	CycleIDKey   ContextKey = "cycle_id"
	AccountIDKey ContextKey = "account_id"
)

var contextKeys = []ContextKey{RequestIDKey, CycleIDKey, AccountIDKey}

func New(level string) *Logger {
	return NewWithOutput(level, os.Stdout)
}

func NewWithOutput(level string, out io.Writer) *Logger {
	logger := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set JSON formatter for structured logging
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	logger.SetOutput(out)

	return &Logger{Logger: logger}
}

// Wrap adapts an existing logrus logger, e.g. a test logger with hooks.
func Wrap(l *logrus.Logger) *Logger {
	return &Logger{Logger: l}
}

// Context fields
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithContext(ctx)

	for _, key := range contextKeys {
		if value := ctx.Value(key); value != nil {
			entry = entry.WithField(string(key), value)
		}
	}

	return entry
}

// Additional fields
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// Additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// Error field
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}
