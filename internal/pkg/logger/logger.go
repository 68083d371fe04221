package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields map[string]interface{}

type LogConfig struct {
	Level  string
	Format string
	Output string

	// File rotation, used when Output is a file path.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger wraps logrus with the small helper surface the services use:
// key/value variadic logging plus per-service and per-workflow helpers.
type Logger struct {
	entry *logrus.Entry
}

func New(cfg LogConfig) (*Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch cfg.Format {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	output, err := resolveOutput(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log output: %w", err)
	}
	base.SetOutput(output)

	return &Logger{entry: logrus.NewEntry(base)}, nil
}

func resolveOutput(cfg LogConfig) (io.Writer, error) {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		maxSize := cfg.MaxSizeMB
		if maxSize == 0 {
			maxSize = 100
		}
		return &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}, nil
	}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals)).Debug(msg)
}

func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals)).Info(msg)
}

func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals)).Warn(msg)
}

func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals)).Error(msg)
}

// LogService records one external-service operation with its duration and
// outcome.
func (l *Logger) LogService(service, operation string, duration time.Duration, fields map[string]interface{}, err error) {
	entry := l.entry.WithFields(logrus.Fields{
		"service":     service,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})

	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}

	if err != nil {
		entry.WithError(err).Error("service operation failed")
		return
	}

	entry.Info("service operation completed")
}

// LogWorkflow records a workflow lifecycle event.
func (l *Logger) LogWorkflow(workflowID, event string, duration time.Duration, err error) {
	entry := l.entry.WithFields(logrus.Fields{
		"workflow_id": workflowID,
		"event":       event,
		"duration_ms": duration.Milliseconds(),
	})

	if err != nil {
		entry.WithError(err).Error("workflow event")
		return
	}

	entry.Info("workflow event")
}

// LogStage records one workflow stage execution.
func (l *Logger) LogStage(workflowID, stage string, duration time.Duration, fields map[string]interface{}, err error) {
	entry := l.entry.WithFields(logrus.Fields{
		"workflow_id": workflowID,
		"stage":       stage,
		"duration_ms": duration.Milliseconds(),
	})

	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}

	if err != nil {
		entry.WithError(err).Error("stage failed")
		return
	}

	entry.Info("stage completed")
}

func toFields(keyvals []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		fields[key] = keyvals[i+1]
	}
	return fields
}
