// Package zaplog adapts ports.Logger onto go.uber.org/zap's
// SugaredLogger, the structured-logging library the rest of the
// retrieval pack reaches for where the teacher only ever used fmt/log.
package zaplog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"devengine/internal/ports"
)

// Logger wraps a zap.SugaredLogger to satisfy ports.Logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a production-configured Logger. verbose raises the level
// to Debug; otherwise Info is the floor.
func New(verbose bool) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: base.Sugar()}, nil
}

func toArgs(fields []ports.Field) []any {
	args := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return args
}

func (l *Logger) Debug(msg string, fields ...ports.Field) { l.sugar.Debugw(msg, toArgs(fields)...) }
func (l *Logger) Info(msg string, fields ...ports.Field)  { l.sugar.Infow(msg, toArgs(fields)...) }
func (l *Logger) Warn(msg string, fields ...ports.Field)  { l.sugar.Warnw(msg, toArgs(fields)...) }
func (l *Logger) Error(msg string, fields ...ports.Field) { l.sugar.Errorw(msg, toArgs(fields)...) }

// Sync flushes any buffered log entries; call before process exit.
func (l *Logger) Sync() error { return l.sugar.Sync() }
