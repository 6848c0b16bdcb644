package logger

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/flexprice/plancore/internal/config"
	"github.com/flexprice/plancore/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.SugaredLogger to provide logging functionality
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger creates and returns a new Logger instance
func NewLogger(cfg *config.Configuration) (*Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Deployment.Mode == types.ModeLocal {
		zc = zap.NewDevelopmentConfig()
	}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Logging.Level))

	zapLogger, err := zc.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
	}, nil
}

// NewNoop returns a logger that discards everything. Used by tests and scripts.
func NewNoop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func parseLevel(level types.LogLevel) zapcore.Level {
	switch level {
	case types.LogLevelDebug:
		return zapcore.DebugLevel
	case types.LogLevelWarn:
		return zapcore.WarnLevel
	case types.LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...)}
}

// GetWatermillLogger adapts the logger for watermill routers and subscribers
func (l *Logger) GetWatermillLogger() watermill.LoggerAdapter {
	return &watermillAdapter{log: l, fields: watermill.LogFields{}}
}

type watermillAdapter struct {
	log    *Logger
	fields watermill.LogFields
}

func (w *watermillAdapter) kv(fields watermill.LogFields) []interface{} {
	merged := w.fields.Add(fields)
	out := make([]interface{}, 0, len(merged)*2)
	for k, v := range merged {
		out = append(out, k, v)
	}
	return out
}

func (w *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	w.log.Errorw(msg, append(w.kv(fields), "error", err)...)
}

func (w *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	w.log.Infow(msg, w.kv(fields)...)
}

func (w *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	w.log.Debugw(msg, w.kv(fields)...)
}

func (w *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	w.log.Debugw(msg, w.kv(fields)...)
}

func (w *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillAdapter{log: w.log, fields: w.fields.Add(fields)}
}
