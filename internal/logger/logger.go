// Package logger provides the level-filtered, component-tagged logger
// handle threaded through every package in the store. It is a thin wrapper
// around zap.SugaredLogger rather than a package-level global: every
// constructor (storage, membership, replication, coordinator, transport) takes a
// *Logger explicitly so tests can inject a silent one.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the small set of severities the store actually emits.
type Level int8

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps the CLI's --log-level flag to a Level, defaulting to Info
// for anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Logger tags every line with a component name and the owning node id, and
// filters by severity.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger writing to stderr at the given level, tagged with the
// given node id.
func New(level Level, nodeID string) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(cfg)

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), level.zapLevel())
	base := zap.New(core).Sugar().With("node", nodeID)
	return &Logger{sugar: base}
}

// Named returns a derived Logger tagged with an additional component name,
// matching dKV's one-logger-per-package convention.
func (l *Logger) Named(component string) *Logger {
	return &Logger{sugar: l.sugar.Named(component)}
}

func (l *Logger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Sync flushes any buffered log entries, called on node shutdown.
func (l *Logger) Sync() error { return l.sugar.Sync() }

// Nop returns a Logger that discards everything, for use in tests.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}
