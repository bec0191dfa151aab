// Package logging provides the structured logger used by drivers and the
// daemon.
//
// The logger is zap behind a logr.Logger (go-logr/zapr). The ethdev core
// traces through klog; RouteKlog sends that output through the same zap
// core so a process has one log stream.
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.Options{Level: "debug", Format: "text"})
//	logger.Info("Port started", "port", 0, "driver", "net_ring")
package logging

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
)

// Log levels
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log formats
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Options configures a Logger
type Options struct {
	// Level is debug, info, warn or error
	// Default: info
	Level string

	// Format is json or text
	// Default: json
	Format string

	// OutputPath is a file to append to; stdout when empty
	OutputPath string

	// Development enables zap development mode
	Development bool

	// AddCaller adds the caller to every entry
	// Default: true
	AddCaller bool
}

// DefaultOptions returns the default logging options
func DefaultOptions() Options {
	return Options{
		Level:     LevelInfo,
		Format:    FormatJSON,
		AddCaller: true,
	}
}

// Logger is a zap logger with an adjustable level and a logr view
type Logger struct {
	zapLogger   *zap.Logger
	atomicLevel zap.AtomicLevel
	logr        logr.Logger
}

var (
	globalLogger atomic.Value
	initOnce     sync.Once
)

// NewLogger creates a logger
//
// Parameters:
//   - opts: Logger options
//
// Returns:
//   - *Logger: Configured logger
//   - error: Unknown level or unwritable output path
func NewLogger(opts Options) (*Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch opts.Format {
	case FormatText:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case FormatJSON, "":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format %q (must be 'json' or 'text')", opts.Format)
	}

	output := zapcore.AddSync(os.Stdout)
	if opts.OutputPath != "" {
		file, err := os.OpenFile(opts.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log output %s: %w", opts.OutputPath, err)
		}
		output = zapcore.AddSync(file)
	}

	var zapOpts []zap.Option
	if opts.AddCaller {
		zapOpts = append(zapOpts, zap.AddCaller())
	}
	if opts.Development {
		zapOpts = append(zapOpts, zap.Development())
	}
	zapLogger := zap.New(zapcore.NewCore(encoder, output, atomicLevel), zapOpts...)

	return &Logger{
		zapLogger:   zapLogger,
		atomicLevel: atomicLevel,
		logr:        zapr.NewLogger(zapLogger),
	}, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelInfo, "":
		return zapcore.InfoLevel, nil
	case LevelWarn:
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", level)
	}
}

// SetLevel changes the level of this logger and every logger derived from it
func (l *Logger) SetLevel(level string) error {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.atomicLevel.SetLevel(zapLevel)
	return nil
}

// GetLevel returns the current level name
func (l *Logger) GetLevel() string {
	return l.atomicLevel.Level().String()
}

// Logger returns the logr view
func (l *Logger) Logger() logr.Logger {
	return l.logr
}

// ZapLogger returns the underlying zap logger
func (l *Logger) ZapLogger() *zap.Logger {
	return l.zapLogger
}

// WithName returns a child logger with name appended
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		zapLogger:   l.zapLogger.Named(name),
		atomicLevel: l.atomicLevel,
		logr:        l.logr.WithName(name),
	}
}

// WithValues returns a child logger carrying the key-value pairs
func (l *Logger) WithValues(keysAndValues ...interface{}) *Logger {
	return &Logger{
		zapLogger:   l.zapLogger.With(toZapFields(keysAndValues)...),
		atomicLevel: l.atomicLevel,
		logr:        l.logr.WithValues(keysAndValues...),
	}
}

// Debug logs at debug level
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logr.V(1).Info(msg, keysAndValues...)
}

// Info logs at info level
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logr.Info(msg, keysAndValues...)
}

// Warn logs at warn level. logr has no warn level, so this goes to zap
// directly.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.zapLogger.Warn(msg, toZapFields(keysAndValues)...)
}

// Error logs err at error level
func (l *Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logr.Error(err, msg, keysAndValues...)
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.zapLogger.Sync()
}

func toZapFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return fields
}

// RouteKlog sends klog output through l
func RouteKlog(l *Logger) {
	klog.SetLogger(l.Logger().WithName("ethdev"))
}

// InitGlobalLogger sets the global logger once
func InitGlobalLogger(opts Options) error {
	var initErr error
	initOnce.Do(func() {
		logger, err := NewLogger(opts)
		if err != nil {
			initErr = err
			return
		}
		globalLogger.Store(logger)
	})
	return initErr
}

// GetGlobalLogger returns the global logger, or a default one before
// InitGlobalLogger ran
func GetGlobalLogger() *Logger {
	if l := globalLogger.Load(); l != nil {
		return l.(*Logger)
	}
	logger, _ := NewLogger(DefaultOptions())
	return logger
}

// L is shorthand for GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}
