package logging

import (
	"context"

	"github.com/go-logr/logr"
)

type contextKey string

const loggerKey contextKey = "logger"

// FromContext returns the logger stored in ctx, or the global logger
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return GetGlobalLogger()
	}
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return GetGlobalLogger()
}

// IntoContext returns a context carrying logger
func IntoContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LogrFromContext returns the logr view of the context logger
func LogrFromContext(ctx context.Context) logr.Logger {
	return FromContext(ctx).Logger()
}

// LoggerForPort returns a logger tagged with a port id and device name
func LoggerForPort(port uint16, name string) *Logger {
	return GetGlobalLogger().WithValues(
		"port", port,
		"device", name,
	)
}

// LoggerForDriver returns a logger named after a driver
func LoggerForDriver(driver string) *Logger {
	return GetGlobalLogger().WithName(driver).WithValues(
		"driver", driver,
	)
}
