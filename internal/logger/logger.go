// Package logger provides module-scoped structured logging on log/slog.
//
// A CentralLogger owns the outputs and routes each module to them:
//
//	cl, err := logger.NewCentralLogger(&settings.Logging)
//	if err != nil {
//	    return err
//	}
//	logger.SetGlobal(cl)
//	log := cl.Module("router")
//	log.Info("graph rebuilt", logger.Int("nodes", n))
//
// Console output is text without timestamps, file output is JSON. Files are
// rotated through lumberjack when max_size is set. Code running on a
// processing thread gates its logs with a Throttle.
package logger

import (
	"log/slog"
	"math"
	"strings"
	"time"
)

// LogLevel represents log severity levels
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// traceLevel sits below slog.LevelDebug (-4)
const traceLevel = slog.Level(-8)

const (
	moduleKey     = "module"
	errorKey      = "error"
	suppressedKey = "suppressed"
)

// Logger is the logging interface passed to every engine component
type Logger interface {
	// Module returns a logger for a sub-module, named "parent.name"
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every record
	With(fields ...Field) Logger

	// Log logs at an explicit level
	Log(level LogLevel, msg string, fields ...Field)

	Flush() error
}

// Field is a structured log field. It is an slog.Attr, so fields reach the
// handler without conversion.
type Field = slog.Attr

// floatPrecision rounds floats to 3 decimal places
const floatPrecision = 1000.0

func String(key, value string) Field { return slog.String(key, value) }

func Int(key string, value int) Field { return slog.Int(key, value) }

func Int64(key string, value int64) Field { return slog.Int64(key, value) }

// Uint64 creates an unsigned field, used for frame positions and counters.
func Uint64(key string, value uint64) Field { return slog.Uint64(key, value) }

// Float32 creates a float field for sample and control values, rounded to
// 3 decimals.
func Float32(key string, value float32) Field {
	return Float64(key, float64(value))
}

// Float64 creates a float field rounded to 3 decimals.
func Float64(key string, value float64) Field {
	return slog.Float64(key, math.Round(value*floatPrecision)/floatPrecision)
}

func Bool(key string, value bool) Field { return slog.Bool(key, value) }

// Error creates an error field. The key is always "error".
func Error(err error) Field {
	if err == nil {
		return slog.Any(errorKey, nil)
	}
	return slog.String(errorKey, err.Error())
}

// Duration renders d rounded to microseconds ("1.5ms").
func Duration(key string, d time.Duration) Field {
	return slog.String(key, d.Round(time.Microsecond).String())
}

func Time(key string, value time.Time) Field { return slog.Time(key, value) }

func Any(key string, value any) Field { return slog.Any(key, value) }

// Suppressed reports how many records a Throttle dropped before this one.
func Suppressed(n uint64) Field { return slog.Uint64(suppressedKey, n) }

// parseLogLevel converts a configured level name, case-insensitively.
// Unknown names are info.
func parseLogLevel(level string) slog.Level {
	if strings.EqualFold(level, string(LogLevelTrace)) {
		return traceLevel
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
