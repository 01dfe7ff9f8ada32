package logger

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"time"
)

// moduleLogger writes records tagged with its module. The module and the
// With fields are rendered into the handler once, so a record only formats
// its own fields.
type moduleLogger struct {
	root   *slog.Logger // without module or fields
	logger *slog.Logger
	module string
	level  slog.Level
	fields []Field
}

func newModuleLogger(root *slog.Logger, module string, level slog.Level, fields []Field) *moduleLogger {
	l := root
	if module != "" || len(fields) > 0 {
		args := make([]any, 0, len(fields)+1)
		if module != "" {
			args = append(args, slog.String(moduleKey, module))
		}
		for _, f := range fields {
			args = append(args, f)
		}
		l = root.With(args...)
	}
	return &moduleLogger{root: root, logger: l, module: module, level: level, fields: fields}
}

// NewSlogLogger returns a Logger writing text to w. A nil w discards output,
// a nil tz is UTC.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = io.Discard
	}
	if tz == nil {
		tz = time.UTC
	}
	lvl := parseLogLevel(string(level))
	return newModuleLogger(slog.New(newTextHandler(w, lvl, tz)), "", lvl, nil)
}

func (m *moduleLogger) Module(name string) Logger {
	if m == nil {
		return nil
	}
	module := name
	if m.module != "" {
		module = m.module + "." + name
	}
	return newModuleLogger(m.root, module, m.level, m.fields)
}

func (m *moduleLogger) With(fields ...Field) Logger {
	if m == nil {
		return nil
	}
	return newModuleLogger(m.root, m.module, m.level, slices.Concat(m.fields, fields))
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.log(traceLevel, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.log(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field) { m.log(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field) { m.log(slog.LevelWarn, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.log(slog.LevelError, msg, fields) }

func (m *moduleLogger) Log(level LogLevel, msg string, fields ...Field) {
	m.log(parseLogLevel(string(level)), msg, fields)
}

func (m *moduleLogger) Flush() error {
	return nil
}

func (m *moduleLogger) log(level slog.Level, msg string, fields []Field) {
	if m == nil || level < m.level {
		return
	}
	m.logger.LogAttrs(context.Background(), level, msg, fields...)
}
