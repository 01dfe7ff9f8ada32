package logger

import (
	"io"
	"log/slog"
	"time"
)

var levelNames = map[slog.Level]string{
	traceLevel: "TRACE",
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARN",
	slog.LevelError: "ERROR",
}

// replaceLevelNames renders the custom TRACE level by name instead of "DEBUG-4"
func replaceLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		label, exists := levelNames[level]
		if !exists {
			label = level.String()
		}
		a.Value = slog.StringValue(label)
	}
	return a
}

// newTextHandler creates the console handler. Timestamps are omitted; the
// process supervisor (journald, docker) adds them. Timestamps in attribute
// values are converted to tz.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			if a.Value.Kind() == slog.KindTime && tz != nil {
				a.Value = slog.TimeValue(a.Value.Time().In(tz))
			}
			return replaceLevelNames(groups, a)
		},
	})
}
