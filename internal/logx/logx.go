// Package logx provides the server's centralized structured logger: one JSON
// object per line on stderr, Loki/Grafana friendly, mirroring the original
// server's logger.h contract (source, level, message, thread, x-request-id).
package logx

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the handle every component logs through.
type Logger struct {
	base *slog.Logger
}

// New builds a Logger writing JSON lines to w at the given minimum level.
func New(w io.Writer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.MessageKey {
				a.Key = "message"
			}
			return a
		},
	})
	return &Logger{base: slog.New(h)}
}

// NewStderr builds the default production logger.
func NewStderr(level slog.Level) *Logger {
	return New(os.Stderr, level)
}

// With returns a Logger carrying the "thread" field, naming the logical
// worker that owns log lines from this point on ("reactor", "audit",
// "worker-3", ...). Go has no addressable OS thread id to report, so
// "thread" here is the logical owner, the spec's nearest meaningful
// equivalent.
func (l *Logger) With(thread string) *Logger {
	return &Logger{base: l.base.With("thread", thread)}
}

// Log writes one structured line with the original server's field set.
func (l *Logger) Log(source, level, message, xRequestID string) {
	attrs := []any{"source", source}
	if xRequestID != "" {
		attrs = append(attrs, "x_request_id", xRequestID)
	}
	switch level {
	case "debug":
		l.base.Debug(message, attrs...)
	case "warn", "warning":
		l.base.Warn(message, attrs...)
	case "error":
		l.base.Error(message, attrs...)
	default:
		l.base.Info(message, attrs...)
	}
}

func (l *Logger) Info(source, message string)  { l.Log(source, "info", message, "") }
func (l *Logger) Warn(source, message string)  { l.Log(source, "warn", message, "") }
func (l *Logger) Error(source, message string) { l.Log(source, "error", message, "") }

// InfoR/WarnR/ErrorR carry an x-request-id, used on request-scoped paths.
func (l *Logger) InfoR(source, message, reqID string)  { l.Log(source, "info", message, reqID) }
func (l *Logger) WarnR(source, message, reqID string)  { l.Log(source, "warn", message, reqID) }
func (l *Logger) ErrorR(source, message, reqID string) { l.Log(source, "error", message, reqID) }
