// Package logger configures slog and carries operation identity through
// contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/archivekeep/funcadmin/pkg/operation"
)

type contextKey string

const operationKey contextKey = "operation"

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// New builds a logger writing to w.
func New(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Init builds a logger writing to w (stderr when nil) and installs it as the
// default. Command output goes to stdout, never through the logger.
func Init(cfg *Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := New(cfg, w)
	slog.SetDefault(l)
	return l
}

// WithOperation stores op in ctx.
func WithOperation(ctx context.Context, op operation.Operation) context.Context {
	return context.WithValue(ctx, operationKey, op)
}

// FromContext returns l annotated with the operation stored in ctx, if any.
func FromContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	if op, ok := ctx.Value(operationKey).(operation.Operation); ok {
		return l.With(op.LogAttrs()...)
	}
	return l
}
