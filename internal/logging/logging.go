// Package logging builds the process logger. Request-scoped attributes are
// carried on the context and added to every record logged with it.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	slogcontext "github.com/veqryn/slog-context"
)

// New returns a logger writing to w. format is "json" or "text".
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(slogcontext.NewHandler(handler, nil))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithLogger stores logger on ctx for FromCtx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return slogcontext.NewCtx(ctx, logger)
}

// With adds attributes to every record logged through ctx.
func With(ctx context.Context, args ...any) context.Context {
	return slogcontext.Append(ctx, args...)
}
