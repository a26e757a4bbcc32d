package logger

import (
	"context"
	"io"
	"log/slog"
)

// ColorTextHandler wraps slog.TextHandler and prefixes messages with an
// ANSI-colored level tag. WithAttrs/WithGroup preserve the wrapper so
// derived loggers keep their colors.
type ColorTextHandler struct {
	inner slog.Handler
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	return &ColorTextHandler{inner: slog.NewTextHandler(w, opts)}
}

func (h *ColorTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var colorCode string
	switch {
	case r.Level >= slog.LevelError:
		colorCode = "\033[31m" // red
	case r.Level >= slog.LevelWarn:
		colorCode = "\033[33m" // yellow
	case r.Level >= slog.LevelInfo:
		colorCode = "\033[32m" // green
	default:
		colorCode = "\033[36m" // cyan
	}
	r.Message = colorCode + r.Level.String() + "\033[0m  " + r.Message
	return h.inner.Handle(ctx, r)
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{inner: h.inner.WithGroup(name)}
}
