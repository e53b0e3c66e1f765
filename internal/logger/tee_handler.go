package logger

import (
	"context"
	"log/slog"
)

// TeeHandler duplicates records to a primary and a secondary handler.
// Secondary failures are swallowed; losing a file line must not fail
// the log call that already reached the console.
type TeeHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

// NewTeeHandler tees primary into secondary.
func NewTeeHandler(primary, secondary slog.Handler) *TeeHandler {
	return &TeeHandler{primary: primary, secondary: secondary}
}

func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.primary.Enabled(ctx, r.Level) {
		err = h.primary.Handle(ctx, r)
	}
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r.Clone())
	}
	return err
}

func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TeeHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *TeeHandler) WithGroup(name string) slog.Handler {
	return &TeeHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}
