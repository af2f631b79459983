package log

import (
	"context"
	"log/slog"

	"github.com/couchgate/couchgate/internal/requestid"
)

// ContextHandler wraps an slog.Handler and stamps every record with the
// request ID carried in its context, when one is present.
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler wraps inner so request-scoped log lines across the
// handler, usecase, and store layers share a request_id attribute.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := requestid.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}
