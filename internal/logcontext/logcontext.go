package logcontext

import (
	"context"
	"log/slog"
)

type ctxKey string

// SlogFields is the context key under which correlation attrs are stored.
const SlogFields ctxKey = "slog_fields"

// ContextHandler adds attrs stored in the context to every record,
// so correlation ids (runId, chargeId, sessionId) follow the request.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(SlogFields).([]slog.Attr); ok {
		for _, v := range attrs {
			r.AddAttrs(v)
		}
	}
	return h.Handler.Handle(ctx, r)
}

// AppendCtx returns a child context carrying the given attrs in addition
// to any attrs already present on the parent.
func AppendCtx(parent context.Context, attrs ...slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if v, ok := parent.Value(SlogFields).([]slog.Attr); ok {
		combined := make([]slog.Attr, 0, len(v)+len(attrs))
		combined = append(combined, v...)
		combined = append(combined, attrs...)
		return context.WithValue(parent, SlogFields, combined)
	}

	return context.WithValue(parent, SlogFields, attrs)
}
