package telemetry

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

// TraceHandler decorates records with the trace, span and request ids found
// in the context, so a seller's support ticket can be followed through logs.
type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

// Handle overrides the standard Handle method
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	// 1. Get the SpanContext from the Go context
	sc := trace.SpanContextFromContext(ctx)

	// 2. Only records written inside a trace get trace and span ids
	if sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	// 3. chi's request id covers requests that were not sampled
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		r.AddAttrs(slog.String("req_id", reqID))
	}

	// 4. Pass the modified record to the underlying handler
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}
