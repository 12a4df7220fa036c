package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"seller-gateway/internal/wizard"
)

var _ wizard.Observer = (*EventHandler)(nil)

// EventHandler turns wizard milestones into bus events. Publishing is best
// effort: failures are logged and never reach the seller.
type EventHandler struct {
	bus    Bus
	config *EventConfig
	logger *slog.Logger
}

func NewEventHandler(bus Bus, config *EventConfig, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		bus:    bus,
		config: config,
		logger: logger,
	}
}

func (h *EventHandler) DraftCreated(ctx context.Context, sessionID, userID string, draftID int64) {
	evt := DraftCreatedEvent{
		SessionID: sessionID,
		UserID:    userID,
		DraftID:   draftID,
		TraceID:   traceID(ctx),
	}
	msgID := fmt.Sprintf("draft.%s.%d", userID, draftID)
	h.raise(ctx, h.config.DraftCreated, msgID, evt)
}

func (h *EventHandler) ListingSubmitted(ctx context.Context, sessionID, userID string, draftID int64) {
	evt := ListingSubmittedEvent{
		SessionID: sessionID,
		UserID:    userID,
		ListingID: draftID,
		TraceID:   traceID(ctx),
	}
	msgID := fmt.Sprintf("submit.%s.%d", userID, draftID)
	h.raise(ctx, h.config.ListingSubmitted, msgID, evt)
}

func (h *EventHandler) raise(ctx context.Context, subject, msgID string, evt any) {
	if subject == "" {
		return
	}

	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to marshal event", "subject", subject, "error", err)
		return
	}

	h.logger.InfoContext(ctx, "Raising event", "subject", subject, "msg_id", msgID)
	if err := h.bus.Publish(ctx, subject, data, msgID); err != nil {
		h.logger.ErrorContext(ctx, "Failed to publish event", "subject", subject, "msg_id", msgID, "error", err)
	}
}

func traceID(ctx context.Context) string {
	spanContext := trace.SpanContextFromContext(ctx)
	if !spanContext.IsValid() {
		return ""
	}
	return spanContext.TraceID().String()
}
