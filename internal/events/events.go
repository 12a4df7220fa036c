package events

import (
	"os"
)

type DraftCreatedEvent struct {
	SessionID string `json:"session_id"` // The wizard session that created the draft
	UserID    string `json:"user_id"`    // The seller who owns the draft
	DraftID   int64  `json:"draft_id"`   // The marketplace listing id
	TraceID   string `json:"trace_id"`   // This is used for tracing requests across services
}

type ListingSubmittedEvent struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ListingID int64  `json:"listing_id"` // Same id as the draft; now PENDING review
	TraceID   string `json:"trace_id"`
}

type EventConfig struct {
	DraftCreated     string
	ListingSubmitted string
}

func NewEventConfig() *EventConfig {
	return &EventConfig{
		DraftCreated:     getenv("EVENT_WIZARD_DRAFT_CREATED", "wizard.draft.created"),
		ListingSubmitted: getenv("EVENT_WIZARD_LISTING_SUBMITTED", "wizard.listing.submitted"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
