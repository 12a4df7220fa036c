package wizard

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionEnded    = errors.New("wizard: session has ended")
	ErrSessionNotFound = errors.New("wizard: session not found")
	ErrBusy            = errors.New("wizard: operation already in progress")
	ErrUnknownField    = errors.New("wizard: unknown field")
	ErrInvalidValue    = errors.New("wizard: invalid field value")
	ErrIndexOutOfRange = errors.New("wizard: image index out of range")
)

// DraftRef is what the backend hands back after creating a listing.
type DraftRef struct {
	ID     int64
	Status string
}

// Gateway is the remote persistence API for listing drafts.
type Gateway interface {
	// CreateDraft is not idempotent: every call creates a new draft.
	CreateDraft(ctx context.Context, payload ListingPayload) (DraftRef, error)

	// UpdateDraft merges the non-empty parts of payload into the draft.
	UpdateDraft(ctx context.Context, id int64, payload ListingPayload) error

	// SubmitDraft moves the draft from DRAFT to PENDING review.
	SubmitDraft(ctx context.Context, id int64) error
}

// File is one image picked by the seller.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

func (f File) size() int64 {
	if f.Size > 0 {
		return f.Size
	}
	return int64(len(f.Data))
}

// ImageUploader stores a single image and returns a retrievable URL.
// draftID is 0 when no draft exists yet. Safe for concurrent use.
type ImageUploader interface {
	UploadImage(ctx context.Context, file File, draftID int64) (string, error)
}

// ImageDiscarder is implemented by uploaders that can delete an image they
// stored. Used to clean up after a discarded batch.
type ImageDiscarder interface {
	DiscardImage(ctx context.Context, url string) error
}

// Checkpoint is the persisted state needed to resume a session.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Step      Step      `json:"step"`
	DraftID   int64     `json:"draft_id,omitempty"`
	Form      Form      `json:"form"`
	Images    []string  `json:"images"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointStore persists session checkpoints.
type CheckpointStore interface {
	Get(ctx context.Context, sessionID string) (*Checkpoint, bool, error)
	Set(ctx context.Context, cp Checkpoint) error
	Clear(ctx context.Context, sessionID string) error
}

// DraftClaims arbitrates draft creation between processes serving the same
// session. Only the holder of a session's claim may call CreateDraft for it.
type DraftClaims interface {
	// Claim reports whether the caller now holds the claim for sessionID.
	// It is false when another caller already holds it.
	Claim(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

// Observer is told about milestones of a session. Implementations must not
// block for long; they run on the request path.
type Observer interface {
	DraftCreated(ctx context.Context, sessionID, userID string, draftID int64)
	ListingSubmitted(ctx context.Context, sessionID, userID string, draftID int64)
}

type UploadFailurePolicy string

const (
	// AllOrNothing discards the whole batch when any upload fails.
	AllOrNothing UploadFailurePolicy = "all_or_nothing"
	// KeepSuccessful keeps the URLs that did upload, in submission order.
	KeepSuccessful UploadFailurePolicy = "keep_successful"
)

// Policy holds the configurable limits of the wizard.
type Policy struct {
	MinImages         int
	MaxImages         int
	AllowedMimeTypes  []string
	MaxFileSize       int64
	ErrorClearDelay   time.Duration
	UploadFailure     UploadFailurePolicy
	UploadConcurrency int
	RequestTimeout    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MinImages:         3,
		MaxImages:         10,
		AllowedMimeTypes:  []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		MaxFileSize:       5 * 1024 * 1024, // 5MB
		ErrorClearDelay:   5 * time.Second,
		UploadFailure:     AllOrNothing,
		UploadConcurrency: 4,
		RequestTimeout:    15 * time.Second,
	}
}
