package wizard

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Step is the 1-based position in the wizard.
type Step int

const (
	StepVehicleInfo Step = 1
	StepImages      Step = 2
	StepPreview     Step = 3
)

const (
	msgDraftCreateFailed = "Could not save your listing. Please try again."
	msgImagesSaveFailed  = "Could not save your images. Please try again."
	msgSaveDraftFailed   = "Could not save your draft. Please try again."
	msgSubmitFailed      = "Could not submit your listing. Please try again."
	msgDraftRequired     = "Save your listing as a draft before submitting."
	msgTitleForDraft     = "A title is required to save a draft"
	msgDraftElsewhere    = "This listing is being saved from another window. Please reload."
)

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	SessionID       string           `json:"session_id"`
	Step            Step             `json:"step"`
	Form            Form             `json:"form"`
	Errors          map[Field]string `json:"errors"`
	Images          []string         `json:"images"`
	DraftID         *int64           `json:"draft_id"`
	IsCreatingDraft bool             `json:"is_creating_draft"`
	IsSaving        bool             `json:"is_saving"`
	IsUploading     bool             `json:"is_uploading"`
	UploadError     string           `json:"upload_error,omitempty"`
	SubmitError     string           `json:"submit_error,omitempty"`
	Ended           bool             `json:"ended"`
}

// Deps are the collaborators shared by every controller.
type Deps struct {
	Gateway  Gateway
	Uploader ImageUploader
	Store    CheckpointStore
	Observer Observer
	Logger   *slog.Logger
	Policy   Policy

	// Claims guards CreateDraft when several processes serve one session.
	// Nil means this process is the only one.
	Claims DraftClaims

	// IdleTimeout is how long a session may sit unused in memory before
	// Manager.Sweep closes it. Zero keeps sessions until they end.
	IdleTimeout time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Controller drives one listing-creation session. All methods are safe for
// concurrent use; remote calls run without holding the state lock and their
// results are dropped once the session has ended or been closed.
type Controller struct {
	id     string
	userID string
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	step    Step
	form    Form
	errors  map[Field]string
	images  ImageSet
	draftID int64

	creatingDraft bool
	saving        bool
	uploading     bool

	uploadError string
	submitError string
	uploadGen   uint64
	submitGen   uint64
	uploadTimer *time.Timer
	submitTimer *time.Timer

	// savedAt is the UpdatedAt of the newest checkpoint this controller
	// wrote or was restored from.
	savedAt time.Time

	ended  bool
	closed bool
	onEnd  func(id string)
}

func newController(id, userID string, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		id:     id,
		userID: userID,
		deps:   deps,
		logger: logger.With("session_id", id, "user_id", userID),
		step:   StepVehicleInfo,
		errors: make(map[Field]string),
	}
}

func (c *Controller) restore(cp Checkpoint) {
	c.step = cp.Step
	if c.step < StepVehicleInfo || c.step > StepPreview {
		c.step = StepVehicleInfo
	}
	c.form = cp.Form
	c.draftID = cp.DraftID
	c.images = append(ImageSet(nil), cp.Images...)
	if c.draftID == 0 && c.step > StepVehicleInfo {
		c.step = StepVehicleInfo
	}
	c.savedAt = cp.UpdatedAt
}

func (c *Controller) ID() string     { return c.id }
func (c *Controller) UserID() string { return c.userID }

// AdvanceStep validates the current step and moves to the next one.
func (c *Controller) AdvanceStep(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.busyLocked() || c.uploading {
		c.mu.Unlock()
		return ErrBusy
	}

	switch c.step {
	case StepVehicleInfo:
		return c.advanceFromVehicleInfo(ctx)
	case StepImages:
		return c.advanceFromImages(ctx)
	}
	c.mu.Unlock()
	return nil
}

// advanceFromVehicleInfo is entered with c.mu held.
func (c *Controller) advanceFromVehicleInfo(ctx context.Context) error {
	if errs := ValidateVehicleInfo(c.form); len(errs) > 0 {
		c.errors = errs
		c.mu.Unlock()
		return nil
	}
	c.errors = make(map[Field]string)
	payload := c.form.payload()

	rctx, cancel := c.remoteContext(ctx)
	defer cancel()

	if c.draftID == 0 {
		c.creatingDraft = true
		c.mu.Unlock()

		ref, claimed, err := c.createDraft(rctx, payload)

		c.mu.Lock()
		c.creatingDraft = false
		if c.doneLocked() {
			c.mu.Unlock()
			if claimed && err == nil {
				c.releaseDraft(rctx)
			}
			return nil
		}
		if err != nil {
			c.logger.ErrorContext(ctx, "Failed to create draft", "error", err)
			c.setSubmitErrorLocked(msgDraftCreateFailed)
			c.mu.Unlock()
			return nil
		}
		if !claimed {
			c.logger.WarnContext(ctx, "Draft creation claimed by another process")
			c.setSubmitErrorLocked(msgDraftElsewhere)
			c.mu.Unlock()
			return nil
		}
		c.draftID = ref.ID
		if c.step == StepVehicleInfo {
			c.step = StepImages
		}
		cp := c.checkpointLocked()
		c.mu.Unlock()

		c.logger.InfoContext(ctx, "Draft created", "draft_id", ref.ID)
		if c.deps.Observer != nil {
			c.deps.Observer.DraftCreated(rctx, c.id, c.userID, ref.ID)
		}
		c.persist(rctx, cp)
		return nil
	}

	id := c.draftID
	c.saving = true
	c.mu.Unlock()

	if err := c.deps.Gateway.UpdateDraft(rctx, id, payload); err != nil {
		// The local form still holds everything; the next update carries it.
		c.logger.WarnContext(ctx, "Failed to update draft, advancing anyway", "draft_id", id, "error", err)
	}

	c.mu.Lock()
	c.saving = false
	if c.doneLocked() {
		c.mu.Unlock()
		return nil
	}
	if c.step == StepVehicleInfo {
		c.step = StepImages
	}
	cp := c.checkpointLocked()
	c.mu.Unlock()

	c.persist(rctx, cp)
	return nil
}

// advanceFromImages is entered with c.mu held.
func (c *Controller) advanceFromImages(ctx context.Context) error {
	if msg := ValidateImages(len(c.images), c.deps.Policy.MinImages); msg != "" {
		c.setUploadErrorLocked(msg)
		c.mu.Unlock()
		return nil
	}
	if c.draftID == 0 {
		c.setSubmitErrorLocked(msgDraftRequired)
		c.mu.Unlock()
		return nil
	}

	id := c.draftID
	images := c.images.clone()
	c.saving = true
	c.mu.Unlock()

	rctx, cancel := c.remoteContext(ctx)
	defer cancel()

	err := c.deps.Gateway.UpdateDraft(rctx, id, ListingPayload{Images: images})

	c.mu.Lock()
	c.saving = false
	if c.doneLocked() {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to save draft images", "draft_id", id, "error", err)
		c.setSubmitErrorLocked(msgImagesSaveFailed)
		c.mu.Unlock()
		return nil
	}
	if c.step == StepImages {
		c.step = StepPreview
	}
	cp := c.checkpointLocked()
	c.mu.Unlock()

	c.persist(rctx, cp)
	return nil
}

// RetreatStep goes back one step without validation or network calls.
func (c *Controller) RetreatStep(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.busyLocked() {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.step > StepVehicleInfo {
		c.step--
	}
	cp := c.checkpointLocked()
	c.mu.Unlock()

	c.persist(context.WithoutCancel(ctx), cp)
	return nil
}

// ChangeField sets one form value and clears that field's validation error.
func (c *Controller) ChangeField(name Field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardLocked(); err != nil {
		return err
	}
	if c.busyLocked() {
		return ErrBusy
	}
	if err := c.form.set(name, value); err != nil {
		return err
	}
	delete(c.errors, name)
	return nil
}

// SaveCheckpoint persists the current state, e.g. after a batch of field edits.
func (c *Controller) SaveCheckpoint(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	cp := c.checkpointLocked()
	c.mu.Unlock()

	c.persist(context.WithoutCancel(ctx), cp)
	return nil
}

// SaveAsDraft persists the listing as it stands and ends the session. Only a
// title is required.
func (c *Controller) SaveAsDraft(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.busyLocked() || c.uploading {
		c.mu.Unlock()
		return ErrBusy
	}
	if strings.TrimSpace(c.form.Title) == "" {
		c.errors[FieldTitle] = msgTitleForDraft
		c.mu.Unlock()
		return nil
	}

	payload := c.form.payload()
	payload.Images = c.images.clone()
	existing := c.draftID
	c.saving = true
	c.mu.Unlock()

	rctx, cancel := c.remoteContext(ctx)
	defer cancel()

	var (
		ref     DraftRef
		claimed = true
		err     error
	)
	if existing == 0 {
		ref, claimed, err = c.createDraft(rctx, payload)
	} else {
		ref.ID = existing
		err = c.deps.Gateway.UpdateDraft(rctx, existing, payload)
	}

	c.mu.Lock()
	c.saving = false
	if c.doneLocked() {
		c.mu.Unlock()
		if existing == 0 && claimed && err == nil {
			c.releaseDraft(rctx)
		}
		return nil
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to save draft", "draft_id", existing, "error", err)
		c.setSubmitErrorLocked(msgSaveDraftFailed)
		c.mu.Unlock()
		return nil
	}
	if !claimed {
		c.logger.WarnContext(ctx, "Draft creation claimed by another process")
		c.setSubmitErrorLocked(msgDraftElsewhere)
		c.mu.Unlock()
		return nil
	}
	c.draftID = ref.ID
	c.endLocked()
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Draft saved", "draft_id", ref.ID)
	if existing == 0 && c.deps.Observer != nil {
		c.deps.Observer.DraftCreated(rctx, c.id, c.userID, ref.ID)
	}
	c.finish(rctx)
	return nil
}

// Submit sends the existing draft for review and ends the session.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.busyLocked() || c.uploading {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.draftID == 0 {
		c.setSubmitErrorLocked(msgDraftRequired)
		c.mu.Unlock()
		return nil
	}
	id := c.draftID
	c.saving = true
	c.mu.Unlock()

	rctx, cancel := c.remoteContext(ctx)
	defer cancel()

	err := c.deps.Gateway.SubmitDraft(rctx, id)

	c.mu.Lock()
	c.saving = false
	if c.doneLocked() {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to submit draft", "draft_id", id, "error", err)
		c.setSubmitErrorLocked(msgSubmitFailed)
		c.mu.Unlock()
		return nil
	}
	c.endLocked()
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Listing submitted", "draft_id", id)
	if c.deps.Observer != nil {
		c.deps.Observer.ListingSubmitted(rctx, c.id, c.userID, id)
	}
	c.finish(rctx)
	return nil
}

// UploadImages validates and uploads a batch of files, appending the
// resulting URLs to the image set.
func (c *Controller) UploadImages(ctx context.Context, files []File) error {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.uploading || c.busyLocked() {
		c.mu.Unlock()
		return ErrBusy
	}
	if len(files) == 0 {
		c.mu.Unlock()
		return nil
	}

	policy := c.deps.Policy
	if len(c.images)+len(files) > policy.MaxImages {
		c.setUploadErrorLocked(policy.tooManyMessage())
		c.mu.Unlock()
		return nil
	}

	accepted, firstErr := policy.screen(files)
	if firstErr != "" {
		c.setUploadErrorLocked(firstErr)
	}
	if len(accepted) == 0 {
		c.mu.Unlock()
		return nil
	}

	draftID := c.draftID
	c.uploading = true
	c.mu.Unlock()

	rctx, cancel := c.remoteContext(ctx)
	defer cancel()

	urls, failed := uploadBatch(rctx, c.deps.Uploader, accepted, draftID, policy, c.logger)

	c.mu.Lock()
	c.uploading = false
	if c.doneLocked() {
		c.mu.Unlock()
		return nil
	}
	if failed {
		c.setUploadErrorLocked(msgUploadFailed)
	}
	if len(urls) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.images.Append(urls...)
	cp := c.checkpointLocked()
	c.mu.Unlock()

	c.persist(rctx, cp)
	return nil
}

// RemoveImage drops the image at index i.
func (c *Controller) RemoveImage(ctx context.Context, i int) error {
	return c.mutateImages(ctx, func(s *ImageSet) error { return s.Remove(i) })
}

// SetPrimary swaps the image at index i with the primary image.
func (c *Controller) SetPrimary(ctx context.Context, i int) error {
	return c.mutateImages(ctx, func(s *ImageSet) error { return s.SetPrimary(i) })
}

func (c *Controller) mutateImages(ctx context.Context, fn func(*ImageSet) error) error {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.busyLocked() {
		c.mu.Unlock()
		return ErrBusy
	}
	if err := fn(&c.images); err != nil {
		c.mu.Unlock()
		return err
	}
	cp := c.checkpointLocked()
	c.mu.Unlock()

	c.persist(context.WithoutCancel(ctx), cp)
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	errs := make(map[Field]string, len(c.errors))
	for k, v := range c.errors {
		errs[k] = v
	}
	snap := Snapshot{
		SessionID:       c.id,
		Step:            c.step,
		Form:            c.form,
		Errors:          errs,
		Images:          c.images.clone(),
		IsCreatingDraft: c.creatingDraft,
		IsSaving:        c.saving,
		IsUploading:     c.uploading,
		UploadError:     c.uploadError,
		SubmitError:     c.submitError,
		Ended:           c.ended || c.closed,
	}
	if c.draftID != 0 {
		id := c.draftID
		snap.DraftID = &id
	}
	return snap
}

// Close tears the session down. In-flight operations complete but their
// results are discarded. The checkpoint is left in place.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimersLocked()
}

func (c *Controller) guardLocked() error {
	if c.doneLocked() {
		return ErrSessionEnded
	}
	return nil
}

func (c *Controller) doneLocked() bool {
	return c.ended || c.closed
}

// busyLocked reports whether a draft call is in flight. The state it was
// started from must not change until it returns.
func (c *Controller) busyLocked() bool {
	return c.creatingDraft || c.saving
}

// idle reports whether no remote call of any kind is in flight.
func (c *Controller) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.busyLocked() && !c.uploading
}

// staleAgainst reports whether cp was written elsewhere after the newest
// checkpoint this controller knows about.
func (c *Controller) staleAgainst(cp Checkpoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cp.UpdatedAt.After(c.savedAt)
}

// createDraft calls CreateDraft once this session holds the draft claim.
// claimed is false, with a nil error, when another process holds it.
// Entered without c.mu.
func (c *Controller) createDraft(ctx context.Context, payload ListingPayload) (ref DraftRef, claimed bool, err error) {
	if c.deps.Claims != nil {
		claimed, err = c.deps.Claims.Claim(ctx, c.id)
		if err != nil || !claimed {
			return DraftRef{}, false, err
		}
	}
	ref, err = c.deps.Gateway.CreateDraft(ctx, payload)
	if err != nil {
		c.releaseDraft(ctx)
	}
	return ref, true, err
}

// releaseDraft gives up the claim when no draft id was recorded, so a later
// attempt can create one.
func (c *Controller) releaseDraft(ctx context.Context) {
	if c.deps.Claims == nil {
		return
	}
	if err := c.deps.Claims.Release(ctx, c.id); err != nil {
		c.logger.WarnContext(ctx, "Failed to release draft claim", "error", err)
	}
}

func (c *Controller) endLocked() {
	c.ended = true
	c.stopTimersLocked()
}

// finish clears the checkpoint of an ended session and unregisters it.
func (c *Controller) finish(ctx context.Context) {
	if c.deps.Store != nil {
		if err := c.deps.Store.Clear(ctx, c.id); err != nil {
			c.logger.WarnContext(ctx, "Failed to clear checkpoint", "error", err)
		}
	}
	if c.onEnd != nil {
		c.onEnd(c.id)
	}
}

func (c *Controller) checkpointLocked() Checkpoint {
	return Checkpoint{
		SessionID: c.id,
		UserID:    c.userID,
		Step:      c.step,
		DraftID:   c.draftID,
		Form:      c.form,
		Images:    c.images.clone(),
		// Postgres keeps microseconds; staleness checks compare this value.
		UpdatedAt: c.deps.now().UTC().Truncate(time.Microsecond),
	}
}

// persist writes a checkpoint. Failures only cost resumability, so they are
// logged and swallowed.
func (c *Controller) persist(ctx context.Context, cp Checkpoint) {
	if c.deps.Store == nil {
		return
	}
	if err := c.deps.Store.Set(ctx, cp); err != nil {
		c.logger.WarnContext(ctx, "Failed to save checkpoint", "step", cp.Step, "error", err)
		return
	}
	c.markSaved(cp.UpdatedAt)
}

func (c *Controller) markSaved(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if at.After(c.savedAt) {
		c.savedAt = at
	}
}

// remoteContext detaches ctx from its caller's cancellation so a client
// disconnect does not abort a backend call halfway through.
func (c *Controller) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if c.deps.Policy.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.deps.Policy.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Controller) setUploadErrorLocked(msg string) {
	c.uploadError = msg
	c.uploadGen++
	gen := c.uploadGen
	c.uploadTimer = c.scheduleClear(c.uploadTimer, func() {
		if c.uploadGen == gen {
			c.uploadError = ""
		}
	})
}

func (c *Controller) setSubmitErrorLocked(msg string) {
	c.submitError = msg
	c.submitGen++
	gen := c.submitGen
	c.submitTimer = c.scheduleClear(c.submitTimer, func() {
		if c.submitGen == gen {
			c.submitError = ""
		}
	})
}

func (c *Controller) scheduleClear(prev *time.Timer, clear func()) *time.Timer {
	if prev != nil {
		prev.Stop()
	}
	delay := c.deps.Policy.ErrorClearDelay
	if delay <= 0 {
		return nil
	}
	return time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		clear()
	})
}

func (c *Controller) stopTimersLocked() {
	if c.uploadTimer != nil {
		c.uploadTimer.Stop()
		c.uploadTimer = nil
	}
	if c.submitTimer != nil {
		c.submitTimer.Stop()
		c.submitTimer = nil
	}
}
