package sessions

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"seller-gateway/internal/auth"
	"seller-gateway/internal/errors"
	"seller-gateway/internal/idempotency"
	"seller-gateway/internal/json"
	"seller-gateway/internal/wizard"
)

// maxUploadBody caps a whole upload request. Files over the policy limit are
// skipped part by part, so this only stops runaway bodies.
const maxUploadBody = 256 << 20

// SessionManager is the part of *wizard.Manager the handlers need.
type SessionManager interface {
	Policy() wizard.Policy
	Start(ctx context.Context, userID string) (*wizard.Controller, error)
	Get(ctx context.Context, userID, id string) (*wizard.Controller, error)
	Abandon(ctx context.Context, userID, id string) error
}

type SessionsHandler struct {
	manager SessionManager
	logger  *slog.Logger
}

func NewSessionsHandler(manager SessionManager, logger *slog.Logger) *SessionsHandler {
	return &SessionsHandler{
		manager: manager,
		logger:  logger,
	}
}

func (h *SessionsHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	c, err := h.manager.Start(ctx, userID)
	if err != nil {
		h.respond(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "Wizard session started", "session_id", c.ID(), "user_id", userID)
	json.Write(w, http.StatusCreated, c.Snapshot())
}

func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	json.Write(w, http.StatusOK, c.Snapshot())
}

func (h *SessionsHandler) ChangeFields(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := h.session(w, r)
	if !ok {
		return
	}

	req := ChangeFieldsRequest{}
	if err := json.Read(r, &req); err != nil {
		errors.RespondError(w, r, errors.New(errors.ErrInvalidInput, "Input provided was not in the format expected.", err))
		return
	}
	changes, err := req.changes()
	if err != nil {
		errors.RespondError(w, r, errors.New(errors.ErrInvalidInput, err.Error(), nil))
		return
	}

	for _, ch := range changes {
		if err := c.ChangeField(ch.field, ch.value); err != nil {
			h.respond(w, r, err)
			return
		}
	}
	if err := c.SaveCheckpoint(ctx); err != nil {
		h.respond(w, r, err)
		return
	}

	json.Write(w, http.StatusOK, c.Snapshot())
}

func (h *SessionsHandler) Advance(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, c *wizard.Controller) error { return c.AdvanceStep(ctx) })
}

func (h *SessionsHandler) Retreat(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(ctx context.Context, c *wizard.Controller) error { return c.RetreatStep(ctx) })
}

func (h *SessionsHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	h.runFinal(w, r, func(ctx context.Context, c *wizard.Controller) error { return c.SaveAsDraft(ctx) })
}

func (h *SessionsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.runFinal(w, r, func(ctx context.Context, c *wizard.Controller) error { return c.Submit(ctx) })
}

func (h *SessionsHandler) RemoveImage(w http.ResponseWriter, r *http.Request) {
	index, ok := imageIndex(w, r)
	if !ok {
		return
	}
	h.run(w, r, func(ctx context.Context, c *wizard.Controller) error { return c.RemoveImage(ctx, index) })
}

func (h *SessionsHandler) SetPrimaryImage(w http.ResponseWriter, r *http.Request) {
	index, ok := imageIndex(w, r)
	if !ok {
		return
	}
	h.run(w, r, func(ctx context.Context, c *wizard.Controller) error { return c.SetPrimary(ctx, index) })
}

// UploadImages accepts a multipart form with one or more "files" parts. Parts
// are streamed and at most MaxFileSize bytes of each are held in memory.
func (h *SessionsHandler) UploadImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := h.session(w, r)
	if !ok {
		return
	}

	policy := h.manager.Policy()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	mr, err := r.MultipartReader()
	if err != nil {
		errors.RespondError(w, r, errors.New(errors.ErrInvalidInput, "Upload must be a multipart form", err))
		return
	}

	var files []wizard.File
	for {
		p, err := mr.NextPart()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errors.RespondError(w, r, errors.New(errors.ErrInvalidInput, "Could not read uploaded file", err))
			return
		}
		if p.FormName() != "files" || p.FileName() == "" {
			p.Close()
			continue
		}

		// A batch over the image limit is rejected as a whole, so only
		// sizes are kept past that point.
		limit := policy.MaxFileSize
		if len(files) >= policy.MaxImages {
			limit = 0
		}
		f, err := readPart(p, limit)
		p.Close()
		if err != nil {
			errors.RespondError(w, r, errors.New(errors.ErrInvalidInput, "Could not read uploaded file", err))
			return
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		errors.RespondError(w, r, errors.New(errors.ErrInvalidInput, "No files were uploaded", nil))
		return
	}

	if err := c.UploadImages(ctx, files); err != nil {
		h.respond(w, r, err)
		return
	}
	json.Write(w, http.StatusOK, c.Snapshot())
}

func (h *SessionsHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	if err := h.manager.Abandon(ctx, userID, chi.URLParam(r, "id")); err != nil {
		h.respond(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	json.Write(w, http.StatusOK, newPolicyResponse(h.manager.Policy()))
}

// run resolves the session, applies op and answers with the resulting snapshot.
func (h *SessionsHandler) run(w http.ResponseWriter, r *http.Request, op func(context.Context, *wizard.Controller) error) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), c); err != nil {
		h.respond(w, r, err)
		return
	}
	json.Write(w, http.StatusOK, c.Snapshot())
}

// runFinal is run for operations that end the session. Unless the session
// did end, the response is not kept for replay and the same Idempotency-Key
// can be sent again.
func (h *SessionsHandler) runFinal(w http.ResponseWriter, r *http.Request, op func(context.Context, *wizard.Controller) error) {
	h.run(w, r, func(ctx context.Context, c *wizard.Controller) error {
		err := op(ctx, c)
		if err != nil || !c.Snapshot().Ended {
			idempotency.MarkRetryable(ctx)
		}
		return err
	})
}

func (h *SessionsHandler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		slog.WarnContext(r.Context(), "Unauthorized access attempt", "error", err)
		errors.RespondError(w, r, errors.New(errors.ErrUnauthorized, "Unauthorized access", err))
		return "", false
	}
	return userID, true
}

func (h *SessionsHandler) session(w http.ResponseWriter, r *http.Request) (*wizard.Controller, bool) {
	userID, ok := h.user(w, r)
	if !ok {
		return nil, false
	}

	c, err := h.manager.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.respond(w, r, err)
		return nil, false
	}
	return c, true
}

// respond maps wizard errors onto the AppError taxonomy.
func (h *SessionsHandler) respond(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case stderrors.Is(err, wizard.ErrSessionNotFound):
		err = errors.New(errors.ErrNotFound, "Listing session not found", err)
	case stderrors.Is(err, wizard.ErrSessionEnded):
		err = errors.New(errors.ErrGone, "Listing session has already finished", err)
	case stderrors.Is(err, wizard.ErrBusy):
		err = errors.New(errors.ErrBusy, "Another change is still being saved. Please wait.", err)
	case stderrors.Is(err, wizard.ErrUnknownField),
		stderrors.Is(err, wizard.ErrInvalidValue),
		stderrors.Is(err, wizard.ErrIndexOutOfRange):
		err = errors.New(errors.ErrInvalidInput, "Invalid request", err)
	default:
		var appErr *errors.AppError
		if !stderrors.As(err, &appErr) {
			err = errors.New(errors.ErrInternal, "Unexpected system error", err)
		}
	}
	errors.RespondError(w, r, err)
}

func imageIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		errors.RespondError(w, r, errors.New(errors.ErrInvalidInput, "Image index must be a number", err))
		return 0, false
	}
	return index, true
}

// readPart reads one file part, keeping at most limit bytes. A larger part is
// drained and returned with its full size and no data, so the wizard reports
// it as too large.
func readPart(p *multipart.Part, limit int64) (wizard.File, error) {
	data, err := io.ReadAll(io.LimitReader(p, limit+1))
	if err != nil {
		return wizard.File{}, err
	}

	size := int64(len(data))
	if size > limit {
		rest, err := io.Copy(io.Discard, p)
		if err != nil {
			return wizard.File{}, err
		}
		size += rest
		data = nil
	}

	return wizard.File{
		Name:        p.FileName(),
		ContentType: contentType(p.Header.Get("Content-Type"), data),
		Size:        size,
		Data:        data,
	}, nil
}

// contentType keeps the declared type only when the bytes agree with it.
func contentType(declared string, data []byte) string {
	if data == nil {
		return declared
	}
	detected := mimetype.Detect(data)
	if generic(declared) || !detected.Is(declared) {
		return detected.String()
	}
	return declared
}

func generic(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return ct == "" || ct == "application/octet-stream"
}
