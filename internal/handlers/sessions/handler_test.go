package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seller-gateway/internal/auth"
	"seller-gateway/internal/cache"
	"seller-gateway/internal/checkpoint"
	"seller-gateway/internal/idempotency"
	"seller-gateway/internal/testutil"
	"seller-gateway/internal/wizard"
)

type stubGateway struct {
	mu        sync.Mutex
	nextID    int64
	updates   []wizard.ListingPayload
	submitted []int64
	// failSubmits makes that many SubmitDraft calls fail first.
	failSubmits int
	submitCalls int
}

func (g *stubGateway) CreateDraft(ctx context.Context, p wizard.ListingPayload) (wizard.DraftRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	return wizard.DraftRef{ID: 41 + g.nextID, Status: "DRAFT"}, nil
}

func (g *stubGateway) UpdateDraft(ctx context.Context, id int64, p wizard.ListingPayload) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates = append(g.updates, p)
	return nil
}

func (g *stubGateway) SubmitDraft(ctx context.Context, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitCalls++
	if g.failSubmits > 0 {
		g.failSubmits--
		return errors.New("503 service unavailable")
	}
	g.submitted = append(g.submitted, id)
	return nil
}

type stubUploader struct {
	mu    sync.Mutex
	types []string
}

func (u *stubUploader) UploadImage(ctx context.Context, f wizard.File, draftID int64) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.types = append(u.types, f.ContentType)
	return "https://cdn.example.com/" + f.Name, nil
}

type testServer struct {
	router   http.Handler
	gateway  *stubGateway
	uploader *stubUploader
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gw := &stubGateway{}
	up := &stubUploader{}
	policy := wizard.DefaultPolicy()
	policy.ErrorClearDelay = 0

	manager := wizard.NewManager(wizard.Deps{
		Gateway:  gw,
		Uploader: up,
		Store:    checkpoint.NewMemoryStore(time.Hour),
		Logger:   testutil.NewTestLogger(),
		Policy:   policy,
	})
	t.Cleanup(manager.Shutdown)
	h := NewSessionsHandler(manager, testutil.NewTestLogger())

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	once := idempotency.Idempotency(idempotency.NewStore(cache.Wrap(rdb)))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Get("/wizard/policy", h.GetPolicy)
	r.Group(func(r chi.Router) {
		r.Use(fakeAuth)
		r.Post("/wizard/sessions", h.StartSession)
		r.Get("/wizard/sessions/{id}", h.GetSession)
		r.Delete("/wizard/sessions/{id}", h.Abandon)
		r.Patch("/wizard/sessions/{id}/fields", h.ChangeFields)
		r.Post("/wizard/sessions/{id}/advance", h.Advance)
		r.Post("/wizard/sessions/{id}/retreat", h.Retreat)
		r.Post("/wizard/sessions/{id}/images", h.UploadImages)
		r.Delete("/wizard/sessions/{id}/images/{index}", h.RemoveImage)
		r.Post("/wizard/sessions/{id}/images/{index}/primary", h.SetPrimaryImage)
		r.With(once).Post("/wizard/sessions/{id}/save-draft", h.SaveDraft)
		r.With(once).Post("/wizard/sessions/{id}/submit", h.Submit)
	})

	return &testServer{router: r, gateway: gw, uploader: up}
}

// fakeAuth trusts X-Test-User in place of a verified bearer token.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-Test-User")
		if user == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUserInfo(r.Context(), auth.UserInfo{ID: user})))
	})
}

func (s *testServer) do(t *testing.T, user, method, path string, body any) (*httptest.ResponseRecorder, wizard.Snapshot) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	return s.send(t, req)
}

func (s *testServer) send(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, wizard.Snapshot) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var snap wizard.Snapshot
	if rec.Code < 300 && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	}
	return rec, snap
}

type part struct {
	name        string
	contentType string
	data        []byte
}

func (s *testServer) upload(t *testing.T, user, sessionID string, parts ...part) (*httptest.ResponseRecorder, wizard.Snapshot) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="files"; filename="`+p.name+`"`)
		if p.contentType != "" {
			hdr.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/wizard/sessions/"+sessionID+"/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-User", user)
	return s.send(t, req)
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func vehicleFields() map[string]any {
	return map[string]any{
		"fields": map[string]any{
			"title":       "Trek Domane SL5",
			"brand":       "Trek",
			"model":       "Domane SL5",
			"category":    "road",
			"condition":   "good",
			"year":        2021,
			"price":       1850.5,
			"location":    "Leeds",
			"description": "Carbon endurance bike.",
			"shipping":    true,
		},
	}
}

func TestWizardFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := snap.SessionID
	require.NotEmpty(t, id)
	assert.Equal(t, wizard.StepVehicleInfo, snap.Step)

	rec, snap = s.do(t, "user-1", http.MethodPatch, "/wizard/sessions/"+id+"/fields", vehicleFields())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2021", snap.Form.Year)
	assert.Equal(t, "1850.5", snap.Form.Price)
	assert.True(t, snap.Form.Shipping)

	rec, snap = s.do(t, "user-1", http.MethodPost, "/wizard/sessions/"+id+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, wizard.StepImages, snap.Step)
	require.NotNil(t, snap.DraftID)
	assert.Equal(t, int64(42), *snap.DraftID)

	rec, snap = s.upload(t, "user-1", id,
		part{"a.png", "image/png", pngBytes},
		part{"b.png", "", pngBytes},
		part{"c.png", "application/octet-stream", pngBytes},
	)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{
		"https://cdn.example.com/a.png", "https://cdn.example.com/b.png", "https://cdn.example.com/c.png",
	}, snap.Images)
	assert.Equal(t, []string{"image/png", "image/png", "image/png"}, s.uploader.types)

	rec, snap = s.do(t, "user-1", http.MethodPost, "/wizard/sessions/"+id+"/images/2/primary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://cdn.example.com/c.png", snap.Images[0])

	rec, snap = s.do(t, "user-1", http.MethodPost, "/wizard/sessions/"+id+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, wizard.StepPreview, snap.Step)

	rec, snap = s.do(t, "user-1", http.MethodPost, "/wizard/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, snap.Ended)
	assert.Equal(t, []int64{42}, s.gateway.submitted)

	rec, _ = s.do(t, "user-1", http.MethodGet, "/wizard/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdvanceWithMissingFieldsReturnsErrors(t *testing.T) {
	s := newTestServer(t)
	_, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)

	rec, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions/"+snap.SessionID+"/advance", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, wizard.StepVehicleInfo, snap.Step)
	assert.Contains(t, snap.Errors, wizard.FieldTitle)
	assert.Contains(t, snap.Errors, wizard.FieldPrice)
}

func TestChangeFieldsRejectsUnknownFieldWithoutApplyingAny(t *testing.T) {
	s := newTestServer(t)
	_, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)
	id := snap.SessionID

	rec, _ := s.do(t, "user-1", http.MethodPatch, "/wizard/sessions/"+id+"/fields", map[string]any{
		"fields": map[string]any{"title": "Ok", "colour": "red"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, snap = s.do(t, "user-1", http.MethodGet, "/wizard/sessions/"+id, nil)
	assert.Empty(t, snap.Form.Title)

	rec, _ = s.do(t, "user-1", http.MethodPatch, "/wizard/sessions/"+id+"/fields", map[string]any{
		"fields": map[string]any{"shipping": "perhaps"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOtherUsersCannotSeeSession(t *testing.T) {
	s := newTestServer(t)
	_, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)

	rec, _ := s.do(t, "user-2", http.MethodGet, "/wizard/sessions/"+snap.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, "user-2", http.MethodDelete, "/wizard/sessions/"+snap.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, "", http.MethodPost, "/wizard/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestImageIndexErrors(t *testing.T) {
	s := newTestServer(t)
	_, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)
	id := snap.SessionID

	rec, _ := s.do(t, "user-1", http.MethodDelete, "/wizard/sessions/"+id+"/images/first", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, "user-1", http.MethodDelete, "/wizard/sessions/"+id+"/images/3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	s := newTestServer(t)
	_, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)

	rec, snap := s.upload(t, "user-1", snap.SessionID, part{"notes.txt", "", []byte("just text")})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, snap.Images)
	assert.Contains(t, snap.UploadError, "notes.txt")
	assert.Empty(t, s.uploader.types)
}

func TestUploadWithoutFiles(t *testing.T) {
	s := newTestServer(t)
	_, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)

	rec, _ := s.upload(t, "user-1", snap.SessionID)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveDraftEndsSessionAndFurtherCallsAreGoneOrMissing(t *testing.T) {
	s := newTestServer(t)
	_, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)
	id := snap.SessionID
	s.do(t, "user-1", http.MethodPatch, "/wizard/sessions/"+id+"/fields", map[string]any{
		"fields": map[string]any{"title": "Unfinished Brompton"},
	})

	rec, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions/"+id+"/save-draft", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, snap.Ended)
	require.NotNil(t, snap.DraftID)

	rec, _ = s.do(t, "user-1", http.MethodPost, "/wizard/sessions/"+id+"/advance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAbandon(t *testing.T) {
	s := newTestServer(t)
	_, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)

	rec, _ := s.do(t, "user-1", http.MethodDelete, "/wizard/sessions/"+snap.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = s.do(t, "user-1", http.MethodGet, "/wizard/sessions/"+snap.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPolicy(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wizard/policy", nil))

	var got PolicyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.MinImages)
	assert.Equal(t, 10, got.MaxImages)
	assert.Contains(t, got.AllowedMimeTypes, "image/webp")
	assert.Contains(t, got.Categories, wizard.CategoryGravel)
}

// readyToSubmit walks a new session to the preview step and returns its id.
func (s *testServer) readyToSubmit(t *testing.T) string {
	t.Helper()
	_, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)
	id := snap.SessionID
	s.do(t, "user-1", http.MethodPatch, "/wizard/sessions/"+id+"/fields", vehicleFields())
	s.do(t, "user-1", http.MethodPost, "/wizard/sessions/"+id+"/advance", nil)
	s.upload(t, "user-1", id,
		part{"a.png", "image/png", pngBytes},
		part{"b.png", "image/png", pngBytes},
		part{"c.png", "image/png", pngBytes},
	)
	_, snap = s.do(t, "user-1", http.MethodPost, "/wizard/sessions/"+id+"/advance", nil)
	require.Equal(t, wizard.StepPreview, snap.Step)
	return id
}

func (s *testServer) submitWithKey(t *testing.T, id, key string) (*httptest.ResponseRecorder, wizard.Snapshot) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/wizard/sessions/"+id+"/submit", nil)
	req.Header.Set("X-Test-User", "user-1")
	req.Header.Set(idempotency.HeaderKey, key)
	return s.send(t, req)
}

func TestSubmitFailureCanBeRetriedWithSameKey(t *testing.T) {
	s := newTestServer(t)
	s.gateway.failSubmits = 1
	id := s.readyToSubmit(t)

	rec, snap := s.submitWithKey(t, id, "submit-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, snap.Ended)
	assert.NotEmpty(t, snap.SubmitError)

	rec, snap = s.submitWithKey(t, id, "submit-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(idempotency.HeaderHit))
	assert.True(t, snap.Ended)
	assert.Equal(t, []int64{42}, s.gateway.submitted)

	rec, snap = s.submitWithKey(t, id, "submit-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(idempotency.HeaderHit))
	assert.True(t, snap.Ended)
	assert.Equal(t, 2, s.gateway.submitCalls)
}

func TestUploadSkipsOversizedPartAndKeepsTheRest(t *testing.T) {
	s := newTestServer(t)
	_, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)
	big := append(append([]byte{}, pngBytes...), bytes.Repeat([]byte{0}, int(wizard.DefaultPolicy().MaxFileSize))...)

	rec, snap := s.upload(t, "user-1", snap.SessionID,
		part{"a.png", "image/png", pngBytes},
		part{"huge.png", "image/png", big},
		part{"b.png", "image/png", pngBytes},
	)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png"}, snap.Images)
	assert.Contains(t, snap.UploadError, "huge.png")
	assert.Contains(t, snap.UploadError, "5 MB")
}

func TestUploadOverImageLimitRejectsBatch(t *testing.T) {
	s := newTestServer(t)
	_, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)
	parts := make([]part, 11)
	for i := range parts {
		parts[i] = part{"p" + strings.Repeat("x", i) + ".png", "image/png", pngBytes}
	}

	rec, snap := s.upload(t, "user-1", snap.SessionID, parts...)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, snap.Images)
	assert.Contains(t, snap.UploadError, "at most 10")
	assert.Empty(t, s.uploader.types)
}

func TestUploadRejectsContentThatIsNotTheDeclaredImage(t *testing.T) {
	s := newTestServer(t)
	_, snap := s.do(t, "user-1", http.MethodPost, "/wizard/sessions", nil)

	rec, snap := s.upload(t, "user-1", snap.SessionID,
		part{"photo.jpg", "image/jpeg", []byte("<html><body><script>alert(1)</script></body></html>")},
		part{"real.png", "image/jpeg", pngBytes},
	)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, snap.UploadError, "photo.jpg")
	assert.Equal(t, []string{"https://cdn.example.com/real.png"}, snap.Images)
	assert.Equal(t, []string{"image/png"}, s.uploader.types)
}
