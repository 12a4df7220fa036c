package wizard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateDraft(ctx context.Context, payload ListingPayload) (DraftRef, error) {
	args := m.Called(ctx, payload)
	return args.Get(0).(DraftRef), args.Error(1)
}

func (m *mockGateway) UpdateDraft(ctx context.Context, id int64, payload ListingPayload) error {
	return m.Called(ctx, id, payload).Error(0)
}

func (m *mockGateway) SubmitDraft(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type fakeUploader struct {
	mu        sync.Mutex
	fail      map[string]bool
	uploaded  []string
	discarded []string
	// gate, when set, holds every upload until it is closed.
	gate chan struct{}
}

func (f *fakeUploader) UploadImage(ctx context.Context, file File, draftID int64) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.fail[file.Name] {
		return "", errors.New("upload rejected")
	}
	url := "https://cdn.example.com/" + file.Name
	f.mu.Lock()
	f.uploaded = append(f.uploaded, url)
	f.mu.Unlock()
	return url, nil
}

func (f *fakeUploader) DiscardImage(ctx context.Context, url string) error {
	f.mu.Lock()
	f.discarded = append(f.discarded, url)
	f.mu.Unlock()
	return nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string]Checkpoint
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]Checkpoint)}
}

func (s *memStore) Get(ctx context.Context, id string) (*Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.data[id]
	if !ok {
		return nil, false, nil
	}
	return &cp, true, nil
}

func (s *memStore) Set(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cp.SessionID] = cp
	return nil
}

func (s *memStore) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *memStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[id]
	return ok
}

type memClaims struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemClaims() *memClaims {
	return &memClaims{held: make(map[string]bool)}
}

func (c *memClaims) Claim(ctx context.Context, sessionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held[sessionID] {
		return false, nil
	}
	c.held[sessionID] = true
	return true, nil
}

func (c *memClaims) Release(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, sessionID)
	return nil
}

// tickingClock returns a time one second later on every call.
func tickingClock() func() time.Time {
	var (
		mu sync.Mutex
		t  = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type recordingObserver struct {
	mu        sync.Mutex
	created   []int64
	submitted []int64
}

func (o *recordingObserver) DraftCreated(ctx context.Context, sessionID, userID string, draftID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, draftID)
}

func (o *recordingObserver) ListingSubmitted(ctx context.Context, sessionID, userID string, draftID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submitted = append(o.submitted, draftID)
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.ErrorClearDelay = 0
	return p
}

func testDeps(gw Gateway, up ImageUploader, store CheckpointStore) Deps {
	return Deps{
		Gateway:  gw,
		Uploader: up,
		Store:    store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Policy:   testPolicy(),
	}
}

func newTestController(t *testing.T, deps Deps) *Controller {
	t.Helper()
	return newController("session-1", "user-1", deps)
}

func fillVehicleInfo(t *testing.T, c *Controller) {
	t.Helper()
	values := map[Field]string{
		FieldTitle:       "Trek Domane SL5",
		FieldBrand:       "Trek",
		FieldModel:       "Domane SL5",
		FieldCategory:    string(CategoryRoad),
		FieldCondition:   string(ConditionGood),
		FieldYear:        "2021",
		FieldPrice:       "1850",
		FieldLocation:    "Leeds",
		FieldDescription: "Carbon endurance bike, serviced last month.",
		FieldShipping:    "true",
	}
	for f, v := range values {
		if err := c.ChangeField(f, v); err != nil {
			t.Fatalf("ChangeField(%s): %v", f, err)
		}
	}
}

func jpeg(name string, size int) File {
	return File{Name: name, ContentType: "image/jpeg", Size: int64(size), Data: make([]byte, 8)}
}
