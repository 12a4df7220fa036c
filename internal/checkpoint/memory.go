package checkpoint

import (
	"context"
	"sync"
	"time"

	"seller-gateway/internal/wizard"
)

var _ wizard.CheckpointStore = (*MemoryStore)(nil)

type memoryEntry struct {
	cp        wizard.Checkpoint
	expiresAt time.Time
}

// MemoryStore is a process-local store for development and single-instance
// deployments. Checkpoints do not survive a restart.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*wizard.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return nil, false, nil
	}
	if s.ttl > 0 && !s.now().Before(e.expiresAt) {
		delete(s.entries, sessionID)
		return nil, false, nil
	}
	cp := e.cp
	cp.Images = append([]string(nil), e.cp.Images...)
	return &cp, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, cp wizard.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp.Images = append([]string(nil), cp.Images...)
	s.entries[cp.SessionID] = memoryEntry{cp: cp, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, sessionID)
	return nil
}
