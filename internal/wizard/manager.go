package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager keeps the live sessions of this process and resumes others from
// their checkpoints. Several processes may serve one session; the checkpoint
// store is the source of truth and live controllers are refreshed from it.
type Manager struct {
	deps   Deps
	newID  func() string
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*liveSession
}

type liveSession struct {
	c        *Controller
	lastUsed time.Time
}

func NewManager(deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		deps:     deps,
		newID:    uuid.NewString,
		logger:   logger,
		sessions: make(map[string]*liveSession),
	}
}

// Policy returns the limits sessions are created with.
func (m *Manager) Policy() Policy {
	return m.deps.Policy
}

// Start opens a new session for userID and checkpoints it immediately so it
// can be resumed by id.
func (m *Manager) Start(ctx context.Context, userID string) (*Controller, error) {
	c := m.register(newController(m.newID(), userID, m.deps))

	if m.deps.Store != nil {
		c.mu.Lock()
		cp := c.checkpointLocked()
		c.mu.Unlock()
		if err := m.deps.Store.Set(ctx, cp); err != nil {
			m.forget(c)
			return nil, fmt.Errorf("failed to checkpoint new session: %w", err)
		}
		c.markSaved(cp.UpdatedAt)
	}
	return c, nil
}

// Get returns the session with id if it belongs to userID.
//
// A live controller is checked against the stored checkpoint first:
//  1. no checkpoint means the session ended or expired elsewhere, so the
//     controller is dropped
//  2. a newer checkpoint means another process moved the session on, so
//     the controller is replaced by one restored from it
//
// Controllers with a remote call in flight are returned as they are; their
// own checkpoint is about to land.
func (m *Manager) Get(ctx context.Context, userID, id string) (*Controller, error) {
	m.mu.Lock()
	live, ok := m.sessions[id]
	if ok {
		live.lastUsed = m.deps.now()
	}
	m.mu.Unlock()

	var c *Controller
	if ok {
		c = live.c
		if c.userID != userID {
			return nil, ErrSessionNotFound
		}
	}

	if m.deps.Store == nil {
		if c == nil {
			return nil, ErrSessionNotFound
		}
		return c, nil
	}
	if c != nil && !c.idle() {
		return c, nil
	}

	cp, found, err := m.deps.Store.Get(ctx, id)
	if err != nil {
		if c != nil {
			m.logger.WarnContext(ctx, "Checkpoint unavailable, serving live session", "session_id", id, "error", err)
			return c, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if !found || cp == nil || cp.UserID != userID {
		if c != nil {
			m.logger.InfoContext(ctx, "Dropping live session without checkpoint", "session_id", id)
			m.evict(c)
		}
		return nil, ErrSessionNotFound
	}
	if c != nil && !c.staleAgainst(*cp) {
		return c, nil
	}

	resumed := newController(id, userID, m.deps)
	resumed.restore(*cp)
	if c != nil {
		m.logger.InfoContext(ctx, "Reloading session changed elsewhere", "session_id", id, "step", cp.Step)
		return m.replace(c, resumed), nil
	}
	return m.register(resumed), nil
}

// Abandon closes the session and forgets its checkpoint.
func (m *Manager) Abandon(ctx context.Context, userID, id string) error {
	c, err := m.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	m.evict(c)

	if m.deps.Store != nil {
		if err := m.deps.Store.Clear(ctx, id); err != nil {
			return fmt.Errorf("failed to clear checkpoint: %w", err)
		}
	}
	return nil
}

// Sweep closes sessions that have not been used for the idle timeout and
// reports how many it closed. Their checkpoints stay, so they resume on the
// next request.
func (m *Manager) Sweep() int {
	if m.deps.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.deps.now().Add(-m.deps.IdleTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.lastUsed.After(cutoff) || !s.c.idle() {
			continue
		}
		s.c.Close()
		delete(m.sessions, id)
		n++
	}
	return n
}

// Len reports how many sessions are live in this process.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every live session. Checkpoints are kept so the sessions
// resume on the next process.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.c.Close()
		delete(m.sessions, id)
	}
}

// register stores c unless a concurrent resume got there first, in which
// case the existing controller wins.
func (m *Manager) register(c *Controller) *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[c.id]; ok {
		return existing.c
	}
	m.trackLocked(c)
	return c
}

// replace swaps old for fresh unless old was already swapped out.
func (m *Manager) replace(old, fresh *Controller) *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[fresh.id]; ok && cur.c != old {
		return cur.c
	}
	old.Close()
	m.trackLocked(fresh)
	return fresh
}

func (m *Manager) trackLocked(c *Controller) {
	c.onEnd = func(string) { m.forget(c) }
	m.sessions[c.id] = &liveSession{c: c, lastUsed: m.deps.now()}
}

func (m *Manager) evict(c *Controller) {
	c.Close()
	m.forget(c)
}

// forget drops c from the registry if it is still the live controller for
// its id.
func (m *Manager) forget(c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[c.id]; ok && cur.c == c {
		delete(m.sessions, c.id)
	}
}
