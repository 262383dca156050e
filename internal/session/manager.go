// Package session tracks live playback sessions in memory. A session binds a
// client to a (novel, voice) pair and a current segment position; it exists
// only for the lifetime of the process.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the session id is not live.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyExists is returned by Create on a duplicate session id.
	ErrAlreadyExists = errors.New("session already exists")
)

// Session is a snapshot of one playback session.
type Session struct {
	ID           string
	NovelID      uuid.UUID
	VoiceID      uuid.UUID
	CurrentIndex uint32
	CreatedAt    time.Time
	LastActivity time.Time
}

// New creates a Session with a fresh random id positioned at startIndex.
func New(novelID, voiceID uuid.UUID, startIndex uint32) Session {
	now := time.Now().UTC()
	return Session{
		ID:           uuid.NewString(),
		NovelID:      novelID,
		VoiceID:      voiceID,
		CurrentIndex: startIndex,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// sessionEntry pairs a session with its own mutex so that field mutation
// never contends across sessions.
type sessionEntry struct {
	mu sync.Mutex
	s  Session
}

// Manager is the in-memory session table. Membership is guarded by a
// read-write lock; per-session state is guarded by a per-entry mutex, so
// mutations on different sessions never block each other.
//
// All methods are safe for concurrent use. IsValid is the authoritative
// liveness predicate consulted by the inference worker and is constant-time.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewManager returns an empty session table.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*sessionEntry)}
}

// Create inserts s and returns its id. Fails if the id is already live.
func (m *Manager) Create(s Session) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return "", fmt.Errorf("create %s: %w", s.ID, ErrAlreadyExists)
	}
	m.sessions[s.ID] = &sessionEntry{s: s}

	slog.Info("session created",
		"session_id", s.ID,
		"novel_id", s.NovelID,
		"voice_id", s.VoiceID,
		"start_index", s.CurrentIndex,
	)
	return s.ID, nil
}

// Get returns a snapshot of the session with the given id.
func (m *Manager) Get(id string) (Session, error) {
	e, ok := m.entry(id)
	if !ok {
		return Session{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s, nil
}

// UpdateIndex sets the current segment index and touches last-activity.
func (m *Manager) UpdateIndex(id string, index uint32) error {
	e, ok := m.entry(id)
	if !ok {
		return fmt.Errorf("update index %s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	e.s.CurrentIndex = index
	e.s.LastActivity = time.Now().UTC()
	e.mu.Unlock()

	slog.Debug("session index updated", "session_id", id, "index", index)
	return nil
}

// UpdateVoice sets the session's voice and touches last-activity.
func (m *Manager) UpdateVoice(id string, voiceID uuid.UUID) error {
	e, ok := m.entry(id)
	if !ok {
		return fmt.Errorf("update voice %s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	e.s.VoiceID = voiceID
	e.s.LastActivity = time.Now().UTC()
	e.mu.Unlock()

	slog.Debug("session voice updated", "session_id", id, "voice_id", voiceID)
	return nil
}

// IsValid reports whether id is a live session.
func (m *Manager) IsValid(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// Close removes the session from the table.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("close %s: %w", id, ErrNotFound)
	}
	delete(m.sessions, id)
	slog.Info("session closed", "session_id", id)
	return nil
}

// Touch advances last-activity if the session is live; silent otherwise.
func (m *Manager) Touch(id string) {
	if e, ok := m.entry(id); ok {
		e.mu.Lock()
		e.s.LastActivity = time.Now().UTC()
		e.mu.Unlock()
	}
}

// Expired returns the ids of all sessions idle for longer than idle.
func (m *Manager) Expired(idle time.Duration) []string {
	now := time.Now().UTC()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, e := range m.sessions {
		e.mu.Lock()
		last := e.s.LastActivity
		e.mu.Unlock()
		if now.Sub(last) > idle {
			ids = append(ids, id)
		}
	}
	return ids
}

// ListAll returns the ids of every live session.
func (m *Manager) ListAll() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) entry(id string) (*sessionEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	return e, ok
}
