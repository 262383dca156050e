// Package task owns the in-memory inference task table, the per-session task
// index, and the bounded queue that hands task ids to the worker.
package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for operations on task ids no longer in the table.
var ErrNotFound = errors.New("task not found")

// DefaultQueueSize bounds the number of task ids waiting for a worker.
const DefaultQueueSize = 1000

// State is the lifecycle state of an inference task. Tasks start Pending and
// end in exactly one of Ready, Failed, or Cancelled.
type State string

const (
	StatePending   State = "pending"
	StateInferring State = "inferring"
	StateReady     State = "ready"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed || s == StateCancelled
}

// Task is one unit of synthesis work: a (session, segment) pair plus the
// segment text the TTS service will receive.
type Task struct {
	ID           string
	SessionID    string
	NovelID      uuid.UUID
	VoiceID      uuid.UUID
	SegmentIndex uint32
	SegmentText  string
	State        State
	CreatedAt    time.Time
	CompletedAt  time.Time // zero until the task reaches a terminal state
	Err          string
}

// New creates a Pending task with a fresh random id.
func New(sessionID string, novelID, voiceID uuid.UUID, segmentIndex uint32, segmentText string) Task {
	return Task{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		NovelID:      novelID,
		VoiceID:      voiceID,
		SegmentIndex: segmentIndex,
		SegmentText:  segmentText,
		State:        StatePending,
		CreatedAt:    time.Now().UTC(),
	}
}

type taskEntry struct {
	mu sync.Mutex
	t  Task
}

// Manager holds the task table and the sender side of the worker queue.
// Membership is guarded by a read-write lock; each task's state is guarded by
// its own mutex, which is the serialization point between CancelPending and
// the worker's state transitions.
//
// All methods are safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	tasks     map[string]*taskEntry
	bySession map[string]map[string]struct{}
	queue     chan string
}

// NewManager creates a Manager whose queue holds up to queueSize pending task
// ids. A non-positive size falls back to [DefaultQueueSize].
func NewManager(queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Manager{
		tasks:     make(map[string]*taskEntry),
		bySession: make(map[string]map[string]struct{}),
		queue:     make(chan string, queueSize),
	}
}

// Queue returns the receive side of the task queue, consumed by the worker.
func (m *Manager) Queue() <-chan string {
	return m.queue
}

// Submit registers each task, indexes it under its session, and tries to
// enqueue its id without blocking. When the queue is full the task stays
// Pending in the table but is never delivered to a worker — that is a fault
// condition, logged and left for session cleanup to collect. Returns the task
// ids in submission order.
func (m *Manager) Submit(tasks []Task) []string {
	ids := make([]string, 0, len(tasks))

	m.mu.Lock()
	for i := range tasks {
		t := tasks[i]
		m.tasks[t.ID] = &taskEntry{t: t}
		set, ok := m.bySession[t.SessionID]
		if !ok {
			set = make(map[string]struct{})
			m.bySession[t.SessionID] = set
		}
		set[t.ID] = struct{}{}
		ids = append(ids, t.ID)
	}
	m.mu.Unlock()

	for _, id := range ids {
		select {
		case m.queue <- id:
		default:
			slog.Warn("task queue full, task left pending", "task_id", id)
		}
	}

	slog.Debug("tasks submitted", "count", len(ids))
	return ids
}

// CancelPending transitions every Pending task of the session to Cancelled
// and returns the number of transitions. Tasks already Inferring or terminal
// are untouched. A task racing Pending→Inferring with this call is decided by
// its per-task mutex: exactly one side wins, and the worker observes the
// outcome at its first checkpoint or when SetState refuses its move to
// Inferring.
func (m *Manager) CancelPending(sessionID string) int {
	cancelled := 0
	for _, e := range m.sessionEntries(sessionID) {
		e.mu.Lock()
		if e.t.State == StatePending {
			e.t.State = StateCancelled
			e.t.CompletedAt = time.Now().UTC()
			cancelled++
		}
		e.mu.Unlock()
	}

	slog.Debug("pending tasks cancelled", "session_id", sessionID, "cancelled_count", cancelled)
	return cancelled
}

// IsCancelled reports whether the task is Cancelled or no longer exists.
// Missing counts as cancelled on purpose: once cleanup has raced ahead of the
// worker, the work is moot either way.
func (m *Manager) IsCancelled(taskID string) bool {
	e, ok := m.entry(taskID)
	if !ok {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t.State == StateCancelled
}

// State returns the task's current state.
func (m *Manager) State(taskID string) (State, bool) {
	e, ok := m.entry(taskID)
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t.State, true
}

// SetState transitions the task to state, stamping completed-at for terminal
// states. Only a Pending task may enter Inferring, so a CancelPending that
// wins the race leaves the worker's transition refused. Other transitions,
// including ones out of terminal states, are not rejected here.
func (m *Manager) SetState(taskID string, state State) error {
	e, ok := m.entry(taskID)
	if !ok {
		return fmt.Errorf("set state %s: %w", taskID, ErrNotFound)
	}

	e.mu.Lock()
	old := e.t.State
	if state == StateInferring && old != StatePending {
		e.mu.Unlock()
		return fmt.Errorf("set state %s: cannot enter %s from %s", taskID, state, old)
	}
	e.t.State = state
	if state.Terminal() {
		e.t.CompletedAt = time.Now().UTC()
	}
	e.mu.Unlock()

	slog.Debug("task state changed", "task_id", taskID, "old_state", old, "new_state", state)
	return nil
}

// SetFailed marks the task Failed with the given error message.
func (m *Manager) SetFailed(taskID, errMsg string) error {
	e, ok := m.entry(taskID)
	if !ok {
		return fmt.Errorf("set failed %s: %w", taskID, ErrNotFound)
	}

	e.mu.Lock()
	e.t.State = StateFailed
	e.t.Err = errMsg
	e.t.CompletedAt = time.Now().UTC()
	e.mu.Unlock()
	return nil
}

// Task returns a snapshot of the task with the given id.
func (m *Manager) Task(taskID string) (Task, bool) {
	e, ok := m.entry(taskID)
	if !ok {
		return Task{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t, true
}

// TasksBySession returns snapshots of all tasks owned by the session.
func (m *Manager) TasksBySession(sessionID string) []Task {
	entries := m.sessionEntries(sessionID)
	tasks := make([]Task, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		tasks = append(tasks, e.t)
		e.mu.Unlock()
	}
	return tasks
}

// CleanupSession drops the session's task set and removes every referenced
// task from the table.
func (m *Manager) CleanupSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.bySession[sessionID]
	if !ok {
		return
	}
	for id := range set {
		delete(m.tasks, id)
	}
	delete(m.bySession, sessionID)

	slog.Debug("session tasks cleaned up", "session_id", sessionID, "count", len(set))
}

func (m *Manager) entry(taskID string) (*taskEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tasks[taskID]
	return e, ok
}

// sessionEntries snapshots the entry pointers for a session so callers can
// lock per-task state without holding the table lock.
func (m *Manager) sessionEntries(sessionID string) []*taskEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.bySession[sessionID]
	if !ok {
		return nil
	}
	entries := make([]*taskEntry, 0, len(set))
	for id := range set {
		if e, ok := m.tasks[id]; ok {
			entries = append(entries, e)
		}
	}
	return entries
}
