// Package orchestrator implements the client-level playback operations. It
// composes the session manager, task manager, cache, event bus, and catalog,
// enforcing the cross-component invariants; it holds no state of its own.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/netscane/rovel/internal/cache"
	"github.com/netscane/rovel/internal/catalog"
	"github.com/netscane/rovel/internal/event"
	"github.com/netscane/rovel/internal/observe"
	"github.com/netscane/rovel/internal/session"
	"github.com/netscane/rovel/internal/task"
)

// Deps are the collaborators an Orchestrator borrows at construction time.
type Deps struct {
	Sessions *session.Manager
	Tasks    *task.Manager
	Cache    *cache.Cache
	Bus      *event.Bus
	Novels   catalog.NovelRepository
	Voices   catalog.VoiceRepository
	Metrics  *observe.Metrics // optional
}

// Orchestrator exposes the six client operations. All methods are safe for
// concurrent use.
type Orchestrator struct {
	deps Deps
}

// New creates an Orchestrator over the given collaborators.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// PlayResult is the outcome of [Orchestrator.Play].
type PlayResult struct {
	SessionID    string
	NovelID      uuid.UUID
	VoiceID      uuid.UUID
	CurrentIndex uint32
}

// Play validates the novel, voice, and start index against the catalog, then
// creates a fresh session positioned at startIndex.
func (o *Orchestrator) Play(ctx context.Context, novelID, voiceID uuid.UUID, startIndex uint32) (*PlayResult, error) {
	novel, err := o.deps.Novels.FindByID(ctx, novelID)
	if err != nil {
		return nil, fmt.Errorf("play: find novel: %w", err)
	}
	if novel == nil {
		return nil, notFound("Novel", novelID.String())
	}

	voice, err := o.deps.Voices.FindByID(ctx, voiceID)
	if err != nil {
		return nil, fmt.Errorf("play: find voice: %w", err)
	}
	if voice == nil {
		return nil, notFound("Voice", voiceID.String())
	}

	if int(startIndex) >= novel.TotalSegments {
		return nil, validation("invalid start_index: %d (total segments: %d)", startIndex, novel.TotalSegments)
	}

	s := session.New(novelID, voiceID, startIndex)
	sessionID, err := o.deps.Sessions.Create(s)
	if err != nil {
		return nil, fmt.Errorf("play: create session: %w", err)
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.ActiveSessions.Add(ctx, 1)
	}

	slog.Info("play session created",
		"session_id", sessionID,
		"novel_id", novelID,
		"voice_id", voiceID,
		"start_index", startIndex,
	)
	return &PlayResult{
		SessionID:    sessionID,
		NovelID:      novelID,
		VoiceID:      voiceID,
		CurrentIndex: startIndex,
	}, nil
}

// TaskInfo describes one entry of a SubmitInfer response.
type TaskInfo struct {
	TaskID       string
	SegmentIndex uint32
	State        task.State
}

// SubmitInfer requests synthesis of the given segment indices. Segments
// already cached for the session's voice are answered with a synthetic
// "cached-{novel}-{index}" Ready entry and no task; the rest become Pending
// tasks submitted as one batch. Any requested index with no catalog segment
// fails the whole call with a validation error.
func (o *Orchestrator) SubmitInfer(ctx context.Context, sessionID string, indices []uint32) ([]TaskInfo, error) {
	s, err := o.deps.Sessions.Get(sessionID)
	if err != nil {
		return nil, notFound("Session", sessionID)
	}

	segments, err := o.deps.Novels.SegmentsByIndices(ctx, s.NovelID, indices)
	if err != nil {
		return nil, fmt.Errorf("submit infer: fetch segments: %w", err)
	}
	byIndex := make(map[uint32]catalog.TextSegment, len(segments))
	for _, seg := range segments {
		byIndex[seg.Index] = seg
	}

	var toSubmit []task.Task
	infos := make([]TaskInfo, 0, len(indices))

	for _, index := range indices {
		seg, ok := byIndex[index]
		if !ok {
			return nil, validation("invalid segment index: %d", index)
		}

		key := cache.Key(seg.Content, s.VoiceID)
		exists, err := o.deps.Cache.Exists(key)
		if err != nil {
			return nil, fmt.Errorf("submit infer: cache probe: %w", err)
		}
		if exists {
			slog.Debug("cache hit, skipping task", "session_id", sessionID, "segment_index", index)
			if o.deps.Metrics != nil {
				o.deps.Metrics.CacheShortCircuits.Add(ctx, 1)
			}
			infos = append(infos, TaskInfo{
				TaskID:       fmt.Sprintf("cached-%s-%d", s.NovelID, index),
				SegmentIndex: index,
				State:        task.StateReady,
			})
			continue
		}

		t := task.New(sessionID, s.NovelID, s.VoiceID, index, seg.Content)
		infos = append(infos, TaskInfo{TaskID: t.ID, SegmentIndex: index, State: task.StatePending})
		toSubmit = append(toSubmit, t)
	}

	if len(toSubmit) > 0 {
		o.deps.Tasks.Submit(toSubmit)
		if o.deps.Metrics != nil {
			o.deps.Metrics.TasksSubmitted.Add(ctx, int64(len(toSubmit)))
		}
	}
	o.deps.Sessions.Touch(sessionID)

	slog.Info("inference submitted",
		"session_id", sessionID,
		"requested", len(indices),
		"tasks_created", len(toSubmit),
	)
	return infos, nil
}

// SeekResult is the outcome of [Orchestrator.Seek].
type SeekResult struct {
	SessionID      string
	CurrentIndex   uint32
	CancelledCount int
}

// Seek cancels the session's Pending tasks and moves its position. The
// cancellation count is informational only.
func (o *Orchestrator) Seek(ctx context.Context, sessionID string, index uint32) (*SeekResult, error) {
	if _, err := o.deps.Sessions.Get(sessionID); err != nil {
		return nil, notFound("Session", sessionID)
	}

	cancelled := o.deps.Tasks.CancelPending(sessionID)
	if err := o.deps.Sessions.UpdateIndex(sessionID, index); err != nil {
		return nil, fmt.Errorf("seek: update index: %w", err)
	}
	if o.deps.Metrics != nil && cancelled > 0 {
		o.deps.Metrics.TasksCancelled.Add(ctx, int64(cancelled))
	}

	slog.Info("session seeked",
		"session_id", sessionID,
		"segment_index", index,
		"cancelled_count", cancelled,
	)
	return &SeekResult{SessionID: sessionID, CurrentIndex: index, CancelledCount: cancelled}, nil
}

// ChangeVoiceResult is the outcome of [Orchestrator.ChangeVoice].
type ChangeVoiceResult struct {
	SessionID      string
	VoiceID        uuid.UUID
	CancelledCount int
}

// ChangeVoice validates the new voice, cancels the session's Pending tasks,
// and records the voice on the session. Already-cached audio for the old
// voice stays cached.
func (o *Orchestrator) ChangeVoice(ctx context.Context, sessionID string, voiceID uuid.UUID) (*ChangeVoiceResult, error) {
	if _, err := o.deps.Sessions.Get(sessionID); err != nil {
		return nil, notFound("Session", sessionID)
	}

	voice, err := o.deps.Voices.FindByID(ctx, voiceID)
	if err != nil {
		return nil, fmt.Errorf("change voice: find voice: %w", err)
	}
	if voice == nil {
		return nil, notFound("Voice", voiceID.String())
	}

	cancelled := o.deps.Tasks.CancelPending(sessionID)
	if err := o.deps.Sessions.UpdateVoice(sessionID, voiceID); err != nil {
		return nil, fmt.Errorf("change voice: update voice: %w", err)
	}
	if o.deps.Metrics != nil && cancelled > 0 {
		o.deps.Metrics.TasksCancelled.Add(ctx, int64(cancelled))
	}

	slog.Info("session voice changed",
		"session_id", sessionID,
		"voice_id", voiceID,
		"cancelled_count", cancelled,
	)
	return &ChangeVoiceResult{SessionID: sessionID, VoiceID: voiceID, CancelledCount: cancelled}, nil
}

// CloseResult is the outcome of [Orchestrator.CloseSession].
type CloseResult struct {
	SessionID string
}

// CloseSession tears a session down: cancel pending tasks, drop its task set,
// publish session-closed, remove the session, and unregister its event
// plane. The publish happens before the unregister so subscribers observe the
// closure notification.
func (o *Orchestrator) CloseSession(ctx context.Context, sessionID string) (*CloseResult, error) {
	cancelled := o.deps.Tasks.CancelPending(sessionID)
	o.deps.Tasks.CleanupSession(sessionID)
	o.deps.Bus.PublishSessionClosed(sessionID, "client_close")

	if err := o.deps.Sessions.Close(sessionID); err != nil {
		return nil, notFound("Session", sessionID)
	}
	o.deps.Bus.UnregisterSession(sessionID)

	if o.deps.Metrics != nil {
		o.deps.Metrics.ActiveSessions.Add(ctx, -1)
		if cancelled > 0 {
			o.deps.Metrics.TasksCancelled.Add(ctx, int64(cancelled))
		}
	}

	slog.Info("session closed", "session_id", sessionID, "cancelled_tasks", cancelled)
	return &CloseResult{SessionID: sessionID}, nil
}

// TaskStatus is one entry of a QueryTaskStatus response.
type TaskStatus struct {
	TaskID       string
	SegmentIndex uint32
	State        task.State
	Error        string
}

// QueryTaskStatus reports the current state of the given tasks. Unknown task
// ids are silently dropped from the output.
func (o *Orchestrator) QueryTaskStatus(taskIDs []string) []TaskStatus {
	statuses := make([]TaskStatus, 0, len(taskIDs))
	for _, id := range taskIDs {
		t, ok := o.deps.Tasks.Task(id)
		if !ok {
			continue
		}
		statuses = append(statuses, TaskStatus{
			TaskID:       t.ID,
			SegmentIndex: t.SegmentIndex,
			State:        t.State,
			Error:        t.Err,
		})
	}
	return statuses
}
