// Package event fans out state-transition events on two planes: a per-session
// plane carrying task lifecycle and session-closed notifications, and a
// single global plane carrying catalog lifecycle events.
//
// Subscriber channels are bounded; a subscriber that falls behind loses
// events rather than stalling publishers. That is documented behavior, not an
// invariant — missed events are not replayed; clients re-read state through
// the HTTP query endpoints.
package event

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// SubscriberBuffer is the number of undelivered events each subscriber
// channel holds before further publishes to it are dropped.
const SubscriberBuffer = 100

// Bus is the in-process publish/subscribe hub. All methods are safe for
// concurrent use. Publishing never blocks and publishing to a session nobody
// listens to is a non-error.
type Bus struct {
	mu       sync.RWMutex
	sessions map[string][]chan Event
	global   []chan Event
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{sessions: make(map[string][]chan Event)}
}

// RegisterSession adds a subscriber to the session's plane, creating the
// plane on first use. Registration is idempotent with respect to the plane: a
// second call for the same session returns an additional subscriber on the
// same underlying plane.
func (b *Bus) RegisterSession(sessionID string) <-chan Event {
	ch := make(chan Event, SubscriberBuffer)

	b.mu.Lock()
	b.sessions[sessionID] = append(b.sessions[sessionID], ch)
	b.mu.Unlock()

	return ch
}

// UnregisterSession drops the session's plane. Every subscriber channel is
// closed, so in-flight receivers observe closure on their next receive.
func (b *Bus) UnregisterSession(sessionID string) {
	b.mu.Lock()
	subs := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// SubscribeGlobal adds a subscriber to the global plane.
func (b *Bus) SubscribeGlobal() <-chan Event {
	ch := make(chan Event, SubscriberBuffer)

	b.mu.Lock()
	b.global = append(b.global, ch)
	b.mu.Unlock()

	return ch
}

// UnsubscribeGlobal removes and closes a subscriber previously returned by
// [Bus.SubscribeGlobal]. Unknown channels are ignored.
func (b *Bus) UnsubscribeGlobal(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, ch := range b.global {
		if (<-chan Event)(ch) == sub {
			b.global = append(b.global[:i], b.global[i+1:]...)
			close(ch)
			return
		}
	}
}

// PublishTaskInferring publishes a task transition to Inferring.
func (b *Bus) PublishTaskInferring(taskID, sessionID string, segmentIndex uint32) {
	b.publishSession(sessionID, Event{Event: TypeTaskStateChanged, Data: TaskStateChanged{
		SessionID:    sessionID,
		TaskID:       taskID,
		SegmentIndex: segmentIndex,
		State:        "inferring",
	}})
}

// PublishTaskReady publishes a task transition to Ready.
func (b *Bus) PublishTaskReady(taskID, sessionID string, segmentIndex uint32) {
	b.publishSession(sessionID, Event{Event: TypeTaskStateChanged, Data: TaskStateChanged{
		SessionID:    sessionID,
		TaskID:       taskID,
		SegmentIndex: segmentIndex,
		State:        "ready",
	}})
}

// PublishTaskReadyWithDuration publishes a Ready transition carrying the
// synthesized audio duration.
func (b *Bus) PublishTaskReadyWithDuration(taskID, sessionID string, segmentIndex uint32, durationMS uint64) {
	b.publishSession(sessionID, Event{Event: TypeTaskStateChanged, Data: TaskStateChanged{
		SessionID:    sessionID,
		TaskID:       taskID,
		SegmentIndex: segmentIndex,
		State:        "ready",
		DurationMS:   durationMS,
	}})
}

// PublishTaskFailed publishes a task failure with its categorized message.
func (b *Bus) PublishTaskFailed(taskID, sessionID string, segmentIndex uint32, errMsg string) {
	b.publishSession(sessionID, Event{Event: TypeTaskStateChanged, Data: TaskStateChanged{
		SessionID:    sessionID,
		TaskID:       taskID,
		SegmentIndex: segmentIndex,
		State:        "failed",
		Error:        errMsg,
	}})
}

// PublishSessionClosed publishes the session-closed notification.
func (b *Bus) PublishSessionClosed(sessionID, reason string) {
	b.publishSession(sessionID, Event{Event: TypeSessionClosed, Data: SessionClosed{
		SessionID: sessionID,
		Reason:    reason,
	}})
}

// PublishNovelReady broadcasts that a novel finished ingestion.
func (b *Bus) PublishNovelReady(novelID uuid.UUID, title string, totalSegments int) {
	b.publishGlobal(Event{Event: TypeNovelReady, Data: NovelReady{
		NovelID:       novelID,
		Title:         title,
		TotalSegments: totalSegments,
	}})
}

// PublishNovelFailed broadcasts an ingestion failure.
func (b *Bus) PublishNovelFailed(novelID uuid.UUID, errMsg string) {
	b.publishGlobal(Event{Event: TypeNovelFailed, Data: NovelFailed{NovelID: novelID, Error: errMsg}})
}

// PublishNovelDeleting broadcasts the start of a novel deletion.
func (b *Bus) PublishNovelDeleting(novelID uuid.UUID) {
	b.publishGlobal(Event{Event: TypeNovelDeleting, Data: NovelDeleting{NovelID: novelID}})
}

// PublishNovelDeleted broadcasts a completed novel deletion.
func (b *Bus) PublishNovelDeleted(novelID uuid.UUID) {
	b.publishGlobal(Event{Event: TypeNovelDeleted, Data: NovelDeleted{NovelID: novelID}})
}

// PublishNovelDeleteFailed broadcasts a failed novel deletion.
func (b *Bus) PublishNovelDeleteFailed(novelID uuid.UUID, errMsg string) {
	b.publishGlobal(Event{Event: TypeNovelDeleteFailed, Data: NovelDeleteFailed{NovelID: novelID, Error: errMsg}})
}

// PublishVoiceDeleted broadcasts a completed voice deletion.
func (b *Bus) PublishVoiceDeleted(voiceID uuid.UUID) {
	b.publishGlobal(Event{Event: TypeVoiceDeleted, Data: VoiceDeleted{VoiceID: voiceID}})
}

func (b *Bus) publishSession(sessionID string, e Event) {
	// Sends stay under the read lock so a concurrent UnregisterSession
	// cannot close a channel mid-send. Sends are non-blocking, so the lock
	// is held only briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.sessions[sessionID] {
		select {
		case ch <- e:
		default:
			slog.Debug("event dropped: subscriber buffer full",
				"session_id", sessionID,
				"event", e.Event,
			)
		}
	}
}

func (b *Bus) publishGlobal(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.global {
		select {
		case ch <- e:
		default:
			slog.Debug("global event dropped: subscriber buffer full", "event", e.Event)
		}
	}
}
