package event

import "github.com/google/uuid"

// Type is the machine-readable event tag carried on the wire.
type Type string

// Session-plane event types.
const (
	TypeTaskStateChanged Type = "TaskStateChanged"
	TypeSessionClosed    Type = "SessionClosed"
)

// Global-plane event types (catalog lifecycle).
const (
	TypeNovelReady        Type = "NovelReady"
	TypeNovelFailed       Type = "NovelFailed"
	TypeNovelDeleting     Type = "NovelDeleting"
	TypeNovelDeleted      Type = "NovelDeleted"
	TypeNovelDeleteFailed Type = "NovelDeleteFailed"
	TypeVoiceDeleted      Type = "VoiceDeleted"
)

// Event is the envelope delivered to subscribers and serialized to clients as
// {"event": "...", "data": {...}}.
type Event struct {
	Event Type `json:"event"`
	Data  any  `json:"data"`
}

// TaskStateChanged reports a task lifecycle transition on the session plane.
type TaskStateChanged struct {
	SessionID    string `json:"session_id"`
	TaskID       string `json:"task_id"`
	SegmentIndex uint32 `json:"segment_index"`
	State        string `json:"state"`
	DurationMS   uint64 `json:"duration_ms,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SessionClosed reports that a playback session ended.
type SessionClosed struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// NovelReady reports that a novel finished ingestion.
type NovelReady struct {
	NovelID       uuid.UUID `json:"novel_id"`
	Title         string    `json:"title"`
	TotalSegments int       `json:"total_segments"`
}

// NovelFailed reports that ingestion of a novel failed.
type NovelFailed struct {
	NovelID uuid.UUID `json:"novel_id"`
	Error   string    `json:"error"`
}

// NovelDeleting reports that deletion of a novel has started.
type NovelDeleting struct {
	NovelID uuid.UUID `json:"novel_id"`
}

// NovelDeleted reports that a novel was removed.
type NovelDeleted struct {
	NovelID uuid.UUID `json:"novel_id"`
}

// NovelDeleteFailed reports that deleting a novel failed.
type NovelDeleteFailed struct {
	NovelID uuid.UUID `json:"novel_id"`
	Error   string    `json:"error"`
}

// VoiceDeleted reports that a voice was removed.
type VoiceDeleted struct {
	VoiceID uuid.UUID `json:"voice_id"`
}
