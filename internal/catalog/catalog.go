// Package catalog defines the persistent catalog of novels and voices: the
// read model the playback core validates against and the write model the
// ingestion pipeline fills. Implementations live in subpackages
// (catalog/postgres for production, catalog/mock for tests).
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NovelStatus is the ingestion state of a novel.
type NovelStatus string

const (
	StatusProcessing NovelStatus = "processing"
	StatusReady      NovelStatus = "ready"
	StatusFailed     NovelStatus = "failed"
)

// Novel is one uploaded text with its segmentation summary.
type Novel struct {
	ID            uuid.UUID
	Title         string
	RawTextPath   string
	TotalSegments int
	Status        NovelStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TextSegment is one synthesis unit of a novel, ordered by Index.
type TextSegment struct {
	ID        uuid.UUID
	NovelID   uuid.UUID
	Index     uint32
	Content   string
	CharCount int
}

// Voice is a reference-audio voice profile used for synthesis.
type Voice struct {
	ID          uuid.UUID
	Name        string
	AudioPath   string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NovelRepository is the catalog port for novels and their segments.
// FindByID returns (nil, nil) when the novel does not exist.
type NovelRepository interface {
	Save(ctx context.Context, n *Novel) error
	FindByID(ctx context.Context, id uuid.UUID) (*Novel, error)
	List(ctx context.Context) ([]Novel, error)
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status NovelStatus) error

	SaveSegments(ctx context.Context, novelID uuid.UUID, segments []TextSegment) error
	SegmentsByIndices(ctx context.Context, novelID uuid.UUID, indices []uint32) ([]TextSegment, error)
	Segments(ctx context.Context, novelID uuid.UUID, offset, limit int) ([]TextSegment, error)
	DeleteSegments(ctx context.Context, novelID uuid.UUID) error
}

// VoiceRepository is the catalog port for voices.
// FindByID returns (nil, nil) when the voice does not exist.
type VoiceRepository interface {
	Save(ctx context.Context, v *Voice) error
	FindByID(ctx context.Context, id uuid.UUID) (*Voice, error)
	List(ctx context.Context) ([]Voice, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
