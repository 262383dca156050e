// Package ingest turns uploaded texts and voice reference audio into catalog
// entries. Novel ingestion runs asynchronously: the upload call persists the
// raw text and a Processing row, segmentation and persistence continue in the
// background, and completion is announced on the global event plane.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/netscane/rovel/internal/catalog"
	"github.com/netscane/rovel/internal/event"
	"github.com/netscane/rovel/internal/segment"
	"github.com/netscane/rovel/internal/storage"
)

// segmentBatchSize is the number of segments persisted per repository call,
// and persistConcurrency how many such batches run at once.
const (
	segmentBatchSize   = 500
	persistConcurrency = 4
)

// Service implements catalog ingestion and deletion.
type Service struct {
	novels  catalog.NovelRepository
	voices  catalog.VoiceRepository
	store   *storage.Store
	bus     *event.Bus
	segCfg  segment.Config
	timeout time.Duration
}

// New creates a Service. segCfg controls segmentation of uploaded texts —
// changing it invalidates the audio cache namespace for new uploads, so it
// should stay fixed per deployment.
func New(novels catalog.NovelRepository, voices catalog.VoiceRepository, store *storage.Store, bus *event.Bus, segCfg segment.Config) *Service {
	return &Service{
		novels:  novels,
		voices:  voices,
		store:   store,
		bus:     bus,
		segCfg:  segCfg,
		timeout: 5 * time.Minute,
	}
}

// UploadNovel stores the raw text and a Processing catalog row, then kicks
// off background segmentation. The returned novel is still Processing;
// clients learn about completion via the NovelReady/NovelFailed events or by
// polling the catalog.
func (s *Service) UploadNovel(ctx context.Context, title, text string) (*catalog.Novel, error) {
	if title == "" {
		return nil, fmt.Errorf("ingest: title must not be empty")
	}
	if text == "" {
		return nil, fmt.Errorf("ingest: text must not be empty")
	}

	now := time.Now().UTC()
	novel := &catalog.Novel{
		ID:        uuid.New(),
		Title:     title,
		Status:    catalog.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	path, err := s.store.SaveNovelText(novel.ID, text)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	novel.RawTextPath = path

	if err := s.novels.Save(ctx, novel); err != nil {
		_ = s.store.Remove(path)
		return nil, fmt.Errorf("ingest: save novel: %w", err)
	}

	slog.Info("novel upload accepted", "novel_id", novel.ID, "title", title, "text_len", len(text))

	// Segmentation and segment persistence happen off the request path.
	go s.process(*novel, text)

	return novel, nil
}

// process segments the text and persists the result, then flips the novel to
// Ready (or Failed) and announces the outcome globally.
func (s *Service) process(novel catalog.Novel, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	segments := segment.Split(text, s.segCfg)
	if len(segments) == 0 {
		s.failNovel(ctx, novel, "text produced no segments")
		return
	}

	records := make([]catalog.TextSegment, len(segments))
	for i, content := range segments {
		records[i] = catalog.TextSegment{
			ID:        uuid.New(),
			NovelID:   novel.ID,
			Index:     uint32(i),
			Content:   content,
			CharCount: len([]rune(content)),
		}
	}

	// Persist in bounded-concurrency batches; novels run to hundreds of
	// thousands of segments.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(persistConcurrency)
	for start := 0; start < len(records); start += segmentBatchSize {
		batch := records[start:min(start+segmentBatchSize, len(records))]
		g.Go(func() error {
			return s.novels.SaveSegments(gctx, novel.ID, batch)
		})
	}
	if err := g.Wait(); err != nil {
		s.failNovel(ctx, novel, err.Error())
		return
	}

	novel.TotalSegments = len(records)
	novel.Status = catalog.StatusReady
	novel.UpdatedAt = time.Now().UTC()
	if err := s.novels.Save(ctx, &novel); err != nil {
		s.failNovel(ctx, novel, err.Error())
		return
	}

	s.bus.PublishNovelReady(novel.ID, novel.Title, novel.TotalSegments)
	slog.Info("novel ready", "novel_id", novel.ID, "total_segments", novel.TotalSegments)
}

func (s *Service) failNovel(ctx context.Context, novel catalog.Novel, reason string) {
	if err := s.novels.UpdateStatus(ctx, novel.ID, catalog.StatusFailed); err != nil {
		slog.Error("failed to mark novel failed", "novel_id", novel.ID, "err", err)
	}
	s.bus.PublishNovelFailed(novel.ID, reason)
	slog.Error("novel ingestion failed", "novel_id", novel.ID, "reason", reason)
}

// DeleteNovel removes a novel, its segments, and its raw text. Progress is
// announced on the global plane: Deleting first, then Deleted or
// DeleteFailed.
func (s *Service) DeleteNovel(ctx context.Context, id uuid.UUID) error {
	novel, err := s.novels.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ingest: delete novel: %w", err)
	}
	if novel == nil {
		return fmt.Errorf("ingest: delete novel: %s does not exist", id)
	}

	s.bus.PublishNovelDeleting(id)

	if err := s.novels.DeleteSegments(ctx, id); err != nil {
		s.bus.PublishNovelDeleteFailed(id, err.Error())
		return fmt.Errorf("ingest: delete segments: %w", err)
	}
	if err := s.novels.Delete(ctx, id); err != nil {
		s.bus.PublishNovelDeleteFailed(id, err.Error())
		return fmt.Errorf("ingest: delete novel row: %w", err)
	}
	if novel.RawTextPath != "" {
		if err := s.store.Remove(novel.RawTextPath); err != nil {
			slog.Warn("raw text removal failed", "novel_id", id, "err", err)
		}
	}

	s.bus.PublishNovelDeleted(id)
	slog.Info("novel deleted", "novel_id", id)
	return nil
}

// UploadVoice stores reference audio and creates the voice row.
func (s *Service) UploadVoice(ctx context.Context, name, ext string, audio []byte) (*catalog.Voice, error) {
	if name == "" {
		return nil, fmt.Errorf("ingest: voice name must not be empty")
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("ingest: voice audio must not be empty")
	}

	now := time.Now().UTC()
	voice := &catalog.Voice{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	path, err := s.store.SaveVoiceAudio(voice.ID, ext, audio)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	voice.AudioPath = path

	if err := s.voices.Save(ctx, voice); err != nil {
		_ = s.store.Remove(path)
		return nil, fmt.Errorf("ingest: save voice: %w", err)
	}

	slog.Info("voice uploaded", "voice_id", voice.ID, "name", name, "audio_size", len(audio))
	return voice, nil
}

// DeleteVoice removes a voice and its reference audio, then announces the
// deletion globally. Sessions already bound to the voice keep running; their
// next synthesis attempt fails with a voice-not-found task failure.
func (s *Service) DeleteVoice(ctx context.Context, id uuid.UUID) error {
	voice, err := s.voices.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ingest: delete voice: %w", err)
	}
	if voice == nil {
		return fmt.Errorf("ingest: delete voice: %s does not exist", id)
	}

	if err := s.voices.Delete(ctx, id); err != nil {
		return fmt.Errorf("ingest: delete voice row: %w", err)
	}
	if voice.AudioPath != "" {
		if err := s.store.Remove(voice.AudioPath); err != nil {
			slog.Warn("voice audio removal failed", "voice_id", id, "err", err)
		}
	}

	s.bus.PublishVoiceDeleted(id)
	slog.Info("voice deleted", "voice_id", id)
	return nil
}
