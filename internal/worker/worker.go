// Package worker drains the inference task queue and drives the external TTS
// service under a fixed concurrency ceiling.
//
// Cancellation is cooperative: each task is checked at three points — before
// it leaves Pending, at the pre-synthesis cache probe, and after synthesis
// returns but before anything is written or published. There is no mechanism
// to abort an in-flight TTS call; a slow call is bounded only by the TTS
// client's own timeout, and its result is discarded at the third checkpoint
// if the session has gone away in the meantime.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/netscane/rovel/internal/cache"
	"github.com/netscane/rovel/internal/catalog"
	"github.com/netscane/rovel/internal/event"
	"github.com/netscane/rovel/internal/observe"
	"github.com/netscane/rovel/internal/session"
	"github.com/netscane/rovel/internal/task"
	"github.com/netscane/rovel/pkg/ttsclient"
)

// DefaultMaxConcurrent bounds simultaneous TTS calls. Synthesis is the
// expensive resource; two in flight keeps the service busy without queueing
// up abandoned work.
const DefaultMaxConcurrent = 2

// Config holds the worker's tunables.
type Config struct {
	// MaxConcurrent is the number of tasks processed simultaneously.
	// Non-positive falls back to [DefaultMaxConcurrent].
	MaxConcurrent int

	// BaseURL is this service's public base URL; the TTS service fetches
	// voice reference audio from {BaseURL}/api/voice/audio/{voice_id}.
	BaseURL string
}

// Deps are the collaborators a Worker borrows. The worker owns none of them.
type Deps struct {
	Tasks    *task.Manager
	Sessions *session.Manager
	Cache    *cache.Cache
	Voices   catalog.VoiceRepository
	Engine   ttsclient.Engine
	Bus      *event.Bus
	Metrics  *observe.Metrics // optional
}

// Worker is the single long-lived consumer of the task queue. Each received
// task id is processed in its own goroutine; a counted semaphore enforces the
// concurrency ceiling, and the permit is held until the unit finishes.
type Worker struct {
	cfg   Config
	queue <-chan string
	deps  Deps
	sem   *semaphore.Weighted
}

// New creates a Worker consuming deps.Tasks' queue.
func New(cfg Config, deps Deps) *Worker {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Worker{
		cfg:   cfg,
		queue: deps.Tasks.Queue(),
		deps:  deps,
		sem:   semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// Run consumes the queue until ctx is cancelled. It blocks; call it from its
// own goroutine.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("infer worker started", "max_concurrent", w.cfg.MaxConcurrent)

	for {
		select {
		case <-ctx.Done():
			slog.Info("infer worker stopped")
			return
		case taskID, ok := <-w.queue:
			if !ok {
				slog.Info("infer worker stopped: queue closed")
				return
			}
			if err := w.sem.Acquire(ctx, 1); err != nil {
				slog.Info("infer worker stopped")
				return
			}
			go func() {
				defer w.sem.Release(1)
				w.process(ctx, taskID)
			}()
		}
	}
}

// process runs one task through the state machine. All failures here are
// per-task: they never terminate the worker or affect sibling tasks.
func (w *Worker) process(ctx context.Context, taskID string) {
	start := time.Now()

	t, ok := w.deps.Tasks.Task(taskID)
	if !ok {
		slog.Warn("task not found, skipping", "task_id", taskID)
		return
	}

	// Checkpoint 1: nothing has happened yet, so a cancelled task or a dead
	// session costs us nothing to drop.
	if w.deps.Tasks.IsCancelled(taskID) {
		slog.Debug("task cancelled, skipping", "task_id", taskID)
		return
	}
	if !w.deps.Sessions.IsValid(t.SessionID) {
		slog.Debug("session invalid, skipping", "task_id", taskID, "session_id", t.SessionID)
		return
	}

	// Checkpoint 2: another session may have cached the same (text, voice)
	// while this task sat in the queue.
	key := cache.Key(t.SegmentText, t.VoiceID)
	if data, err := w.deps.Cache.Get(key); err == nil && data != nil {
		slog.Debug("cache hit, marking ready", "task_id", taskID, "cache_key", key)
		_ = w.deps.Tasks.SetState(taskID, task.StateReady)
		w.deps.Bus.PublishTaskReady(taskID, t.SessionID, t.SegmentIndex)
		w.recordInfer(ctx, start, "cache_hit")
		return
	}

	if err := w.deps.Tasks.SetState(taskID, task.StateInferring); err != nil {
		slog.Error("failed to update task state", "task_id", taskID, "err", err)
		return
	}
	w.deps.Bus.PublishTaskInferring(taskID, t.SessionID, t.SegmentIndex)

	voiceRef, failMsg := w.resolveVoiceRef(ctx, t)
	if failMsg != "" {
		w.fail(t, failMsg)
		w.recordInfer(ctx, start, "failed")
		return
	}

	ttsStart := time.Now()
	resp, err := w.deps.Engine.Infer(ctx, ttsclient.Request{
		Text:     t.SegmentText,
		VoiceRef: voiceRef,
		VoiceID:  t.VoiceID.String(),
	})
	if w.deps.Metrics != nil {
		w.deps.Metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())
	}
	if err != nil {
		w.fail(t, "TTS error: "+err.Error())
		w.recordInfer(ctx, start, "failed")
		return
	}

	// Checkpoint 3: the session may have closed during synthesis. Dropping
	// here keeps completed audio from being cached or announced under a
	// closed session.
	if !w.deps.Sessions.IsValid(t.SessionID) {
		slog.Debug("session invalid after synthesis, dropping result",
			"task_id", taskID, "session_id", t.SessionID)
		w.recordInfer(ctx, start, "dropped")
		return
	}

	meta := cache.Metadata{
		NovelID:      t.NovelID,
		SegmentIndex: t.SegmentIndex,
		VoiceID:      t.VoiceID,
		ContentHash:  key,
		DurationMS:   resp.DurationMS,
		SampleRate:   resp.SampleRate,
	}
	if err := w.deps.Cache.Put(key, resp.Audio, meta); err != nil {
		w.fail(t, "Cache error: "+err.Error())
		w.recordInfer(ctx, start, "failed")
		return
	}

	_ = w.deps.Tasks.SetState(taskID, task.StateReady)
	if resp.DurationMS > 0 {
		w.deps.Bus.PublishTaskReadyWithDuration(taskID, t.SessionID, t.SegmentIndex, resp.DurationMS)
	} else {
		w.deps.Bus.PublishTaskReady(taskID, t.SessionID, t.SegmentIndex)
	}
	w.recordInfer(ctx, start, "ready")

	slog.Info("task completed",
		"task_id", taskID,
		"session_id", t.SessionID,
		"segment_index", t.SegmentIndex,
		"duration_ms", resp.DurationMS,
		"audio_size", len(resp.Audio),
	)
}

// resolveVoiceRef confirms the voice still exists in the catalog and
// composes the URL the TTS service downloads the reference audio from.
// Returns a non-empty failure message when the task should fail instead.
func (w *Worker) resolveVoiceRef(ctx context.Context, t task.Task) (voiceRef, failMsg string) {
	voice, err := w.deps.Voices.FindByID(ctx, t.VoiceID)
	if err != nil {
		slog.Error("voice lookup failed", "task_id", t.ID, "voice_id", t.VoiceID, "err", err)
		return "", "Database error: " + err.Error()
	}
	if voice == nil {
		slog.Error("voice not found", "task_id", t.ID, "voice_id", t.VoiceID)
		return "", "Voice not found"
	}
	return fmt.Sprintf("%s/api/voice/audio/%s", w.cfg.BaseURL, t.VoiceID), ""
}

// fail moves the task to Failed and announces it on the session plane.
func (w *Worker) fail(t task.Task, msg string) {
	_ = w.deps.Tasks.SetFailed(t.ID, msg)
	w.deps.Bus.PublishTaskFailed(t.ID, t.SessionID, t.SegmentIndex, msg)
	slog.Error("task failed", "task_id", t.ID, "session_id", t.SessionID, "error", msg)
}

func (w *Worker) recordInfer(ctx context.Context, start time.Time, outcome string) {
	if w.deps.Metrics == nil {
		return
	}
	w.deps.Metrics.InferDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}
