package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/netscane/rovel/internal/cache"
	"github.com/netscane/rovel/internal/catalog"
	catalogmock "github.com/netscane/rovel/internal/catalog/mock"
	"github.com/netscane/rovel/internal/event"
	"github.com/netscane/rovel/internal/session"
	"github.com/netscane/rovel/internal/task"
	"github.com/netscane/rovel/pkg/ttsclient"
)

type fixture struct {
	sessions *session.Manager
	tasks    *task.Manager
	cache    *cache.Cache
	voices   *catalogmock.VoiceRepo
	engine   *ttsclient.Fake
	bus      *event.Bus
	worker   *Worker

	sessionID string
	novelID   uuid.UUID
	voiceID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), 1<<20)
	if err != nil {
		t.Fatalf("cache.Open() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	f := &fixture{
		sessions: session.NewManager(),
		tasks:    task.NewManager(100),
		cache:    c,
		voices:   catalogmock.NewVoiceRepo(),
		engine:   &ttsclient.Fake{Audio: []byte("synth-audio"), DurationMS: 1200, SampleRate: 22050},
		bus:      event.NewBus(),
		novelID:  uuid.New(),
		voiceID:  uuid.New(),
	}

	f.voices.Save(context.Background(), &catalog.Voice{ID: f.voiceID, Name: "narrator"})

	s := session.New(f.novelID, f.voiceID, 0)
	if _, err := f.sessions.Create(s); err != nil {
		t.Fatal(err)
	}
	f.sessionID = s.ID

	f.worker = New(Config{MaxConcurrent: 2, BaseURL: "http://localhost:5060"}, Deps{
		Tasks:    f.tasks,
		Sessions: f.sessions,
		Cache:    f.cache,
		Voices:   f.voices,
		Engine:   f.engine,
		Bus:      f.bus,
	})
	return f
}

func (f *fixture) submitTask(t *testing.T, text string) task.Task {
	t.Helper()
	tk := task.New(f.sessionID, f.novelID, f.voiceID, 0, text)
	f.tasks.Submit([]task.Task{tk})
	return tk
}

// drainEvents collects everything buffered on the subscriber channel.
func drainEvents(sub <-chan event.Event) []event.Event {
	var out []event.Event
	for {
		select {
		case e := <-sub:
			out = append(out, e)
			continue
		default:
		}
		return out
	}
}

func TestWorker_SuccessfulSynthesis(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub := f.bus.RegisterSession(f.sessionID)
	tk := f.submitTask(t, "这是一段测试文本。")

	f.worker.process(context.Background(), tk.ID)

	if state, _ := f.tasks.State(tk.ID); state != task.StateReady {
		t.Errorf("state = %q, want ready", state)
	}

	// The audio must be cached under the derived key with its back-index.
	key := cache.Key("这是一段测试文本。", f.voiceID)
	data, err := f.cache.Get(key)
	if err != nil || data == nil {
		t.Fatalf("cache.Get(%q) = %v, %v; want audio", key, data, err)
	}
	if gotKey, ok, _ := f.cache.Lookup(f.novelID, 0, f.voiceID); !ok || gotKey != key {
		t.Errorf("Lookup() = %q, %v; want %q, true", gotKey, ok, key)
	}

	// Events: inferring then ready (with duration).
	events := drainEvents(sub)
	if len(events) != 2 {
		t.Fatalf("got %d events (%v), want 2", len(events), events)
	}
	first := events[0].Data.(event.TaskStateChanged)
	second := events[1].Data.(event.TaskStateChanged)
	if first.State != "inferring" || second.State != "ready" {
		t.Errorf("event states = %q, %q", first.State, second.State)
	}
	if second.DurationMS != 1200 {
		t.Errorf("ready event duration = %d, want 1200", second.DurationMS)
	}

	// The worker passes the composed voice reference URL to the engine.
	calls := f.engine.Calls()
	if len(calls) != 1 {
		t.Fatalf("engine called %d times, want 1", len(calls))
	}
	wantRef := "http://localhost:5060/api/voice/audio/" + f.voiceID.String()
	if calls[0].VoiceRef != wantRef {
		t.Errorf("VoiceRef = %q, want %q", calls[0].VoiceRef, wantRef)
	}
}

func TestWorker_CacheHitShortCircuitsSynthesis(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	const text = "已经缓存的文本。"
	key := cache.Key(text, f.voiceID)
	if err := f.cache.Put(key, []byte("cached"), cache.Metadata{
		NovelID: f.novelID, SegmentIndex: 0, VoiceID: f.voiceID, ContentHash: key,
	}); err != nil {
		t.Fatal(err)
	}

	sub := f.bus.RegisterSession(f.sessionID)
	tk := f.submitTask(t, text)

	f.worker.process(context.Background(), tk.ID)

	if state, _ := f.tasks.State(tk.ID); state != task.StateReady {
		t.Errorf("state = %q, want ready", state)
	}
	if calls := f.engine.Calls(); len(calls) != 0 {
		t.Errorf("engine called %d times on a cache hit, want 0", len(calls))
	}
	events := drainEvents(sub)
	if len(events) != 1 || events[0].Data.(event.TaskStateChanged).State != "ready" {
		t.Errorf("events = %v, want single ready", events)
	}
}

func TestWorker_CancelledTaskIsDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub := f.bus.RegisterSession(f.sessionID)
	tk := f.submitTask(t, "text")
	f.tasks.CancelPending(f.sessionID)

	f.worker.process(context.Background(), tk.ID)

	if state, _ := f.tasks.State(tk.ID); state != task.StateCancelled {
		t.Errorf("state = %q, want cancelled", state)
	}
	if calls := f.engine.Calls(); len(calls) != 0 {
		t.Errorf("engine called for a cancelled task")
	}
	if events := drainEvents(sub); len(events) != 0 {
		t.Errorf("cancelled task published events: %v", events)
	}
}

func TestWorker_MissingTaskCountsAsCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// Must be a silent no-op.
	f.worker.process(context.Background(), "no-such-task")
	if calls := f.engine.Calls(); len(calls) != 0 {
		t.Errorf("engine called for a missing task")
	}
}

func TestWorker_DeadSessionSkipsBeforeInferring(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tk := f.submitTask(t, "text")
	if err := f.sessions.Close(f.sessionID); err != nil {
		t.Fatal(err)
	}

	f.worker.process(context.Background(), tk.ID)

	// Untouched: still pending, no synthesis.
	if state, _ := f.tasks.State(tk.ID); state != task.StatePending {
		t.Errorf("state = %q, want pending", state)
	}
	if calls := f.engine.Calls(); len(calls) != 0 {
		t.Errorf("engine called for a dead session")
	}
}

func TestWorker_VoiceNotFoundFailsTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub := f.bus.RegisterSession(f.sessionID)

	// Session points at a voice the catalog no longer has.
	ghostVoice := uuid.New()
	tk := task.New(f.sessionID, f.novelID, ghostVoice, 0, "text")
	f.tasks.Submit([]task.Task{tk})

	f.worker.process(context.Background(), tk.ID)

	got, _ := f.tasks.Task(tk.ID)
	if got.State != task.StateFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
	if got.Err != "Voice not found" {
		t.Errorf("Err = %q, want \"Voice not found\"", got.Err)
	}

	events := drainEvents(sub)
	var sawFailed bool
	for _, e := range events {
		if d, ok := e.Data.(event.TaskStateChanged); ok && d.State == "failed" {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Error("no task-failed event published")
	}
}

func TestWorker_TTSErrorFailsTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.engine.Err = ttsclient.ErrTimeout
	tk := f.submitTask(t, "text")

	f.worker.process(context.Background(), tk.ID)

	got, _ := f.tasks.Task(tk.ID)
	if got.State != task.StateFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
	if got.Err == "" || got.Err[:10] != "TTS error:" {
		t.Errorf("Err = %q, want TTS error prefix", got.Err)
	}

	// The failure stays per-task: the session survives.
	if !f.sessions.IsValid(f.sessionID) {
		t.Error("session should survive a task failure")
	}
}

func TestWorker_SessionClosedDuringSynthesisDropsResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub := f.bus.RegisterSession(f.sessionID)
	tk := f.submitTask(t, "长时间合成的文本。")

	// Close the session while the synthesis call is in flight, so the
	// worker has audio in hand when it reaches the post-synthesis check.
	f.engine.InferFunc = func(context.Context, ttsclient.Request) (*ttsclient.Response, error) {
		if err := f.sessions.Close(f.sessionID); err != nil {
			t.Errorf("Close() error: %v", err)
		}
		return &ttsclient.Response{Audio: []byte("wasted"), DurationMS: 100}, nil
	}

	f.worker.process(context.Background(), tk.ID)

	// No cache write.
	key := cache.Key("长时间合成的文本。", f.voiceID)
	if exists, _ := f.cache.Exists(key); exists {
		t.Error("result cached despite the session closing during synthesis")
	}

	// No ready and no failed event; only the earlier inferring event.
	for _, e := range drainEvents(sub) {
		if d, ok := e.Data.(event.TaskStateChanged); ok && d.State != "inferring" {
			t.Errorf("unexpected %q event after session close", d.State)
		}
	}

	// The task stays Inferring until cleanup collects it.
	if state, _ := f.tasks.State(tk.ID); state != task.StateInferring {
		t.Errorf("state = %q, want inferring", state)
	}
	f.tasks.CleanupSession(f.sessionID)
	if _, ok := f.tasks.Task(tk.ID); ok {
		t.Error("task should be removed by cleanup")
	}
}

func TestWorker_CacheWriteFailureFailsTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tk := f.submitTask(t, "text")

	// Closing the bbolt handle makes the post-synthesis cache write fail.
	f.cache.Close()

	f.worker.process(context.Background(), tk.ID)

	got, _ := f.tasks.Task(tk.ID)
	if got.State != task.StateFailed {
		t.Errorf("state = %q, want failed", got.State)
	}
	if got.Err == "" || got.Err[:12] != "Cache error:" {
		t.Errorf("Err = %q, want Cache error prefix", got.Err)
	}
}

func TestWorker_RunHonoursContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()

	tk := f.submitTask(t, "一段需要合成的测试文本。")
	waitFor(t, func() bool {
		state, _ := f.tasks.State(tk.ID)
		return state == task.StateReady
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop on context cancellation")
	}
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
