package event

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func recvOne(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("subscriber channel closed unexpectedly")
		}
		return e
	default:
		t.Fatal("no event buffered")
	}
	return Event{}
}

func TestBus_SessionPlaneDelivery(t *testing.T) {
	t.Parallel()

	b := NewBus()
	sub := b.RegisterSession("s1")

	b.PublishTaskInferring("t1", "s1", 3)

	e := recvOne(t, sub)
	if e.Event != TypeTaskStateChanged {
		t.Errorf("Event = %q, want TaskStateChanged", e.Event)
	}
	data, ok := e.Data.(TaskStateChanged)
	if !ok {
		t.Fatalf("Data has type %T", e.Data)
	}
	if data.TaskID != "t1" || data.SegmentIndex != 3 || data.State != "inferring" {
		t.Errorf("unexpected payload: %+v", data)
	}
}

func TestBus_SessionIsolation(t *testing.T) {
	t.Parallel()

	b := NewBus()
	sub1 := b.RegisterSession("s1")
	sub2 := b.RegisterSession("s2")

	b.PublishTaskReady("t1", "s1", 0)

	if e := recvOne(t, sub1); e.Event != TypeTaskStateChanged {
		t.Errorf("s1 should receive the event, got %q", e.Event)
	}
	select {
	case e := <-sub2:
		t.Errorf("s2 received event %v for s1", e)
	default:
	}
}

func TestBus_SecondRegistrationSharesPlane(t *testing.T) {
	t.Parallel()

	b := NewBus()
	first := b.RegisterSession("s1")
	second := b.RegisterSession("s1")

	b.PublishSessionClosed("s1", "client_close")

	for i, sub := range []<-chan Event{first, second} {
		e := recvOne(t, sub)
		if e.Event != TypeSessionClosed {
			t.Errorf("subscriber %d: Event = %q, want SessionClosed", i, e.Event)
		}
	}
}

func TestBus_PublishWithoutSubscribersIsNoop(t *testing.T) {
	t.Parallel()

	b := NewBus()
	// Must not panic or block.
	b.PublishTaskFailed("t1", "nobody-listens", 0, "TTS error: boom")
	b.PublishNovelDeleted(uuid.New())
}

func TestBus_SlowSubscriberLosesEvents(t *testing.T) {
	t.Parallel()

	b := NewBus()
	sub := b.RegisterSession("s1")

	for i := range SubscriberBuffer + 10 {
		b.PublishTaskReady("t", "s1", uint32(i))
	}

	// Exactly the buffered window is retained; the overflow is dropped.
	n := 0
	for {
		select {
		case <-sub:
			n++
			continue
		default:
		}
		break
	}
	if n != SubscriberBuffer {
		t.Errorf("received %d events, want %d", n, SubscriberBuffer)
	}
}

func TestBus_UnregisterClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBus()
	sub := b.RegisterSession("s1")

	b.UnregisterSession("s1")

	if _, ok := <-sub; ok {
		t.Error("subscriber channel should be closed after UnregisterSession")
	}

	// Publishing to an unregistered session is a non-error.
	b.PublishTaskReady("t1", "s1", 0)
}

func TestBus_GlobalPlane(t *testing.T) {
	t.Parallel()

	b := NewBus()
	sub := b.SubscribeGlobal()
	novelID := uuid.New()

	b.PublishNovelReady(novelID, "Test Novel", 42)

	e := recvOne(t, sub)
	if e.Event != TypeNovelReady {
		t.Fatalf("Event = %q, want NovelReady", e.Event)
	}
	data := e.Data.(NovelReady)
	if data.NovelID != novelID || data.TotalSegments != 42 {
		t.Errorf("unexpected payload: %+v", data)
	}

	b.UnsubscribeGlobal(sub)
	if _, ok := <-sub; ok {
		t.Error("global subscriber should be closed after UnsubscribeGlobal")
	}

	// Unsubscribing twice is harmless.
	b.UnsubscribeGlobal(sub)
}

func TestEvent_WireShape(t *testing.T) {
	t.Parallel()

	e := Event{Event: TypeTaskStateChanged, Data: TaskStateChanged{
		SessionID:    "s1",
		TaskID:       "t1",
		SegmentIndex: 7,
		State:        "failed",
		Error:        "TTS error: timeout",
	}}

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded struct {
		Event string `json:"event"`
		Data  struct {
			SessionID    string `json:"session_id"`
			TaskID       string `json:"task_id"`
			SegmentIndex uint32 `json:"segment_index"`
			State        string `json:"state"`
			Error        string `json:"error"`
			DurationMS   *int   `json:"duration_ms"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if decoded.Event != "TaskStateChanged" {
		t.Errorf("event tag = %q", decoded.Event)
	}
	if decoded.Data.State != "failed" || decoded.Data.Error == "" {
		t.Errorf("unexpected data: %+v", decoded.Data)
	}
	// duration_ms is omitted when unset.
	if decoded.Data.DurationMS != nil {
		t.Error("duration_ms should be omitted when zero")
	}
}
