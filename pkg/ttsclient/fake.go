package ttsclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fake is an [Engine] that returns fixed audio without contacting any
// service. It backs tests and lets the server run end-to-end before a real
// TTS deployment exists.
type Fake struct {
	// Audio is returned for every request.
	Audio []byte

	// DurationMS and SampleRate fill the response metadata.
	DurationMS uint64
	SampleRate uint32

	// Delay simulates synthesis latency before each response.
	Delay time.Duration

	// Err, when set, fails every request.
	Err error

	// InferFunc, when set, replaces the canned behavior entirely. Tests use
	// it to interleave side effects with an in-flight synthesis call.
	InferFunc func(ctx context.Context, req Request) (*Response, error)

	mu    sync.Mutex
	calls []Request
}

var _ Engine = (*Fake)(nil)

// Infer implements [Engine].
func (f *Fake) Infer(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.InferFunc != nil {
		return f.InferFunc(ctx, req)
	}
	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.Delay):
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}

	audio := f.Audio
	if audio == nil {
		audio = []byte("fake-audio")
	}
	return &Response{
		SessionID:  "fake-" + uuid.NewString(),
		Audio:      audio,
		DurationMS: f.DurationMS,
		SampleRate: f.SampleRate,
	}, nil
}

// Healthy implements [Engine]; the fake is always healthy.
func (f *Fake) Healthy(context.Context) bool { return true }

// Calls returns a snapshot of every request received so far.
func (f *Fake) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.calls))
	copy(out, f.calls)
	return out
}
