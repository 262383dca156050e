// Package ttsclient talks to the external TTS service over HTTP. The service
// receives the text to synthesize plus a URL it can fetch the voice reference
// audio from, and answers with WAV bytes and metadata headers.
//
// Errors are categorized via sentinel errors ([ErrNetwork], [ErrTimeout],
// [ErrService], [ErrInvalidResponse], [ErrVoiceNotFound]) so callers can
// branch with errors.Is without parsing messages.
package ttsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Error categories for failed synthesis calls.
var (
	ErrNetwork         = errors.New("tts: network error")
	ErrTimeout         = errors.New("tts: request timeout")
	ErrService         = errors.New("tts: service error")
	ErrInvalidResponse = errors.New("tts: invalid response")
	ErrVoiceNotFound   = errors.New("tts: voice not found")
)

// Metadata headers returned by the TTS service.
const (
	headerSessionID  = "X-TTS-Session-Id"
	headerDurationMS = "X-TTS-Duration-Ms"
	headerSampleRate = "X-TTS-Sample-Rate"
)

// Request is one synthesis call.
type Request struct {
	// Text is the segment to synthesize.
	Text string

	// VoiceRef is a URL the TTS service fetches the voice reference audio
	// from (it downloads and caches the reference itself).
	VoiceRef string

	// VoiceID identifies the voice for logging and tracing only.
	VoiceID string
}

// Response is the synthesized audio plus the metadata the service reported.
// DurationMS and SampleRate are zero when the service omitted the header.
type Response struct {
	SessionID  string
	Audio      []byte
	DurationMS uint64
	SampleRate uint32
}

// Engine is the synthesis abstraction the worker depends on. Client is the
// production implementation; [Fake] serves tests and development setups.
type Engine interface {
	// Infer synthesizes one segment. A call in flight ends only when it
	// completes, the configured timeout expires or ctx is cancelled; callers
	// bound wasted work with their own validity checks after it returns.
	Infer(ctx context.Context, req Request) (*Response, error)

	// Healthy reports whether the service answers its health probe.
	Healthy(ctx context.Context) bool
}

// Config configures a [Client].
type Config struct {
	// BaseURL of the TTS service, e.g. "http://localhost:8000".
	BaseURL string

	// Timeout for a single synthesis request. Default 120s.
	Timeout time.Duration

	// MaxRetries retries transient (network/timeout) failures. Default 0 —
	// the task state machine treats failures as per-task and final.
	MaxRetries int

	// RequestsPerSecond throttles outgoing synthesis calls. Zero disables
	// throttling.
	RequestsPerSecond float64
}

// Client implements [Engine] against the HTTP TTS API.
type Client struct {
	baseURL    string
	maxRetries int
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Engine = (*Client)(nil)

// New creates a Client for the service at cfg.BaseURL.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

// inferRequest is the JSON body of POST /api/tts/infer.
type inferRequest struct {
	Text     string `json:"text"`
	VoiceRef string `json:"voice_ref"`
}

// Infer implements [Engine]. Transient failures are retried up to MaxRetries
// times; service-level failures are not.
func (c *Client) Infer(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("tts retry", "attempt", attempt, "voice_id", req.VoiceID)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		resp, err := c.infer(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Only transient transport failures are worth retrying.
		if !errors.Is(err, ErrNetwork) && !errors.Is(err, ErrTimeout) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) infer(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}

	body, err := json.Marshal(inferRequest{Text: req.Text, VoiceRef: req.VoiceRef})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrInvalidResponse, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tts/infer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("sending tts infer request",
		"url", httpReq.URL.String(),
		"text_len", len(req.Text),
		"voice_id", req.VoiceID,
	)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrVoiceNotFound, req.VoiceID)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrService, httpResp.StatusCode, bytes.TrimSpace(detail))
	}

	audio, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrInvalidResponse, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio body", ErrInvalidResponse)
	}

	resp := &Response{
		SessionID: httpResp.Header.Get(headerSessionID),
		Audio:     audio,
	}
	if v := httpResp.Header.Get(headerDurationMS); v != "" {
		if ms, err := strconv.ParseUint(v, 10, 64); err == nil {
			resp.DurationMS = ms
		}
	}
	if v := httpResp.Header.Get(headerSampleRate); v != "" {
		if sr, err := strconv.ParseUint(v, 10, 32); err == nil {
			resp.SampleRate = uint32(sr)
		}
	}

	slog.Info("tts inference completed",
		"tts_session_id", resp.SessionID,
		"duration_ms", resp.DurationMS,
		"sample_rate", resp.SampleRate,
		"audio_size", len(audio),
		"elapsed", time.Since(start),
	)
	return resp, nil
}

// Healthy implements [Engine] via GET /health with a short deadline.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// classifyTransportError maps transport failures onto the timeout/network
// sentinels.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
