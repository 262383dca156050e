// Package server is the HTTP and WebSocket transport over the playback core.
// It owns request decoding, error-to-status mapping, and event-stream
// forwarding; all behavior lives in the orchestrator and its collaborators.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netscane/rovel/internal/cache"
	"github.com/netscane/rovel/internal/catalog"
	"github.com/netscane/rovel/internal/catalog/ingest"
	"github.com/netscane/rovel/internal/event"
	"github.com/netscane/rovel/internal/health"
	"github.com/netscane/rovel/internal/observe"
	"github.com/netscane/rovel/internal/orchestrator"
	"github.com/netscane/rovel/internal/session"
	"github.com/netscane/rovel/internal/storage"
	"github.com/netscane/rovel/pkg/audio"
)

// Config holds the transport-level tunables.
type Config struct {
	// MaxUploadBytes bounds novel and voice uploads.
	MaxUploadBytes int64

	// OutputFormat is "wav" or "opus" and selects the audio read path
	// encoding.
	OutputFormat string

	// OpusBitrate is the transcoder target bitrate when OutputFormat is
	// "opus".
	OpusBitrate int
}

// Deps are the collaborators the transport borrows.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Sessions     *session.Manager
	Cache        *cache.Cache
	Bus          *event.Bus
	Novels       catalog.NovelRepository
	Voices       catalog.VoiceRepository
	Ingest       *ingest.Service
	Storage      *storage.Store
	Health       *health.Handler
	Metrics      *observe.Metrics // optional
}

// Server wires handlers onto a mux. Construct with [New], then serve
// [Server.Handler].
type Server struct {
	cfg        Config
	deps       Deps
	transcoder *audio.OpusTranscoder
}

// New creates a Server over the given collaborators.
func New(cfg Config, deps Deps) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	s := &Server{cfg: cfg, deps: deps}
	if cfg.OutputFormat == "opus" {
		s.transcoder = audio.NewOpusTranscoder(cfg.OpusBitrate)
	}
	return s
}

// Handler returns the root handler with all routes registered and the
// observability middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/ping", s.handlePing)

	// Session operations.
	mux.HandleFunc("POST /api/session/play", s.handlePlay)
	mux.HandleFunc("POST /api/session/seek", s.handleSeek)
	mux.HandleFunc("POST /api/session/change_voice", s.handleChangeVoice)
	mux.HandleFunc("POST /api/session/close", s.handleCloseSession)

	// Inference.
	mux.HandleFunc("POST /api/infer/submit", s.handleSubmitInfer)
	mux.HandleFunc("POST /api/infer/status", s.handleTaskStatus)

	// Audio read path.
	mux.HandleFunc("POST /api/audio", s.handleGetAudio)

	// Catalog.
	mux.HandleFunc("POST /api/novel/upload", s.handleUploadNovel)
	mux.HandleFunc("POST /api/novel/delete", s.handleDeleteNovel)
	mux.HandleFunc("POST /api/novel/get", s.handleGetNovel)
	mux.HandleFunc("GET /api/novel/list", s.handleListNovels)
	mux.HandleFunc("POST /api/novel/segments", s.handleNovelSegments)
	mux.HandleFunc("POST /api/voice/upload", s.handleUploadVoice)
	mux.HandleFunc("POST /api/voice/delete", s.handleDeleteVoice)
	mux.HandleFunc("POST /api/voice/get", s.handleGetVoice)
	mux.HandleFunc("GET /api/voice/list", s.handleListVoices)
	mux.HandleFunc("GET /api/voice/audio/{voice_id}", s.handleVoiceAudio)

	// Event streams.
	mux.HandleFunc("GET /ws/session/{session_id}", s.handleSessionSocket)
	mux.HandleFunc("GET /ws/events", s.handleGlobalSocket)

	// Operational endpoints.
	if s.deps.Health != nil {
		s.deps.Health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.deps.Metrics)(mux)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}
