// Command rovel is the main entry point for the Rovel audiobook TTS server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/netscane/rovel/internal/cache"
	"github.com/netscane/rovel/internal/catalog"
	"github.com/netscane/rovel/internal/catalog/ingest"
	catalogmock "github.com/netscane/rovel/internal/catalog/mock"
	"github.com/netscane/rovel/internal/catalog/postgres"
	"github.com/netscane/rovel/internal/config"
	"github.com/netscane/rovel/internal/event"
	"github.com/netscane/rovel/internal/health"
	"github.com/netscane/rovel/internal/observe"
	"github.com/netscane/rovel/internal/orchestrator"
	"github.com/netscane/rovel/internal/server"
	"github.com/netscane/rovel/internal/session"
	"github.com/netscane/rovel/internal/storage"
	"github.com/netscane/rovel/internal/task"
	"github.com/netscane/rovel/internal/worker"
	"github.com/netscane/rovel/pkg/ttsclient"
)

const version = "0.2.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rovel: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Log))

	slog.Info("rovel starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.Addr(),
		"log_level", cfg.Log.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "rovel",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer shutdownMetrics(context.Background())

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metric instruments", "err", err)
		return 1
	}

	// ── File storage ──────────────────────────────────────────────────────────
	store, err := storage.New(cfg.Storage.NovelsDir, cfg.Storage.VoicesDir)
	if err != nil {
		slog.Error("failed to initialise storage", "err", err)
		return 1
	}

	// ── Catalog ───────────────────────────────────────────────────────────────
	var (
		novels      catalog.NovelRepository
		voices      catalog.VoiceRepository
		catalogPing func(context.Context) error
	)
	if dsn := cfg.Catalog.PostgresDSN; dsn != "" {
		pgStore, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to catalog database", "err", err)
			return 1
		}
		defer pgStore.Close()
		novels = pgStore.Novels()
		voices = pgStore.Voices()
		catalogPing = pgStore.Ping
		slog.Info("catalog connected", "backend", "postgres")
	} else {
		slog.Warn("catalog.postgres_dsn is empty; using in-memory catalog (contents lost on restart)")
		novels = catalogmock.NewNovelRepo()
		voices = catalogmock.NewVoiceRepo()
		catalogPing = func(context.Context) error { return nil }
	}

	// ── Audio cache ───────────────────────────────────────────────────────────
	audioCache, err := cache.Open(cfg.Cache.Path, cfg.Cache.MaxSizeBytes)
	if err != nil {
		slog.Error("failed to open audio cache", "err", err)
		return 1
	}
	defer audioCache.Close()

	// ── TTS engine ────────────────────────────────────────────────────────────
	var engine ttsclient.Engine
	if cfg.TTS.Fake {
		slog.Warn("tts.fake is set; synthesis returns canned audio")
		engine = &ttsclient.Fake{Audio: []byte("fake-audio"), DurationMS: 1000, SampleRate: 22050}
	} else {
		engine = ttsclient.New(ttsclient.Config{
			BaseURL:           cfg.TTS.URL,
			Timeout:           time.Duration(cfg.TTS.TimeoutSecs) * time.Second,
			MaxRetries:        cfg.TTS.MaxRetries,
			RequestsPerSecond: cfg.TTS.RequestsPerSecond,
		})
	}

	// ── Core components ───────────────────────────────────────────────────────
	sessions := session.NewManager()
	tasks := task.NewManager(cfg.Worker.QueueSize)
	bus := event.NewBus()

	orch := orchestrator.New(orchestrator.Deps{
		Sessions: sessions,
		Tasks:    tasks,
		Cache:    audioCache,
		Bus:      bus,
		Novels:   novels,
		Voices:   voices,
		Metrics:  metrics,
	})

	infer := worker.New(worker.Config{
		MaxConcurrent: cfg.Worker.MaxConcurrent,
		BaseURL:       cfg.Server.PublicBaseURL(),
	}, worker.Deps{
		Tasks:    tasks,
		Sessions: sessions,
		Cache:    audioCache,
		Voices:   voices,
		Engine:   engine,
		Bus:      bus,
		Metrics:  metrics,
	})
	go infer.Run(ctx)

	// ── Session expiry sweep ──────────────────────────────────────────────────
	if cfg.GC.Enabled {
		go sweepExpiredSessions(ctx, sessions, orch,
			time.Duration(cfg.GC.IntervalSecs)*time.Second,
			time.Duration(cfg.GC.SessionExpireSecs)*time.Second,
		)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	healthHandler := health.New(
		health.Checker{Name: "catalog", Check: catalogPing},
		health.Checker{Name: "cache", Check: func(context.Context) error {
			_, err := audioCache.Exists("healthcheck")
			return err
		}},
		health.Checker{Name: "tts", Optional: true, Check: func(ctx context.Context) error {
			if !engine.Healthy(ctx) {
				return errors.New("health probe failed")
			}
			return nil
		}},
	)

	srv := server.New(server.Config{
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		OutputFormat:   cfg.Audio.OutputFormat,
		OpusBitrate:    cfg.Audio.Bitrate,
	}, server.Deps{
		Orchestrator: orch,
		Sessions:     sessions,
		Cache:        audioCache,
		Bus:          bus,
		Novels:       novels,
		Voices:       voices,
		Ingest:       ingest.New(novels, voices, store, bus, cfg.Segment),
		Storage:      store,
		Health:       healthHandler,
		Metrics:      metrics,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", httpServer.Addr, "base_url", cfg.Server.PublicBaseURL())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads the file at path, falling back to built-in defaults when
// it does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return nil, err
}

// newLogger builds the process-wide slog logger from the log config.
func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// sweepExpiredSessions periodically closes sessions idle beyond expire. The
// close runs through the orchestrator so the full teardown (task cleanup,
// events, plane unregistration) applies.
func sweepExpiredSessions(ctx context.Context, sessions *session.Manager, orch *orchestrator.Orchestrator, interval, expire time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := sessions.Expired(expire)
			for _, id := range expired {
				if _, err := orch.CloseSession(ctx, id); err != nil {
					slog.Warn("expired session close failed", "session_id", id, "err", err)
				}
			}
			if len(expired) > 0 {
				slog.Info("expired sessions closed", "count", len(expired))
			}
		}
	}
}
