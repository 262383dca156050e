package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies ROVEL_* environment
// overrides, and validates the result. Defaults fill anything the file does
// not set.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults, applies
// environment overrides, and validates. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", cfg.Server.Port))
	}
	if cfg.TTS.URL == "" && !cfg.TTS.Fake {
		errs = append(errs, errors.New("tts.url is required unless tts.fake is set"))
	}
	if cfg.TTS.TimeoutSecs <= 0 {
		errs = append(errs, fmt.Errorf("tts.timeout_secs %d must be positive", cfg.TTS.TimeoutSecs))
	}
	switch cfg.Audio.OutputFormat {
	case "wav", "opus":
	default:
		errs = append(errs, fmt.Errorf("audio.output_format %q is invalid; valid values: wav, opus", cfg.Audio.OutputFormat))
	}
	if cfg.Cache.Path == "" {
		errs = append(errs, errors.New("cache.path is required"))
	}
	if cfg.Cache.MaxSizeBytes == 0 {
		errs = append(errs, errors.New("cache.max_size_bytes must be positive"))
	}
	if cfg.Worker.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("worker.max_concurrent %d must be positive", cfg.Worker.MaxConcurrent))
	}
	if cfg.Worker.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.queue_size %d must be positive", cfg.Worker.QueueSize))
	}
	if cfg.GC.Enabled {
		if cfg.GC.IntervalSecs <= 0 {
			errs = append(errs, fmt.Errorf("gc.interval_secs %d must be positive", cfg.GC.IntervalSecs))
		}
		if cfg.GC.SessionExpireSecs <= 0 {
			errs = append(errs, fmt.Errorf("gc.session_expire_secs %d must be positive", cfg.GC.SessionExpireSecs))
		}
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	return errors.Join(errs...)
}

// applyEnvOverrides applies ROVEL_-prefixed environment variable overrides
// for the settings that commonly differ between deployments.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROVEL_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ROVEL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ROVEL_SERVER_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("ROVEL_TTS_URL"); v != "" {
		cfg.TTS.URL = v
	}
	if v := os.Getenv("ROVEL_CATALOG_POSTGRES_DSN"); v != "" {
		cfg.Catalog.PostgresDSN = v
	}
	if v := os.Getenv("ROVEL_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("ROVEL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
