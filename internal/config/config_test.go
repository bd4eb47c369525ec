package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/facemosaic/internal/config"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("FACEMOSAIC_DB_URL", "")
	t.Setenv("FACEMOSAIC_LOG_LEVEL", "")
	t.Setenv("POSTGRES_HOST", "")
	t.Chdir(t.TempDir())
	return home
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsExpandModelPaths(t *testing.T) {
	home := isolate(t)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved != filepath.Join(home, ".config", "facemosaic", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if !strings.HasPrefix(cfg.Detector.Prototxt, home) {
		t.Fatalf("prototxt not expanded under HOME: %q", cfg.Detector.Prototxt)
	}
	if cfg.Mosaic.Ratio != 0.05 || cfg.Audio.Pitch != 0.85 {
		t.Fatalf("unexpected defaults: ratio=%v pitch=%v", cfg.Mosaic.Ratio, cfg.Audio.Pitch)
	}
	if cfg.HistoryEnabled() {
		t.Fatal("expected job history disabled without a database URL")
	}
	if cfg.WorkerCount() != 1 {
		t.Fatalf("expected one worker by default, got %d", cfg.WorkerCount())
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
[mosaic]
ratio = 0.1

[audio]
pitch = 1.2
pitch_filter = "ASETRATE"

[runtime]
workers = 4

[logging]
format = "console"
level = "WARNING"
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected %q to be loaded, got %q (exists=%v)", path, resolved, exists)
	}
	if cfg.Mosaic.Ratio != 0.1 || cfg.Audio.Pitch != 1.2 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Audio.PitchFilter != config.FilterAsetrate {
		t.Fatalf("pitch filter not normalized: %q", cfg.Audio.PitchFilter)
	}
	if cfg.WorkerCount() != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.WorkerCount())
	}
	if cfg.Logging.Format != "text" || cfg.Logging.Level != "warn" {
		t.Fatalf("logging not normalized: %+v", cfg.Logging)
	}
	if cfg.Mosaic.Padding != 0.2 {
		t.Fatalf("unset values must keep defaults, padding=%v", cfg.Mosaic.Padding)
	}
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "[video]\ncodec = \"libx264\"\n")
	t.Setenv(config.EnvConfigPath, path)

	cfg, _, exists, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if !exists || cfg.Video.Codec != "libx264" {
		t.Fatalf("expected config from %s, got codec %q", config.EnvConfigPath, cfg.Video.Codec)
	}
}

func TestLoadProjectConfig(t *testing.T) {
	isolate(t)
	if err := os.WriteFile("facemosaic.toml", []byte("[audio]\ncodec = \"libopus\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, exists, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if !exists || cfg.Audio.Codec != "libopus" {
		t.Fatalf("expected ./facemosaic.toml to be used, got codec %q", cfg.Audio.Codec)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("FACEMOSAIC_LOG_LEVEL", "debug")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "user")
	t.Setenv("POSTGRES_PASSWORD", "pass")
	t.Setenv("POSTGRES_DB", "facemosaic")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug level from env, got %q", cfg.Logging.Level)
	}
	if cfg.Database.URL != "postgres://user:pass@db:5432/facemosaic" {
		t.Fatalf("unexpected database url %q", cfg.Database.URL)
	}

	t.Setenv("FACEMOSAIC_DB_URL", "postgres://elsewhere/jobs")
	cfg, _, _, err = config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.URL != "postgres://elsewhere/jobs" {
		t.Fatalf("FACEMOSAIC_DB_URL must win, got %q", cfg.Database.URL)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "[mosaic]\nblur = 3\n")

	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"Ratio zero", func(c *config.Config) { c.Mosaic.Ratio = 0 }, "mosaic.ratio"},
		{"Ratio above one", func(c *config.Config) { c.Mosaic.Ratio = 1.5 }, "mosaic.ratio"},
		{"Negative padding", func(c *config.Config) { c.Mosaic.Padding = -0.1 }, "mosaic.padding"},
		{"Pitch two", func(c *config.Config) { c.Audio.Pitch = 2 }, "audio.pitch"},
		{"Unknown filter", func(c *config.Config) { c.Audio.PitchFilter = "vocoder" }, "audio.pitch_filter"},
		{"Unknown backend", func(c *config.Config) { c.Detector.Backend = "haar" }, "detector.backend"},
		{"Worker without command", func(c *config.Config) { c.Detector.Backend = config.BackendWorker }, "detector.worker_command"},
		{"Confidence zero", func(c *config.Config) { c.Detector.Confidence = 0 }, "detector.confidence"},
		{"No workers", func(c *config.Config) { c.Runtime.Workers = 0 }, "runtime.workers"},
		{"Bad level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"Bad quality", func(c *config.Config) { c.Video.Quality = 40 }, "video.quality"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
