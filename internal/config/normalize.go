package config

import (
	"fmt"
	"os"
	"strings"
)

// applyEnv overlays environment variables on top of file values.
func (c *Config) applyEnv() {
	if level := strings.TrimSpace(os.Getenv("FACEMOSAIC_LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
	if url := strings.TrimSpace(os.Getenv("FACEMOSAIC_DB_URL")); url != "" {
		c.Database.URL = url
		return
	}
	// Same variables the docker-compose postgres service uses
	if host := os.Getenv("POSTGRES_HOST"); host != "" && c.Database.URL == "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		c.Database.URL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.TempDir, err = expandPath(strings.TrimSpace(c.Paths.TempDir)); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if c.Detector.Prototxt, err = expandPath(strings.TrimSpace(c.Detector.Prototxt)); err != nil {
		return fmt.Errorf("detector.prototxt: %w", err)
	}
	if c.Detector.Weights, err = expandPath(strings.TrimSpace(c.Detector.Weights)); err != nil {
		return fmt.Errorf("detector.weights: %w", err)
	}
	c.Paths.FFmpeg = strings.TrimSpace(c.Paths.FFmpeg)
	c.Paths.FFprobe = strings.TrimSpace(c.Paths.FFprobe)
	c.Detector.Backend = strings.ToLower(strings.TrimSpace(c.Detector.Backend))
	c.Audio.PitchFilter = strings.ToLower(strings.TrimSpace(c.Audio.PitchFilter))
	c.Audio.Codec = strings.TrimSpace(c.Audio.Codec)
	c.Video.Codec = strings.TrimSpace(c.Video.Codec)
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		format = "text"
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "warning" {
		level = "warn"
	}
	if level == "" {
		level = "warn"
	}
	c.Logging.Level = level
}
