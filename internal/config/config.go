package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "FACEMOSAIC_CONFIG"

type Paths struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
	TempDir string `toml:"temp_dir"`
}

type Detector struct {
	Backend       string   `toml:"backend"` // "dnn" or "worker"
	Prototxt      string   `toml:"prototxt"`
	Weights       string   `toml:"weights"`
	Confidence    float64  `toml:"confidence"`
	WorkerCommand []string `toml:"worker_command"`
}

type Mosaic struct {
	Ratio   float64 `toml:"ratio"`
	Padding float64 `toml:"padding"`
}

type Audio struct {
	Pitch       float64 `toml:"pitch"`
	PitchFilter string  `toml:"pitch_filter"` // "rubberband" or "asetrate"
	Codec       string  `toml:"codec"`
}

type Video struct {
	Codec   string `toml:"codec"`
	Quality int    `toml:"quality"` // -q:v; 0 leaves the encoder default
}

type Runtime struct {
	Workers       int `toml:"workers"`
	WorkerTimeout int `toml:"worker_timeout"` // seconds
}

type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

type Database struct {
	URL string `toml:"url"` // empty disables the job history
}

// Config encapsulates all configuration values for facemosaic.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Detector Detector `toml:"detector"`
	Mosaic   Mosaic   `toml:"mosaic"`
	Audio    Audio    `toml:"audio"`
	Video    Video    `toml:"video"`
	Runtime  Runtime  `toml:"runtime"`
	Logging  Logging  `toml:"logging"`
	Database Database `toml:"database"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/facemosaic/config.toml")
}

// Load locates, parses, and validates a configuration file. It returns the
// config, the path that was considered and whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config %s: %s", resolvedPath, strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("facemosaic.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// WorkerCount returns how many detector instances the frame pass runs.
func (c *Config) WorkerCount() int {
	if c.Runtime.Workers < 1 {
		return 1
	}
	return c.Runtime.Workers
}

// HistoryEnabled reports whether jobs are recorded in PostgreSQL.
func (c *Config) HistoryEnabled() bool {
	return strings.TrimSpace(c.Database.URL) != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
