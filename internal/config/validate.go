package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDetector(); err != nil {
		return err
	}
	if err := c.validateMosaic(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateRuntime(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.FFmpeg == "" {
		return errors.New("paths.ffmpeg must be set")
	}
	if c.Paths.FFprobe == "" {
		return errors.New("paths.ffprobe must be set")
	}
	return nil
}

func (c *Config) validateDetector() error {
	switch c.Detector.Backend {
	case BackendDNN:
	case BackendWorker:
		if len(c.Detector.WorkerCommand) == 0 {
			return errors.New("detector.worker_command must be set when detector.backend is \"worker\"")
		}
	default:
		return fmt.Errorf("detector.backend must be %q or %q, got %q", BackendDNN, BackendWorker, c.Detector.Backend)
	}
	if c.Detector.Prototxt == "" || c.Detector.Weights == "" {
		return errors.New("detector.prototxt and detector.weights must be set")
	}
	if c.Detector.Confidence <= 0 || c.Detector.Confidence > 1 {
		return errors.New("detector.confidence must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateMosaic() error {
	if err := ValidateRatio(c.Mosaic.Ratio); err != nil {
		return fmt.Errorf("mosaic.ratio: %w", err)
	}
	if c.Mosaic.Padding < 0 || c.Mosaic.Padding > 1 {
		return errors.New("mosaic.padding must be between 0 and 1")
	}
	return nil
}

// ValidateRatio checks a mosaic downscale factor.
func ValidateRatio(ratio float64) error {
	if ratio <= 0 || ratio > 1 {
		return fmt.Errorf("ratio must be in (0, 1], got %v", ratio)
	}
	return nil
}

func (c *Config) validateAudio() error {
	if c.Audio.Pitch <= 0 || c.Audio.Pitch >= 2 {
		return errors.New("audio.pitch must be in (0, 2)")
	}
	switch c.Audio.PitchFilter {
	case FilterRubberband, FilterAsetrate:
	default:
		return fmt.Errorf("audio.pitch_filter must be %q or %q, got %q", FilterRubberband, FilterAsetrate, c.Audio.PitchFilter)
	}
	if c.Audio.Codec == "" {
		return errors.New("audio.codec must be set")
	}
	if c.Video.Codec == "" {
		return errors.New("video.codec must be set")
	}
	if c.Video.Quality < 0 || c.Video.Quality > 31 {
		return errors.New("video.quality must be between 0 and 31")
	}
	return nil
}

func (c *Config) validateRuntime() error {
	if c.Runtime.Workers < 1 {
		return errors.New("runtime.workers must be at least 1")
	}
	if c.Runtime.WorkerTimeout <= 0 {
		return errors.New("runtime.worker_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
