package config

const (
	BackendDNN    = "dnn"
	BackendWorker = "worker"

	FilterRubberband = "rubberband"
	FilterAsetrate   = "asetrate"

	defaultPrototxt = "~/.local/share/facemosaic/models/deploy.prototxt"
	defaultWeights  = "~/.local/share/facemosaic/models/res10_300x300_ssd_iter_140000.caffemodel"
)

// Default returns the configuration used when no file or environment overrides exist.
func Default() Config {
	return Config{
		Paths: Paths{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
		},
		Detector: Detector{
			Backend:    BackendDNN,
			Prototxt:   defaultPrototxt,
			Weights:    defaultWeights,
			Confidence: 0.5,
		},
		Mosaic: Mosaic{
			Ratio:   0.05,
			Padding: 0.2,
		},
		Audio: Audio{
			Pitch:       0.85,
			PitchFilter: FilterRubberband,
			Codec:       "aac",
		},
		Video: Video{
			Codec:   "mpeg4",
			Quality: 2,
		},
		Runtime: Runtime{
			Workers:       1,
			WorkerTimeout: 30,
		},
		Logging: Logging{
			Format: "text",
			Level:  "warn",
		},
	}
}
