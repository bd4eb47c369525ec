// Package pipeline runs a face-mosaic job: the frame pass, the audio pitch
// transform and the final mux, with temp artifacts removed on every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/facemosaic/internal/artifacts"
	"github.com/andresmejia3/facemosaic/internal/detector"
	"github.com/andresmejia3/facemosaic/internal/ffmpeg"
	"github.com/andresmejia3/facemosaic/internal/mosaic"
	"github.com/andresmejia3/facemosaic/internal/types"
)

// DefaultPitch lowers the voice noticeably without making it unintelligible.
const DefaultPitch = 0.85

// Job is one input → output conversion.
type Job struct {
	Input  string
	Output string
	Ratio  float64
}

// StageTiming records how long a stage took.
type StageTiming struct {
	Stage    Stage
	Duration time.Duration
}

// Report describes a finished job.
type Report struct {
	JobID        string
	Video        types.VideoInfo
	Frames       int
	Detections   int
	AudioShifted bool
	OutputBytes  int64
	Stages       []StageTiming
}

// Pipeline holds everything shared by the jobs of one invocation.
type Pipeline struct {
	Media      Media
	Transcoder *ffmpeg.Transcoder
	Engines    []detector.Detector
	TempDir    string
	Pitch      float64
	Padding    float64

	Logger *slog.Logger
	// Narration receives the user-facing progress lines (stderr in the CLI).
	Narration io.Writer
	// NewProgress builds the per-frame progress indicator; total is 0 when unknown.
	NewProgress func(total int) Progress
}

func (p *Pipeline) say(format string, args ...any) {
	if p.Narration != nil {
		fmt.Fprintf(p.Narration, format+"\n", args...)
	}
}

// Run executes job. Whatever happens, every temp artifact it created is gone
// when Run returns and the output path holds either the finished file or
// whatever it held before.
func (p *Pipeline) Run(ctx context.Context, job Job) (rep Report, err error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if job.Ratio == 0 {
		job.Ratio = mosaic.DefaultRatio
	}
	pitch := p.Pitch
	if pitch == 0 {
		pitch = DefaultPitch
	}

	if len(p.Engines) == 0 {
		return rep, &Error{Kind: FatalStartup, Stage: StageModel, Err: detector.ErrModelUnavailable}
	}
	if err := checkPaths(job); err != nil {
		return rep, &Error{Kind: FatalStartup, Stage: StageInput, Err: err}
	}

	mark := time.Now()
	timed := func(stage Stage) {
		rep.Stages = append(rep.Stages, StageTiming{Stage: stage, Duration: time.Since(mark)})
		mark = time.Now()
	}

	// OPEN_INPUT: nothing touches the disk before this succeeds
	info, err := p.Media.Probe(ctx, job.Input)
	if err != nil {
		return rep, fail(ctx, FatalStartup, StageInput, err)
	}
	rep.Video = info
	src, err := p.Media.OpenSource(ctx, job.Input, info)
	if err != nil {
		return rep, fail(ctx, FatalStartup, StageInput, err)
	}
	defer src.Close()

	arts, err := artifacts.New(p.TempDir, logger)
	if err != nil {
		return rep, fail(ctx, FatalStartup, StageTemp, err)
	}
	rep.JobID = arts.Token()
	logger = logger.With("job", rep.JobID)
	defer func() {
		registered := arts.Artifacts()
		paths := make([]string, 0, len(registered))
		for _, a := range registered {
			paths = append(paths, a.Path)
		}
		logger.Debug("removing temp artifacts", "count", len(paths), "paths", paths)
		if cerr := arts.Cleanup(); cerr != nil {
			logger.Warn("temp artifacts left behind", "error", cerr)
		}
	}()

	logger.Info("job started", "input", job.Input, "output", job.Output,
		"width", info.Width, "height", info.Height, "fps", info.FPS, "frames", info.Frames, "audio_streams", info.AudioStreams)

	// Frame pass
	p.say("🎭 Pixelating faces (%dx%d @ %.2f fps, %d engine(s))...", info.Width, info.Height, info.FPS, len(p.Engines))
	videoPath := arts.Path(artifacts.IntermediateVideo)
	sink, err := p.Media.CreateSink(ctx, videoPath, info)
	if err != nil {
		return rep, fail(ctx, FrameIOFailure, StageFrames, err)
	}
	defer sink.Close()

	var progress Progress
	if p.NewProgress != nil {
		progress = p.NewProgress(info.Frames)
	}
	stats, err := ProcessFrames(ctx, src, sink, p.Engines, Options{
		Mosaic:   mosaic.Options{Ratio: job.Ratio, Padding: p.Padding},
		Progress: progress,
		Logger:   logger,
	})
	if err != nil {
		return rep, err
	}
	if err := sink.Close(); err != nil {
		return rep, fail(ctx, FrameIOFailure, StageFrames, err)
	}
	rep.Frames, rep.Detections = stats.Frames, stats.Detections
	if info.Frames > 0 && stats.Frames != info.Frames {
		logger.Warn("frame count differs from container metadata", "expected", info.Frames, "written", stats.Frames)
	}
	timed(StageFrames)
	p.say("✅ Face mosaic pass complete: %d frames, %d faces pixelated.", stats.Frames, stats.Detections)

	// Audio
	var audioPath string
	if info.AudioStreams == 0 {
		p.say("🔇 No audio track found, skipping pitch transform.")
	} else {
		audioPath, err = p.shiftAudio(ctx, arts, job.Input, pitch, logger)
		if err != nil {
			return rep, err
		}
		rep.AudioShifted = true
		timed(StagePitch)
	}

	// Mux into a staged file next to the output, then rename
	staged := arts.StagedPath(job.Output)
	if err := p.Transcoder.Mux(ctx, videoPath, audioPath, staged); err != nil {
		return rep, fail(ctx, StageFailure, StageMux, err)
	}
	if err := arts.Promote(staged, job.Output); err != nil {
		return rep, fail(ctx, StageFailure, StageMux, err)
	}
	timed(StageMux)
	if fi, err := os.Stat(job.Output); err == nil {
		rep.OutputBytes = fi.Size()
	}
	p.say("🎉 Mux complete → %s", job.Output)
	logger.Info("job finished", "frames", rep.Frames, "detections", rep.Detections, "bytes", rep.OutputBytes)
	return rep, nil
}

func (p *Pipeline) shiftAudio(ctx context.Context, arts *artifacts.Manager, input string, pitch float64, logger *slog.Logger) (string, error) {
	raw := arts.Path(artifacts.RawAudio)
	if err := p.Transcoder.ExtractAudio(ctx, input, raw); err != nil {
		return "", fail(ctx, StageFailure, StageExtract, err)
	}
	before, err := p.Transcoder.ProbeAudio(ctx, raw)
	if err != nil {
		return "", fail(ctx, StageFailure, StageExtract, err)
	}
	p.say("🎧 Audio extracted (%d Hz, %.2fs).", before.SampleRate, before.Duration)

	shifted := arts.Path(artifacts.ShiftedAudio)
	if err := p.Transcoder.ShiftPitch(ctx, raw, shifted, pitch, before); err != nil {
		return "", fail(ctx, StageFailure, StagePitch, err)
	}
	after, err := p.Transcoder.ProbeAudio(ctx, shifted)
	if err != nil {
		return "", fail(ctx, StageFailure, StagePitch, err)
	}
	if err := ffmpeg.CheckDuration(before, after); err != nil {
		return "", fail(ctx, StageFailure, StagePitch, err)
	}
	logger.Debug("audio duration preserved", "before", before.Duration, "after", after.Duration)
	p.say("🔊 Audio pitch shifted by %gx, speed preserved.", pitch)
	return shifted, nil
}

// checkPaths rejects jobs that would overwrite their own input.
func checkPaths(job Job) error {
	if job.Input == "" || job.Output == "" {
		return errors.New("input and output paths are required")
	}
	in, err := filepath.Abs(job.Input)
	if err != nil {
		return err
	}
	out, err := filepath.Abs(job.Output)
	if err != nil {
		return err
	}
	if in == out {
		return fmt.Errorf("output %s would overwrite the input", job.Output)
	}
	if fi, err := os.Stat(job.Input); err != nil {
		return fmt.Errorf("input unreadable: %w", err)
	} else if fi.IsDir() {
		return fmt.Errorf("input %s is a directory", job.Input)
	}
	if fi, err := os.Stat(filepath.Dir(out)); err != nil || !fi.IsDir() {
		return fmt.Errorf("output directory %s does not exist", filepath.Dir(out))
	}
	return nil
}
