// Package ffmpeg builds and runs the external transcoding steps of a job:
// audio extraction, pitch shifting and the final mux.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/andresmejia3/facemosaic/internal/types"
	"github.com/andresmejia3/facemosaic/internal/utils"
)

// Pitch filter implementations.
const (
	FilterRubberband = "rubberband"
	FilterAsetrate   = "asetrate"
)

// Result is what a finished external process reported.
type Result struct {
	ExitCode int
	Stderr   string
}

// Runner runs one external command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands as real child processes.
type ExecRunner struct{}

// Run executes name with args. A non-zero exit status is returned as an error
// together with the captured stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := utils.NewSafeCommand(ctx, name, args...)
	err := cmd.Run()
	res := Result{ExitCode: cmd.ProcessState.ExitCode(), Stderr: cmd.Logs()}
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, err
	}
	return res, nil
}

// Transcoder holds the binaries and codec choices shared by every step.
type Transcoder struct {
	Runner      Runner
	FFmpeg      string
	FFprobe     string
	AudioCodec  string
	PitchFilter string

	// AudioProber overrides how audio artifacts are probed. Nil means ffprobe.
	AudioProber func(ctx context.Context, path string) (types.AudioInfo, error)
}

// StatusError reports a step whose process did not complete successfully.
type StatusError struct {
	Step     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: ffmpeg exited with status %d", e.Step, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	}
	return msg
}

func (e *StatusError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (t *Transcoder) run(ctx context.Context, step string, args ...string) error {
	base := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y"}
	res, err := t.Runner.Run(ctx, t.FFmpeg, append(base, args...)...)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &StatusError{Step: step, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	if res.ExitCode != 0 {
		return &StatusError{Step: step, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}

// ExtractAudio copies the first audio track of input into a 16-bit PCM WAV file.
func (t *Transcoder) ExtractAudio(ctx context.Context, input, rawWAV string) error {
	return t.run(ctx, "extract audio",
		"-i", input,
		"-map", "0:a:0",
		"-vn",
		"-acodec", "pcm_s16le",
		rawWAV,
	)
}

// PitchFilterGraph returns the audio filter that changes pitch by ratio without changing duration.
// The asetrate chain needs the source sample rate; rubberband does not.
func PitchFilterGraph(filter string, ratio float64, sampleRate int) (string, error) {
	if ratio <= 0 || ratio >= 2 {
		return "", fmt.Errorf("pitch ratio must be in (0, 2), got %v", ratio)
	}
	switch filter {
	case "", FilterRubberband:
		return "rubberband=pitch=" + formatFloat(ratio), nil
	case FilterAsetrate:
		if sampleRate <= 0 {
			return "", errors.New("asetrate pitch filter needs the source sample rate")
		}
		shifted := int(math.Round(float64(sampleRate) * ratio))
		return fmt.Sprintf("asetrate=%d,aresample=%d,%s", shifted, sampleRate, tempoChain(1/ratio)), nil
	default:
		return "", fmt.Errorf("unknown pitch filter %q", filter)
	}
}

// tempoChain splits a tempo factor into atempo stages within [0.5, 2], the
// range every ffmpeg release accepts.
func tempoChain(tempo float64) string {
	var stages []string
	for tempo > 2 {
		stages = append(stages, "atempo=2")
		tempo /= 2
	}
	for tempo < 0.5 {
		stages = append(stages, "atempo=0.5")
		tempo /= 0.5
	}
	stages = append(stages, "atempo="+formatFloat(tempo))
	return strings.Join(stages, ",")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ShiftPitch changes the pitch of rawWAV by ratio while holding its duration, writing shiftedWAV.
func (t *Transcoder) ShiftPitch(ctx context.Context, rawWAV, shiftedWAV string, ratio float64, src types.AudioInfo) error {
	graph, err := PitchFilterGraph(t.PitchFilter, ratio, src.SampleRate)
	if err != nil {
		return err
	}
	return t.run(ctx, "pitch shift",
		"-i", rawWAV,
		"-filter:a", graph,
		"-acodec", "pcm_s16le",
		shiftedWAV,
	)
}

// Mux copies the video bitstream from video, encodes audio (if any) with the
// configured codec, and writes output with both streams starting at zero.
// An empty audio path produces a video-only output.
func (t *Transcoder) Mux(ctx context.Context, video, audio, output string) error {
	if err := requireFile(video); err != nil {
		return fmt.Errorf("mux: %w", err)
	}
	args := []string{"-i", video}
	if audio != "" {
		if err := requireFile(audio); err != nil {
			return fmt.Errorf("mux: %w", err)
		}
		args = append(args, "-i", audio, "-map", "0:v:0", "-map", "1:a:0", "-c:v", "copy", "-c:a", t.AudioCodec)
	} else {
		args = append(args, "-map", "0:v:0", "-c:v", "copy")
	}
	args = append(args, "-avoid_negative_ts", "make_zero", output)
	return t.run(ctx, "mux", args...)
}

// requireFile fails if path is missing or empty.
func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("intermediate artifact unreadable: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("intermediate artifact %s is empty", path)
	}
	return nil
}

// CheckDuration reports whether after lasts as long as before, within one sample period.
func CheckDuration(before, after types.AudioInfo) error {
	if before.SampleRate <= 0 {
		return errors.New("unknown sample rate")
	}
	tolerance := 1 / float64(before.SampleRate)
	if drift := math.Abs(after.Duration - before.Duration); drift > tolerance {
		return fmt.Errorf("duration drifted by %.6fs (%.3fs -> %.3fs)", drift, before.Duration, after.Duration)
	}
	return nil
}

// ProbeAudio reads sample rate and duration of an audio artifact with ffprobe.
func (t *Transcoder) ProbeAudio(ctx context.Context, path string) (types.AudioInfo, error) {
	if t.AudioProber != nil {
		return t.AudioProber(ctx, path)
	}
	return utils.ProbeAudio(ctx, t.FFprobe, path)
}
