package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/andresmejia3/facemosaic/internal/types"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (FFmpeg / worker logs)
// This ensures we don't lose critical crash information if a child process dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its Stderr pipe.
// Cancelling ctx kills the process. It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Logs returns the captured stderr, trimmed.
func (s *SafeCommand) Logs() string {
	if s == nil || s.Stderr == nil {
		return ""
	}
	return strings.TrimSpace(s.Stderr.String())
}

// ShowError is the unified error report for facemosaic.
// It prints a formatted error box and dumps child process logs if a SafeCommand is provided.
// Unlike a hard exit, it leaves the caller free to unwind and clean up.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FACEMOSAIC ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if logs := s.Logs(); logs != "" {
		fmt.Fprintf(os.Stderr, "\nPROCESS LOGS:\n%s\n", logs)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Video Engine ---

type sideData struct {
	Rotation float64 `json:"rotation"`
}

// ffprobeOutput is the subset of `ffprobe -of json` we care about.
type ffprobeOutput struct {
	Streams []struct {
		CodecType     string `json:"codec_type"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
		SampleRate    string `json:"sample_rate"`
		Duration      string `json:"duration"`
		Tags          struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []sideData `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func runProbe(ctx context.Context, ffprobe string, args ...string) (ffprobeOutput, error) {
	var res ffprobeOutput
	cmd := NewSafeCommand(ctx, ffprobe, args...)
	out, err := cmd.Output()
	if err != nil {
		if logs := cmd.Logs(); logs != "" {
			return res, fmt.Errorf("ffprobe: %w: %s", err, logs)
		}
		return res, fmt.Errorf("ffprobe: %w", err)
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return res, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	return res, nil
}

// ProbeVideo inspects the first video stream of path and counts its audio streams.
// It fails if the file cannot be opened or carries no video.
func ProbeVideo(ctx context.Context, ffprobe, path string) (types.VideoInfo, error) {
	res, err := runProbe(ctx, ffprobe, "-v", "error", "-show_streams", "-show_format", "-of", "json", "--", path)
	if err != nil {
		return types.VideoInfo{}, err
	}
	return videoInfo(res)
}

// videoInfo reports the frame size the decoder will emit. ffmpeg applies the
// display rotation while decoding, so a quarter turn swaps width and height.
func videoInfo(res ffprobeOutput) (types.VideoInfo, error) {
	var info types.VideoInfo
	found := false
	for _, s := range res.Streams {
		switch s.CodecType {
		case "video":
			if found {
				continue
			}
			found = true
			info.Width = s.Width
			info.Height = s.Height
			info.FPS = ParseFrameRate(s.AvgFrameRate)
			if info.FPS <= 0 {
				info.FPS = ParseFrameRate(s.RFrameRate)
			}
			if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
				info.Frames = n
			}
			info.Rotation = streamRotation(s.Tags.Rotate, s.SideDataList)
		case "audio":
			info.AudioStreams++
		}
	}
	if !found {
		return types.VideoInfo{}, errors.New("no video stream found")
	}
	if info.Width <= 0 || info.Height <= 0 {
		return types.VideoInfo{}, fmt.Errorf("invalid video dimensions %dx%d", info.Width, info.Height)
	}
	if info.FPS <= 0 {
		return types.VideoInfo{}, errors.New("unable to determine frame rate")
	}
	if info.Rotation%180 != 0 {
		info.Width, info.Height = info.Height, info.Width
	}
	info.Duration, _ = strconv.ParseFloat(res.Format.Duration, 64)
	return info, nil
}

// streamRotation reads the display matrix rotation, falling back to the
// legacy rotate tag. Only multiples of 90 degrees are meaningful.
func streamRotation(tag string, list []sideData) int {
	for _, sd := range list {
		if sd.Rotation != 0 {
			return int(math.Round(sd.Rotation/90)) * 90 % 360
		}
	}
	if deg, err := strconv.ParseFloat(strings.TrimSpace(tag), 64); err == nil {
		return int(math.Round(deg/90)) * 90 % 360
	}
	return 0
}

// ProbeAudio reads the sample rate and duration of the first audio stream in path.
func ProbeAudio(ctx context.Context, ffprobe, path string) (types.AudioInfo, error) {
	res, err := runProbe(ctx, ffprobe, "-v", "error", "-select_streams", "a:0", "-show_streams", "-show_format", "-of", "json", "--", path)
	if err != nil {
		return types.AudioInfo{}, err
	}
	if len(res.Streams) == 0 {
		return types.AudioInfo{}, errors.New("no audio stream found")
	}

	s := res.Streams[0]
	rate, err := strconv.Atoi(s.SampleRate)
	if err != nil || rate <= 0 {
		return types.AudioInfo{}, fmt.Errorf("invalid sample rate %q", s.SampleRate)
	}
	dur, err := strconv.ParseFloat(s.Duration, 64)
	if err != nil {
		// WAV streams sometimes only report a container duration
		dur, err = strconv.ParseFloat(res.Format.Duration, 64)
		if err != nil {
			return types.AudioInfo{}, fmt.Errorf("invalid duration %q", res.Format.Duration)
		}
	}
	return types.AudioInfo{SampleRate: rate, Duration: dur}, nil
}

// GetTotalFrames uses ffprobe to count packets for the progress bar
// It returns 0 if the count fails, allowing the caller to fallback to a spinner.
func GetTotalFrames(ctx context.Context, ffprobe, path string) int {
	// 0. Check dependency
	if _, err := exec.LookPath(ffprobe); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	// 1. Fast Path: Check Container Metadata
	// This is instant but might return "N/A" or be inaccurate for VFR.
	if res, err := runProbe(ctx, ffprobe, "-v", "error", "-select_streams", "v:0", "-show_entries", "stream=nb_frames", "-of", "json", path); err == nil && len(res.Streams) > 0 {
		if count, err := strconv.Atoi(res.Streams[0].NbFrames); err == nil && count > 0 {
			return count
		}
	}

	// 2. Slow Path: Count Packets (Fallback)
	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	res, err := runProbe(ctx, ffprobe, "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe failed: %v\n", err)
		return 0
	}
	if len(res.Streams) == 0 {
		return 0
	}

	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe integer parse error: %v\n", err)
		return 0
	}
	return count
}

// ParseFrameRate parses ffprobe rates like "30000/1001" or "25". Returns 0 when unparseable.
func ParseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// NewFFmpegRawDecoder creates a decoder pipe
// It configures FFmpeg to output raw RGBA frames to Stdout, one frame per width*height*4 bytes.
func NewFFmpegRawDecoder(ctx context.Context, ffmpeg, inputPath string) *SafeCommand {
	// -hide_banner and -loglevel error prevent memory bloat in the stderr buffer
	// -fps_mode passthrough keeps a 1:1 mapping between decoded and emitted frames
	// Autorotate stays on; ProbeVideo reports the rotated frame size to match
	return NewSafeCommand(ctx, ffmpeg, "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-map", "0:v:0",
		"-fps_mode", "passthrough",
		"-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// NewFFmpegEncoder creates an encoder that reads raw RGBA frames from Stdin and writes a silent video.
func NewFFmpegEncoder(ctx context.Context, ffmpeg, outputPath string, fps float64, width, height int, codec string, quality int) *SafeCommand {
	args := []string{"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-an",
		"-c:v", codec,
	}
	if quality > 0 {
		args = append(args, "-q:v", strconv.Itoa(quality))
	}
	args = append(args, "-pix_fmt", "yuv420p", outputPath)
	return NewSafeCommand(ctx, ffmpeg, args...)
}

// FingerprintFile creates a deterministic hash for the file
// based on its path, size, and modification time.
func FingerprintFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
