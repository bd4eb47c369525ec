package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/andresmejia3/facemosaic/internal/types"
	"github.com/andresmejia3/facemosaic/internal/utils"
)

// FrameSource yields frames in input order and returns io.EOF after the last one.
type FrameSource interface {
	Next() (*types.Frame, error)
	Close() error
}

// FrameSink consumes frames in the order they are written. Sinks must not
// retain a frame after Write returns; its buffer may be recycled.
type FrameSink interface {
	Write(f *types.Frame) error
	Close() error
}

// Media opens the video ends of the frame pass.
type Media interface {
	Probe(ctx context.Context, path string) (types.VideoInfo, error)
	OpenSource(ctx context.Context, path string, info types.VideoInfo) (FrameSource, error)
	CreateSink(ctx context.Context, path string, info types.VideoInfo) (FrameSink, error)
}

// FFmpegMedia decodes and encodes raw RGBA frames through ffmpeg pipes.
type FFmpegMedia struct {
	FFmpeg     string
	FFprobe    string
	VideoCodec string
	Quality    int
}

// Probe reads stream metadata, falling back to a packet count when the container has no frame count.
func (m *FFmpegMedia) Probe(ctx context.Context, path string) (types.VideoInfo, error) {
	info, err := utils.ProbeVideo(ctx, m.FFprobe, path)
	if err != nil {
		return info, err
	}
	if info.Frames == 0 {
		info.Frames = utils.GetTotalFrames(ctx, m.FFprobe, path)
	}
	return info, nil
}

// Buffer pool to reduce GC pressure while decoding
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, 1024*1024) },
}

type rawSource struct {
	cmd  *utils.SafeCommand
	out  io.ReadCloser
	info types.VideoInfo
	idx  int
	done bool
}

// OpenSource starts an ffmpeg decoder that streams RGBA frames of path.
func (m *FFmpegMedia) OpenSource(ctx context.Context, path string, info types.VideoInfo) (FrameSource, error) {
	decoder := utils.NewFFmpegRawDecoder(ctx, m.FFmpeg, path)
	out, err := decoder.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := decoder.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}
	return &rawSource{cmd: decoder, out: out, info: info}, nil
}

func (s *rawSource) Next() (*types.Frame, error) {
	if s.done {
		return nil, io.EOF
	}

	frameSize := s.info.FrameSize()
	buf := frameBufferPool.Get().([]byte)
	if cap(buf) < frameSize {
		buf = make([]byte, frameSize)
	}
	buf = buf[:frameSize]

	if _, err := io.ReadFull(s.out, buf); err != nil {
		frameBufferPool.Put(buf)
		s.done = true
		if errors.Is(err, io.EOF) {
			// Clean end of stream only if ffmpeg agrees
			if werr := s.cmd.Wait(); werr != nil {
				return nil, fmt.Errorf("decoder failed: %w: %s", werr, s.cmd.Logs())
			}
			return nil, io.EOF
		}
		s.abort()
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame %d: %s", s.idx, s.cmd.Logs())
		}
		return nil, fmt.Errorf("read frame %d: %w", s.idx, err)
	}

	f := &types.Frame{
		Index: s.idx,
		Image: &image.RGBA{
			Pix:    buf,
			Stride: s.info.Width * 4,
			Rect:   image.Rect(0, 0, s.info.Width, s.info.Height),
		},
	}
	s.idx++
	return f, nil
}

// Release hands a frame buffer back to the pool once the sink is done with it.
func (s *rawSource) Release(f *types.Frame) {
	frameBufferPool.Put(f.Image.Pix[:0])
}

func (s *rawSource) abort() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}

// Close stops the decoder if the stream was not read to the end.
func (s *rawSource) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	s.abort()
	return nil
}

type rawSink struct {
	cmd    *utils.SafeCommand
	in     io.WriteCloser
	closed bool
}

// CreateSink starts an ffmpeg encoder writing a silent video to path.
func (m *FFmpegMedia) CreateSink(ctx context.Context, path string, info types.VideoInfo) (FrameSink, error) {
	encoder := utils.NewFFmpegEncoder(ctx, m.FFmpeg, path, info.FPS, info.Width, info.Height, m.VideoCodec, m.Quality)
	in, err := encoder.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder pipe: %w", err)
	}
	if err := encoder.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}
	return &rawSink{cmd: encoder, in: in}, nil
}

func (s *rawSink) Write(f *types.Frame) error {
	if _, err := s.in.Write(f.Image.Pix); err != nil {
		return fmt.Errorf("write frame %d: %w: %s", f.Index, err, s.cmd.Logs())
	}
	return nil
}

// Close flushes the encoder and reports whether it finished cleanly.
func (s *rawSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.in.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder failed: %w: %s", err, s.cmd.Logs())
	}
	return nil
}
