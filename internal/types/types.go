package types

import "image"

// Frame is one decoded video frame. Index is its position in the input stream.
type Frame struct {
	Index int
	Image *image.RGBA
}

// Detection is a face box in the pixel space of the frame it was found in.
type Detection struct {
	Box        image.Rectangle
	Confidence float64
}

// VideoInfo describes the input video as reported by ffprobe.
type VideoInfo struct {
	Width        int
	Height       int
	FPS          float64
	Frames       int // 0 when unknown
	AudioStreams int
	Duration     float64
	Rotation     int // display rotation in degrees; Width and Height are already as decoded
}

// FrameSize is the byte length of one raw RGBA frame.
func (v VideoInfo) FrameSize() int {
	return v.Width * v.Height * 4
}

// AudioInfo describes a single audio track.
type AudioInfo struct {
	SampleRate int
	Duration   float64
}

