package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why a job stopped.
type Kind int

const (
	// FatalStartup: model artifacts or the input could not be loaded. Nothing was written.
	FatalStartup Kind = iota + 1
	// FrameIOFailure: a frame could not be read from the input or written to the intermediate video.
	FrameIOFailure
	// StageFailure: an external process (detector, ffmpeg) did not complete successfully.
	StageFailure
	// Canceled: the job was interrupted.
	Canceled
)

func (k Kind) String() string {
	switch k {
	case FatalStartup:
		return "fatal startup"
	case FrameIOFailure:
		return "frame I/O failure"
	case StageFailure:
		return "stage failure"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Stage names a step of the job for error reporting.
type Stage string

const (
	StageModel   Stage = "load detection model"
	StageInput   Stage = "open input"
	StageTemp    Stage = "prepare temp artifacts"
	StageFrames  Stage = "face mosaic pass"
	StageDetect  Stage = "face detection"
	StageExtract Stage = "audio extraction"
	StagePitch   Stage = "pitch transform"
	StageMux     Stage = "mux"
)

// Error is the terminal error of a job.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// fail wraps err for stage. A cancelled context wins over the given kind so
// that an interrupted ffmpeg is not reported as a broken one.
func fail(ctx context.Context, kind Kind, stage Stage, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		kind = Canceled
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf extracts the Kind of a job error, or 0 if err did not come from a job.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
