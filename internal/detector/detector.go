// Package detector defines the face detection contract shared by the
// in-process DNN backend and the external worker backend.
package detector

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/andresmejia3/facemosaic/internal/types"
)

// DefaultThreshold is the minimum confidence a detection needs to be kept.
const DefaultThreshold = 0.5

// ErrModelUnavailable is returned when a model artifact cannot be found at startup.
var ErrModelUnavailable = errors.New("detection model unavailable")

// Detector finds faces in a single frame. Implementations are not safe for
// concurrent use; the pipeline gives each worker its own instance.
type Detector interface {
	Detect(img *image.RGBA) ([]types.Detection, error)
	Close() error
}

// CheckModelFiles verifies that every model artifact exists and is a regular, non-empty file.
func CheckModelFiles(paths ...string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s", ErrModelUnavailable, p)
			}
			return fmt.Errorf("stat model artifact %s: %w", p, err)
		}
		if info.IsDir() || info.Size() == 0 {
			return fmt.Errorf("%w: %s is not a model file", ErrModelUnavailable, p)
		}
	}
	return nil
}

// FromNormalized converts a box in [0,1] model space into pixel space of a
// width x height frame. The confidence threshold is applied by the caller.
func FromNormalized(x1, y1, x2, y2 float64, width, height int) image.Rectangle {
	w, h := float64(width), float64(height)
	return image.Rect(int(x1*w), int(y1*h), int(x2*w), int(y2*h))
}

// Filter drops detections below threshold and degenerate boxes, preserving order.
func Filter(dets []types.Detection, threshold float64) []types.Detection {
	out := dets[:0]
	for _, d := range dets {
		if d.Confidence < threshold {
			continue
		}
		if d.Box.Dx() <= 0 || d.Box.Dy() <= 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}
