// Package dnn runs the res10 SSD face detector through OpenCV's DNN module.
package dnn

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/facemosaic/internal/detector"
	"github.com/andresmejia3/facemosaic/internal/types"
)

// The res10 SSD expects a 300x300 BGR blob with these channel means subtracted.
const inputSize = 300

var meanBGR = gocv.NewScalar(104, 177, 123, 0)

// Config points at the Caffe topology and weights.
type Config struct {
	Prototxt  string
	Weights   string
	Threshold float64
}

// Detector wraps a loaded Caffe network. Not safe for concurrent use.
type Detector struct {
	net       gocv.Net
	bgr       gocv.Mat
	threshold float64
}

var _ detector.Detector = (*Detector)(nil)

// New loads the network. A missing or unreadable model is reported as detector.ErrModelUnavailable.
func New(cfg Config) (*Detector, error) {
	if err := detector.CheckModelFiles(cfg.Prototxt, cfg.Weights); err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromCaffe(cfg.Prototxt, cfg.Weights)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w: opencv could not load %s", detector.ErrModelUnavailable, cfg.Weights)
	}

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = detector.DefaultThreshold
	}

	return &Detector{
		net:       net,
		bgr:       gocv.NewMat(),
		threshold: threshold,
	}, nil
}

// Detect runs one forward pass and returns boxes scaled back to frame pixels.
func (d *Detector) Detect(img *image.RGBA) ([]types.Detection, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()

	// Zero-Copy: the Mat views the frame's RGBA buffer directly
	rgba, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, img.Pix)
	if err != nil {
		return nil, fmt.Errorf("wrap frame: %w", err)
	}
	defer rgba.Close()

	gocv.CvtColor(rgba, &d.bgr, gocv.ColorRGBAToBGR)

	blob := gocv.BlobFromImage(d.bgr, 1.0, image.Pt(inputSize, inputSize), meanBGR, false, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	results := d.net.Forward("")
	defer results.Close()

	// Output is [1, 1, N, 7]: image_id, label, confidence, x1, y1, x2, y2
	var dets []types.Detection
	for i := 0; i+6 < results.Total(); i += 7 {
		conf := float64(results.GetFloatAt(0, i+2))
		if conf < d.threshold {
			continue
		}
		box := detector.FromNormalized(
			float64(results.GetFloatAt(0, i+3)),
			float64(results.GetFloatAt(0, i+4)),
			float64(results.GetFloatAt(0, i+5)),
			float64(results.GetFloatAt(0, i+6)),
			w, h,
		)
		dets = append(dets, types.Detection{Box: box, Confidence: conf})
	}
	return detector.Filter(dets, d.threshold), nil
}

// Close releases the network and scratch buffers.
func (d *Detector) Close() error {
	d.bgr.Close()
	return d.net.Close()
}
