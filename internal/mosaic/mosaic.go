// Package mosaic pixelates rectangular regions of a frame in place.
package mosaic

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

const (
	// DefaultRatio shrinks a region to 5% of its linear size before it is blown back up.
	DefaultRatio = 0.05
	// DefaultPadding grows a face box by 20% of its height on every side.
	DefaultPadding = 0.2
)

// Options controls how a region is pixelated.
type Options struct {
	Ratio   float64
	Padding float64
}

// DefaultOptions returns the stock ratio and padding.
func DefaultOptions() Options {
	return Options{Ratio: DefaultRatio, Padding: DefaultPadding}
}

// Region pads box by padding*height on all four sides and clamps it to bounds.
// The origin is clamped first and the size is then limited by what remains of
// the frame, so a box hanging off the top-left edge keeps its padded size.
// An empty rectangle means there is nothing to pixelate.
func Region(box, bounds image.Rectangle, padding float64) image.Rectangle {
	pad := int(float64(box.Dy()) * padding)

	x := box.Min.X - pad
	y := box.Min.Y - pad
	w := box.Dx() + 2*pad
	h := box.Dy() + 2*pad

	x = max(bounds.Min.X, x)
	y = max(bounds.Min.Y, y)
	w = min(w, bounds.Max.X-x)
	h = min(h, bounds.Max.Y-y)

	if w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	return image.Rect(x, y, x+w, y+h)
}

// Apply pixelates the padded, clamped region around box. The region is
// downsampled by opts.Ratio and scaled back up with nearest-neighbour so every
// source sample becomes a solid block.
func Apply(img *image.RGBA, box image.Rectangle, opts Options) {
	r := Region(box, img.Bounds(), opts.Padding)
	if r.Empty() {
		return
	}

	sw := scaled(r.Dx(), opts.Ratio)
	sh := scaled(r.Dy(), opts.Ratio)
	small := image.NewRGBA(image.Rect(0, 0, sw, sh))

	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, r, draw.Src, nil)
	draw.NearestNeighbor.Scale(img, r, small, small.Bounds(), draw.Src, nil)
}

// scaled never returns less than one pixel, otherwise tiny faces would have
// nothing to sample.
func scaled(n int, ratio float64) int {
	s := int(math.Round(float64(n) * ratio))
	if s < 1 {
		return 1
	}
	if s > n {
		return n
	}
	return s
}
