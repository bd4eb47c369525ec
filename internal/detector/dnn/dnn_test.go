package dnn

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facemosaic/internal/detector"
)

func TestNewMissingModel(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Config{
		Prototxt: filepath.Join(dir, "deploy.prototxt"),
		Weights:  filepath.Join(dir, "res10_300x300_ssd_iter_140000.caffemodel"),
	})
	if !errors.Is(err, detector.ErrModelUnavailable) {
		t.Fatalf("Expected ErrModelUnavailable, got %v", err)
	}
}
