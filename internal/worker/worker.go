// Package worker drives an external face detection process.
//
// Wire protocol, all integers big endian:
//
//	request  (stdin): [u32 len][u32 width][u32 height][width*height*4 RGBA bytes]
//	response (fd 3):  [u32 len][status u8][body]
//	  status 0: [u32 n] then n x ([4]f32 normalized x1,y1,x2,y2, f32 confidence)
//	  status 1: [u32 msgLen][msg]
//
// The first response after start is the ready handshake: status 0 with n = 0
// once the model is loaded, or status 1 if it could not be loaded.
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/facemosaic/internal/detector"
	"github.com/andresmejia3/facemosaic/internal/types"
	"github.com/andresmejia3/facemosaic/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK  = 0
	statusErr = 1

	// A face record is four box coordinates plus a confidence, each a float32.
	faceRecordSize = 5 * 4

	// maxFaces bounds a single response; status byte + count + records.
	maxFaces        = 4096
	maxResponseSize = 1 + 4 + maxFaces*faceRecordSize
)

// Config describes how to launch a detection worker.
type Config struct {
	Command     []string // e.g. ["python3", "-u", "detect_worker.py"]
	Prototxt    string
	Weights     string
	Threshold   float64
	ReadTimeout time.Duration
}

// ProcessWorker is a detector.Detector backed by a child process.
type ProcessWorker struct {
	ID        int
	Cmd       *utils.SafeCommand
	Stdin     io.WriteCloser
	DataPipe  io.ReadCloser
	Threshold float64
	Timeout   time.Duration
}

var _ detector.Detector = (*ProcessWorker)(nil)

// NewProcessWorker starts the worker and waits for its ready handshake.
func NewProcessWorker(ctx context.Context, id int, cfg Config) (*ProcessWorker, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("worker command not configured")
	}
	if err := detector.CheckModelFiles(cfg.Prototxt, cfg.Weights); err != nil {
		return nil, err
	}

	args := append(append([]string{}, cfg.Command[1:]...),
		"--prototxt", cfg.Prototxt,
		"--weights", cfg.Weights,
	)
	proc := utils.NewSafeCommand(ctx, cfg.Command[0], args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = detector.DefaultThreshold
	}

	pw := &ProcessWorker{
		ID:        id,
		Cmd:       proc,
		Stdin:     stdin,
		DataPipe:  r,
		Threshold: threshold,
		Timeout:   cfg.ReadTimeout,
	}
	if err := pw.awaitReady(); err != nil {
		pw.Close()
		return nil, err
	}
	return pw, nil
}

// awaitReady consumes the handshake. A worker that reports an error here could not load its model.
func (w *ProcessWorker) awaitReady() error {
	body, err := w.readMessage()
	if err != nil {
		return fmt.Errorf("worker %d did not become ready: %w", w.ID, err)
	}
	if _, err := decodeFaces(body); err != nil {
		return fmt.Errorf("%w: %v", detector.ErrModelUnavailable, err)
	}
	return nil
}

// Communicate sends one length-prefixed request and returns the response body.
func (w *ProcessWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}
	return w.readMessage()
}

func (w *ProcessWorker) readMessage() ([]byte, error) {
	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.Timeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(w.Timeout))
	}

	// Read Result
	// We read from the clean DataPipe, so stray prints on stdout can't corrupt the stream.
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch a worker that crashed on import
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponseSize {
		return nil, fmt.Errorf("malformed response: worker announced %d bytes, limit is %d", respLen, maxResponseSize)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Detect sends a frame to the worker and scales the returned boxes to frame pixels.
func (w *ProcessWorker) Detect(img *image.RGBA) ([]types.Detection, error) {
	width, height := img.Rect.Dx(), img.Rect.Dy()

	payload := make([]byte, 8, 8+len(img.Pix))
	binary.BigEndian.PutUint32(payload[0:4], uint32(width))
	binary.BigEndian.PutUint32(payload[4:8], uint32(height))
	payload = append(payload, img.Pix...)

	resp, err := w.Communicate(payload)
	if err != nil {
		return nil, err
	}

	faces, err := decodeFaces(resp)
	if err != nil {
		return nil, err
	}

	dets := make([]types.Detection, 0, len(faces))
	for _, f := range faces {
		dets = append(dets, types.Detection{
			Box:        detector.FromNormalized(float64(f[0]), float64(f[1]), float64(f[2]), float64(f[3]), width, height),
			Confidence: float64(f[4]),
		})
	}
	return detector.Filter(dets, w.Threshold), nil
}

// decodeFaces parses a response body into [x1, y1, x2, y2, conf] records.
func decodeFaces(body []byte) ([][5]float32, error) {
	if len(body) == 0 {
		return nil, errors.New("empty response from worker")
	}

	r := bytes.NewReader(body[1:])
	switch body[0] {
	case statusOK:
	case statusErr:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("detection worker error: %s", msg)
	default:
		return nil, fmt.Errorf("unknown worker status %d", body[0])
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("malformed face count: %w", err)
	}
	if int64(n)*faceRecordSize > int64(r.Len()) {
		return nil, fmt.Errorf("worker announced %d faces but sent %d bytes", n, r.Len())
	}

	faces := make([][5]float32, n)
	if err := binary.Read(r, binary.BigEndian, faces); err != nil {
		return nil, fmt.Errorf("malformed face records: %w", err)
	}
	return faces, nil
}

// Close shuts down the worker's pipes and waits for it to exit.
func (w *ProcessWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
