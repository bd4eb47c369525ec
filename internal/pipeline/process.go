package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/facemosaic/internal/detector"
	"github.com/andresmejia3/facemosaic/internal/mosaic"
	"github.com/andresmejia3/facemosaic/internal/types"
)

// Progress receives one tick per written frame.
type Progress interface {
	Add(n int) error
}

// Options tunes a frame pass.
type Options struct {
	Mosaic   mosaic.Options
	Progress Progress
	Logger   *slog.Logger
}

// Stats summarizes a finished frame pass.
type Stats struct {
	Frames     int
	Detections int
}

type result struct {
	frame *types.Frame
	faces int
}

// ProcessFrames reads every frame from src, pixelates each detected face and
// writes the frame to sink in input order. With a single engine frames are
// handled strictly one at a time; with more, each engine runs on its own
// goroutine and results are reordered before writing. Neither src nor sink is
// closed.
func ProcessFrames(ctx context.Context, src FrameSource, sink FrameSink, engines []detector.Detector, opts Options) (Stats, error) {
	if len(engines) == 0 {
		return Stats{}, &Error{Kind: FatalStartup, Stage: StageModel, Err: errors.New("no detector loaded")}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if len(engines) == 1 {
		return processSequential(ctx, src, sink, engines[0], opts)
	}
	return processParallel(ctx, src, sink, engines, opts)
}

func processSequential(ctx context.Context, src FrameSource, sink FrameSink, engine detector.Detector, opts Options) (Stats, error) {
	var stats Stats
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return stats, fail(ctx, Canceled, StageFrames, err)
		}

		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fail(ctx, FrameIOFailure, StageFrames, err)
		}
		f.Index = idx

		faces, err := redact(engine, f, opts.Mosaic)
		if err != nil {
			return stats, fail(ctx, StageFailure, StageDetect, err)
		}
		if err := emit(src, sink, f, opts); err != nil {
			return stats, fail(ctx, FrameIOFailure, StageFrames, err)
		}
		stats.Frames++
		stats.Detections += faces
	}
}

func processParallel(ctx context.Context, src FrameSource, sink FrameSink, engines []detector.Detector, opts Options) (Stats, error) {
	var stats Stats
	g, gctx := errgroup.WithContext(ctx)

	tasks := make(chan *types.Frame, len(engines))
	results := make(chan result, len(engines))

	// Reader
	g.Go(func() error {
		defer close(tasks)
		for idx := 0; ; idx++ {
			if err := gctx.Err(); err != nil {
				return fail(ctx, Canceled, StageFrames, err)
			}
			f, err := src.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fail(ctx, FrameIOFailure, StageFrames, err)
			}
			f.Index = idx
			select {
			case tasks <- f:
			case <-gctx.Done():
				return fail(ctx, Canceled, StageFrames, gctx.Err())
			}
		}
	})

	// Detectors
	workers, wctx := errgroup.WithContext(gctx)
	for i, engine := range engines {
		workers.Go(func() error {
			for f := range tasks {
				faces, err := redact(engine, f, opts.Mosaic)
				if err != nil {
					return fail(ctx, StageFailure, StageDetect, fmt.Errorf("worker %d, frame %d: %w", i, f.Index, err))
				}
				select {
				case results <- result{frame: f, faces: faces}:
				case <-wctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(results)
		return workers.Wait()
	})

	// Writer: restore input order before handing frames to the sink
	g.Go(func() error {
		buffer := make(map[int]result)
		nextFrame := 0
		for res := range results {
			buffer[res.frame.Index] = res
			for {
				r, ok := buffer[nextFrame]
				if !ok {
					break
				}
				delete(buffer, nextFrame)
				if err := emit(src, sink, r.frame, opts); err != nil {
					return fail(ctx, FrameIOFailure, StageFrames, err)
				}
				stats.Frames++
				stats.Detections += r.faces
				nextFrame++
			}
		}
		if len(buffer) > 0 && gctx.Err() == nil {
			return fail(ctx, FrameIOFailure, StageFrames, fmt.Errorf("%d frames never reached the writer after frame %d", len(buffer), nextFrame))
		}
		return nil
	})

	err := g.Wait()
	return stats, err
}

// redact detects faces in f and pixelates every one of them in place.
func redact(engine detector.Detector, f *types.Frame, opts mosaic.Options) (int, error) {
	dets, err := engine.Detect(f.Image)
	if err != nil {
		return 0, err
	}
	for _, d := range dets {
		mosaic.Apply(f.Image, d.Box, opts)
	}
	return len(dets), nil
}

type releaser interface {
	Release(f *types.Frame)
}

func emit(src FrameSource, sink FrameSink, f *types.Frame, opts Options) error {
	if err := sink.Write(f); err != nil {
		return err
	}
	if r, ok := src.(releaser); ok {
		r.Release(f)
	}
	if opts.Progress != nil {
		_ = opts.Progress.Add(1)
	}
	return nil
}
