package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/facemosaic/internal/config"
	"github.com/andresmejia3/facemosaic/internal/detector"
	"github.com/andresmejia3/facemosaic/internal/detector/dnn"
	"github.com/andresmejia3/facemosaic/internal/ffmpeg"
	"github.com/andresmejia3/facemosaic/internal/logging"
	"github.com/andresmejia3/facemosaic/internal/pipeline"
	"github.com/andresmejia3/facemosaic/internal/store"
	"github.com/andresmejia3/facemosaic/internal/utils"
	"github.com/andresmejia3/facemosaic/internal/worker"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

func runMosaic(ctx context.Context, input, output string, ratio float64) error {
	// Create a cancellable context to ensure all child processes (FFmpeg, workers)
	// are killed immediately if this function returns early (e.g. on error).
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := config.ValidateRatio(ratio); err != nil {
		return fmt.Errorf("--ratio: %w", err)
	}

	// Models load before the input is touched
	fmt.Fprintln(os.Stderr, "🚀 Warming up engines...")
	engines, err := loadDetectors(ctx, Cfg)
	if err != nil {
		utils.ShowError("Failed to load detection model", err, nil)
		return &pipeline.Error{Kind: pipeline.FatalStartup, Stage: pipeline.StageModel, Err: err}
	}
	defer func() {
		for _, e := range engines {
			e.Close()
		}
	}()

	p := newPipeline(engines)
	job := pipeline.Job{Input: input, Output: output, Ratio: ratio}

	ledger := startHistory(ctx, job)
	rep, err := p.Run(ctx, job)
	ledger.finish(rep, err)

	if err != nil {
		var pe *pipeline.Error
		if errors.As(err, &pe) && pe.Kind == pipeline.Canceled {
			fmt.Fprintln(os.Stderr, "\n🛑 Interrupted. Temporary files removed.")
			return err
		}
		var se *ffmpeg.StatusError
		if errors.As(err, &se) {
			Logger.Debug("ffmpeg stderr", "step", se.Step, "stderr", se.Stderr)
		}
		utils.ShowError(errorContext(err), err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, renderSummary(job, rep))
	return nil
}

func newPipeline(engines []detector.Detector) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Media: &pipeline.FFmpegMedia{
			FFmpeg:     Cfg.Paths.FFmpeg,
			FFprobe:    Cfg.Paths.FFprobe,
			VideoCodec: Cfg.Video.Codec,
			Quality:    Cfg.Video.Quality,
		},
		Transcoder: &ffmpeg.Transcoder{
			Runner:      ffmpeg.ExecRunner{},
			FFmpeg:      Cfg.Paths.FFmpeg,
			FFprobe:     Cfg.Paths.FFprobe,
			AudioCodec:  Cfg.Audio.Codec,
			PitchFilter: Cfg.Audio.PitchFilter,
		},
		Engines:     engines,
		TempDir:     Cfg.Paths.TempDir,
		Pitch:       Cfg.Audio.Pitch,
		Padding:     Cfg.Mosaic.Padding,
		Logger:      logging.NewComponentLogger(Logger, "pipeline"),
		Narration:   os.Stderr,
		NewProgress: newProgress,
	}
}

// loadDetectors starts one detector per configured worker, in parallel.
func loadDetectors(ctx context.Context, cfg *config.Config) ([]detector.Detector, error) {
	// Fail fast with a clear message before spawning anything
	if err := detector.CheckModelFiles(cfg.Detector.Prototxt, cfg.Detector.Weights); err != nil {
		return nil, err
	}

	engines := make([]detector.Detector, cfg.WorkerCount())
	// A plain Group: workers must outlive Wait, so they get ctx, not a group context
	var g errgroup.Group
	for i := range engines {
		g.Go(func() error {
			var err error
			switch cfg.Detector.Backend {
			case config.BackendWorker:
				engines[i], err = worker.NewProcessWorker(ctx, i, worker.Config{
					Command:     cfg.Detector.WorkerCommand,
					Prototxt:    cfg.Detector.Prototxt,
					Weights:     cfg.Detector.Weights,
					Threshold:   cfg.Detector.Confidence,
					ReadTimeout: time.Duration(cfg.Runtime.WorkerTimeout) * time.Second,
				})
			default:
				engines[i], err = dnn.New(dnn.Config{
					Prototxt:  cfg.Detector.Prototxt,
					Weights:   cfg.Detector.Weights,
					Threshold: cfg.Detector.Confidence,
				})
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		for _, e := range engines {
			if e != nil {
				e.Close()
			}
		}
		return nil, err
	}
	return engines, nil
}

func newProgress(total int) pipeline.Progress {
	if !stderrIsTerminal() {
		return nil
	}
	barTotal := int64(total)
	if barTotal <= 0 {
		barTotal = -1 // Spinner mode
	}
	return progressbar.NewOptions64(barTotal,
		progressbar.OptionSetDescription("Pixelating"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func errorContext(err error) string {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		return "Job failed"
	}
	switch pe.Kind {
	case pipeline.FatalStartup:
		return fmt.Sprintf("Cannot start: %s", pe.Stage)
	case pipeline.FrameIOFailure:
		return fmt.Sprintf("Frame I/O failed during %s", pe.Stage)
	default:
		return fmt.Sprintf("Stage failed: %s", pe.Stage)
	}
}

func renderSummary(job pipeline.Job, rep pipeline.Report) string {
	audio := "pitch shifted"
	if !rep.AudioShifted {
		audio = "none in input"
	}
	rows := [][]string{
		{"Job", rep.JobID},
		{"Input", job.Input},
		{"Output", job.Output},
		{"Resolution", fmt.Sprintf("%dx%d @ %.2f fps", rep.Video.Width, rep.Video.Height, rep.Video.FPS)},
		{"Frames", humanize.Comma(int64(rep.Frames))},
		{"Faces pixelated", humanize.Comma(int64(rep.Detections))},
		{"Audio", audio},
		{"Output size", humanize.Bytes(uint64(rep.OutputBytes))},
	}
	for _, st := range rep.Stages {
		rows = append(rows, []string{"⏱ " + string(st.Stage), st.Duration.Round(time.Millisecond).String()})
	}
	return renderTable([]string{"✨ Done", ""}, rows)
}

// historyLedger mirrors one job into the history table. All methods are no-ops without a database.
type historyLedger struct {
	db *store.Store
	id int64
}

func startHistory(ctx context.Context, job pipeline.Job) *historyLedger {
	db, err := openStore(ctx, false)
	if err != nil {
		Logger.Warn("job history unavailable", "error", err)
		return &historyLedger{}
	}
	if db == nil {
		return &historyLedger{}
	}

	fp, err := utils.FingerprintFile(job.Input)
	if err != nil {
		// The pipeline reports unreadable inputs itself
		return &historyLedger{}
	}
	if prev, err := db.LastSuccess(ctx, fp); err == nil && prev != nil && prev.FinishedAt != nil {
		fmt.Fprintf(os.Stderr, "ℹ️  This input was already processed on %s (→ %s).\n",
			prev.FinishedAt.Local().Format("2006-01-02 15:04"), prev.OutputPath)
	}

	id, err := db.StartJob(ctx, store.JobStart{
		InputPath:   job.Input,
		Fingerprint: fp,
		OutputPath:  job.Output,
		Ratio:       job.Ratio,
		Pitch:       Cfg.Audio.Pitch,
	})
	if err != nil {
		Logger.Warn("failed to record job start", "error", err)
		return &historyLedger{}
	}
	return &historyLedger{db: db, id: id}
}

func (h *historyLedger) finish(rep pipeline.Report, runErr error) {
	if h.db == nil {
		return
	}
	// Use Background so an interrupted job is still recorded
	if err := h.db.FinishJob(context.Background(), h.id, outcome(rep, runErr)); err != nil {
		Logger.Warn("failed to record job outcome", "error", err)
	}
}

func outcome(rep pipeline.Report, err error) store.JobOutcome {
	o := store.JobOutcome{
		Token:        rep.JobID,
		Status:       store.StatusSucceeded,
		Frames:       rep.Frames,
		Detections:   rep.Detections,
		AudioShifted: rep.AudioShifted,
		OutputBytes:  rep.OutputBytes,
	}
	if err == nil {
		return o
	}
	o.Status = store.StatusFailed
	o.Error = err.Error()
	if kind := pipeline.KindOf(err); kind != 0 {
		o.ErrorKind = kind.String()
		if kind == pipeline.Canceled {
			o.Status = store.StatusCanceled
		}
	}
	return o
}
