package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/facestab/internal/assembler"
	"github.com/andresmejia3/facestab/internal/progress"
	"github.com/andresmejia3/facestab/internal/stabilizer"
	"github.com/andresmejia3/facestab/internal/store"
	"github.com/andresmejia3/facestab/internal/types"
	"github.com/andresmejia3/facestab/internal/utils"
	"github.com/andresmejia3/facestab/internal/video"
	"github.com/andresmejia3/facestab/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// ConfigError is a missing or invalid command-line input. Nothing has run
// when it is returned.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// landmarkWorker is the face backend the stabilize step drives.
type landmarkWorker interface {
	stabilizer.LandmarkProvider
	Close()
}

// Pipeline constructors, swapped out in tests.
var (
	newAssembler = assembler.New
	probeVideo   = video.Probe
	startWorker  = func(ctx context.Context, cfg worker.Config) (landmarkWorker, error) {
		w, err := worker.NewLandmarkWorker(ctx, 0, cfg)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	openSource = func(ctx context.Context, path string, info types.VideoInfo) (stabilizer.Source, error) {
		d, err := video.OpenDecoder(ctx, path, info)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
)

// shownError is an error whose report box has already been printed.
type shownError struct{ err error }

func (e *shownError) Error() string { return e.err.Error() }
func (e *shownError) Unwrap() error { return e.err }

// showError prints the report box and marks err as reported.
func showError(context string, err error, s *utils.SafeCommand) error {
	utils.ShowError(context, err, s)
	return &shownError{err: err}
}

// reportError prints err unless its box was already shown.
func reportError(w io.Writer, err error) {
	var shown *shownError
	if errors.As(err, &shown) {
		return
	}
	fmt.Fprintln(w, err)
}

// workerLogs returns the captured stderr of a real worker process.
func workerLogs(w landmarkWorker) *utils.SafeCommand {
	if lw, ok := w.(*worker.LandmarkWorker); ok {
		return lw.Cmd
	}
	return nil
}

const fpsPrompt = "What is the desired FPS for the output video? "

func runStabilize(ctx context.Context, in io.Reader, out io.Writer, opts Options) error {
	if err := validateOptions(&opts); err != nil {
		return showError("Configuration Error", err, nil)
	}

	var info types.VideoInfo
	if opts.InputPath != "" {
		var err error
		if info, err = probeVideo(ctx, opts.InputPath); err != nil {
			return showError("Failed to probe input video", err, nil)
		}
	}

	fps := opts.FPS
	if fps <= 0 {
		fps = info.FPS
	}

	l := startLedger(ctx, DB, opts, info)
	summary := store.RunSummary{Status: store.StatusFailed}
	defer func() { l.finish(summary) }()

	if opts.SkipStabilization {
		fmt.Fprintln(out, "⏭️  Skipping stabilization...")
		if fps <= 0 {
			var err error
			if fps, err = promptFPS(in, out); err != nil {
				return showError("Configuration Error", err, nil)
			}
		}
	} else {
		state, faces, err := stabilize(ctx, out, opts, info, l.observers()...)
		summary.Frames = state.FrameNum
		summary.FacesFound = faces
		summary.AvgTimePerFrame = state.AvgTimePerFrame
		if err != nil {
			return err
		}
		l.flush()
	}

	job := assembler.EncodeJob{
		FPS:               fps,
		FramesDir:         opts.FramesDir,
		OriginalVideoPath: opts.InputPath,
		OutputPath:        opts.OutputPath,
	}
	if err := assemble(ctx, out, job); err != nil {
		return err
	}

	summary.Status = store.StatusSucceeded
	return nil
}

func validateOptions(opts *Options) error {
	if opts.SkipStabilization {
		if opts.OutputPath == "" {
			return &ConfigError{Msg: "You need to specify an output path! (Use -o)"}
		}
	} else if opts.InputPath == "" || opts.OutputPath == "" {
		return &ConfigError{Msg: "You need to specify an input and output path! (Use -i and -o)"}
	}

	if opts.InputPath != "" {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			if os.IsNotExist(err) {
				return &ConfigError{Msg: "Input file does not exist", Err: err}
			}
			return &ConfigError{Msg: "Unable to access input file", Err: err}
		}
		if info.IsDir() {
			return &ConfigError{Msg: "Input path is a directory, expected a video file"}
		}
	}

	if opts.FPS < 0 {
		return &ConfigError{Msg: fmt.Sprintf("Invalid fps %g, must be positive", opts.FPS)}
	}
	if opts.FramesDir == "" {
		return &ConfigError{Msg: "Frame directory must not be empty"}
	}
	if opts.WorkerTimeout != "" {
		if _, err := time.ParseDuration(opts.WorkerTimeout); err != nil {
			return &ConfigError{Msg: "Invalid worker-timeout format (use '30s', '1m')", Err: err}
		}
	}
	return nil
}

// promptFPS asks until it gets a positive number. End of input is a
// configuration error.
func promptFPS(in io.Reader, out io.Writer) (float64, error) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, fpsPrompt)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return 0, &ConfigError{Msg: "Failed to read fps", Err: err}
			}
			return 0, &ConfigError{Msg: "No fps given for the output video"}
		}
		text := strings.TrimSpace(scanner.Text())
		fps, err := strconv.ParseFloat(text, 64)
		if err == nil && fps > 0 {
			return fps, nil
		}
		fmt.Fprintf(out, "⚠️  Invalid fps %q, enter a positive number.\n", text)
	}
}

// stabilize writes one centered frame per input frame into opts.FramesDir.
func stabilize(ctx context.Context, out io.Writer, opts Options, info types.VideoInfo, extra ...stabilizer.Observer) (progress.State, int, error) {
	frames, err := video.NewFrameDir(opts.FramesDir)
	if err != nil {
		return progress.State{}, 0, showError("Failed to create frame directory", err, nil)
	}
	removed, err := frames.Reset()
	if err != nil {
		return progress.State{}, 0, showError("Failed to clear old frames", err, nil)
	}
	logrus.WithFields(logrus.Fields{
		"function": "stabilize",
		"dir":      opts.FramesDir,
		"removed":  removed,
	}).Debug("Frame directory ready")

	timeout, _ := time.ParseDuration(opts.WorkerTimeout)
	w, err := startWorker(ctx, worker.Config{
		Python:      opts.Python,
		Script:      opts.WorkerScript,
		ModelPath:   opts.ModelPath,
		ReadTimeout: timeout,
	})
	if err != nil {
		return progress.State{}, 0, showError("Worker startup failed", err, nil)
	}
	defer w.Close()

	src, err := openSource(ctx, opts.InputPath, info)
	if err != nil {
		return progress.State{}, 0, showError("Failed to start decoder", err, nil)
	}

	fmt.Fprintf(out, "📼 Stabilizing %s (%dx%d @ %.2f fps)\n", opts.InputPath, info.Width, info.Height, info.FPS)

	total := info.TotalFrames
	if total <= 0 {
		total = -1 // Trigger spinner mode
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🎯 Stabilizing"),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowCount(),
	)

	observers := append([]stabilizer.Observer{&barObserver{bar: bar, dir: opts.FramesDir}}, extra...)
	session := stabilizer.NewSession(w, observers...)
	state, err := session.Run(ctx, src, frames)
	if err != nil {
		return state, session.FacesFound(), showError("Stabilization failed", err, workerLogs(w))
	}
	bar.Finish()

	fmt.Fprintf(out, "\n✅ Stabilization done! %d frames, face found in %d.\n", state.FrameNum, session.FacesFound())
	return state, session.FacesFound(), nil
}

// barObserver mirrors session progress onto the terminal.
type barObserver struct {
	bar *progressbar.ProgressBar
	dir string
}

func (b *barObserver) OnFrame(_ types.FrameResult, state progress.State, eta time.Duration) {
	b.bar.Describe(fmt.Sprintf("Stabilizing frame %d of %d to '%s' | Time remaining: %s",
		state.FrameNum, state.TotalFrames, b.dir, progress.FormatETA(eta)))
	b.bar.Add(1)
}

// assemble merges the frame directory into job.OutputPath.
func assemble(ctx context.Context, out io.Writer, job assembler.EncodeJob) error {
	total := video.CountFrames(job.FramesDir)
	if total <= 0 {
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🎬 Merging frames into video..."),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowCount(),
	)

	err := newAssembler().Assemble(ctx, job, func(p assembler.Progress) {
		bar.Describe("🎬 Merging frames into video... " + p.Snippet)
		if p.Frame >= 0 {
			bar.Set(p.Frame)
		}
	})
	if err != nil {
		var encErr *assembler.EncodeError
		if errors.As(err, &encErr) && encErr.Output != "" {
			fmt.Fprintf(out, "\nFFmpeg Logs:\n%s\n", encErr.Output)
		}
		return showError("Encoder process failed", err, nil)
	}
	bar.Finish()

	fmt.Fprintf(out, "\n✅ Merging done! Wrote %s\n", job.OutputPath)
	return nil
}

// runLedger records one run in the optional database. Every method is a no-op
// without a database, and ledger failures are logged, never fatal.
type runLedger struct {
	db    *store.Store
	ctx   context.Context
	runID string
	rec   store.Recorder
}

func startLedger(ctx context.Context, db *store.Store, opts Options, info types.VideoInfo) *runLedger {
	l := &runLedger{db: db, ctx: ctx}
	if db == nil {
		return l
	}
	log := logrus.WithField("function", "startLedger")

	var videoID string
	if opts.InputPath != "" {
		id, err := utils.GenerateVideoID(opts.InputPath)
		if err != nil {
			log.WithError(err).Warn("Failed to generate video ID, run not recorded")
			l.db = nil
			return l
		}
		if err := db.EnsureVideoMetadata(ctx, id, opts.InputPath, info.Width, info.Height, info.FPS, info.TotalFrames); err != nil {
			log.WithError(err).Warn("Failed to register video metadata, run not recorded")
			l.db = nil
			return l
		}
		videoID = id
	}

	runID, err := db.StartRun(ctx, videoID, opts.InputPath, opts.OutputPath)
	if err != nil {
		log.WithError(err).Warn("Failed to start run, run not recorded")
		l.db = nil
		return l
	}
	l.runID = runID
	log.WithField("run_id", runID).Info("Run started")
	return l
}

func (l *runLedger) observers() []stabilizer.Observer {
	if l.db == nil {
		return nil
	}
	return []stabilizer.Observer{&l.rec}
}

func (l *runLedger) flush() {
	if l.db == nil {
		return
	}
	if err := l.rec.Flush(l.ctx, l.db, l.runID); err != nil {
		logrus.WithFields(logrus.Fields{"function": "runLedger.flush", "run_id": l.runID}).
			WithError(err).Warn("Failed to store frame offsets")
	}
}

func (l *runLedger) finish(sum store.RunSummary) {
	if l.db == nil {
		return
	}
	// The run context may be cancelled; the outcome should still be written.
	if err := l.db.FinishRun(context.Background(), l.runID, sum); err != nil {
		logrus.WithFields(logrus.Fields{"function": "runLedger.finish", "run_id": l.runID}).
			WithError(err).Warn("Failed to finish run")
	}
}
