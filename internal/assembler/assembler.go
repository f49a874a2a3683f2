// Package assembler merges a directory of stabilized frames into a video with
// ffmpeg, optionally taking the audio track from the original video.
package assembler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/facestab/internal/utils"
	"github.com/andresmejia3/facestab/internal/video"
)

// ErrNoFrames means the frame directory has no frame_1.jpg to start from.
var ErrNoFrames = errors.New("no stabilized frames to assemble")

const (
	videoCodec  = "libx264"
	pixelFormat = "yuv420p"
	audioCodec  = "aac"

	progressMarker = "frame="
	snippetLen     = 28
	tailLines      = 20
)

var frameRe = regexp.MustCompile(`frame=\s*(\d+)`)

// EncodeJob describes one assembly run.
type EncodeJob struct {
	FPS               float64 `validate:"gt=0"`
	FramesDir         string  `validate:"required"`
	OriginalVideoPath string
	OutputPath        string `validate:"required"`
}

// Progress is one encoder status line.
type Progress struct {
	Frame   int    // parsed frame counter, -1 if it could not be parsed
	Snippet string // first characters of the status line, for display
	Line    string
}

// EncodeError reports an encoder that could not start or exited non-zero.
type EncodeError struct {
	ExitCode int // -1 when the process never ran to completion
	Output   string
	Err      error
}

func (e *EncodeError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("encoder exited with status %d: %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("encoder failed: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Assembler runs the external encoder.
type Assembler struct {
	// Binary is the encoder executable, "ffmpeg" unless overridden.
	Binary   string
	validate *validator.Validate
}

// New returns an Assembler using ffmpeg from PATH.
func New() *Assembler {
	return &Assembler{Binary: "ffmpeg", validate: validator.New()}
}

// Args builds the encoder argument list for job.
func (a *Assembler) Args(job EncodeJob) []string {
	args := []string{
		"-y",
		"-framerate", strconv.FormatFloat(job.FPS, 'f', -1, 64),
		"-start_number", "1",
		"-i", filepath.Join(job.FramesDir, video.FramePattern),
	}
	if job.OriginalVideoPath != "" {
		args = append(args, "-i", job.OriginalVideoPath)
	}
	args = append(args, "-c:v", videoCodec, "-pix_fmt", pixelFormat)
	if job.OriginalVideoPath != "" {
		// Video from input 0, audio (if any) from input 1.
		args = append(args, "-map", "0:v:0", "-map", "1:a?", "-c:a", audioCodec, "-shortest")
	} else {
		args = append(args, "-an")
	}
	return append(args, job.OutputPath)
}

// Validate checks the job before anything is spawned.
func (a *Assembler) Validate(job EncodeJob) error {
	if a.validate == nil {
		a.validate = validator.New()
	}
	if err := a.validate.Struct(job); err != nil {
		return fmt.Errorf("invalid encode job: %w", err)
	}
	if _, err := os.Stat(filepath.Join(job.FramesDir, fmt.Sprintf(video.FramePattern, 1))); err != nil {
		return &EncodeError{ExitCode: -1, Err: fmt.Errorf("%w in %s", ErrNoFrames, job.FramesDir)}
	}
	return nil
}

// Stream runs the encoder and yields a Progress for every status line. Each
// range over the returned sequence starts a new encoder process. A failure is
// yielded once as the final element with a non-nil error. Stopping the range
// early kills the encoder.
func (a *Assembler) Stream(ctx context.Context, job EncodeJob) iter.Seq2[Progress, error] {
	return func(yield func(Progress, error) bool) {
		if err := a.Validate(job); err != nil {
			yield(Progress{}, err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		args := a.Args(job)
		log := logrus.WithFields(logrus.Fields{
			"function": "Assembler.Stream",
			"output":   job.OutputPath,
		})
		log.WithField("args", strings.Join(args, " ")).Debug("Starting encoder")

		cmd := exec.CommandContext(ctx, a.Binary, args...)
		out, err := cmd.StdoutPipe()
		if err != nil {
			yield(Progress{}, &EncodeError{ExitCode: -1, Err: err})
			return
		}
		cmd.Stderr = cmd.Stdout // merge both streams into the one pipe

		if err := cmd.Start(); err != nil {
			yield(Progress{}, &EncodeError{ExitCode: -1, Err: err})
			return
		}

		tail := newRing(tailLines)
		scanner := bufio.NewScanner(out)
		scanner.Split(utils.SplitLines)
		for scanner.Scan() {
			line := scanner.Text()
			tail.add(line)
			if !strings.Contains(line, progressMarker) {
				continue
			}
			if !yield(parseProgress(line), nil) {
				cancel()
				cmd.Wait()
				return
			}
		}

		waitErr := cmd.Wait()
		if waitErr == nil {
			log.Debug("Encoder finished")
			return
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		yield(Progress{}, &EncodeError{ExitCode: code, Output: tail.String(), Err: waitErr})
	}
}

// Assemble drains Stream, passing each event to report (which may be nil).
func (a *Assembler) Assemble(ctx context.Context, job EncodeJob, report func(Progress)) error {
	for p, err := range a.Stream(ctx, job) {
		if err != nil {
			return err
		}
		if report != nil {
			report(p)
		}
	}
	return nil
}

func parseProgress(line string) Progress {
	trimmed := strings.TrimSpace(line)
	snippet := trimmed
	if len(snippet) > snippetLen {
		snippet = snippet[:snippetLen]
	}
	p := Progress{Frame: -1, Snippet: snippet, Line: line}
	if m := frameRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			p.Frame = n
		}
	}
	return p
}

// ring keeps the last n lines of encoder output for error reports.
type ring struct {
	lines []string
	next  int
	full  bool
}

func newRing(n int) *ring { return &ring{lines: make([]string, n)} }

func (r *ring) add(s string) {
	r.lines[r.next] = s
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) String() string {
	var out []string
	if r.full {
		out = append(out, r.lines[r.next:]...)
	}
	out = append(out, r.lines[:r.next]...)
	return strings.Join(out, "\n")
}
