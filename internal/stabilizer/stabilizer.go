// Package stabilizer runs the per-frame eye-centering loop.
//
// Every input frame produces exactly one output frame, in order. A frame where
// no face is found is written unchanged; that is the normal outcome for a
// detection miss, not an error.
package stabilizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/facestab/internal/progress"
	"github.com/andresmejia3/facestab/internal/transform"
	"github.com/andresmejia3/facestab/internal/types"
)

// LandmarkProvider is the face detection backend.
type LandmarkProvider interface {
	Detect(img *image.Gray) ([]types.Face, error)
	Landmarks(img *image.Gray, face types.Face) (types.LandmarkSet, error)
}

// Source yields frames until it returns io.EOF.
type Source interface {
	Next() (*types.Frame, error)
	Total() int
	Close() error
}

// Sink persists a frame under frame.Index.
type Sink interface {
	Write(f *types.Frame) error
}

// Observer is notified after each frame has been written.
type Observer interface {
	OnFrame(res types.FrameResult, state progress.State, eta time.Duration)
}

// Session holds everything one stabilization run needs. Counters live here
// instead of in package state so runs are independent.
type Session struct {
	Provider  LandmarkProvider
	Observers []Observer

	// Now is the clock used for progress timing.
	Now func() time.Time

	tracker   *progress.Tracker
	frameNum  int
	facesSeen int
}

// NewSession creates a session around provider.
func NewSession(provider LandmarkProvider, observers ...Observer) *Session {
	return &Session{
		Provider:  provider,
		Observers: observers,
		Now:       time.Now,
	}
}

// FacesFound reports how many frames had a detectable face.
func (s *Session) FacesFound() int { return s.facesSeen }

// Run stabilizes every frame from src into sink and returns the final progress
// state. The source is always closed before Run returns. A source that fails
// to close after io.EOF, or a context cancelled during the last read, fails
// the run.
func (s *Session) Run(ctx context.Context, src Source, sink Sink) (progress.State, error) {
	closed := false
	defer func() {
		if !closed {
			src.Close()
		}
	}()

	s.tracker = progress.NewTracker(src.Total())
	s.frameNum = 0
	s.facesSeen = 0

	log := logrus.WithField("function", "Session.Run")

	for {
		if err := ctx.Err(); err != nil {
			return s.tracker.State(), err
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.tracker.State(), fmt.Errorf("read frame %d: %w", s.frameNum+1, err)
		}

		s.frameNum++
		out, res, err := s.process(frame)
		if err != nil {
			return s.tracker.State(), fmt.Errorf("frame %d: %w", s.frameNum, err)
		}

		out.Index = s.frameNum
		if err := sink.Write(out); err != nil {
			return s.tracker.State(), fmt.Errorf("write frame %d: %w", s.frameNum, err)
		}

		if err := s.tracker.Record(s.frameNum, s.Now()); err != nil {
			return s.tracker.State(), err
		}
		state := s.tracker.State()
		eta := s.tracker.Remaining()
		for _, o := range s.Observers {
			o.OnFrame(res, state, eta)
		}

		log.WithFields(logrus.Fields{
			"frame":      s.frameNum,
			"face_found": res.FaceFound,
			"dx":         res.Translation.DX,
			"dy":         res.Translation.DY,
		}).Debug("Frame stabilized")
	}

	closed = true
	closeErr := src.Close()
	if err := ctx.Err(); err != nil {
		return s.tracker.State(), err
	}
	if closeErr != nil {
		return s.tracker.State(), fmt.Errorf("close source after frame %d: %w", s.frameNum, closeErr)
	}
	return s.tracker.State(), nil
}

// process applies the detect -> landmarks -> translate pipeline to one frame.
func (s *Session) process(frame *types.Frame) (*types.Frame, types.FrameResult, error) {
	res := types.FrameResult{Index: s.frameNum}

	gray := transform.Grayscale(frame.Image)
	faces, err := s.Provider.Detect(gray)
	if err != nil {
		return nil, res, fmt.Errorf("detect: %w", err)
	}
	if len(faces) == 0 {
		return frame, res, nil
	}

	// Always the first face the detector reports.
	ls, err := s.Provider.Landmarks(gray, faces[0])
	if err != nil {
		return nil, res, fmt.Errorf("landmarks: %w", err)
	}
	t, err := transform.ComputeTranslation(ls, frame.Width(), frame.Height())
	if err != nil {
		return nil, res, err
	}

	s.facesSeen++
	res.FaceFound = true
	res.Translation = t
	return &types.Frame{Index: frame.Index, Image: transform.Shift(frame.Image, t)}, res, nil
}
