package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/facestab/internal/progress"
	"github.com/andresmejia3/facestab/internal/types"
)

// Recorder buffers frame results during a run and writes them in one batch.
type Recorder struct {
	offsets []FrameOffset
}

// OnFrame buffers one result.
func (r *Recorder) OnFrame(res types.FrameResult, _ progress.State, _ time.Duration) {
	r.offsets = append(r.offsets, FrameOffset{
		FrameIndex: res.Index,
		FaceFound:  res.FaceFound,
		DX:         res.Translation.DX,
		DY:         res.Translation.DY,
	})
}

// Offsets returns what has been buffered so far.
func (r *Recorder) Offsets() []FrameOffset { return r.offsets }

// Flush writes the buffered offsets under runID and clears the buffer.
func (r *Recorder) Flush(ctx context.Context, s *Store, runID string) error {
	n, err := s.InsertFrameOffsets(ctx, runID, r.offsets)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "Recorder.Flush",
		"run_id":   runID,
		"rows":     n,
	}).Debug("Frame offsets stored")
	r.offsets = nil
	return nil
}
