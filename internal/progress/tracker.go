// Package progress estimates how long the remaining frames will take.
//
// The tracker keeps a cumulative mean of the time between consecutive frame
// completions. Only the previous completion time is retained, so recording a
// frame is O(1) regardless of video length.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// ErrOutOfOrder is returned when frames are not recorded as 1, 2, 3, ...
// The incremental mean is only valid when deltas arrive in sequence.
var ErrOutOfOrder = errors.New("frames must be recorded in order")

// State is a snapshot of the tracker.
type State struct {
	FrameNum        int
	TotalFrames     int
	AvgTimePerFrame float64 // seconds; meaningful once FrameNum >= 2
}

// Tracker maintains the running average frame time.
type Tracker struct {
	total    int
	frameNum int
	prev     time.Time
	avg      float64
}

// NewTracker creates a tracker for a video with total frames. A total of 0
// means the frame count is unknown and ETA is reported as zero.
func NewTracker(total int) *Tracker {
	return &Tracker{total: total}
}

// Record stores the completion time of frameNum and folds the delta from the
// previous frame into the average: avg = ((n-2)*avg + delta) / (n-1).
func (t *Tracker) Record(frameNum int, ts time.Time) error {
	if frameNum != t.frameNum+1 {
		return fmt.Errorf("%w: got frame %d after %d", ErrOutOfOrder, frameNum, t.frameNum)
	}
	if frameNum > 1 {
		n := float64(frameNum)
		delta := ts.Sub(t.prev).Seconds()
		t.avg = ((n-2)*t.avg + delta) / (n - 1)
	}
	t.frameNum = frameNum
	t.prev = ts
	return nil
}

// ETA is the estimated time left after frameNum of total frames are done.
func (t *Tracker) ETA(frameNum, total int) time.Duration {
	remaining := total - frameNum
	if remaining <= 0 || t.avg <= 0 {
		return 0
	}
	return time.Duration(t.avg * float64(remaining) * float64(time.Second))
}

// Remaining is ETA for the most recently recorded frame.
func (t *Tracker) Remaining() time.Duration {
	return t.ETA(t.frameNum, t.total)
}

// State returns the current snapshot.
func (t *Tracker) State() State {
	return State{
		FrameNum:        t.frameNum,
		TotalFrames:     t.total,
		AvgTimePerFrame: t.avg,
	}
}

// FormatETA renders d as "1h 2m 3s". Components are truncated, not rounded.
func FormatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
