package types

import "image"

// LandmarkCount is the number of keypoints produced by the 68-point predictor.
const LandmarkCount = 68

// Eye contour index ranges in a LandmarkSet (half-open). Fixed by the model.
const (
	LeftEyeStart  = 36
	LeftEyeEnd    = 42
	RightEyeStart = 42
	RightEyeEnd   = 48
)

// Frame is a single decoded video frame. Index is 1-based.
type Frame struct {
	Index int
	Image *image.RGBA
}

// Channels is fixed because frames are always decoded as RGBA.
const Channels = 4

func (f *Frame) Width() int  { return f.Image.Rect.Dx() }
func (f *Frame) Height() int { return f.Image.Rect.Dy() }

// Face is a detector hit, expressed as its bounding rectangle in pixel space.
type Face struct {
	Rect image.Rectangle
}

// Keypoint is an integer pixel coordinate produced by the landmark predictor.
type Keypoint struct {
	X int
	Y int
}

// LandmarkSet is the ordered list of keypoints for one face.
type LandmarkSet []Keypoint

// Point2 is a sub-pixel coordinate (eye centers, face center).
type Point2 struct {
	X float64
	Y float64
}

// Translation is the integer shift applied to every pixel of a frame.
type Translation struct {
	DX int
	DY int
}

// IsZero reports whether the translation leaves the frame untouched.
func (t Translation) IsZero() bool { return t.DX == 0 && t.DY == 0 }

// FrameResult describes what happened to one frame during stabilization.
type FrameResult struct {
	Index       int
	FaceFound   bool
	Translation Translation
}

// VideoInfo holds the stream metadata needed to decode and re-encode a video.
type VideoInfo struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
}
