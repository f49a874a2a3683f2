// Package transform holds the eye-centering geometry and the pixel operations
// that apply it. Only translation is supported; tilted heads are not leveled and
// zoom is not normalized.
package transform

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/facestab/internal/types"
)

// ErrLandmarkCount is returned when a landmark set does not have 68 points.
var ErrLandmarkCount = errors.New("landmark set must contain 68 keypoints")

// EyeCenter returns the centroid of an eye contour.
func EyeCenter(points []types.Keypoint) types.Point2 {
	if len(points) == 0 {
		return types.Point2{}
	}
	var sx, sy float64
	for _, p := range points {
		sx += float64(p.X)
		sy += float64(p.Y)
	}
	n := float64(len(points))
	return types.Point2{X: sx / n, Y: sy / n}
}

// FaceCenter is the midpoint of the left and right eye centers, equally weighted.
func FaceCenter(ls types.LandmarkSet) (types.Point2, error) {
	if len(ls) != types.LandmarkCount {
		return types.Point2{}, fmt.Errorf("%w: got %d", ErrLandmarkCount, len(ls))
	}
	left := EyeCenter(ls[types.LeftEyeStart:types.LeftEyeEnd])
	right := EyeCenter(ls[types.RightEyeStart:types.RightEyeEnd])
	return types.Point2{
		X: (left.X + right.X) / 2,
		Y: (left.Y + right.Y) / 2,
	}, nil
}

// ComputeTranslation returns the shift that moves the face center onto the
// pixel-grid center (width/2, height/2) of a width x height frame.
func ComputeTranslation(ls types.LandmarkSet, width, height int) (types.Translation, error) {
	c, err := FaceCenter(ls)
	if err != nil {
		return types.Translation{}, err
	}
	return types.Translation{
		DX: width/2 - int(math.Round(c.X)),
		DY: height/2 - int(math.Round(c.Y)),
	}, nil
}
