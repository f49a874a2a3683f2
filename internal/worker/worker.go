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

	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/facestab/internal/types"
	"github.com/andresmejia3/facestab/internal/utils"
)

// ErrWorker wraps error messages reported by the Python side.
var ErrWorker = errors.New("python worker error")

// Request opcodes.
const (
	opDetect    byte = 'D'
	opLandmarks byte = 'L'
)

// Response status bytes.
const (
	statusOK    byte = 0
	statusError byte = 1
)

// maxResponse caps a single response body; a landmark reply is under 1KB.
const maxResponse = 16 * 1024 * 1024

// Config controls how the landmark worker is launched.
type Config struct {
	Python      string
	Script      string
	ModelPath   string
	ReadTimeout time.Duration
}

// LandmarkWorker hosts the dlib face detector and 68-point shape predictor in a
// Python subprocess.
//
// Protocol: every request is [uint32 length][payload] on stdin. Every response
// is [uint32 length][payload] on FD 3, where payload starts with a status byte.
type LandmarkWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// NewLandmarkWorker starts the Python worker process.
func NewLandmarkWorker(ctx context.Context, id int, cfg Config) (*LandmarkWorker, error) {
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script, "--model", cfg.ModelPath)

	// Side-channel pipe (FD 3) so Python's stdout prints cannot corrupt frames.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child holds the write end now.
	w.Close()

	logrus.WithFields(logrus.Fields{
		"function": "NewLandmarkWorker",
		"worker":   id,
		"script":   cfg.Script,
		"model":    cfg.ModelPath,
		"pid":      py.Process.Pid,
	}).Debug("Landmark worker started")

	return &LandmarkWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Detect returns the faces found in img, in detector order.
func (w *LandmarkWorker) Detect(img *image.Gray) ([]types.Face, error) {
	req := new(bytes.Buffer)
	req.WriteByte(opDetect)
	writeGray(req, img)

	body, err := w.communicate(req.Bytes())
	if err != nil {
		return nil, err
	}

	rd := bytes.NewReader(body)
	var n uint32
	if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("read face count: %w", err)
	}
	if uint64(n)*16 > uint64(rd.Len()) {
		return nil, fmt.Errorf("face count %d exceeds response size %d", n, rd.Len())
	}
	faces := make([]types.Face, 0, n)
	for i := uint32(0); i < n; i++ {
		var box [4]int32 // left, top, right, bottom
		if err := binary.Read(rd, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("read face %d: %w", i, err)
		}
		faces = append(faces, types.Face{
			Rect: image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3])),
		})
	}
	return faces, nil
}

// Landmarks predicts the keypoints of face inside img.
func (w *LandmarkWorker) Landmarks(img *image.Gray, face types.Face) (types.LandmarkSet, error) {
	req := new(bytes.Buffer)
	req.WriteByte(opLandmarks)
	r := face.Rect
	binary.Write(req, binary.BigEndian, [4]int32{int32(r.Min.X), int32(r.Min.Y), int32(r.Max.X), int32(r.Max.Y)})
	writeGray(req, img)

	body, err := w.communicate(req.Bytes())
	if err != nil {
		return nil, err
	}

	rd := bytes.NewReader(body)
	var n uint32
	if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("read landmark count: %w", err)
	}
	if n > types.LandmarkCount*4 {
		return nil, fmt.Errorf("implausible landmark count %d", n)
	}
	pts := make([]int32, 2*n)
	if err := binary.Read(rd, binary.BigEndian, pts); err != nil {
		return nil, fmt.Errorf("read landmarks: %w", err)
	}
	ls := make(types.LandmarkSet, n)
	for i := range ls {
		ls[i] = types.Keypoint{X: int(pts[2*i]), Y: int(pts[2*i+1])}
	}
	return ls, nil
}

// writeGray appends [uint32 width][uint32 height][pixels, row-major].
func writeGray(buf *bytes.Buffer, img *image.Gray) {
	wd, ht := img.Rect.Dx(), img.Rect.Dy()
	binary.Write(buf, binary.BigEndian, uint32(wd))
	binary.Write(buf, binary.BigEndian, uint32(ht))
	if img.Stride == wd && img.Rect.Min == (image.Point{}) {
		buf.Write(img.Pix[:wd*ht])
		return
	}
	for y := 0; y < ht; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		buf.Write(img.Pix[off : off+wd])
	}
}

func (w *LandmarkWorker) communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if w.ReadTimeout > 0 {
		if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok {
			d.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // a crashed worker (e.g. missing dlib) shows up here
	}
	respLen := binary.BigEndian.Uint32(header)
	if respLen == 0 || respLen > maxResponse {
		return nil, fmt.Errorf("invalid response length %d", respLen)
	}
	resp := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, resp); err != nil {
		return nil, err
	}

	switch resp[0] {
	case statusOK:
		return resp[1:], nil
	case statusError:
		rd := bytes.NewReader(resp[1:])
		var msgLen uint32
		if err := binary.Read(rd, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("%w: unreadable error message", ErrWorker)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(rd, msg); err != nil {
			return nil, fmt.Errorf("%w: truncated error message", ErrWorker)
		}
		return nil, fmt.Errorf("%w: %s", ErrWorker, msg)
	default:
		return nil, fmt.Errorf("unknown response status %d", resp[0])
	}
}

// Close shuts the worker down. Closing stdin lets the Python loop exit cleanly.
func (w *LandmarkWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
