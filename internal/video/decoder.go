package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/facestab/internal/types"
	"github.com/andresmejia3/facestab/internal/utils"
)

// NewFFmpegRawDecoder builds an ffmpeg process that writes raw RGBA frames to
// stdout. Raw output avoids a second lossy pass before the final JPEG write.
func NewFFmpegRawDecoder(ctx context.Context, inputPath string) *utils.SafeCommand {
	return utils.NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", inputPath, "-map", "0:v:0", "-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// Decoder is a frame source backed by an ffmpeg subprocess.
type Decoder struct {
	cmd    *utils.SafeCommand
	out    io.ReadCloser
	width  int
	height int
	total  int
	index  int
	eof    bool
	closed bool
}

// OpenDecoder starts ffmpeg for path. info must come from Probe on the same file.
func OpenDecoder(ctx context.Context, path string, info types.VideoInfo) (*Decoder, error) {
	cmd := NewFFmpegRawDecoder(ctx, path)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}
	return newDecoder(cmd, out, info), nil
}

func newDecoder(cmd *utils.SafeCommand, out io.ReadCloser, info types.VideoInfo) *Decoder {
	return &Decoder{
		cmd:    cmd,
		out:    out,
		width:  info.Width,
		height: info.Height,
		total:  info.TotalFrames,
	}
}

// Total is the frame count reported by ffprobe (0 when unknown).
func (d *Decoder) Total() int { return d.total }

// Next decodes the next frame. It returns io.EOF once the stream is exhausted.
func (d *Decoder) Next() (*types.Frame, error) {
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	n, err := io.ReadFull(d.out, img.Pix)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		d.eof = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		logrus.WithFields(logrus.Fields{
			"function": "Decoder.Next",
			"frame":    d.index + 1,
			"bytes":    n,
			"expected": len(img.Pix),
		}).Warn("Decoder stream ended mid-frame")
		return nil, fmt.Errorf("read frame %d: truncated after %d of %d bytes: %w", d.index+1, n, len(img.Pix), err)
	default:
		return nil, fmt.Errorf("read frame %d: %w", d.index+1, err)
	}
	d.index++
	return &types.Frame{Index: d.index, Image: img}, nil
}

// Close stops ffmpeg and reaps it. Safe to call more than once.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.out.Close()
	if d.cmd == nil {
		return nil
	}
	// Closing the pipe before EOF makes ffmpeg die with SIGPIPE, so an early
	// close only reports failures ffmpeg explained on stderr.
	err := d.cmd.Wait()
	if err == nil || (!d.eof && d.cmd.Stderr.Len() == 0) {
		return nil
	}
	if d.cmd.Stderr.Len() > 0 {
		return fmt.Errorf("decoder exited: %w: %s", err, d.cmd.Stderr.String())
	}
	return fmt.Errorf("decoder exited: %w", err)
}
