package video

import (
	"bufio"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"regexp"

	"github.com/andresmejia3/facestab/internal/types"
)

// FramePattern is the printf pattern used for stabilized frames. ffmpeg's
// image2 demuxer reads the same pattern with -start_number 1.
const FramePattern = "frame_%d.jpg"

// JPEGQuality matches the default quality of common imaging libraries.
const JPEGQuality = 95

var frameFileRe = regexp.MustCompile(`^frame_\d+\.jpg$`)

// FrameDir is a frame sink writing one JPEG per frame.
type FrameDir struct {
	Dir     string
	Quality int
}

// NewFrameDir creates dir if needed.
func NewFrameDir(dir string) (*FrameDir, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	return &FrameDir{Dir: dir, Quality: JPEGQuality}, nil
}

// Path returns the file path for a 1-based frame index.
func (d *FrameDir) Path(index int) string {
	return filepath.Join(d.Dir, fmt.Sprintf(FramePattern, index))
}

// Pattern is the ffmpeg input pattern for this directory.
func (d *FrameDir) Pattern() string {
	return filepath.Join(d.Dir, FramePattern)
}

// Write encodes the frame under its index, overwriting any previous file.
func (d *FrameDir) Write(f *types.Frame) error {
	path := d.Path(f.Index)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(file, 256*1024)
	if err := jpeg.Encode(bw, f.Image, &jpeg.Options{Quality: d.Quality}); err != nil {
		file.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Reset removes frames left over from a previous run so a shorter video is not
// assembled with stale trailing frames.
func (d *FrameDir) Reset() (int, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !frameFileRe.MatchString(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(d.Dir, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// CountFrames returns how many consecutive frames exist starting at frame 1.
// This is exactly what ffmpeg will read from the pattern.
func CountFrames(dir string) int {
	d := &FrameDir{Dir: dir}
	n := 0
	for {
		if _, err := os.Stat(d.Path(n + 1)); err != nil {
			return n
		}
		n++
	}
}
