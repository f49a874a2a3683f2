// Package video wraps the ffmpeg/ffprobe binaries used to read source videos,
// and the on-disk JPEG frame directory the stabilizer writes into.
package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/facestab/internal/types"
)

type ffprobeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// Probe reads the first video stream's dimensions, frame rate and frame count.
func Probe(ctx context.Context, path string) (types.VideoInfo, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return types.VideoInfo{}, fmt.Errorf("ffprobe not found: %w", err)
	}

	out, err := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames",
		"-of", "json", path).Output()
	if err != nil {
		return types.VideoInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	info, err := parseProbe(out)
	if err != nil {
		return types.VideoInfo{}, err
	}

	// Slow path: container metadata had no frame count (common for VFR/MKV).
	if info.TotalFrames <= 0 {
		info.TotalFrames = countPackets(ctx, path)
	}
	return info, nil
}

func parseProbe(out []byte) (types.VideoInfo, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return types.VideoInfo{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return types.VideoInfo{}, fmt.Errorf("no video stream found")
	}
	s := res.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return types.VideoInfo{}, fmt.Errorf("invalid video dimensions %dx%d", s.Width, s.Height)
	}

	fps := ParseFrameRate(s.RFrameRate)
	if fps <= 0 {
		fps = ParseFrameRate(s.AvgFrameRate)
	}
	if fps <= 0 {
		return types.VideoInfo{}, fmt.Errorf("could not determine frame rate (r_frame_rate=%q)", s.RFrameRate)
	}

	total, _ := strconv.Atoi(s.NbFrames)
	return types.VideoInfo{
		Width:       s.Width,
		Height:      s.Height,
		FPS:         fps,
		TotalFrames: total,
	}, nil
}

// countPackets counts video packets; returns 0 on failure so progress falls
// back to a spinner.
func countPackets(ctx context.Context, path string) int {
	logrus.WithFields(logrus.Fields{
		"function": "countPackets",
		"path":     path,
	}).Info("Frame count missing from metadata, counting packets")

	out, err := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path).Output()
	if err != nil {
		logrus.WithError(err).Warn("ffprobe packet count failed")
		return 0
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// ParseFrameRate handles fractional formats like "30000/1001" as well as "29.97".
func ParseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, err2 := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
