package assembler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder writes a shell script that records its arguments, prints the
// given output and exits with code. It stands in for ffmpeg.
func fakeEncoder(t *testing.T, output string, code int) (bin, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args.txt")
	bin = filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\n" +
		"for a in \"$@\"; do printf '%s\\n' \"$a\" >> '" + argsFile + "'; done\n" +
		"printf '" + output + "'\n" +
		"exit " + strconv.Itoa(code) + "\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))
	return bin, argsFile
}

func framesDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 1; i <= n; i++ {
		name := filepath.Join(dir, "frame_"+strconv.Itoa(i)+".jpg")
		require.NoError(t, os.WriteFile(name, []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0644))
	}
	return dir
}

func TestArgs(t *testing.T) {
	a := New()

	t.Run("frames only", func(t *testing.T) {
		got := a.Args(EncodeJob{FPS: 29.97, FramesDir: "stabilized_images", OutputPath: "out.mp4"})
		want := []string{
			"-y", "-framerate", "29.97", "-start_number", "1",
			"-i", filepath.Join("stabilized_images", "frame_%d.jpg"),
			"-c:v", "libx264", "-pix_fmt", "yuv420p",
			"-an",
			"out.mp4",
		}
		assert.Equal(t, want, got)
	})

	t.Run("with original audio", func(t *testing.T) {
		got := a.Args(EncodeJob{FPS: 30, FramesDir: "f", OriginalVideoPath: "in.mov", OutputPath: "out.mp4"})
		want := []string{
			"-y", "-framerate", "30", "-start_number", "1",
			"-i", filepath.Join("f", "frame_%d.jpg"),
			"-i", "in.mov",
			"-c:v", "libx264", "-pix_fmt", "yuv420p",
			"-map", "0:v:0", "-map", "1:a?", "-c:a", "aac", "-shortest",
			"out.mp4",
		}
		assert.Equal(t, want, got)
	})
}

func TestValidate(t *testing.T) {
	a := New()
	dir := framesDir(t, 1)

	assert.NoError(t, a.Validate(EncodeJob{FPS: 25, FramesDir: dir, OutputPath: "o.mp4"}))
	assert.Error(t, a.Validate(EncodeJob{FPS: 0, FramesDir: dir, OutputPath: "o.mp4"}))
	assert.Error(t, a.Validate(EncodeJob{FPS: 25, FramesDir: dir}))
	assert.Error(t, a.Validate(EncodeJob{FPS: 25, OutputPath: "o.mp4"}))
}

func TestAssembleEmptyDirectoryFails(t *testing.T) {
	bin, argsFile := fakeEncoder(t, "", 0)
	a := New()
	a.Binary = bin

	err := a.Assemble(context.Background(), EncodeJob{FPS: 25, FramesDir: t.TempDir(), OutputPath: "o.mp4"}, nil)
	require.Error(t, err)
	var encErr *EncodeError
	require.True(t, errors.As(err, &encErr))
	assert.ErrorIs(t, err, ErrNoFrames)
	// The encoder must not even be started.
	assert.NoFileExists(t, argsFile)
}

func TestAssembleRelaysProgress(t *testing.T) {
	out := `ffmpeg version n6.0\n` +
		`Input #0, image2\n` +
		`frame=    1 fps=0.0 q=0.0 size=       0kB time=00:00:00.00 bitrate=N/A speed=   0x\r` +
		`frame=   48 fps= 47 q=28.0 size=     256kB time=00:00:01.60 bitrate=1310.7kbits/s speed=1.58x\r` +
		`video:300kB audio:0kB\n`
	bin, argsFile := fakeEncoder(t, out, 0)
	a := New()
	a.Binary = bin
	dir := framesDir(t, 3)

	var events []Progress
	err := a.Assemble(context.Background(), EncodeJob{FPS: 24, FramesDir: dir, OutputPath: "o.mp4"}, func(p Progress) {
		events = append(events, p)
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Frame)
	assert.Equal(t, 48, events[1].Frame)
	assert.Equal(t, "frame=   48 fps= 47 q=28.0 s", events[1].Snippet)
	assert.Len(t, events[1].Snippet, 28)

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(a.Args(EncodeJob{FPS: 24, FramesDir: dir, OutputPath: "o.mp4"}), "\n")+"\n", string(recorded))
}

func TestAssembleSurfacesExitCode(t *testing.T) {
	bin, _ := fakeEncoder(t, `frame=    1 fps=0.0\rConversion failed!\n`, 3)
	a := New()
	a.Binary = bin

	var events int
	err := a.Assemble(context.Background(), EncodeJob{FPS: 24, FramesDir: framesDir(t, 1), OutputPath: "o.mp4"}, func(Progress) {
		events++
	})
	require.Error(t, err)
	var encErr *EncodeError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, 3, encErr.ExitCode)
	assert.Contains(t, encErr.Output, "Conversion failed!")
	assert.Contains(t, err.Error(), "status 3")
	assert.Equal(t, 1, events)
}

func TestAssembleSpawnFailure(t *testing.T) {
	a := New()
	a.Binary = filepath.Join(t.TempDir(), "does-not-exist")
	err := a.Assemble(context.Background(), EncodeJob{FPS: 24, FramesDir: framesDir(t, 1), OutputPath: "o.mp4"}, nil)
	var encErr *EncodeError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, -1, encErr.ExitCode)
}

func TestStreamIsRestartable(t *testing.T) {
	bin, argsFile := fakeEncoder(t, `frame=    5\n`, 0)
	a := New()
	a.Binary = bin
	seq := a.Stream(context.Background(), EncodeJob{FPS: 24, FramesDir: framesDir(t, 1), OutputPath: "o.mp4"})

	for run := 0; run < 2; run++ {
		n := 0
		for p, err := range seq {
			require.NoError(t, err)
			assert.Equal(t, 5, p.Frame)
			n++
		}
		assert.Equal(t, 1, n)
	}
	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	// Two invocations, each recording its own argument list.
	assert.Equal(t, 2, strings.Count(string(recorded), "-framerate"))
}

func TestStreamEarlyBreak(t *testing.T) {
	bin, _ := fakeEncoder(t, `frame=    1\rframe=    2\rframe=    3\r`, 0)
	a := New()
	a.Binary = bin
	n := 0
	for _, err := range a.Stream(context.Background(), EncodeJob{FPS: 24, FramesDir: framesDir(t, 1), OutputPath: "o.mp4"}) {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestParseProgress(t *testing.T) {
	p := parseProgress("  frame=  123 fps=30")
	assert.Equal(t, 123, p.Frame)
	assert.Equal(t, "frame=  123 fps=30", p.Snippet)

	p = parseProgress("frame=N/A")
	assert.Equal(t, -1, p.Frame)
}

func TestRing(t *testing.T) {
	r := newRing(3)
	r.add("a")
	r.add("b")
	assert.Equal(t, "a\nb", r.String())
	r.add("c")
	r.add("d")
	assert.Equal(t, "b\nc\nd", r.String())
}
