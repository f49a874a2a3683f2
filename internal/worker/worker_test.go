package worker

import (
	"bytes"
	"encoding/binary"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/facestab/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser.
// This lets in-memory buffers stand in for the OS pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// queueResponse writes a length-prefixed response the way the Python side does.
func queueResponse(pipe *MockCloser, status byte, body []byte) {
	payload := append([]byte{status}, body...)
	binary.Write(pipe, binary.BigEndian, uint32(len(payload)))
	pipe.Write(payload)
}

func newMockWorker() (*LandmarkWorker, *MockCloser, *MockCloser) {
	stdin := &MockCloser{Buffer: new(bytes.Buffer)}
	data := &MockCloser{Buffer: new(bytes.Buffer)}
	return &LandmarkWorker{ID: 1, Stdin: stdin, DataPipe: data}, stdin, data
}

func TestDetect(t *testing.T) {
	w, stdin, data := newMockWorker()

	body := new(bytes.Buffer)
	binary.Write(body, binary.BigEndian, uint32(2))
	binary.Write(body, binary.BigEndian, [4]int32{10, 20, 110, 140})
	binary.Write(body, binary.BigEndian, [4]int32{200, 20, 260, 90})
	queueResponse(data, statusOK, body.Bytes())

	img := image.NewGray(image.Rect(0, 0, 4, 3))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}

	faces, err := w.Detect(img)
	require.NoError(t, err)
	require.Len(t, faces, 2)
	assert.Equal(t, image.Rect(10, 20, 110, 140), faces[0].Rect)
	assert.Equal(t, image.Rect(200, 20, 260, 90), faces[1].Rect)

	// [len][op][w][h][pixels]
	sent := stdin.Bytes()
	require.Len(t, sent, 4+1+8+12)
	assert.Equal(t, uint32(1+8+12), binary.BigEndian.Uint32(sent[:4]))
	assert.Equal(t, opDetect, sent[4])
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(sent[5:9]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(sent[9:13]))
	assert.Equal(t, img.Pix, sent[13:])
}

func TestDetectNoFaces(t *testing.T) {
	w, _, data := newMockWorker()
	body := new(bytes.Buffer)
	binary.Write(body, binary.BigEndian, uint32(0))
	queueResponse(data, statusOK, body.Bytes())

	faces, err := w.Detect(image.NewGray(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)
	assert.Empty(t, faces)
}

func TestLandmarks(t *testing.T) {
	w, stdin, data := newMockWorker()

	body := new(bytes.Buffer)
	binary.Write(body, binary.BigEndian, uint32(types.LandmarkCount))
	for i := 0; i < types.LandmarkCount; i++ {
		binary.Write(body, binary.BigEndian, [2]int32{int32(i), int32(100 + i)})
	}
	queueResponse(data, statusOK, body.Bytes())

	face := types.Face{Rect: image.Rect(1, 2, 3, 4)}
	ls, err := w.Landmarks(image.NewGray(image.Rect(0, 0, 2, 2)), face)
	require.NoError(t, err)
	require.Len(t, ls, types.LandmarkCount)
	assert.Equal(t, types.Keypoint{X: 36, Y: 136}, ls[36])
	assert.Equal(t, types.Keypoint{X: 47, Y: 147}, ls[47])

	sent := stdin.Bytes()
	assert.Equal(t, opLandmarks, sent[4])
	var rect [4]int32
	require.NoError(t, binary.Read(bytes.NewReader(sent[5:21]), binary.BigEndian, &rect))
	assert.Equal(t, [4]int32{1, 2, 3, 4}, rect)
}

func TestWorkerError(t *testing.T) {
	w, _, data := newMockWorker()

	errMsg := "Python Exception: Import Error"
	body := new(bytes.Buffer)
	binary.Write(body, binary.BigEndian, uint32(len(errMsg)))
	body.WriteString(errMsg)
	queueResponse(data, statusError, body.Bytes())

	_, err := w.Detect(image.NewGray(image.Rect(0, 0, 1, 1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorker)
	assert.Equal(t, "python worker error: "+errMsg, err.Error())
}

func TestWorkerCrash(t *testing.T) {
	// An empty data pipe is what a dead process looks like.
	w, _, _ := newMockWorker()
	_, err := w.Detect(image.NewGray(image.Rect(0, 0, 1, 1)))
	assert.Error(t, err)
}

func TestWriteGraySubImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.Gray)

	buf := new(bytes.Buffer)
	writeGray(buf, sub)
	out := buf.Bytes()
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(out[0:4]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(out[4:8]))
	assert.Equal(t, []byte{5, 6, 9, 10}, out[8:])
}

func TestDetectRejectsOversizedFaceCount(t *testing.T) {
	w, _, data := newMockWorker()
	body := new(bytes.Buffer)
	binary.Write(body, binary.BigEndian, uint32(0xFFFFFFFF))
	binary.Write(body, binary.BigEndian, [4]int32{1, 2, 3, 4})
	queueResponse(data, statusOK, body.Bytes())

	faces, err := w.Detect(image.NewGray(image.Rect(0, 0, 2, 2)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds response size")
	assert.Nil(t, faces)
}
