package progress

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFirstFrameHasNoAverage(t *testing.T) {
	tr := NewTracker(10)
	require.NoError(t, tr.Record(1, time.Now()))
	assert.Equal(t, 0.0, tr.State().AvgTimePerFrame)
	assert.Equal(t, time.Duration(0), tr.Remaining())
}

func TestRecordMatchesNaiveMean(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		n := 2 + rng.Intn(200)
		tr := NewTracker(n)

		start := time.Unix(1_700_000_000, 0)
		ts := start
		var deltas []float64
		for i := 1; i <= n; i++ {
			if i > 1 {
				d := time.Duration(rng.Int63n(int64(2 * time.Second)))
				ts = ts.Add(d)
				deltas = append(deltas, d.Seconds())
			}
			require.NoError(t, tr.Record(i, ts))

			if len(deltas) > 0 {
				var sum float64
				for _, d := range deltas {
					sum += d
				}
				naive := sum / float64(len(deltas))
				require.InDelta(t, naive, tr.State().AvgTimePerFrame, 1e-9)
			}
		}
	}
}

func TestRecordOutOfOrder(t *testing.T) {
	tr := NewTracker(5)
	now := time.Now()
	require.NoError(t, tr.Record(1, now))
	assert.ErrorIs(t, tr.Record(3, now), ErrOutOfOrder)
	assert.ErrorIs(t, tr.Record(1, now), ErrOutOfOrder)
	require.NoError(t, tr.Record(2, now.Add(time.Second)))
}

func TestETA(t *testing.T) {
	tr := NewTracker(100)
	base := time.Unix(0, 0)
	require.NoError(t, tr.Record(1, base))
	require.NoError(t, tr.Record(2, base.Add(500*time.Millisecond)))
	require.NoError(t, tr.Record(3, base.Add(1500*time.Millisecond)))

	// mean delta = (0.5 + 1.0) / 2 = 0.75s, 97 frames left
	assert.InDelta(t, 0.75, tr.State().AvgTimePerFrame, 1e-12)
	got := tr.ETA(3, 100)
	assert.InDelta(t, (72750 * time.Millisecond).Seconds(), got.Seconds(), 1e-6)
	assert.Equal(t, got, tr.Remaining())

	assert.Equal(t, time.Duration(0), tr.ETA(100, 100))
	assert.Equal(t, time.Duration(0), tr.ETA(120, 100))
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0h 0m 0s"},
		{59*time.Second + 999*time.Millisecond, "0h 0m 59s"},
		{65 * time.Second, "0h 1m 5s"},
		{3661 * time.Second, "1h 1m 1s"},
		{26*time.Hour + 3*time.Minute, "26h 3m 0s"},
		{-time.Second, "0h 0m 0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatETA(tt.d), "FormatETA(%v)", tt.d)
	}
}

func TestStateTracksTotal(t *testing.T) {
	tr := NewTracker(7)
	s := tr.State()
	assert.Equal(t, 0, s.FrameNum)
	assert.Equal(t, 7, s.TotalFrames)
	assert.False(t, math.IsNaN(s.AvgTimePerFrame))
}
