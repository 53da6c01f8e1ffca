package velvet

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRescale(t *testing.T) {
	tests := []struct {
		name     string
		v        int64
		from, to TimeBase
		want     int64
	}{
		{"identity", 12345, TimeBase{1, 30}, TimeBase{1, 30}, 12345},
		{"frames to mp4 timescale", 10, FramerateTimeBase(30), TimeBase{1, 15360}, 5120},
		{"mp4 timescale to nanos", 512, TimeBase{1, 15360}, NanoTimeBase, 33333333},
		{"nanos to frames", int64(time.Second), NanoTimeBase, FramerateTimeBase(30), 30},
		{"rtp clock", 1, FramerateTimeBase(30), RTPVideoTimeBase, 3000},
		{"truncates toward zero", 1, TimeBase{1, 3}, TimeBase{1, 2}, 0},
		{"negative truncates toward zero", -1, TimeBase{2, 3}, TimeBase{1, 1}, 0},
		{"negative", -30, FramerateTimeBase(30), MilliTimeBase, -1000},
		{"ntsc", 1001, TimeBase{1001, 30000}, TimeBase{1, 90000}, 3003 * 1001},
		{"large intermediate", math.MaxInt64 / 2, TimeBase{1, 1 << 40}, TimeBase{1, 1 << 20}, (math.MaxInt64 / 2) >> 20},
		{"saturates", math.MaxInt64, TimeBase{1, 1}, NanoTimeBase, math.MaxInt64},
		{"saturates negative", math.MinInt64 + 1, TimeBase{1, 1}, NanoTimeBase, math.MinInt64 + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Rescale(tt.v, tt.from, tt.to))
		})
	}
}

func TestRescale_NoPTSIsPreserved(t *testing.T) {
	require.Equal(t, NoPTS, Rescale(NoPTS, FramerateTimeBase(30), NanoTimeBase))
}

func TestRescale_InvalidTimeBasePanics(t *testing.T) {
	require.Panics(t, func() { Rescale(1, TimeBase{0, 1}, NanoTimeBase) })
	require.Panics(t, func() { Rescale(1, NanoTimeBase, TimeBase{1, 0}) })
}

func TestRescale_RoundTripFrameNumbers(t *testing.T) {
	codec := FramerateTimeBase(25)
	stream := TimeBase{1, int64(mp4Timescale(codec))}
	for n := int64(0); n < 1000; n++ {
		ts := Rescale(n, codec, stream)
		require.Equal(t, n, Rescale(ts, stream, codec), "frame %d", n)
	}
}

func TestTimeBase_Duration(t *testing.T) {
	require.Equal(t, 2*time.Second, FramerateTimeBase(30).Duration(60))
	require.Equal(t, time.Duration(0), FramerateTimeBase(30).Duration(NoPTS))
	require.Equal(t, "1/30", FramerateTimeBase(30).String())
}

func TestMP4Timescale(t *testing.T) {
	tests := []struct {
		tb   TimeBase
		want uint32
	}{
		{FramerateTimeBase(30), 15360},
		{FramerateTimeBase(25), 12800},
		{FramerateTimeBase(60), 15360},
		{TimeBase{1001, 30000}, 30000},
		{TimeBase{1, 90000}, 90000},
	}
	for _, tt := range tests {
		t.Run(tt.tb.String(), func(t *testing.T) {
			require.Equal(t, tt.want, mp4Timescale(tt.tb))
		})
	}
}
