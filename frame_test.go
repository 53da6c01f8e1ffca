package velvet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPixelFormat_String(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   string
	}{
		{PixelFormatYUV420P, "yuv420p"},
		{PixelFormatYUVJ420P, "yuvj420p"},
		{PixelFormatNV12, "nv12"},
		{PixelFormatRGBA, "rgba"},
		{"", "none"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.format.String(); got != tt.want {
				t.Errorf("PixelFormat.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPixelFormat_PlaneCount(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   int
	}{
		{PixelFormatYUV420P, 3},
		{PixelFormatYUVJ420P, 3},
		{PixelFormatNV12, 2},
		{PixelFormatRGB24, 1},
		{PixelFormatRGBA, 1},
		{PixelFormatBGRA, 1},
		{PixelFormatGray, 1},
		{"p010le", 0},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := tt.format.PlaneCount(); got != tt.want {
				t.Errorf("PixelFormat.PlaneCount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPixelFormat_PlaneSizeOddDimensions(t *testing.T) {
	row, rows := PixelFormatYUV420P.PlaneSize(641, 481, 1)
	require.Equal(t, 321, row)
	require.Equal(t, 241, rows)

	row, rows = PixelFormatNV12.PlaneSize(641, 481, 1)
	require.Equal(t, 642, row)
	require.Equal(t, 241, rows)

	row, rows = PixelFormatRGB24.PlaneSize(641, 481, 0)
	require.Equal(t, 641*3, row)
	require.Equal(t, 481, rows)
}

func TestI420Size(t *testing.T) {
	tests := []struct {
		width, height int
		want          int
	}{
		{1920, 1080, 1920*1080 + 2*(960*540)},
		{1280, 720, 1280*720 + 2*(640*360)},
		{640, 480, 640*480 + 2*(320*240)},
		{320, 240, 320*240 + 2*(160*120)},
	}

	for _, tt := range tests {
		if got := I420Size(tt.width, tt.height); got != tt.want {
			t.Errorf("I420Size(%d, %d) = %d, want %d", tt.width, tt.height, got, tt.want)
		}
	}
}

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(64, 48, PixelFormatYUV420P)
	require.NoError(t, err)
	require.Len(t, f.Planes, 3)
	require.Equal(t, []int{64, 32, 32}, f.Strides)
	require.Len(t, f.Planes[0], 64*48)
	require.Len(t, f.Planes[2], 32*24)
	require.Equal(t, NoPTS, f.PTS)

	_, err = NewFrame(0, 48, PixelFormatYUV420P)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewFrame(64, 48, "p010le")
	require.ErrorIs(t, err, ErrUnsupportedPixelFormat)
}

func TestFrame_Clone(t *testing.T) {
	f, err := NewFrame(4, 4, PixelFormatRGBA)
	require.NoError(t, err)
	f.Planes[0][0] = 42
	f.PTS = 7
	f.Key = true

	c := f.Clone()
	require.Equal(t, f.PTS, c.PTS)
	require.True(t, c.Key)
	require.Equal(t, byte(42), c.Planes[0][0])

	c.Planes[0][0] = 1
	require.Equal(t, byte(42), f.Planes[0][0], "clone must not alias the source planes")
}

func TestFrame_FreeIsIdempotent(t *testing.T) {
	f, err := NewFrame(4, 4, PixelFormatGray)
	require.NoError(t, err)
	f.Free()
	f.Free()
	require.Nil(t, f.Planes)

	var nilFrame *Frame
	nilFrame.Free()
}

type countingPacketRef struct{ unrefs, frees int }

func (r *countingPacketRef) unref() { r.unrefs++ }
func (r *countingPacketRef) free()  { r.frees++ }

func TestPacket_ReleaseAndFree(t *testing.T) {
	ref := &countingPacketRef{}
	p := &Packet{Data: []byte{1}, PTS: 3, DTS: 2, Duration: 1, StreamIndex: 2, Key: true, native: ref}

	p.Release()
	require.Nil(t, p.Data)
	require.Equal(t, NoPTS, p.PTS)
	require.Equal(t, NoPTS, p.DTS)
	require.Zero(t, p.StreamIndex)
	require.False(t, p.Key)
	require.Equal(t, 1, ref.unrefs)

	p.Free()
	require.Equal(t, 1, ref.frees)
	require.Nil(t, p.native)
}

func TestPacket_RescaleKeepsUnsetTimestamps(t *testing.T) {
	p := &Packet{PTS: 3, DTS: NoPTS, Duration: 1}
	p.rescale(FramerateTimeBase(30), TimeBase{1, 15360})
	require.Equal(t, int64(3*512), p.PTS)
	require.Equal(t, NoPTS, p.DTS)
	require.Equal(t, int64(512), p.Duration)
}
