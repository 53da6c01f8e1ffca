//go:build (darwin || linux) && !noffmpeg

package velvet

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadFFmpeg(t *testing.T) Engine {
	t.Helper()
	e, err := LoadEngine(EngineFFmpeg)
	if err != nil {
		t.Skipf("ffmpeg engine not available: %v", err)
	}
	return e
}

func TestFFmpegEngine_Listing(t *testing.T) {
	e := loadFFmpeg(t)
	require.Equal(t, EngineFFmpeg, e.ID())
	require.NotEmpty(t, e.(*ffmpegEngine).Version())
	require.Contains(t, e.Formats(), "mp4")
	require.Contains(t, e.Codecs(Encode), "mjpeg")
	require.Contains(t, e.Codecs(Decode), "mjpeg")
	require.True(t, EngineFFmpeg.Available())
	require.Contains(t, AvailableEngines(), EngineFFmpeg)
	require.Equal(t, EngineFFmpeg, DefaultEngine().ID())
}

func TestFFmpegEngine_RoundTrip(t *testing.T) {
	e := loadFFmpeg(t)
	formats := []string{"mp4", "matroska"}
	codecs := []string{"mjpeg"}
	if slices.Contains(e.Codecs(Encode), "libx264") {
		codecs = append(codecs, "libx264")
	}

	for _, format := range formats {
		for _, codec := range codecs {
			t.Run(format+"/"+codec, func(t *testing.T) {
				cfg := MuxerConfig{Format: format, Engine: e, Logger: discardLogger()}.
					WithVideo("cam", smallEncoder(codec, 64, 48).WithMetadata("position", "front")).
					WithMetadata("title", "ffmpeg round trip")
				out := encodeFile(t, cfg, 15, map[string]*TestPattern{})

				d, err := NewDemuxer(out.Reader(), DemuxerConfig{Engine: e, Logger: discardLogger()})
				require.NoError(t, err)
				defer d.Close()

				require.Equal(t, "ffmpeg round trip", d.Metadata()["title"])
				s := d.Video("cam")
				require.NotNil(t, s, "streams keep their names")
				props := s.Properties()
				require.Equal(t, 64, props.Width)
				require.Equal(t, 48, props.Height)
				require.InDelta(t, 30, props.Framerate, 0.01)

				got := decodeAll(t, d)["cam"]
				require.NotNil(t, got)
				require.Len(t, got.pts, 15)
				require.Equal(t, int64(0), got.stamp[0].Nanoseconds())

				require.NoError(t, s.SeekFrame(10))
				var first int64 = -1
				more, err := s.NextPacket(func(f *VideoFrame) error {
					if first < 0 {
						first = f.Nanostamp()
					}
					return nil
				})
				require.NoError(t, err)
				require.True(t, more)
				require.InDelta(t, float64(Rescale(10, FramerateTimeBase(30), NanoTimeBase)), float64(first), 1e6)
			})
		}
	}
}

func TestFFmpegEngine_Mismatch(t *testing.T) {
	e := loadFFmpeg(t)
	b, err := LoadEngine(EngineBuiltin)
	require.NoError(t, err)

	f, err := b.AllocFrame(16, 16, PixelFormatYUV420P)
	require.NoError(t, err)
	c, err := e.NewConverter(16, 16, PixelFormatYUV420P, PixelFormatRGBA)
	require.NoError(t, err)
	defer c.Close()
	dst, err := e.AllocFrame(16, 16, PixelFormatRGBA)
	require.NoError(t, err)
	defer dst.Free()
	require.ErrorIs(t, c.Convert(dst, f), ErrEngineMismatch)

	_, err = NewDemuxer(NewBuffer([]byte("definitely not a container")), DemuxerConfig{Engine: e, Logger: discardLogger()})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
