package velvet

import (
	"bytes"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// closingBuffer records whether the muxer closed its output.
type closingBuffer struct {
	Buffer
	closed int
}

func (b *closingBuffer) Close() error {
	b.closed++
	return nil
}

func builtinMuxerConfig(format string) MuxerConfig {
	cfg := DefaultMuxerConfig(format)
	cfg.EngineID = EngineBuiltin
	cfg.Logger = discardLogger()
	return cfg
}

func builtinDemuxerConfig() DemuxerConfig {
	return DemuxerConfig{EngineID: EngineBuiltin, Logger: discardLogger()}
}

func smallEncoder(codec string, w, h int) EncoderConfig {
	cfg := DefaultEncoderConfig(codec)
	cfg.Width, cfg.Height = w, h
	return cfg
}

// encodeFile muxes frames pictures per stream, each from its own pattern.
func encodeFile(t *testing.T, cfg MuxerConfig, frames int, patterns map[string]*TestPattern) *Buffer {
	t.Helper()
	out := &Buffer{}
	m, err := NewMuxer(out, cfg)
	require.NoError(t, err)
	for i := int64(0); i < int64(frames); i++ {
		for _, v := range cfg.Videos {
			p := patterns[v.Name]
			if p == nil {
				p = NewTestPattern(TestPatternConfig{Width: v.Encoder.Width, Height: v.Encoder.Height, Animated: true})
				patterns[v.Name] = p
			}
			require.NoError(t, m.Video(v.Name).Encode(p.Frame(i), i))
		}
	}
	require.NoError(t, m.Close())
	return out
}

type decoded struct {
	pts   []int64
	stamp []time.Duration
	last  *image.RGBA
}

func decodeAll(t *testing.T, d *Demuxer) map[string]*decoded {
	t.Helper()
	got := map[string]*decoded{}
	for {
		more, err := d.NextPacket(func(m Media) error {
			f, ok := m.(*VideoFrame)
			require.True(t, ok)
			dd := got[f.Stream.Name()]
			if dd == nil {
				dd = &decoded{}
				got[f.Stream.Name()] = dd
			}
			dd.pts = append(dd.pts, f.PTS)
			dd.stamp = append(dd.stamp, f.Timestamp())
			dd.last = f.Image
			return nil
		})
		require.NoError(t, err)
		if !more {
			return got
		}
	}
}

func TestMuxerDemuxer_RoundTrip(t *testing.T) {
	cfg := builtinMuxerConfig("mp4").
		WithVideo("left", smallEncoder("mjpeg", 64, 48).WithMetadata("camera", "front")).
		WithVideo("right", smallEncoder("rawvideo", 32, 16)).
		WithMetadata("title", "round trip")
	patterns := map[string]*TestPattern{
		"right": NewTestPattern(TestPatternConfig{Width: 32, Height: 16, Pattern: PatternSolidColor, SolidR: 200, SolidG: 30, SolidB: 60}),
	}
	out := encodeFile(t, cfg, 10, patterns)

	d, err := NewDemuxer(out.Reader(), builtinDemuxerConfig())
	require.NoError(t, err)
	defer d.Close()

	require.Equal(t, "round trip", d.Metadata()["title"])
	videos := d.Videos()
	require.Len(t, videos, 2)
	require.Equal(t, "left", videos[0].Name())
	require.Equal(t, "right", videos[1].Name())
	require.Same(t, videos[1], d.Video("right"))
	require.Nil(t, d.Video("missing"))

	left := d.Video("left")
	require.Equal(t, "front", left.Metadata()["camera"])
	require.Equal(t, "left", left.Metadata()["handler_name"])
	require.Equal(t, VideoStreamProperties{
		Codec:     "mjpeg",
		Framerate: 30,
		Duration:  333333333,
		Frames:    10,
		Width:     64,
		Height:    48,
	}, left.Properties())
	require.Equal(t, "rawvideo", d.Video("right").Properties().Codec)
	require.Equal(t, TimeBase{1, 15360}, left.Descriptor().TimeBase)

	got := decodeAll(t, d)
	for _, name := range []string{"left", "right"} {
		require.Len(t, got[name].pts, 10, name)
		for i, pts := range got[name].pts {
			require.Equal(t, int64(i)*512, pts)
			require.InDelta(t, float64(time.Duration(i)*time.Second/30), float64(got[name].stamp[i]), 1)
		}
	}

	img := got["right"].last
	require.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())
	c := img.RGBAAt(5, 5)
	require.InDelta(t, 200, int(c.R), 4)
	require.InDelta(t, 30, int(c.G), 4)
	require.InDelta(t, 60, int(c.B), 4)

	require.Equal(t, uint64(10), left.Stats().FramesDelivered)
	require.Equal(t, PipelineStateClosed, left.State())
	more, err := d.NextPacket(func(Media) error { return nil })
	require.NoError(t, err)
	require.False(t, more)
}

func TestVideoStream_Seek(t *testing.T) {
	cfg := builtinMuxerConfig("mov").WithVideo("cam", smallEncoder("mjpeg", 32, 32))
	out := encodeFile(t, cfg, 30, map[string]*TestPattern{})

	d, err := NewDemuxer(out.Reader(), builtinDemuxerConfig())
	require.NoError(t, err)
	defer d.Close()
	s := d.Video("cam")

	first := func() int64 {
		t.Helper()
		var pts int64 = -1
		more, err := s.NextPacket(func(f *VideoFrame) error {
			if pts < 0 {
				pts = f.PTS
			}
			return nil
		})
		require.NoError(t, err)
		require.True(t, more)
		return pts
	}

	require.NoError(t, s.Seek(int64(time.Second/2)))
	require.Equal(t, int64(15*512), first())

	require.NoError(t, s.SeekFrame(20))
	require.Equal(t, int64(20*512), first())
	require.Equal(t, int64(21*512), first())

	require.NoError(t, s.SeekFrame(0))
	require.Equal(t, int64(0), first())

	require.NoError(t, s.SeekFrame(100))
	more, err := s.NextPacket(func(*VideoFrame) error {
		t.Fatal("no frame exists past the end")
		return nil
	})
	require.NoError(t, err)
	require.False(t, more)

	require.NoError(t, s.SeekFrame(29), "seeking after end of input rewinds")
	require.Equal(t, int64(29*512), first())
	require.Positive(t, s.Stats().FramesSkipped)
}

func TestMuxer_Taps(t *testing.T) {
	rec := &recordingTap{}
	failing := &recordingTap{err: errors.New("tap down")}
	cfg := builtinMuxerConfig("mp4").WithVideo("cam", smallEncoder("rawvideo", 16, 16))
	cfg.Taps = []PacketTap{rec, failing}
	encodeFile(t, cfg, 4, map[string]*TestPattern{})

	require.Equal(t, []int64{0, 512, 1024, 1536}, rec.pts)
	require.Equal(t, TimeBase{1, 15360}, rec.tb)
	require.Equal(t, 1, rec.closed)
	require.Len(t, failing.pts, 4, "tap failures do not stop the muxer")
}

type recordingTap struct {
	pts    []int64
	tb     TimeBase
	err    error
	closed int
}

func (r *recordingTap) WritePacket(s *StreamDescriptor, p *Packet) error {
	r.pts = append(r.pts, p.PTS)
	r.tb = s.TimeBase
	return r.err
}

func (r *recordingTap) Close() error {
	r.closed++
	return nil
}

func TestMuxer_Lookahead(t *testing.T) {
	cfg := builtinMuxerConfig("mp4").
		WithVideo("cam", smallEncoder("mjpeg", 16, 16).WithParam("lookahead", "3").WithParam("quality", "50"))
	out := encodeFile(t, cfg, 8, map[string]*TestPattern{})

	d, err := NewDemuxer(out.Reader(), builtinDemuxerConfig())
	require.NoError(t, err)
	defer d.Close()
	require.Equal(t, int64(8), d.Video("cam").Properties().Frames)
	require.Len(t, decodeAll(t, d)["cam"].pts, 8)
}

func TestMuxer_CloseLifecycle(t *testing.T) {
	out := &closingBuffer{}
	m, err := NewMuxer(out, builtinMuxerConfig("mp4").WithVideo("cam", smallEncoder("mjpeg", 16, 16)))
	require.NoError(t, err)
	require.Equal(t, EngineBuiltin, m.Engine().ID())
	require.Len(t, m.Streams(), 1)
	require.Equal(t, "mjpeg", m.Streams()[0].Codec)

	p := m.Video("cam")
	img := NewTestPattern(TestPatternConfig{Width: 16, Height: 16}).Frame(0)
	require.NoError(t, p.Encode(img, 0))
	require.Equal(t, PipelineStateActive, p.State())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "closing twice is a no-op")
	require.Equal(t, 1, out.closed)
	require.Equal(t, PipelineStateClosed, p.State())
	require.Equal(t, uint64(1), p.Stats().PacketsWritten)
	require.ErrorIs(t, p.Encode(img, 1), ErrClosed)
	require.Positive(t, out.Size())
}

func TestMuxer_StickyError(t *testing.T) {
	out := &closingBuffer{}
	m, err := NewMuxer(out, builtinMuxerConfig("mp4").
		WithVideo("a", smallEncoder("mjpeg", 16, 16)).
		WithVideo("b", smallEncoder("mjpeg", 16, 16)))
	require.NoError(t, err)

	wrong := NewTestPattern(TestPatternConfig{Width: 8, Height: 8}).Frame(0)
	require.ErrorIs(t, m.Video("a").Encode(wrong, 0), ErrFrameSize)
	require.ErrorIs(t, m.Err(), ErrFrameSize)

	right := NewTestPattern(TestPatternConfig{Width: 16, Height: 16}).Frame(0)
	require.ErrorIs(t, m.Video("b").Encode(right, 0), ErrFrameSize, "every stream shares the session error")
	require.ErrorIs(t, m.Close(), ErrFrameSize)
	require.Equal(t, 1, out.closed)
}

func TestNewMuxer_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  MuxerConfig
		want error
	}{
		{"unknown format", builtinMuxerConfig("avi").WithVideo("cam", smallEncoder("mjpeg", 16, 16)), ErrUnsupportedFormat},
		{"no format", builtinMuxerConfig("").WithVideo("cam", smallEncoder("mjpeg", 16, 16)), ErrInvalidConfig},
		{"no streams", builtinMuxerConfig("mp4"), ErrInvalidConfig},
		{"unnamed stream", builtinMuxerConfig("mp4").WithVideo("", smallEncoder("mjpeg", 16, 16)), ErrInvalidConfig},
		{"duplicate name", builtinMuxerConfig("mp4").
			WithVideo("cam", smallEncoder("mjpeg", 16, 16)).
			WithVideo("cam", smallEncoder("mjpeg", 16, 16)), ErrInvalidConfig},
		{"zero size", builtinMuxerConfig("mp4").WithVideo("cam", smallEncoder("mjpeg", 0, 16)), ErrInvalidConfig},
		{"unsupported codec", builtinMuxerConfig("mp4").WithVideo("cam", smallEncoder("libx264", 16, 16)), ErrCodecNotSupported},
		{"bad param", builtinMuxerConfig("mp4").WithVideo("cam", smallEncoder("mjpeg", 16, 16).WithParam("preset", "fast")), ErrInvalidConfig},
		{"bad param value", builtinMuxerConfig("mp4").WithVideo("cam", smallEncoder("mjpeg", 16, 16).WithParam("quality", "high")), ErrInvalidConfig},
		{"forced pixel format", builtinMuxerConfig("mp4").WithVideo("cam", func() EncoderConfig {
			c := smallEncoder("rawvideo", 16, 16)
			c.PixelFormat = PixelFormatNV12
			return c
		}()), ErrUnsupportedPixelFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMuxer(&Buffer{}, tt.cfg)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, m)
		})
	}

	_, err := NewMuxer(nil, builtinMuxerConfig("mp4").WithVideo("cam", smallEncoder("mjpeg", 16, 16)))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewMuxer_FailureReleasesOutput(t *testing.T) {
	tests := []struct {
		name string
		cfg  MuxerConfig
		want error
	}{
		{"unknown format", builtinMuxerConfig("avi").WithVideo("a", smallEncoder("mjpeg", 16, 16)), ErrUnsupportedFormat},
		{"second stream codec", builtinMuxerConfig("mp4").
			WithVideo("a", smallEncoder("mjpeg", 16, 16)).
			WithVideo("b", smallEncoder("vp9", 16, 16)), ErrCodecNotSupported},
		{"bad param", builtinMuxerConfig("mp4").WithVideo("a", smallEncoder("mjpeg", 16, 16).WithParam("lookahead", "x")), ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &closingBuffer{}
			m, err := NewMuxer(out, tt.cfg)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, m)
			require.Equal(t, 1, out.closed)
		})
	}
}

func TestNewDemuxer_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrUnsupportedFormat},
		{"text", []byte("this is not a media file at all"), ErrUnsupportedFormat},
		{"truncated moov", append(mp4BoxHeader("moov", 64), 0, 0, 0), ErrInvalidData},
		{"moov larger than input", []byte{0, 0, 0, 1, 'm', 'o', 'o', 'v', 0x40, 0, 0, 0, 0, 0, 0, 0}, ErrInvalidData},
		{"free box past end", append(mp4BoxHeader("free", 1<<30), 0, 0, 0, 0), ErrInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDemuxer(NewBuffer(tt.data), builtinDemuxerConfig())
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, d)
		})
	}
}

func TestNewDemuxer_SamplePastEnd(t *testing.T) {
	out := encodeFile(t, builtinMuxerConfig("mp4").WithVideo("cam", smallEncoder("rawvideo", 8, 8)), 3, map[string]*TestPattern{})
	data := bytes.Clone(out.Bytes())

	// uniform sample size field of the stsz box
	i := bytes.LastIndex(data, []byte("stsz"))
	require.Positive(t, i)
	copy(data[i+8:i+12], []byte{0x7f, 0xff, 0xff, 0xff})

	d, err := NewDemuxer(NewBuffer(data), builtinDemuxerConfig())
	require.ErrorIs(t, err, ErrInvalidData)
	require.Nil(t, d)
}

func mp4BoxHeader(typ string, size uint32) []byte {
	return []byte{byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size), typ[0], typ[1], typ[2], typ[3]}
}

func TestDemuxer_DefaultHandlerName(t *testing.T) {
	cfg := builtinMuxerConfig("mp4").
		WithVideo(defaultHandlerName, smallEncoder("rawvideo", 8, 8)).
		WithVideo("named", smallEncoder("rawvideo", 8, 8))
	out := encodeFile(t, cfg, 2, map[string]*TestPattern{})

	d, err := NewDemuxer(out.Reader(), builtinDemuxerConfig())
	require.NoError(t, err)
	require.Equal(t, "video0", d.Videos()[0].Name())
	require.Equal(t, "named", d.Videos()[1].Name())
	require.Len(t, d.Streams(), 2)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	_, err = d.NextPacket(func(Media) error { return nil })
	require.ErrorIs(t, err, ErrClosed)
}

func TestDemuxer_FallbackNameCollision(t *testing.T) {
	cfg := builtinMuxerConfig("mp4").
		WithVideo("video1", smallEncoder("rawvideo", 8, 8)).
		WithVideo(defaultHandlerName, smallEncoder("rawvideo", 8, 8))
	out := encodeFile(t, cfg, 2, map[string]*TestPattern{})

	d, err := NewDemuxer(out.Reader(), builtinDemuxerConfig())
	require.NoError(t, err)
	defer d.Close()

	videos := d.Videos()
	require.Len(t, videos, 2)
	require.Equal(t, "video1", videos[0].Name())
	require.Equal(t, "video2", videos[1].Name())
	require.Same(t, videos[0], d.Video("video1"))
	require.Same(t, videos[1], d.Video("video2"))

	got := decodeAll(t, d)
	require.Len(t, got["video1"].pts, 2)
	require.Len(t, got["video2"].pts, 2)
}

func TestMuxerDemuxer_SingleStreamDefaults(t *testing.T) {
	cfg := builtinMuxerConfig("mp4").WithVideo("main", DefaultEncoderConfig("mjpeg"))
	out := encodeFile(t, cfg, 10, map[string]*TestPattern{})

	d, err := NewDemuxer(out.Reader(), builtinDemuxerConfig())
	require.NoError(t, err)
	defer d.Close()

	videos := d.Videos()
	require.Len(t, videos, 1)
	require.Equal(t, "main", videos[0].Name())
	props := videos[0].Properties()
	require.Equal(t, int64(10), props.Frames)
	require.Equal(t, 640, props.Width)
	require.Equal(t, 480, props.Height)
	require.InDelta(t, 30, props.Framerate, 0.001)

	var stamps []int64
	for {
		more, err := d.NextPacket(func(m Media) error {
			stamps = append(stamps, m.Nanostamp())
			return nil
		})
		require.NoError(t, err)
		if !more {
			break
		}
	}
	require.Len(t, stamps, 10)
	for i := 1; i < len(stamps); i++ {
		require.GreaterOrEqual(t, stamps[i], stamps[i-1])
	}
}
