package velvet

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/require"
)

type rtpRecorder struct {
	packets []*rtp.Packet
	err     error
}

func (r *rtpRecorder) WriteRTP(p *rtp.Packet) error {
	if r.err != nil {
		return r.err
	}
	r.packets = append(r.packets, p)
	return nil
}

func h264Stream(t *testing.T) *StreamDescriptor {
	t.Helper()
	record, err := avcDecoderConfig([][]byte{testSPS}, [][]byte{testPPS})
	require.NoError(t, err)
	return &StreamDescriptor{
		Name:      "cam",
		Type:      MediaTypeVideo,
		Codec:     "h264",
		TimeBase:  TimeBase{1, 15360},
		FrameRate: Rational{30, 1},
		Extradata: record,
	}
}

func TestRTPTap_H264(t *testing.T) {
	rec := &rtpRecorder{}
	tap := NewRTPTap(rec, RTPTapConfig{Stream: "cam", SSRC: 0xCAFE})
	s := h264Stream(t)

	err := tap.WritePacket(s, &Packet{Data: joinAVCC(testIDR), PTS: 512, DTS: 512, Key: true})
	require.NoError(t, err)
	require.NotEmpty(t, rec.packets)

	for i, p := range rec.packets {
		require.Equal(t, uint32(3000), p.Timestamp)
		require.Equal(t, uint8(102), p.PayloadType)
		require.Equal(t, uint32(0xCAFE), p.SSRC)
		require.Equal(t, i == len(rec.packets)-1, p.Marker)
		if i > 0 {
			require.Equal(t, rec.packets[i-1].SequenceNumber+1, p.SequenceNumber)
		}
	}

	var payload []byte
	for _, p := range rec.packets {
		payload = append(payload, p.Payload...)
	}
	require.True(t, bytes.Contains(payload, testSPS[1:]), "keyframes carry the parameter sets")

	stats := tap.Stats()
	require.Equal(t, uint64(1), stats.FramesSent)
	require.Equal(t, uint64(len(rec.packets)), stats.PacketsSent)
	require.NoError(t, tap.Close())
}

func TestRTPTap_IgnoresOtherStreams(t *testing.T) {
	rec := &rtpRecorder{}
	tap := NewRTPTap(rec, RTPTapConfig{Stream: "other"})
	require.NoError(t, tap.WritePacket(h264Stream(t), &Packet{Data: joinAVCC(testP), PTS: 0}))
	require.Empty(t, rec.packets)
}

func TestRTPTap_Errors(t *testing.T) {
	tap := NewRTPTap(&rtpRecorder{}, RTPTapConfig{Stream: "cam"})
	s := &StreamDescriptor{Name: "cam", Codec: "mjpeg", TimeBase: TimeBase{1, 15360}}
	err := tap.WritePacket(s, &Packet{Data: []byte{0xFF, 0xD8}, PTS: 0})
	require.ErrorIs(t, err, ErrCodecNotSupported)

	boom := errors.New("socket closed")
	tap = NewRTPTap(&rtpRecorder{err: boom}, RTPTapConfig{Stream: "cam"})
	err = tap.WritePacket(h264Stream(t), &Packet{Data: joinAVCC(testP), PTS: 0})
	require.ErrorIs(t, err, boom)
}

type tagRecorder struct {
	ts   []uint32
	tags [][]byte
}

func (r *tagRecorder) write(ts uint32, payload []byte) error {
	r.ts = append(r.ts, ts)
	r.tags = append(r.tags, payload)
	return nil
}

func TestRTMPTap_SequenceHeaderThenFrames(t *testing.T) {
	rec := &tagRecorder{}
	closed := false
	tap := newRTMPTap("cam", rec.write, func() error { closed = true; return nil })
	s := h264Stream(t)

	require.NoError(t, tap.WritePacket(s, &Packet{Data: joinAVCC(testIDR), PTS: 1024, DTS: 512, Key: true}))
	require.NoError(t, tap.WritePacket(s, &Packet{Data: joinAVCC(testP), PTS: 1536, DTS: 1024}))
	require.Len(t, rec.tags, 3)

	header := rec.tags[0]
	require.Equal(t, byte(flvFrameKey<<4|flvCodecAVC), header[0])
	require.Equal(t, byte(flvAVCSequenceHeader), header[1])
	require.Equal(t, s.Extradata, header[5:])

	key := rec.tags[1]
	require.Equal(t, byte(flvFrameKey<<4|flvCodecAVC), key[0])
	require.Equal(t, byte(flvAVCNALU), key[1])
	require.Equal(t, []byte{0, 0, 33}, key[2:5], "composition time offset in ms")
	require.Equal(t, joinAVCC(testIDR), key[5:])
	require.Equal(t, uint32(33), rec.ts[1])

	inter := rec.tags[2]
	require.Equal(t, byte(flvFrameInter<<4|flvCodecAVC), inter[0])
	require.Equal(t, uint32(66), rec.ts[2])
	require.Equal(t, uint64(2), tap.Tags())

	require.NoError(t, tap.Close())
	require.NoError(t, tap.Close())
	require.True(t, closed)
}

func TestRTMPTap_WaitsForParameterSets(t *testing.T) {
	rec := &tagRecorder{}
	tap := newRTMPTap("cam", rec.write, nil)
	s := h264Stream(t)
	s.Extradata = nil

	require.NoError(t, tap.WritePacket(s, &Packet{Data: joinAVCC(testP), PTS: 0, DTS: 0}))
	require.Empty(t, rec.tags)

	require.NoError(t, tap.WritePacket(s, &Packet{Data: joinAVCC(testSPS, testPPS, testIDR), PTS: 512, DTS: 512, Key: true}))
	require.Len(t, rec.tags, 2)
	require.Equal(t, byte(flvAVCSequenceHeader), rec.tags[0][1])

	s.Codec = "vp9"
	require.ErrorIs(t, tap.WritePacket(s, &Packet{Data: []byte{1}}), ErrCodecNotSupported)
}

func TestDialRTMPTap_InvalidURL(t *testing.T) {
	for _, u := range []string{"http://host/app/key", "rtmp://host/app", "rtmp://host/"} {
		_, err := DialRTMPTap(u, "cam")
		require.ErrorIs(t, err, ErrInvalidConfig, u)
	}
}

type sampleRecorder struct{ samples []media.Sample }

func (r *sampleRecorder) WriteSample(s media.Sample) error {
	r.samples = append(r.samples, s)
	return nil
}

func TestWebRTCTap(t *testing.T) {
	rec := &sampleRecorder{}
	tap := NewWebRTCTap("cam", rec)
	s := h264Stream(t)

	require.NoError(t, tap.WritePacket(s, &Packet{Data: joinAVCC(testIDR), PTS: 0, Duration: 512, Key: true}))
	require.NoError(t, tap.WritePacket(s, &Packet{Data: joinAVCC(testP), PTS: 512}))
	require.Len(t, rec.samples, 2)

	require.Equal(t, joinAnnexB(testSPS, testPPS, testIDR), rec.samples[0].Data)
	require.Equal(t, 33333333*time.Nanosecond, rec.samples[0].Duration)
	require.Equal(t, joinAnnexB(testP), rec.samples[1].Data)
	require.Equal(t, time.Second/30, rec.samples[1].Duration, "unknown durations come from the frame rate")
}

func TestWebRTCTap_CopiesOtherCodecs(t *testing.T) {
	rec := &sampleRecorder{}
	tap := NewWebRTCTap("cam", rec)
	s := &StreamDescriptor{Name: "cam", Codec: "vp8", TimeBase: TimeBase{1, 15360}, FrameRate: Rational{30, 1}}
	data := []byte{0x10, 0x02, 0x00}

	require.NoError(t, tap.WritePacket(s, &Packet{Data: data, PTS: 0}))
	data[0] = 0
	require.Equal(t, byte(0x10), rec.samples[0].Data[0])
}

func TestNewSampleTrack(t *testing.T) {
	track, err := NewSampleTrack("libvpx", "video", "velvet")
	require.NoError(t, err)
	require.Equal(t, "video/VP8", track.Codec().MimeType)

	_, err = NewSampleTrack("mjpeg", "video", "velvet")
	require.ErrorIs(t, err, ErrCodecNotSupported)
}
