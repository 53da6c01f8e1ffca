package velvet

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// SampleWriter receives whole encoded frames. *webrtc.TrackLocalStaticSample
// satisfies it.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// NewSampleTrack creates a WebRTC track for a muxed stream of the given
// codec, for use with NewWebRTCTap.
func NewSampleTrack(codec string, id, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	c := ParseVideoCodec(codec)
	mime := c.MimeType()
	switch c {
	case VideoCodecH264, VideoCodecVP8, VideoCodecVP9, VideoCodecAV1:
	default:
		return nil, fmt.Errorf("%w: %s over webrtc", ErrCodecNotSupported, codec)
	}
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  mime,
		ClockRate: c.ClockRate(),
	}, id, streamID)
}

// WebRTCTap writes one muxed stream to a WebRTC sample track. The track
// packetizes; the tap converts H.264 to Annex B with in-band parameter sets.
type WebRTCTap struct {
	stream string
	w      SampleWriter

	bound  bool
	h264   bool
	params [][]byte
}

// NewWebRTCTap creates a tap writing the stream named stream to w.
func NewWebRTCTap(stream string, w SampleWriter) *WebRTCTap {
	return &WebRTCTap{stream: stream, w: w}
}

func (t *WebRTCTap) WritePacket(s *StreamDescriptor, pkt *Packet) error {
	if s.Name != t.stream || len(pkt.Data) == 0 {
		return nil
	}
	if !t.bound {
		t.bound = true
		if ParseVideoCodec(s.Codec) == VideoCodecH264 {
			t.h264 = true
			sps, pps, err := parameterSets(s.Extradata)
			if err != nil {
				return err
			}
			t.params = append(sps, pps...)
		}
	}

	var data []byte
	if t.h264 {
		nalus := splitNALUnits(pkt.Data)
		if pkt.Key && len(t.params) > 0 && !hasParameterSets(nalus) {
			nalus = append(append([][]byte{}, t.params...), nalus...)
		}
		data = joinAnnexB(nalus...)
	} else {
		data = append([]byte(nil), pkt.Data...)
	}

	dur := time.Duration(nanos(pkt.Duration, s.TimeBase))
	if pkt.Duration <= 0 && s.FrameRate.Num > 0 {
		dur = time.Duration(float64(time.Second) / s.FrameRate.Float())
	}
	return t.w.WriteSample(media.Sample{Data: data, Duration: dur})
}

func (t *WebRTCTap) Close() error { return nil }
