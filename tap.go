package velvet

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// PacketTap observes the packets a Muxer writes. WritePacket is called with
// the packet in the container time base before the container consumes the
// payload; a tap must copy what it keeps. Tap errors are logged and do not
// stop the muxer.
type PacketTap interface {
	WritePacket(stream *StreamDescriptor, pkt *Packet) error
	Close() error
}

// DefaultMTU is the RTP packet size limit used when none is configured.
const DefaultMTU = 1200

// RTPWriter receives packetized RTP. *webrtc.TrackLocalStaticRTP satisfies
// it.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// RTPTapConfig configures an RTPTap.
type RTPTapConfig struct {
	Stream      string // Name of the muxer stream to follow
	SSRC        uint32
	PayloadType uint8 // 0 selects the codec default
	MTU         int   // 0 selects DefaultMTU
}

// RTPTap packetizes one muxed stream into RTP with the 90 kHz video clock.
type RTPTap struct {
	cfg       RTPTapConfig
	w         RTPWriter
	sequencer rtp.Sequencer

	payloader rtp.Payloader
	codec     VideoCodec
	pt        uint8
	params    [][]byte // H.264 parameter sets prepended to keyframes

	stats RTPTapStats
	mu    sync.Mutex
}

// RTPTapStats provides tap counters.
type RTPTapStats struct {
	FramesSent  uint64
	PacketsSent uint64
	BytesSent   uint64
}

// NewRTPTap creates a tap writing the stream named cfg.Stream to w.
func NewRTPTap(w RTPWriter, cfg RTPTapConfig) *RTPTap {
	if cfg.MTU <= 0 {
		cfg.MTU = DefaultMTU
	}
	return &RTPTap{
		cfg:       cfg,
		w:         w,
		sequencer: rtp.NewRandomSequencer(),
	}
}

func newPayloader(c VideoCodec) (rtp.Payloader, error) {
	switch c {
	case VideoCodecH264:
		return &codecs.H264Payloader{}, nil
	case VideoCodecVP8:
		return &codecs.VP8Payloader{}, nil
	case VideoCodecVP9:
		return &codecs.VP9Payloader{}, nil
	case VideoCodecAV1:
		return &codecs.AV1Payloader{}, nil
	default:
		return nil, fmt.Errorf("%w: no rtp payloader for %s", ErrCodecNotSupported, c)
	}
}

// bind sets up the payloader on the first packet of the followed stream.
func (t *RTPTap) bind(s *StreamDescriptor) error {
	t.codec = ParseVideoCodec(s.Codec)
	p, err := newPayloader(t.codec)
	if err != nil {
		return err
	}
	t.payloader = p
	t.pt = t.cfg.PayloadType
	if t.pt == 0 {
		t.pt = t.codec.DefaultPayloadType()
	}
	if t.codec == VideoCodecH264 {
		sps, pps, err := parameterSets(s.Extradata)
		if err != nil {
			return err
		}
		t.params = append(sps, pps...)
	}
	return nil
}

func (t *RTPTap) WritePacket(s *StreamDescriptor, pkt *Packet) error {
	if s.Name != t.cfg.Stream || len(pkt.Data) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.payloader == nil {
		if err := t.bind(s); err != nil {
			return err
		}
	}

	data := pkt.Data
	if t.codec == VideoCodecH264 {
		nalus := splitNALUnits(data)
		if pkt.Key && len(t.params) > 0 && !hasParameterSets(nalus) {
			nalus = append(append([][]byte{}, t.params...), nalus...)
		}
		data = joinAnnexB(nalus...)
	}

	ts := uint32(Rescale(pkt.PTS, s.TimeBase, RTPVideoTimeBase))
	payloads := t.payloader.Payload(uint16(t.cfg.MTU-12), data)
	for i, payload := range payloads {
		p := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    t.pt,
				SequenceNumber: t.sequencer.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           t.cfg.SSRC,
			},
			Payload: payload,
		}
		if err := t.w.WriteRTP(p); err != nil {
			return err
		}
		t.stats.PacketsSent++
		t.stats.BytesSent += uint64(len(payload))
	}
	t.stats.FramesSent++
	return nil
}

// Stats returns the tap counters.
func (t *RTPTap) Stats() RTPTapStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *RTPTap) Close() error { return nil }
