package velvet

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

// FLV video tag constants
const (
	flvFrameKey   = 1
	flvFrameInter = 2
	flvCodecAVC   = 7

	flvAVCSequenceHeader = 0
	flvAVCNALU           = 1

	rtmpVideoChunkStream = 6
	rtmpChunkSize        = 128
)

// RTMPTap publishes one muxed H.264 stream to an RTMP server as FLV video
// tags.
type RTMPTap struct {
	stream string
	write  func(ts uint32, payload []byte) error
	close  func() error

	headerSent bool
	tags       uint64
}

// DialRTMPTap connects to rawURL (rtmp://host[:port]/app/key) and starts
// publishing; packets of the stream named stream are sent.
func DialRTMPTap(rawURL, stream string) (*RTMPTap, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: rtmp url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "rtmp" {
		return nil, fmt.Errorf("%w: rtmp url scheme %q", ErrInvalidConfig, u.Scheme)
	}
	app, key, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !ok || app == "" || key == "" {
		return nil, fmt.Errorf("%w: rtmp url %q has no app/key", ErrInvalidConfig, rawURL)
	}
	host := u.Host
	if u.Port() == "" {
		host += ":1935"
	}

	client, err := rtmp.Dial("rtmp", host, &rtmp.ConnConfig{})
	if err != nil {
		return nil, &IOError{Op: "rtmp dial", Err: err}
	}
	connect := &rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{
			App:      app,
			Type:     "nonprivate",
			FlashVer: "FMLE/3.0",
			TCURL:    fmt.Sprintf("rtmp://%s/%s", u.Host, app),
		},
	}
	if err := client.Connect(connect); err != nil {
		client.Close()
		return nil, &IOError{Op: "rtmp connect", Err: err}
	}
	s, err := client.CreateStream(nil, rtmpChunkSize)
	if err != nil {
		client.Close()
		return nil, &IOError{Op: "rtmp create stream", Err: err}
	}
	if err := s.Publish(&rtmpmsg.NetStreamPublish{PublishingName: key, PublishingType: "live"}); err != nil {
		client.Close()
		return nil, &IOError{Op: "rtmp publish", Err: err}
	}

	return newRTMPTap(stream,
		func(ts uint32, payload []byte) error {
			return s.Write(rtmpVideoChunkStream, ts, &rtmpmsg.VideoMessage{Payload: bytes.NewReader(payload)})
		},
		func() error {
			s.Close()
			return client.Close()
		}), nil
}

func newRTMPTap(stream string, write func(uint32, []byte) error, closeFn func() error) *RTMPTap {
	return &RTMPTap{stream: stream, write: write, close: closeFn}
}

func (t *RTMPTap) WritePacket(s *StreamDescriptor, pkt *Packet) error {
	if s.Name != t.stream || len(pkt.Data) == 0 {
		return nil
	}
	if ParseVideoCodec(s.Codec) != VideoCodecH264 {
		return fmt.Errorf("%w: %s over rtmp", ErrCodecNotSupported, s.Codec)
	}

	dts := pkt.DTS
	if dts == NoPTS {
		dts = pkt.PTS
	}
	ts := Rescale(dts, s.TimeBase, MilliTimeBase)
	if ts < 0 {
		ts = 0
	}

	nalus := splitNALUnits(pkt.Data)
	if !t.headerSent {
		sps, pps, err := parameterSets(s.Extradata)
		if err != nil {
			return err
		}
		if len(sps) == 0 {
			var params [][]byte
			for _, n := range nalus {
				switch n[0] & 0x1F {
				case nalTypeSPS:
					sps = append(sps, n)
				case nalTypePPS:
					params = append(params, n)
				}
			}
			pps = params
		}
		if len(sps) == 0 {
			// nothing decodable before the first keyframe carrying an SPS
			return nil
		}
		record, err := avcDecoderConfig(sps, pps)
		if err != nil {
			return err
		}
		if err := t.write(uint32(ts), flvVideoTag(true, flvAVCSequenceHeader, 0, record)); err != nil {
			return err
		}
		t.headerSent = true
	}

	var cts int64
	if pkt.PTS != NoPTS && pkt.DTS != NoPTS {
		cts = Rescale(pkt.PTS-pkt.DTS, s.TimeBase, MilliTimeBase)
	}
	if err := t.write(uint32(ts), flvVideoTag(pkt.Key, flvAVCNALU, int32(cts), joinAVCC(nalus...))); err != nil {
		return err
	}
	t.tags++
	return nil
}

// flvVideoTag builds an FLV AVC video tag body.
func flvVideoTag(key bool, packetType byte, cts int32, body []byte) []byte {
	frame := byte(flvFrameInter)
	if key {
		frame = flvFrameKey
	}
	out := make([]byte, 5, 5+len(body))
	out[0] = frame<<4 | flvCodecAVC
	out[1] = packetType
	out[2] = byte(cts >> 16)
	out[3] = byte(cts >> 8)
	out[4] = byte(cts)
	return append(out, body...)
}

func (t *RTMPTap) Close() error {
	if t.close == nil {
		return nil
	}
	err := t.close()
	t.close = nil
	return err
}

// Tags returns the number of coded frame tags published.
func (t *RTMPTap) Tags() uint64 { return t.tags }
