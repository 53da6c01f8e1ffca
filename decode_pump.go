package velvet

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DecodePump drives one decoder: container packets in, application frames
// out. A pump with a skip target discards frames until it reaches the
// target, which turns keyframe-aligned container seeks into exact ones.
type DecodePump struct {
	desc   StreamDescriptor
	engine Engine
	dec    DecoderContext

	fb *FrameBuffer

	state      PipelineState
	flushed    bool  // end of input sent
	skipTarget int64 // stream time base; NoPTS when not seeking

	sess  *session
	stats DecoderStats
	log   *slog.Logger
}

// DecoderStats provides per-stream decoding counters.
type DecoderStats struct {
	PacketsDecoded  uint64 // Packets handed to the decoder
	FramesDecoded   uint64 // Frames received from the decoder
	FramesDelivered uint64 // Frames handed to the application
	FramesSkipped   uint64 // Frames dropped by the seek filter
}

func newDecodePump(e Engine, dec DecoderContext, desc StreamDescriptor, sess *session, log *slog.Logger) *DecodePump {
	return &DecodePump{
		desc:       desc,
		engine:     e,
		dec:        dec,
		skipTarget: NoPTS,
		sess:       sess,
		log:        log,
	}
}

// decode sends pkt to the decoder, or end of input when pkt is nil, and
// hands every frame the decoder produces to deliver. It reports how many
// frames were delivered and whether the decoder reached end of stream.
func (p *DecodePump) decode(pkt *Packet, deliver func(*Frame) error) (delivered int, ended bool, err error) {
	if p.sess.err != nil {
		return 0, false, p.sess.err
	}
	if p.state == PipelineStateClosed {
		return 0, true, nil
	}
	if p.fb == nil {
		fb, err := NewFrameBuffer(p.engine, p.desc.Width, p.desc.Height, p.dec.PixelFormat(), Decode)
		if err != nil {
			return 0, false, p.sess.fail(fmt.Errorf("%s: %w", p.desc.Name, err))
		}
		p.fb = fb
	}

	switch {
	case pkt != nil:
		if p.state == PipelineStateDraining {
			return 0, false, p.sess.fail(fmt.Errorf("%w: %s: packet after end of input",
				ErrProtocolViolation, p.desc.Name))
		}
		if err := p.dec.SendPacket(pkt); err != nil {
			if isStatus(err) {
				return 0, false, p.sess.fail(fmt.Errorf("%w: %s: decoder rejected packet while %s: %w",
					ErrProtocolViolation, p.desc.Name, p.state, err))
			}
			return 0, false, p.sess.fail(fmt.Errorf("%s: %w", p.desc.Name, err))
		}
		p.state = PipelineStateActive
		p.stats.PacketsDecoded++
	case !p.flushed:
		p.flushed = true
		p.state = PipelineStateDraining
		if err := p.dec.SendPacket(nil); err != nil && !errors.Is(err, ErrEndOfStream) {
			if errors.Is(err, ErrAgain) {
				return 0, false, p.sess.fail(fmt.Errorf("%w: %s: decoder rejected end of input",
					ErrProtocolViolation, p.desc.Name))
			}
			return 0, false, p.sess.fail(fmt.Errorf("%s: %w", p.desc.Name, err))
		}
	}

	frame := p.fb.CodecFrame()
	for {
		err := p.dec.ReceiveFrame(frame)
		switch {
		case err == nil:
		case errors.Is(err, ErrAgain):
			if p.state == PipelineStateDraining {
				return delivered, false, p.sess.fail(fmt.Errorf("%w: %s: decoder asked for input after end of input",
					ErrProtocolViolation, p.desc.Name))
			}
			return delivered, false, nil
		case errors.Is(err, ErrEndOfStream):
			if p.state != PipelineStateDraining {
				return delivered, false, p.sess.fail(fmt.Errorf("%w: %s: end of stream while %s",
					ErrProtocolViolation, p.desc.Name, p.state))
			}
			p.state = PipelineStateClosed
			p.log.Debug("decoder drained", "frames", p.stats.FramesDecoded, "delivered", p.stats.FramesDelivered)
			return delivered, true, nil
		default:
			return delivered, false, p.sess.fail(fmt.Errorf("%s: %w", p.desc.Name, err))
		}

		p.stats.FramesDecoded++
		if p.skip(frame.PTS) {
			p.stats.FramesSkipped++
			continue
		}
		if err := deliver(frame); err != nil {
			return delivered, false, err
		}
		delivered++
		p.stats.FramesDelivered++
	}
}

// skip applies the seek filter to a frame timestamp.
func (p *DecodePump) skip(pts int64) bool {
	if p.skipTarget == NoPTS {
		return false
	}
	if pts == NoPTS || pts < p.skipTarget {
		return true
	}
	p.log.Debug("seek target reached", "target", p.skipTarget, "pts", pts)
	p.skipTarget = NoPTS
	return false
}

// reset drops decoder state after a container seek and arms the seek
// filter with target.
func (p *DecodePump) reset(target int64) {
	if p.dec != nil {
		p.dec.Flush()
	}
	p.flushed = false
	p.state = PipelineStateIdle
	p.skipTarget = target
}

// picture converts a decoded frame for the application.
func (p *DecodePump) picture(f *Frame) (*VideoFrame, error) {
	img, err := p.fb.GetPixels(f)
	if err != nil {
		return nil, p.sess.fail(fmt.Errorf("%s: %w", p.desc.Name, err))
	}
	return &VideoFrame{
		Image:        img,
		PTS:          f.PTS,
		nanostamp:    nanos(f.PTS, p.desc.TimeBase),
		Nanoduration: nanos(f.Duration, p.desc.TimeBase),
	}, nil
}

// release frees the frame buffer and the decoder. Safe to call more than
// once.
func (p *DecodePump) release() {
	if p.fb != nil {
		p.fb.Close()
		p.fb = nil
	}
	if p.dec != nil {
		if err := p.dec.Close(); err != nil {
			p.log.Warn("decoder close", "err", err)
		}
		p.dec = nil
	}
	p.state = PipelineStateClosed
}

// VideoStreamProperties describes a demuxed video stream.
type VideoStreamProperties struct {
	Codec     string
	Framerate float64
	Duration  time.Duration
	Frames    int64
	Width     int
	Height    int
}

// VideoStream is a named decodable stream of a Demuxer.
type VideoStream struct {
	pump *DecodePump
	dmx  *Demuxer
}

// Name returns the stream name: its handler name, or video<index>.
func (s *VideoStream) Name() string { return s.pump.desc.Name }

// Index returns the container stream index.
func (s *VideoStream) Index() int { return s.pump.desc.Index }

// Descriptor returns the container stream descriptor.
func (s *VideoStream) Descriptor() StreamDescriptor { return s.pump.desc }

// Metadata returns a copy of the stream metadata.
func (s *VideoStream) Metadata() map[string]string { return copyMetadata(s.pump.desc.Metadata) }

// State returns the decode state.
func (s *VideoStream) State() PipelineState { return s.pump.state }

// Stats returns the decode counters.
func (s *VideoStream) Stats() DecoderStats { return s.pump.stats }

// Properties reports the stream properties the container declares.
func (s *VideoStream) Properties() VideoStreamProperties {
	d := s.pump.desc
	var dur time.Duration
	if d.Duration > 0 && d.TimeBase.Valid() {
		dur = time.Duration(Rescale(d.Duration, d.TimeBase, NanoTimeBase))
	}
	return VideoStreamProperties{
		Codec:     d.Codec,
		Framerate: d.FrameRate.Float(),
		Duration:  dur,
		Frames:    d.Frames,
		Width:     d.Width,
		Height:    d.Height,
	}
}

// Seek positions the stream at the presentation time nanos from stream
// start. The container seeks to the preceding keyframe and the first frame
// delivered afterwards is the first one at or after the target. Seek
// returns before any frame is decoded.
func (s *VideoStream) Seek(nanos int64) error {
	return s.dmx.seek(s, Rescale(nanos, NanoTimeBase, s.pump.desc.TimeBase))
}

// SeekFrame positions the stream at frame number n of a constant frame
// rate stream.
func (s *VideoStream) SeekFrame(n int64) error {
	fr := s.pump.desc.FrameRate
	if fr.Num <= 0 || fr.Den <= 0 {
		return fmt.Errorf("%w: %s: unknown frame rate", ErrInvalidData, s.Name())
	}
	ticks := 1
	if s.pump.dec != nil {
		ticks = max(s.pump.dec.TicksPerFrame(), 1)
	}
	codecTB := TimeBase{Num: fr.Den, Den: fr.Num * int64(ticks)}
	return s.dmx.seek(s, Rescale(n*int64(ticks), codecTB, s.pump.desc.TimeBase))
}

// NextPacket reads container packets until this stream delivers at least
// one frame to cb. Frames of other streams are decoded and dropped. It
// returns false once the container is exhausted.
func (s *VideoStream) NextPacket(cb func(*VideoFrame) error) (bool, error) {
	got := false
	sink := func(m Media) error {
		f, ok := m.(*VideoFrame)
		if !ok || f.Stream != s {
			return nil
		}
		got = true
		return cb(f)
	}
	for {
		more, err := s.dmx.NextPacket(sink)
		if err != nil {
			return false, err
		}
		if got {
			return true, nil
		}
		if !more {
			return false, nil
		}
	}
}
