package velvet

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
)

// EncodePump drives one encoder: frames in, container packets out. It is
// the per-stream handle returned by Muxer.Video.
type EncodePump struct {
	name   string
	index  int
	engine Engine
	enc    EncoderContext

	width, height int
	codecTB       TimeBase
	streamTB      TimeBase

	fb  *FrameBuffer
	pkt *Packet

	// write hands a rescaled packet to the container. The payload is
	// consumed by the call.
	write func(p *Packet) error
	sess  *session

	state PipelineState
	stats EncoderStats
	log   *slog.Logger
}

// Name returns the stream name.
func (p *EncodePump) Name() string { return p.name }

// Index returns the container stream index.
func (p *EncodePump) Index() int { return p.index }

// State returns the pump state.
func (p *EncodePump) State() PipelineState { return p.state }

// Stats returns the pump counters.
func (p *EncodePump) Stats() EncoderStats { return p.stats }

// CodecTimeBase returns the time base of submitted frame timestamps.
func (p *EncodePump) CodecTimeBase() TimeBase { return p.codecTB }

// StreamTimeBase returns the container time base of written packets.
func (p *EncodePump) StreamTimeBase() TimeBase { return p.streamTB }

// Encode converts img to the codec layout and submits it. pts is in codec
// time base units (frame numbers for a constant frame rate); a negative pts
// lets the engine assign the next one.
func (p *EncodePump) Encode(img image.Image, pts int64) error {
	if err := p.usable(); err != nil {
		return err
	}
	if p.fb == nil {
		r := img.Bounds()
		if r.Dx() != p.width || r.Dy() != p.height {
			return p.sess.fail(fmt.Errorf("%w: %s: image %dx%d, encoder %dx%d",
				ErrFrameSize, p.name, r.Dx(), r.Dy(), p.width, p.height))
		}
		fb, err := NewFrameBuffer(p.engine, p.width, p.height, p.enc.PixelFormat(), Encode)
		if err != nil {
			return p.sess.fail(fmt.Errorf("%s: %w", p.name, err))
		}
		p.fb = fb
	}

	f, err := p.fb.SetPixels(img)
	if err != nil {
		return p.sess.fail(fmt.Errorf("%s: %w", p.name, err))
	}
	return p.Submit(f, pts)
}

// Submit hands a codec-layout frame to the encoder and drains every packet
// the encoder produces in response.
func (p *EncodePump) Submit(f *Frame, pts int64) error {
	if err := p.usable(); err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("%w: nil frame, close the muxer to flush", ErrInvalidConfig)
	}
	if pts >= 0 {
		f.PTS = pts
	} else {
		f.PTS = NoPTS
	}

	if err := p.enc.SendFrame(f); err != nil {
		if isStatus(err) {
			return p.sess.fail(fmt.Errorf("%w: %s: encoder rejected frame while %s: %w",
				ErrProtocolViolation, p.name, p.state, err))
		}
		return p.sess.fail(fmt.Errorf("%s: %w", p.name, err))
	}
	p.state = PipelineStateActive
	p.stats.FramesSubmitted++
	p.log.Debug("frame submitted", "pts", f.PTS)

	return p.drain()
}

// drain receives packets until the encoder needs input or ends.
func (p *EncodePump) drain() error {
	for {
		err := p.enc.ReceivePacket(p.pkt)
		switch {
		case err == nil:
		case errors.Is(err, ErrAgain):
			if p.state == PipelineStateDraining {
				return p.sess.fail(fmt.Errorf("%w: %s: encoder asked for input after end of input",
					ErrProtocolViolation, p.name))
			}
			return nil
		case errors.Is(err, ErrEndOfStream):
			if p.state != PipelineStateDraining {
				return p.sess.fail(fmt.Errorf("%w: %s: end of stream while %s",
					ErrProtocolViolation, p.name, p.state))
			}
			p.state = PipelineStateClosed
			return nil
		default:
			return p.sess.fail(fmt.Errorf("%s: %w", p.name, err))
		}

		if err := p.emit(); err != nil {
			return p.sess.fail(err)
		}
	}
}

// emit rescales the received packet into the container time base and
// writes it. The packet is released on every path.
func (p *EncodePump) emit() error {
	defer p.pkt.Release()

	p.pkt.rescale(p.codecTB, p.streamTB)
	p.pkt.StreamIndex = p.index

	p.stats.PacketsWritten++
	p.stats.BytesWritten += uint64(len(p.pkt.Data))
	if p.pkt.Key {
		p.stats.KeyPackets++
	}
	p.log.Debug("packet", "pts", p.pkt.PTS, "dts", p.pkt.DTS, "size", len(p.pkt.Data), "key", p.pkt.Key)

	return p.write(p.pkt)
}

// flush signals end of input, drains the remaining packets and releases
// the pump resources.
func (p *EncodePump) flush() error {
	if p.state == PipelineStateClosed {
		return nil
	}
	if p.sess.err != nil {
		return p.sess.err
	}
	p.state = PipelineStateDraining
	if err := p.enc.SendFrame(nil); err != nil && !errors.Is(err, ErrEndOfStream) {
		if errors.Is(err, ErrAgain) {
			return p.sess.fail(fmt.Errorf("%w: %s: encoder rejected end of input", ErrProtocolViolation, p.name))
		}
		return p.sess.fail(fmt.Errorf("%s: %w", p.name, err))
	}
	if err := p.drain(); err != nil {
		return err
	}
	p.log.Debug("encoder drained", "frames", p.stats.FramesSubmitted, "packets", p.stats.PacketsWritten)
	p.release()
	return nil
}

func (p *EncodePump) usable() error {
	if p.sess.err != nil {
		return p.sess.err
	}
	switch p.state {
	case PipelineStateDraining, PipelineStateClosed:
		return fmt.Errorf("%w: stream %s", ErrClosed, p.name)
	}
	return nil
}

// release frees the frame buffer, the packet and the encoder. Safe to call
// more than once.
func (p *EncodePump) release() {
	if p.fb != nil {
		p.fb.Close()
		p.fb = nil
	}
	if p.pkt != nil {
		p.pkt.Free()
		p.pkt = nil
	}
	if p.enc != nil {
		if err := p.enc.Close(); err != nil {
			p.log.Warn("encoder close", "err", err)
		}
		p.enc = nil
	}
	p.state = PipelineStateClosed
}
