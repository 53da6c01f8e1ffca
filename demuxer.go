package velvet

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
)

// DemuxerConfig configures a Demuxer.
type DemuxerConfig struct {
	Engine   Engine   // Engine instance; nil selects by EngineID
	EngineID EngineID // EngineAuto = library chooses

	Logger *slog.Logger
}

// DefaultDemuxerConfig returns the default demuxer configuration.
func DefaultDemuxerConfig() DemuxerConfig {
	return DemuxerConfig{EngineID: EngineAuto}
}

// route is where packets of one container stream go.
type route struct {
	video *VideoStream
	audio *StreamDescriptor
}

// Demuxer reads a container and decodes its video streams. Audio packets
// are passed through undecoded; other stream types are skipped.
//
// A Demuxer is not safe for concurrent use.
type Demuxer struct {
	engine Engine
	in     io.ReadSeeker
	bridge *IOBridge
	ctx    DemuxerContext

	streams  []StreamDescriptor
	videos   []*VideoStream
	byName   map[string]*VideoStream
	routes   map[int]route
	metadata map[string]string

	pkt *Packet

	// flush sequencer: set at end of input, visits videos in order
	eof      bool
	flushIdx int

	sess   session
	closed bool
	log    *slog.Logger
}

// NewDemuxer opens the container read from in and creates a decoder for
// every video stream.
func NewDemuxer(in io.ReadSeeker, cfg DemuxerConfig) (_ *Demuxer, err error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil input", ErrInvalidConfig)
	}
	engine, err := resolveEngine(cfg.Engine, cfg.EngineID)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("engine", engine.Name())

	d := &Demuxer{
		engine: engine,
		in:     in,
		bridge: NewInputBridge(in),
		byName: make(map[string]*VideoStream),
		routes: make(map[int]route),
		log:    log,
	}
	defer func() {
		if err != nil {
			d.release()
		}
	}()

	if d.ctx, err = engine.OpenDemuxerContext(d.bridge); err != nil {
		if berr := d.bridge.Err(); berr != nil {
			return nil, berr
		}
		return nil, err
	}
	d.metadata = d.ctx.Metadata()
	d.streams = d.ctx.Streams()

	for i := range d.streams {
		desc := &d.streams[i]
		switch desc.Type {
		case MediaTypeVideo:
			if _, dup := d.byName[desc.Name]; dup || desc.Name == "" {
				desc.Name = d.freeName(desc.Index)
			}
			dec, err := engine.NewDecoderContext(d.ctx, desc.Index)
			if err != nil {
				return nil, fmt.Errorf("stream %s: %w", desc.Name, err)
			}
			s := &VideoStream{dmx: d}
			s.pump = newDecodePump(engine, dec, *desc, &d.sess, log.With("stream", desc.Name, "index", desc.Index))
			d.videos = append(d.videos, s)
			d.byName[desc.Name] = s
			d.routes[desc.Index] = route{video: s}
			log.Debug("video stream", "index", desc.Index, "name", desc.Name, "codec", desc.Codec,
				"size", fmt.Sprintf("%dx%d", desc.Width, desc.Height), "tb", desc.TimeBase)
		case MediaTypeAudio:
			d.routes[desc.Index] = route{audio: desc}
			log.Debug("audio stream", "index", desc.Index, "codec", desc.Codec)
		default:
			log.Debug("stream skipped", "index", desc.Index, "type", desc.Type)
		}
	}

	d.pkt = NewPacket()
	log.Info("demuxer ready", "streams", len(d.streams), "videos", len(d.videos))
	return d, nil
}

// freeName returns the first unused video<n> name, starting at index.
func (d *Demuxer) freeName(index int) string {
	for n := index; ; n++ {
		name := fmt.Sprintf("video%d", n)
		if _, taken := d.byName[name]; !taken {
			return name
		}
	}
}

// Videos returns the video streams in container order.
func (d *Demuxer) Videos() []*VideoStream { return slices.Clone(d.videos) }

// Video returns the video stream named name, or nil.
func (d *Demuxer) Video(name string) *VideoStream { return d.byName[name] }

// Streams describes every container stream, including skipped ones.
func (d *Demuxer) Streams() []StreamDescriptor { return slices.Clone(d.streams) }

// Metadata returns a copy of the container metadata.
func (d *Demuxer) Metadata() map[string]string { return copyMetadata(d.metadata) }

// Engine returns the engine the demuxer runs on.
func (d *Demuxer) Engine() Engine { return d.engine }

// Err returns the error that invalidated the session, if any.
func (d *Demuxer) Err() error { return d.sess.err }

// NextPacket reads one container packet and delivers what it decodes to
// sink. At end of input it drains the decoders one at a time in stream
// order. It returns false once every decoder is drained.
func (d *Demuxer) NextPacket(sink Sink) (bool, error) {
	if d.closed {
		return false, ErrClosed
	}
	if d.sess.err != nil {
		return false, d.sess.err
	}

	for !d.eof {
		err := d.ctx.ReadPacket(d.pkt)
		switch {
		case err == nil:
			err = d.route(d.pkt, sink)
			d.pkt.Release()
			return err == nil, err
		case errors.Is(err, ErrAgain):
			continue
		case errors.Is(err, ErrEndOfStream):
			d.eof = true
			d.log.Debug("end of input", "bytes", d.bridge.BytesRead())
		default:
			if berr := d.bridge.Err(); berr != nil {
				err = berr
			}
			return false, d.sess.fail(err)
		}
	}

	for d.flushIdx < len(d.videos) {
		s := d.videos[d.flushIdx]
		n, ended, err := s.pump.decode(nil, d.deliver(s, sink))
		if err != nil {
			return false, err
		}
		if ended {
			d.flushIdx++
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (d *Demuxer) route(pkt *Packet, sink Sink) error {
	r, ok := d.routes[pkt.StreamIndex]
	switch {
	case !ok:
		d.log.Warn("packet for unmapped stream dropped", "index", pkt.StreamIndex)
		return nil
	case r.audio != nil:
		return sink(&AudioPacket{
			Stream:       *r.audio,
			Data:         slices.Clone(pkt.Data),
			PTS:          pkt.PTS,
			nanostamp:    nanos(pkt.PTS, r.audio.TimeBase),
			Nanoduration: nanos(pkt.Duration, r.audio.TimeBase),
		})
	default:
		_, _, err := r.video.pump.decode(pkt, d.deliver(r.video, sink))
		return err
	}
}

func (d *Demuxer) deliver(s *VideoStream, sink Sink) func(*Frame) error {
	return func(f *Frame) error {
		vf, err := s.pump.picture(f)
		if err != nil {
			return err
		}
		vf.Stream = s
		return sink(vf)
	}
}

// seek repositions the container on s and resets every decoder.
func (d *Demuxer) seek(s *VideoStream, ts int64) error {
	if d.closed {
		return ErrClosed
	}
	if d.sess.err != nil {
		return d.sess.err
	}
	if err := d.ctx.Seek(s.Index(), ts, true); err != nil {
		if berr := d.bridge.Err(); berr != nil {
			return d.sess.fail(berr)
		}
		return fmt.Errorf("%s: seek to %d: %w", s.Name(), ts, err)
	}
	for _, v := range d.videos {
		if v == s {
			v.pump.reset(ts)
		} else {
			v.pump.reset(NoPTS)
		}
	}
	d.eof = false
	d.flushIdx = 0
	d.log.Debug("seek", "stream", s.Name(), "ts", ts)
	return nil
}

// Close releases the decoders and the container. The input is not closed.
// Closing twice is a no-op.
func (d *Demuxer) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.release()
	d.log.Info("demuxer closed", "bytes", d.bridge.BytesRead())
	return err
}

func (d *Demuxer) release() error {
	for _, v := range d.videos {
		v.pump.release()
	}
	if d.pkt != nil {
		d.pkt.Free()
		d.pkt = nil
	}
	var err error
	if d.ctx != nil {
		err = d.ctx.Close()
		d.ctx = nil
	}
	return err
}
