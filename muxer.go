package velvet

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
)

// VideoStreamConfig registers one named video stream with a Muxer.
type VideoStreamConfig struct {
	Name    string
	Encoder EncoderConfig
}

// MuxerConfig configures a Muxer.
type MuxerConfig struct {
	Format string // Container format name (mp4, mov, matroska, ...)

	// Videos are registered in order; the order assigns stream indexes and
	// the flush order on Close.
	Videos []VideoStreamConfig

	// Metadata is written as container metadata.
	Metadata map[string]string

	Engine   Engine   // Engine instance; nil selects by EngineID
	EngineID EngineID // EngineAuto = library chooses

	// Taps observe every packet written to the container.
	Taps []PacketTap

	Logger *slog.Logger
}

// DefaultMuxerConfig returns a configuration for format with no streams.
func DefaultMuxerConfig(format string) MuxerConfig {
	return MuxerConfig{Format: format, EngineID: EngineAuto}
}

// WithVideo returns a copy of c with a video stream appended.
func (c MuxerConfig) WithVideo(name string, enc EncoderConfig) MuxerConfig {
	c.Videos = append(slices.Clip(c.Videos), VideoStreamConfig{Name: name, Encoder: enc})
	return c
}

// WithMetadata returns a copy of c with a container metadata entry set.
func (c MuxerConfig) WithMetadata(key, value string) MuxerConfig {
	c.Metadata = copyMetadata(c.Metadata)
	c.Metadata[key] = value
	return c
}

func (c MuxerConfig) validate() error {
	if c.Format == "" {
		return fmt.Errorf("%w: container format is required", ErrInvalidConfig)
	}
	if len(c.Videos) == 0 {
		return fmt.Errorf("%w: no streams registered", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Videos))
	for _, v := range c.Videos {
		if v.Name == "" {
			return fmt.Errorf("%w: stream name is required", ErrInvalidConfig)
		}
		if seen[v.Name] {
			return fmt.Errorf("%w: duplicate stream name %q", ErrInvalidConfig, v.Name)
		}
		seen[v.Name] = true
		if err := v.Encoder.validate(); err != nil {
			return fmt.Errorf("stream %s: %w", v.Name, err)
		}
	}
	return nil
}

// session holds the first fatal error of a pipeline. Every later call on
// the pipeline returns it.
type session struct {
	err error
}

func (s *session) fail(err error) error {
	if s.err == nil {
		s.err = err
	}
	return err
}

// Muxer writes named video streams into one container. It owns the
// container context and one EncodePump per stream.
//
// A Muxer is not safe for concurrent use.
type Muxer struct {
	engine Engine
	out    io.WriteSeeker
	bridge *IOBridge
	ctx    MuxerContext

	pumps   []*EncodePump
	byName  map[string]*EncodePump
	streams []StreamDescriptor
	taps    []PacketTap

	sess   session
	closed bool
	log    *slog.Logger
}

// NewMuxer builds the container: it creates every encoder, registers the
// streams in order and writes the container header. Nothing acquired is
// leaked when it fails.
func NewMuxer(out io.WriteSeeker, cfg MuxerConfig) (_ *Muxer, err error) {
	if out == nil {
		return nil, fmt.Errorf("%w: nil output", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	engine, err := resolveEngine(cfg.Engine, cfg.EngineID)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("format", cfg.Format, "engine", engine.Name())

	m := &Muxer{
		engine: engine,
		out:    out,
		bridge: NewOutputBridge(out),
		byName: make(map[string]*EncodePump, len(cfg.Videos)),
		taps:   cfg.Taps,
		log:    log,
	}
	defer func() {
		if err != nil {
			m.release()
		}
	}()

	if m.ctx, err = engine.NewMuxerContext(cfg.Format, m.bridge); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(cfg.Metadata))
	for k := range cfg.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err = m.ctx.SetMetadata(k, cfg.Metadata[k]); err != nil {
			return nil, err
		}
	}

	for _, v := range cfg.Videos {
		enc, err := engine.NewEncoderContext(v.Encoder.spec(m.ctx.GlobalHeader()))
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", v.Name, err)
		}
		p := &EncodePump{
			name:    v.Name,
			engine:  engine,
			enc:     enc,
			width:   v.Encoder.Width,
			height:  v.Encoder.Height,
			codecTB: enc.TimeBase(),
			pkt:     NewPacket(),
			sess:    &m.sess,
			log:     log.With("stream", v.Name),
		}
		m.pumps = append(m.pumps, p)
		m.byName[v.Name] = p

		md := copyMetadata(v.Encoder.Metadata)
		md["handler_name"] = v.Name
		if p.index, err = m.ctx.AddStream(enc, md); err != nil {
			return nil, fmt.Errorf("stream %s: %w", v.Name, err)
		}
		m.streams = append(m.streams, StreamDescriptor{
			Index:     p.index,
			Name:      v.Name,
			Type:      MediaTypeVideo,
			Codec:     enc.Codec(),
			FrameRate: Rational{int64(v.Encoder.Framerate), 1},
			Width:     v.Encoder.Width,
			Height:    v.Encoder.Height,
			Bitrate:   v.Encoder.Bitrate,
			Extradata: enc.Extradata(),
			Metadata:  md,
		})
	}

	if err = m.ctx.WriteHeader(); err != nil {
		return nil, m.ioError(err)
	}
	for i, p := range m.pumps {
		p.streamTB = m.ctx.StreamTimeBase(p.index)
		m.streams[i].TimeBase = p.streamTB
		desc := m.streams[i]
		p.write = func(pkt *Packet) error { return m.writePacket(&desc, pkt) }
		p.log.Debug("stream registered", "index", p.index, "codec", desc.Codec,
			"codec_tb", p.codecTB, "stream_tb", p.streamTB)
	}

	log.Info("muxer ready", "streams", len(m.pumps))
	return m, nil
}

// Video returns the stream registered under name, or nil.
func (m *Muxer) Video(name string) *EncodePump {
	return m.byName[name]
}

// Videos returns the streams in registration order.
func (m *Muxer) Videos() []*EncodePump {
	return slices.Clone(m.pumps)
}

// Streams describes the registered streams.
func (m *Muxer) Streams() []StreamDescriptor {
	return slices.Clone(m.streams)
}

// Engine returns the engine the muxer runs on.
func (m *Muxer) Engine() Engine { return m.engine }

// Err returns the error that invalidated the session, if any.
func (m *Muxer) Err() error { return m.sess.err }

func (m *Muxer) writePacket(desc *StreamDescriptor, pkt *Packet) error {
	for _, t := range m.taps {
		if err := t.WritePacket(desc, pkt); err != nil {
			m.log.Warn("tap write failed", "stream", desc.Name, "err", err)
		}
	}
	if err := m.ctx.WritePacket(pkt); err != nil {
		return m.ioError(err)
	}
	return nil
}

// ioError prefers the bridge failure over the engine's report of it.
func (m *Muxer) ioError(err error) error {
	if berr := m.bridge.Err(); berr != nil {
		return berr
	}
	return err
}

// Close flushes every encoder in registration order, flushes the
// interleaving queue, writes the trailer and releases the container and the
// output (closed when it is an io.Closer). Closing twice is a no-op.
func (m *Muxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if m.sess.err == nil {
		for _, p := range m.pumps {
			if err := p.flush(); err != nil {
				break
			}
		}
	}
	if m.sess.err == nil {
		if err := m.ctx.WritePacket(nil); err != nil {
			m.sess.fail(m.ioError(err))
		} else if err := m.ctx.WriteTrailer(); err != nil {
			m.sess.fail(m.ioError(err))
		}
	}
	if m.sess.err != nil {
		errs = append(errs, m.sess.err)
	}

	written := m.bridge.BytesWritten()
	errs = append(errs, m.release()...)
	if len(errs) == 0 {
		m.log.Info("muxer closed", "bytes", written)
	}
	return errors.Join(errs...)
}

// release frees every native resource and the output. It runs on build
// failure and at the end of Close.
func (m *Muxer) release() []error {
	var errs []error
	for _, p := range m.pumps {
		p.release()
	}
	if m.ctx != nil {
		if err := m.ctx.Close(); err != nil {
			errs = append(errs, err)
		}
		m.ctx = nil
	}
	for _, t := range m.taps {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tap: %w", err))
		}
	}
	m.taps = nil
	if c, ok := m.out.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, &IOError{Op: "close", Err: err})
		}
	}
	m.out = nil
	return errs
}
