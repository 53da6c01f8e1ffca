package velvet

// Engine is a media codec engine: the encode, decode, mux and demux
// primitives the pumps and orchestrators drive. Contexts created by one
// engine can only be combined with contexts of the same engine.
//
// Primitives that iterate (SendFrame, ReceivePacket, SendPacket,
// ReceiveFrame, ReadPacket) report their tri-state outcome as nil (data
// produced or input accepted), ErrAgain (needs more input) or
// ErrEndOfStream. Any other error is fatal.
type Engine interface {
	ID() EngineID
	Name() string

	// Codecs lists the video codec names usable in the given direction.
	Codecs(dir Direction) []string
	// Formats lists the container format names the engine can write.
	Formats() []string

	NewMuxerContext(format string, out *IOBridge) (MuxerContext, error)
	OpenDemuxerContext(in *IOBridge) (DemuxerContext, error)
	NewEncoderContext(spec EncoderSpec) (EncoderContext, error)
	NewDecoderContext(dmx DemuxerContext, streamIndex int) (DecoderContext, error)

	// AllocFrame allocates a frame the engine can encode from, decode into
	// or convert. A zero width and height returns an empty receive target.
	AllocFrame(width, height int, format PixelFormat) (*Frame, error)
	NewConverter(width, height int, src, dst PixelFormat) (Converter, error)
}

// Direction selects encoders or decoders in codec listings.
type Direction int

const (
	Encode Direction = iota
	Decode
)

func (d Direction) String() string {
	if d == Decode {
		return "decode"
	}
	return "encode"
}

// EncoderSpec is the fully resolved encoder configuration handed to an
// engine.
type EncoderSpec struct {
	Codec        string
	Width        int
	Height       int
	PixelFormat  PixelFormat // empty selects the codec's preferred format
	TimeBase     TimeBase
	Bitrate      int64
	GlobalHeader bool
	Params       map[string]string
}

// EncoderContext is the engine side of one encode stream.
type EncoderContext interface {
	// SendFrame hands a frame to the encoder. A nil frame signals end of input.
	SendFrame(f *Frame) error
	// ReceivePacket fills p with the next encoded packet in TimeBase units.
	ReceivePacket(p *Packet) error
	TimeBase() TimeBase
	PixelFormat() PixelFormat
	// Codec returns the codec identity name (h264, mjpeg, ...).
	Codec() string
	// Extradata returns the codec global header, if any.
	Extradata() []byte
	Close() error
}

// DecoderContext is the engine side of one decode stream.
type DecoderContext interface {
	// SendPacket hands a packet to the decoder. A nil packet signals end of input.
	SendPacket(p *Packet) error
	// ReceiveFrame fills f with the next decoded frame, pts in the stream
	// time base.
	ReceiveFrame(f *Frame) error
	// Flush drops buffered frames and resets end of stream, after a seek.
	Flush()
	TicksPerFrame() int
	PixelFormat() PixelFormat
	Close() error
}

// MuxerContext is an open output container.
type MuxerContext interface {
	// GlobalHeader reports whether the format wants codec headers out of band.
	GlobalHeader() bool
	SetMetadata(key, value string) error
	// AddStream registers an encoder's parameters and returns the stream index.
	AddStream(enc EncoderContext, metadata map[string]string) (int, error)
	WriteHeader() error
	// StreamTimeBase is valid after WriteHeader.
	StreamTimeBase(index int) TimeBase
	// WritePacket writes with cross-stream interleaving. The packet payload is
	// consumed. A nil packet flushes the interleaving queue.
	WritePacket(p *Packet) error
	WriteTrailer() error
	Close() error
}

// DemuxerContext is an open input container.
type DemuxerContext interface {
	Streams() []StreamDescriptor
	Metadata() map[string]string
	// ReadPacket fills p with the next packet in container order, or returns
	// ErrEndOfStream.
	ReadPacket(p *Packet) error
	// Seek repositions on a keyframe of streamIndex at or before ts (stream
	// time base) when backward is set.
	Seek(streamIndex int, ts int64, backward bool) error
	Close() error
}

// Converter converts pictures between pixel layouts of equal dimensions.
type Converter interface {
	Convert(dst, src *Frame) error
	Close() error
}

// MediaType is the kind of a container stream.
type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeVideo
	MediaTypeAudio
	MediaTypeData
	MediaTypeSubtitle
)

func (m MediaType) String() string {
	switch m {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeData:
		return "data"
	case MediaTypeSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// Rational is a frame rate or aspect ratio.
type Rational struct {
	Num int64
	Den int64
}

// Float returns the value of r, or 0 when the denominator is 0.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// StreamDescriptor identifies one container stream. It is created at mux
// build or demux discovery and not modified afterwards.
type StreamDescriptor struct {
	Index     int
	Name      string
	Type      MediaType
	Codec     string
	TimeBase  TimeBase
	FrameRate Rational
	Width     int
	Height    int
	// Duration in TimeBase units, 0 when unknown.
	Duration int64
	// Frames is the number of frames (samples) the container declares.
	Frames    int64
	Bitrate   int64
	Extradata []byte // codec global header (avcC, ...)
	Metadata  map[string]string
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
