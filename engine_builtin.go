package velvet

import "fmt"

func init() {
	registerEngine(EngineBuiltin, func() (Engine, error) { return builtinEngine{}, nil })
}

// builtinEngine is the pure Go engine: intra-only mjpeg and rawvideo in
// progressive mp4/mov. It needs no native library and is always available.
type builtinEngine struct{}

func (builtinEngine) ID() EngineID      { return EngineBuiltin }
func (builtinEngine) Name() string      { return EngineBuiltin.String() }
func (builtinEngine) Formats() []string { return []string{"mp4", "mov"} }

func (builtinEngine) Codecs(Direction) []string {
	return []string{VideoCodecMJPEG.String(), VideoCodecRaw.String()}
}

func (builtinEngine) NewMuxerContext(format string, out *IOBridge) (MuxerContext, error) {
	return newBuiltinMuxer(format, out)
}

func (builtinEngine) OpenDemuxerContext(in *IOBridge) (DemuxerContext, error) {
	return openBuiltinDemuxer(in)
}

func (builtinEngine) NewEncoderContext(spec EncoderSpec) (EncoderContext, error) {
	return newBuiltinEncoder(spec)
}

func (builtinEngine) NewDecoderContext(dmx DemuxerContext, streamIndex int) (DecoderContext, error) {
	d, ok := dmx.(*builtinDemuxer)
	if !ok {
		return nil, fmt.Errorf("%w: builtin decoder needs a builtin demuxer", ErrEngineMismatch)
	}
	if streamIndex < 0 || streamIndex >= len(d.tracks) {
		return nil, fmt.Errorf("%w: %d", ErrStreamNotFound, streamIndex)
	}
	return newBuiltinDecoder(d.tracks[streamIndex].desc)
}

func (builtinEngine) AllocFrame(width, height int, format PixelFormat) (*Frame, error) {
	if width == 0 && height == 0 {
		return &Frame{PTS: NoPTS}, nil
	}
	return NewFrame(width, height, format)
}

func (builtinEngine) NewConverter(width, height int, src, dst PixelFormat) (Converter, error) {
	return NewPixelConverter(width, height, src, dst)
}
