//go:build (darwin || linux) && !noffmpeg

package velvet

import (
	"fmt"
	"slices"
	"unsafe"
)

// Candidate names probed when listing what the loaded FFmpeg build offers.
var (
	ffmpegEncoderNames = []string{
		"libx264", "libx265", "libvpx", "libvpx-vp9", "libaom-av1", "libsvtav1",
		"h264_videotoolbox", "hevc_videotoolbox", "h264_nvenc", "mjpeg", "mpeg4", "rawvideo",
	}
	ffmpegDecoderNames = []string{
		"h264", "hevc", "vp8", "vp9", "av1", "libdav1d", "mjpeg", "mpeg4", "rawvideo",
	}
	ffmpegFormatNames = []string{"mp4", "mov", "matroska", "webm", "avi", "mpegts", "flv", "nut"}
)

// ffmpegEngine drives libavformat and libavcodec through libmedia_av.
type ffmpegEngine struct {
	version string
}

func (*ffmpegEngine) ID() EngineID { return EngineFFmpeg }

func (e *ffmpegEngine) Name() string { return EngineFFmpeg.String() }

// Version returns the FFmpeg version string of the loaded library.
func (e *ffmpegEngine) Version() string { return e.version }

func (*ffmpegEngine) Codecs(dir Direction) []string {
	names, encode := ffmpegEncoderNames, int32(1)
	if dir == Decode {
		names, encode = ffmpegDecoderNames, 0
	}
	var out []string
	for _, n := range names {
		if mediaAVCodecAvailable(n, encode) != 0 {
			out = append(out, n)
		}
	}
	return out
}

func (*ffmpegEngine) Formats() []string {
	var out []string
	for _, n := range ffmpegFormatNames {
		if mediaAVFormatAvailable(n) != 0 {
			out = append(out, n)
		}
	}
	return out
}

func (*ffmpegEngine) AllocFrame(width, height int, format PixelFormat) (*Frame, error) {
	ptr := mediaAVFrameAlloc(int32(width), int32(height), string(format))
	if ptr == 0 {
		if width == 0 && height == 0 {
			return nil, &EngineError{Op: "frame alloc", Msg: "out of memory"}
		}
		return nil, fmt.Errorf("%w: %s %dx%d", ErrUnsupportedPixelFormat, format, width, height)
	}
	f := &Frame{native: &avFrame{ptr: ptr}}
	syncFrame(f, ptr)
	if width == 0 && height == 0 {
		f.PTS = NoPTS
	}
	return f, nil
}

func (*ffmpegEngine) NewConverter(width, height int, src, dst PixelFormat) (Converter, error) {
	ptr := mediaAVSwsCreate(int32(width), int32(height), string(src), string(dst))
	if ptr == 0 {
		return nil, fmt.Errorf("%w: %s to %s", ErrUnsupportedPixelFormat, src, dst)
	}
	return &ffmpegConverter{ptr: ptr}, nil
}

/****************************** converter *******************************/

type ffmpegConverter struct{ ptr uintptr }

func (c *ffmpegConverter) Convert(dst, src *Frame) error {
	if c.ptr == 0 {
		return ErrClosed
	}
	d, ok1 := nativeFrame(dst)
	s, ok2 := nativeFrame(src)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: converter needs engine frames", ErrEngineMismatch)
	}
	if rc := mediaAVSwsScale(c.ptr, d, s); rc < 0 {
		return avError("convert", rc)
	}
	return nil
}

func (c *ffmpegConverter) Close() error {
	if c.ptr != 0 {
		mediaAVSwsFree(c.ptr)
		c.ptr = 0
	}
	return nil
}

/******************************* encoder ********************************/

type ffmpegEncoder struct {
	ptr       uintptr
	tb        TimeBase
	format    PixelFormat
	codec     string
	extradata []byte

	scratch *Frame // native copy target for Go-memory frames
}

func (*ffmpegEngine) NewEncoderContext(spec EncoderSpec) (EncoderContext, error) {
	var code int32
	ptr := mediaAVEncoderAlloc(spec.Codec, &code)
	if ptr == 0 {
		return nil, fmt.Errorf("encoder %q: %w", spec.Codec, avError("encoder alloc", code))
	}
	keys := make([]string, 0, len(spec.Params))
	for k := range spec.Params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if rc := mediaAVEncoderSetOption(ptr, k, spec.Params[k]); rc < 0 {
			mediaAVEncoderFree(ptr)
			return nil, avError("encoder option "+k, rc)
		}
	}
	gh := int32(0)
	if spec.GlobalHeader {
		gh = 1
	}
	rc := mediaAVEncoderOpen(ptr, int32(spec.Width), int32(spec.Height), string(spec.PixelFormat),
		int32(spec.TimeBase.Num), int32(spec.TimeBase.Den), spec.Bitrate, gh)
	if rc < 0 {
		mediaAVEncoderFree(ptr)
		return nil, fmt.Errorf("encoder %q: %w", spec.Codec, avError("encoder open", rc))
	}

	info := new(avCodecInfo)
	mediaAVEncoderInfo(ptr, info)
	e := &ffmpegEncoder{
		ptr:    ptr,
		tb:     TimeBase{Num: int64(info.TBNum), Den: int64(info.TBDen)},
		format: PixelFormat(goStringFromArray(info.PixFmt[:])),
		codec:  goStringFromArray(info.Codec[:]),
	}
	if info.ExtradataSize > 0 && info.Extradata != 0 {
		e.extradata = slices.Clone(unsafe.Slice((*byte)(unsafe.Pointer(info.Extradata)), info.ExtradataSize))
	}
	return e, nil
}

func (e *ffmpegEncoder) SendFrame(f *Frame) error {
	if e.ptr == 0 {
		return ErrClosed
	}
	if f == nil {
		return avStatus("encoder send", mediaAVEncoderSend(e.ptr, 0))
	}
	ptr, ok := nativeFrame(f)
	if !ok {
		var err error
		if ptr, err = e.copyFrame(f); err != nil {
			return err
		}
	}
	mediaAVFrameSetPTS(ptr, f.PTS)
	return avStatus("encoder send", mediaAVEncoderSend(e.ptr, ptr))
}

// copyFrame copies a Go-memory frame into the native scratch frame.
func (e *ffmpegEncoder) copyFrame(f *Frame) (uintptr, error) {
	if f.Format != e.format {
		return 0, fmt.Errorf("%w: got %s, encoder wants %s", ErrUnsupportedPixelFormat, f.Format, e.format)
	}
	if e.scratch == nil || e.scratch.Width != f.Width || e.scratch.Height != f.Height {
		e.scratch.Free()
		s, err := (*ffmpegEngine)(nil).AllocFrame(f.Width, f.Height, f.Format)
		if err != nil {
			return 0, err
		}
		e.scratch = s
	}
	if err := e.scratch.MakeWritable(); err != nil {
		return 0, err
	}
	if len(f.Planes) < f.Format.PlaneCount() {
		return 0, fmt.Errorf("%w: %s frame has %d planes", ErrInvalidData, f.Format, len(f.Planes))
	}
	for i := 0; i < f.Format.PlaneCount(); i++ {
		row, rows := f.Format.PlaneSize(f.Width, f.Height, i)
		copyPlane(e.scratch.Planes[i], e.scratch.Strides[i], f.Planes[i], f.Strides[i], row, rows)
	}
	ptr, _ := nativeFrame(e.scratch)
	return ptr, nil
}

func (e *ffmpegEncoder) ReceivePacket(p *Packet) error {
	if e.ptr == 0 {
		return ErrClosed
	}
	ptr, err := packetTarget(p)
	if err != nil {
		return err
	}
	if err := avStatus("encoder receive", mediaAVEncoderReceive(e.ptr, ptr)); err != nil {
		return err
	}
	syncPacket(p, ptr)
	return nil
}

func (e *ffmpegEncoder) TimeBase() TimeBase       { return e.tb }
func (e *ffmpegEncoder) PixelFormat() PixelFormat { return e.format }
func (e *ffmpegEncoder) Codec() string            { return e.codec }
func (e *ffmpegEncoder) Extradata() []byte        { return e.extradata }

func (e *ffmpegEncoder) Close() error {
	if e.ptr != 0 {
		mediaAVEncoderFree(e.ptr)
		e.ptr = 0
	}
	e.scratch.Free()
	e.scratch = nil
	return nil
}

/******************************** muxer *********************************/

type ffmpegMuxer struct {
	ptr     uintptr
	bridge  uintptr
	scratch uintptr
}

func (*ffmpegEngine) NewMuxerContext(format string, out *IOBridge) (MuxerContext, error) {
	if mediaAVFormatAvailable(format) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	id := registerBridge(out)
	var code int32
	ptr := mediaAVMuxerCreate(format, id, avioPullCB, avioSeekCB, &code)
	if ptr == 0 {
		unregisterBridge(id)
		return nil, avError("muxer create", code)
	}
	return &ffmpegMuxer{ptr: ptr, bridge: id}, nil
}

func (m *ffmpegMuxer) GlobalHeader() bool {
	return m.ptr != 0 && mediaAVMuxerGlobalHeader(m.ptr) != 0
}

func (m *ffmpegMuxer) SetMetadata(key, value string) error {
	if rc := mediaAVMuxerSetMetadata(m.ptr, -1, key, value); rc < 0 {
		return avError("muxer metadata", rc)
	}
	return nil
}

func (m *ffmpegMuxer) AddStream(enc EncoderContext, metadata map[string]string) (int, error) {
	fe, ok := enc.(*ffmpegEncoder)
	if !ok || fe.ptr == 0 {
		return 0, fmt.Errorf("%w: ffmpeg muxer needs an ffmpeg encoder", ErrEngineMismatch)
	}
	idx := mediaAVMuxerAddStream(m.ptr, fe.ptr)
	if idx < 0 {
		return 0, avError("muxer add stream", idx)
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if rc := mediaAVMuxerSetMetadata(m.ptr, idx, k, metadata[k]); rc < 0 {
			return 0, avError("stream metadata", rc)
		}
	}
	return int(idx), nil
}

func (m *ffmpegMuxer) WriteHeader() error {
	if rc := mediaAVMuxerWriteHeader(m.ptr); rc < 0 {
		return avError("write header", rc)
	}
	return nil
}

func (m *ffmpegMuxer) StreamTimeBase(index int) TimeBase {
	tb := new([2]int32)
	mediaAVMuxerStreamTimeBase(m.ptr, int32(index), tb)
	return TimeBase{Num: int64(tb[0]), Den: int64(tb[1])}
}

func (m *ffmpegMuxer) WritePacket(p *Packet) error {
	if p == nil {
		if rc := mediaAVMuxerWritePacket(m.ptr, 0); rc < 0 {
			return avError("interleave flush", rc)
		}
		return nil
	}
	ptr, err := packetSource(p, &m.scratch)
	if err != nil {
		return err
	}
	rc := mediaAVMuxerWritePacket(m.ptr, ptr)
	// the muxer took the payload reference either way
	p.Data = nil
	if rc < 0 {
		return avError("write packet", rc)
	}
	return nil
}

func (m *ffmpegMuxer) WriteTrailer() error {
	if rc := mediaAVMuxerWriteTrailer(m.ptr); rc < 0 {
		return avError("write trailer", rc)
	}
	return nil
}

func (m *ffmpegMuxer) Close() error {
	if m.ptr != 0 {
		mediaAVMuxerFree(m.ptr)
		m.ptr = 0
	}
	if m.scratch != 0 {
		mediaAVPacketFree(m.scratch)
		m.scratch = 0
	}
	unregisterBridge(m.bridge)
	return nil
}

/******************************* demuxer ********************************/

type ffmpegDemuxer struct {
	ptr      uintptr
	bridge   uintptr
	streams  []StreamDescriptor
	metadata map[string]string
}

func (*ffmpegEngine) OpenDemuxerContext(in *IOBridge) (DemuxerContext, error) {
	id := registerBridge(in)
	var code int32
	ptr := mediaAVDemuxerOpen(id, avioPullCB, avioSeekCB, &code)
	if ptr == 0 {
		unregisterBridge(id)
		err := avError("demuxer open", code)
		if code == avErrorInvalidData {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
		}
		return nil, err
	}
	d := &ffmpegDemuxer{ptr: ptr, bridge: id}
	d.metadata = d.readMetadata(-1)

	n := int(mediaAVDemuxerStreamCount(ptr))
	for i := 0; i < n; i++ {
		info := new(avStreamInfo)
		if rc := mediaAVDemuxerStreamInfo(ptr, int32(i), info); rc < 0 {
			d.Close()
			return nil, avError("stream info", rc)
		}
		d.streams = append(d.streams, d.describe(i, info))
	}
	return d, nil
}

func (d *ffmpegDemuxer) describe(i int, info *avStreamInfo) StreamDescriptor {
	desc := StreamDescriptor{
		Index:     int(info.Index),
		Type:      MediaType(info.Type),
		Codec:     goStringFromArray(info.Codec[:]),
		TimeBase:  TimeBase{Num: int64(info.TBNum), Den: int64(info.TBDen)},
		FrameRate: Rational{Num: int64(info.FRNum), Den: int64(info.FRDen)},
		Width:     int(info.Width),
		Height:    int(info.Height),
		Duration:  info.Duration,
		Frames:    info.Frames,
		Bitrate:   info.Bitrate,
		Metadata:  d.readMetadata(i),
	}
	if info.ExtradataSize > 0 && info.Extradata != 0 {
		desc.Extradata = slices.Clone(unsafe.Slice((*byte)(unsafe.Pointer(info.Extradata)), info.ExtradataSize))
	}
	switch name := desc.Metadata["handler_name"]; {
	case desc.Type != MediaTypeVideo:
		desc.Name = fmt.Sprintf("%s%d", desc.Type, desc.Index)
	case name == "" || name == defaultHandlerName:
		desc.Name = fmt.Sprintf("video%d", desc.Index)
	default:
		desc.Name = name
	}
	return desc
}

func (d *ffmpegDemuxer) readMetadata(stream int) map[string]string {
	md := map[string]string{}
	key := make([]byte, 256)
	value := make([]byte, 4096)
	for i := int32(0); ; i++ {
		rc := mediaAVDemuxerMetadata(d.ptr, int32(stream), i, &key[0], int32(len(key)), &value[0], int32(len(value)))
		if rc != mediaAVOK {
			return md
		}
		md[goStringFromArray(key)] = goStringFromArray(value)
	}
}

func (d *ffmpegDemuxer) Streams() []StreamDescriptor {
	out := slices.Clone(d.streams)
	for i := range out {
		out[i].Metadata = copyMetadata(out[i].Metadata)
	}
	return out
}

func (d *ffmpegDemuxer) Metadata() map[string]string { return copyMetadata(d.metadata) }

func (d *ffmpegDemuxer) ReadPacket(p *Packet) error {
	if d.ptr == 0 {
		return ErrClosed
	}
	ptr, err := packetTarget(p)
	if err != nil {
		return err
	}
	if err := avStatus("read packet", mediaAVDemuxerRead(d.ptr, ptr)); err != nil {
		return err
	}
	syncPacket(p, ptr)
	return nil
}

func (d *ffmpegDemuxer) Seek(streamIndex int, ts int64, backward bool) error {
	if d.ptr == 0 {
		return ErrClosed
	}
	b := int32(0)
	if backward {
		b = 1
	}
	if rc := mediaAVDemuxerSeek(d.ptr, int32(streamIndex), ts, b); rc < 0 {
		return avError("seek", rc)
	}
	return nil
}

// Close does not close the input.
func (d *ffmpegDemuxer) Close() error {
	if d.ptr != 0 {
		mediaAVDemuxerFree(d.ptr)
		d.ptr = 0
	}
	unregisterBridge(d.bridge)
	return nil
}

/******************************* decoder ********************************/

type ffmpegDecoder struct {
	ptr     uintptr
	scratch uintptr
}

func (*ffmpegEngine) NewDecoderContext(dmx DemuxerContext, streamIndex int) (DecoderContext, error) {
	d, ok := dmx.(*ffmpegDemuxer)
	if !ok || d.ptr == 0 {
		return nil, fmt.Errorf("%w: ffmpeg decoder needs an ffmpeg demuxer", ErrEngineMismatch)
	}
	var code int32
	ptr := mediaAVDecoderCreate(d.ptr, int32(streamIndex), &code)
	if ptr == 0 {
		return nil, avError("decoder create", code)
	}
	return &ffmpegDecoder{ptr: ptr}, nil
}

func (d *ffmpegDecoder) SendPacket(p *Packet) error {
	if d.ptr == 0 {
		return ErrClosed
	}
	if p == nil {
		return avStatus("decoder send", mediaAVDecoderSend(d.ptr, 0))
	}
	ptr, err := packetSource(p, &d.scratch)
	if err != nil {
		return err
	}
	return avStatus("decoder send", mediaAVDecoderSend(d.ptr, ptr))
}

func (d *ffmpegDecoder) ReceiveFrame(f *Frame) error {
	if d.ptr == 0 {
		return ErrClosed
	}
	ptr, ok := nativeFrame(f)
	if !ok {
		return fmt.Errorf("%w: decoder needs an engine frame", ErrEngineMismatch)
	}
	if err := avStatus("decoder receive", mediaAVDecoderReceive(d.ptr, ptr)); err != nil {
		return err
	}
	syncFrame(f, ptr)
	return nil
}

func (d *ffmpegDecoder) Flush() {
	if d.ptr != 0 {
		mediaAVDecoderFlush(d.ptr)
	}
}

func (d *ffmpegDecoder) TicksPerFrame() int {
	if d.ptr == 0 {
		return 1
	}
	return int(mediaAVDecoderTicksPerFrame(d.ptr))
}

func (d *ffmpegDecoder) PixelFormat() PixelFormat {
	if d.ptr == 0 {
		return ""
	}
	return PixelFormat(goStringFromPtr(mediaAVDecoderPixFmt(d.ptr)))
}

func (d *ffmpegDecoder) Close() error {
	if d.ptr != 0 {
		mediaAVDecoderFree(d.ptr)
		d.ptr = 0
	}
	if d.scratch != 0 {
		mediaAVPacketFree(d.scratch)
		d.scratch = 0
	}
	return nil
}
