//go:build (darwin || linux) && !noffmpeg

// FFmpeg engine support via libmedia_av using purego.

package velvet

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	mediaAVOnce    sync.Once
	mediaAVHandle  uintptr
	mediaAVInitErr error
)

// libmedia_av function pointers
var (
	mediaAVVersion         func() uintptr
	mediaAVStrerror        func(code int32, buf *byte, size int32) int32
	mediaAVCodecAvailable  func(name string, encode int32) int32
	mediaAVFormatAvailable func(name string) int32

	mediaAVPacketAlloc    func() uintptr
	mediaAVPacketFree     func(pkt uintptr)
	mediaAVPacketUnref    func(pkt uintptr)
	mediaAVPacketGet      func(pkt uintptr, info *avPacketInfo)
	mediaAVPacketSetProps func(pkt uintptr, pts, dts, duration int64, streamIndex, key int32)
	mediaAVPacketCopyData func(pkt uintptr, data *byte, size int32) int32

	mediaAVFrameAlloc        func(width, height int32, pixFmt string) uintptr
	mediaAVFrameFree         func(frame uintptr)
	mediaAVFrameMakeWritable func(frame uintptr) int32
	mediaAVFrameSetPTS       func(frame uintptr, pts int64)
	mediaAVFrameGet          func(frame uintptr, info *avFrameInfo)

	mediaAVSwsCreate func(width, height int32, src, dst string) uintptr
	mediaAVSwsScale  func(sws, dst, src uintptr) int32
	mediaAVSwsFree   func(sws uintptr)

	mediaAVEncoderAlloc     func(codec string, err *int32) uintptr
	mediaAVEncoderSetOption func(enc uintptr, key, value string) int32
	mediaAVEncoderOpen      func(enc uintptr, width, height int32, pixFmt string, tbNum, tbDen int32, bitrate int64, globalHeader int32) int32
	mediaAVEncoderSend      func(enc, frame uintptr) int32
	mediaAVEncoderReceive   func(enc, pkt uintptr) int32
	mediaAVEncoderInfo      func(enc uintptr, info *avCodecInfo)
	mediaAVEncoderFree      func(enc uintptr)

	mediaAVMuxerCreate         func(format string, opaque, write, seek uintptr, err *int32) uintptr
	mediaAVMuxerGlobalHeader   func(mux uintptr) int32
	mediaAVMuxerSetMetadata    func(mux uintptr, stream int32, key, value string) int32
	mediaAVMuxerAddStream      func(mux, enc uintptr) int32
	mediaAVMuxerWriteHeader    func(mux uintptr) int32
	mediaAVMuxerStreamTimeBase func(mux uintptr, stream int32, tb *[2]int32)
	mediaAVMuxerWritePacket    func(mux, pkt uintptr) int32
	mediaAVMuxerWriteTrailer   func(mux uintptr) int32
	mediaAVMuxerFree           func(mux uintptr)

	mediaAVDemuxerOpen        func(opaque, read, seek uintptr, err *int32) uintptr
	mediaAVDemuxerStreamCount func(dmx uintptr) int32
	mediaAVDemuxerStreamInfo  func(dmx uintptr, stream int32, info *avStreamInfo) int32
	mediaAVDemuxerMetadata    func(dmx uintptr, stream, index int32, key *byte, keySize int32, value *byte, valueSize int32) int32
	mediaAVDemuxerRead        func(dmx, pkt uintptr) int32
	mediaAVDemuxerSeek        func(dmx uintptr, stream int32, ts int64, backward int32) int32
	mediaAVDemuxerFree        func(dmx uintptr)

	mediaAVDecoderCreate        func(dmx uintptr, stream int32, err *int32) uintptr
	mediaAVDecoderSend          func(dec, pkt uintptr) int32
	mediaAVDecoderReceive       func(dec, frame uintptr) int32
	mediaAVDecoderFlush         func(dec uintptr)
	mediaAVDecoderTicksPerFrame func(dec uintptr) int32
	mediaAVDecoderPixFmt        func(dec uintptr) uintptr
	mediaAVDecoderFree          func(dec uintptr)
)

// Constants from media_av.h and libavutil/error.h
const (
	mediaAVOK    = 0
	mediaAVAgain = 1
	mediaAVEOF   = 2

	avErrorEIO             = -5
	avErrorEncoderNotFound = -0x434E45F8
	avErrorDecoderNotFound = -0x434544F8
	avErrorOptionNotFound  = -0x54504FF8
	avErrorInvalidData     = -0x41444E49
)

// Heap-allocated mirrors of the media_av.h info structs. These must be
// heap-allocated for purego to work correctly on arm64.
type avPacketInfo struct {
	Data        uintptr
	PTS         int64
	DTS         int64
	Duration    int64
	Size        int32
	StreamIndex int32
	Key         int32
	_           int32
}

type avFrameInfo struct {
	Data     [4]uintptr
	Linesize [4]int32
	Rows     [4]int32
	PTS      int64
	Duration int64
	Width    int32
	Height   int32
	Key      int32
	_        int32
	Format   [32]byte
}

type avCodecInfo struct {
	Extradata     uintptr
	ExtradataSize int32
	TBNum         int32
	TBDen         int32
	Codec         [32]byte
	PixFmt        [32]byte
}

type avStreamInfo struct {
	Duration      int64
	Frames        int64
	Bitrate       int64
	Extradata     uintptr
	ExtradataSize int32
	Index         int32
	Type          int32
	TBNum         int32
	TBDen         int32
	FRNum         int32
	FRDen         int32
	Width         int32
	Height        int32
	Codec         [32]byte
}

func init() {
	registerEngine(EngineFFmpeg, loadFFmpegEngine)
}

func loadFFmpegEngine() (Engine, error) {
	if err := loadMediaAV(); err != nil {
		return nil, err
	}
	return &ffmpegEngine{version: goStringFromPtr(mediaAVVersion())}, nil
}

func loadMediaAV() error {
	mediaAVOnce.Do(func() {
		mediaAVInitErr = loadMediaAVLib()
	})
	return mediaAVInitErr
}

func loadMediaAVLib() error {
	var lastErr error
	for _, path := range nativeLibPaths("libmedia_av", "VELVET_FFMPEG_LIB_PATH") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		mediaAVHandle = handle
		if err := loadMediaAVSymbols(); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_av: %w", lastErr)
	}
	return errors.New("libmedia_av not found in any standard location")
}

// loadMediaAVSymbols binds every symbol. RegisterLibFunc panics on a
// missing symbol, which a stale library build would trigger.
func loadMediaAVSymbols() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("libmedia_av: %v", r)
		}
	}()
	h := mediaAVHandle

	purego.RegisterLibFunc(&mediaAVVersion, h, "media_av_version")
	purego.RegisterLibFunc(&mediaAVStrerror, h, "media_av_strerror")
	purego.RegisterLibFunc(&mediaAVCodecAvailable, h, "media_av_codec_available")
	purego.RegisterLibFunc(&mediaAVFormatAvailable, h, "media_av_format_available")

	purego.RegisterLibFunc(&mediaAVPacketAlloc, h, "media_av_packet_alloc")
	purego.RegisterLibFunc(&mediaAVPacketFree, h, "media_av_packet_free")
	purego.RegisterLibFunc(&mediaAVPacketUnref, h, "media_av_packet_unref")
	purego.RegisterLibFunc(&mediaAVPacketGet, h, "media_av_packet_get")
	purego.RegisterLibFunc(&mediaAVPacketSetProps, h, "media_av_packet_set_props")
	purego.RegisterLibFunc(&mediaAVPacketCopyData, h, "media_av_packet_copy_data")
	purego.RegisterLibFunc(&mediaAVFrameAlloc, h, "media_av_frame_alloc")
	purego.RegisterLibFunc(&mediaAVFrameFree, h, "media_av_frame_free")
	purego.RegisterLibFunc(&mediaAVFrameMakeWritable, h, "media_av_frame_make_writable")
	purego.RegisterLibFunc(&mediaAVFrameSetPTS, h, "media_av_frame_set_pts")
	purego.RegisterLibFunc(&mediaAVFrameGet, h, "media_av_frame_get")

	purego.RegisterLibFunc(&mediaAVSwsCreate, h, "media_av_sws_create")
	purego.RegisterLibFunc(&mediaAVSwsScale, h, "media_av_sws_scale")
	purego.RegisterLibFunc(&mediaAVSwsFree, h, "media_av_sws_free")

	purego.RegisterLibFunc(&mediaAVEncoderAlloc, h, "media_av_encoder_alloc")
	purego.RegisterLibFunc(&mediaAVEncoderSetOption, h, "media_av_encoder_set_option")
	purego.RegisterLibFunc(&mediaAVEncoderOpen, h, "media_av_encoder_open")
	purego.RegisterLibFunc(&mediaAVEncoderSend, h, "media_av_encoder_send")
	purego.RegisterLibFunc(&mediaAVEncoderReceive, h, "media_av_encoder_receive")
	purego.RegisterLibFunc(&mediaAVEncoderInfo, h, "media_av_encoder_info")
	purego.RegisterLibFunc(&mediaAVEncoderFree, h, "media_av_encoder_free")

	purego.RegisterLibFunc(&mediaAVMuxerCreate, h, "media_av_muxer_create")
	purego.RegisterLibFunc(&mediaAVMuxerGlobalHeader, h, "media_av_muxer_global_header")
	purego.RegisterLibFunc(&mediaAVMuxerSetMetadata, h, "media_av_muxer_set_metadata")
	purego.RegisterLibFunc(&mediaAVMuxerAddStream, h, "media_av_muxer_add_stream")
	purego.RegisterLibFunc(&mediaAVMuxerWriteHeader, h, "media_av_muxer_write_header")
	purego.RegisterLibFunc(&mediaAVMuxerStreamTimeBase, h, "media_av_muxer_stream_time_base")
	purego.RegisterLibFunc(&mediaAVMuxerWritePacket, h, "media_av_muxer_write_packet")
	purego.RegisterLibFunc(&mediaAVMuxerWriteTrailer, h, "media_av_muxer_write_trailer")
	purego.RegisterLibFunc(&mediaAVMuxerFree, h, "media_av_muxer_free")

	purego.RegisterLibFunc(&mediaAVDemuxerOpen, h, "media_av_demuxer_open")
	purego.RegisterLibFunc(&mediaAVDemuxerStreamCount, h, "media_av_demuxer_stream_count")
	purego.RegisterLibFunc(&mediaAVDemuxerStreamInfo, h, "media_av_demuxer_stream_info")
	purego.RegisterLibFunc(&mediaAVDemuxerMetadata, h, "media_av_demuxer_metadata")
	purego.RegisterLibFunc(&mediaAVDemuxerRead, h, "media_av_demuxer_read")
	purego.RegisterLibFunc(&mediaAVDemuxerSeek, h, "media_av_demuxer_seek")
	purego.RegisterLibFunc(&mediaAVDemuxerFree, h, "media_av_demuxer_free")

	purego.RegisterLibFunc(&mediaAVDecoderCreate, h, "media_av_decoder_create")
	purego.RegisterLibFunc(&mediaAVDecoderSend, h, "media_av_decoder_send")
	purego.RegisterLibFunc(&mediaAVDecoderReceive, h, "media_av_decoder_receive")
	purego.RegisterLibFunc(&mediaAVDecoderFlush, h, "media_av_decoder_flush")
	purego.RegisterLibFunc(&mediaAVDecoderTicksPerFrame, h, "media_av_decoder_ticks_per_frame")
	purego.RegisterLibFunc(&mediaAVDecoderPixFmt, h, "media_av_decoder_pix_fmt")
	purego.RegisterLibFunc(&mediaAVDecoderFree, h, "media_av_decoder_free")
	return nil
}

// avError converts a negative AVERROR into an EngineError carrying the
// library's message.
func avError(op string, code int32) error {
	e := &EngineError{Op: op, Code: int(code)}
	buf := make([]byte, 256)
	if mediaAVStrerror(code, &buf[0], int32(len(buf))) == 0 {
		e.Msg = goStringFromArray(buf)
	}
	switch code {
	case avErrorEncoderNotFound, avErrorDecoderNotFound:
		e.Err = ErrCodecNotSupported
	case avErrorOptionNotFound:
		e.Err = ErrInvalidConfig
	case avErrorInvalidData:
		e.Err = ErrInvalidData
	}
	return e
}

// avStatus maps a shim status return onto the engine contract.
func avStatus(op string, rc int32) error {
	switch {
	case rc == mediaAVOK:
		return nil
	case rc == mediaAVAgain:
		return ErrAgain
	case rc == mediaAVEOF:
		return ErrEndOfStream
	case rc < 0:
		return avError(op, rc)
	default:
		return &EngineError{Op: op, Code: int(rc)}
	}
}

/********************************* AVIO *********************************/

// The shim calls back into Go for every AVIO read, write and seek. The
// trampolines are created once; opaque selects the bridge.
var (
	avioOnce   sync.Once
	avioPullCB uintptr
	avioSeekCB uintptr

	avioBridges sync.Map // uintptr -> *IOBridge
	avioNextID  atomic.Uintptr
)

func initAVIOCallbacks() {
	avioOnce.Do(func() {
		avioPullCB = purego.NewCallback(avioPull)
		avioSeekCB = purego.NewCallback(avioSeek)
	})
}

func registerBridge(b *IOBridge) uintptr {
	initAVIOCallbacks()
	id := avioNextID.Add(1)
	avioBridges.Store(id, b)
	return id
}

func unregisterBridge(id uintptr) {
	avioBridges.Delete(id)
}

func lookupBridge(id uintptr) *IOBridge {
	v, ok := avioBridges.Load(id)
	if !ok {
		return nil
	}
	return v.(*IOBridge)
}

// avioPull serves both directions; the bridge knows whether it reads or
// writes. A 0 byte read is end of input.
func avioPull(opaque, buf uintptr, size int64) int64 {
	b := lookupBridge(opaque)
	if b == nil || size < 0 {
		return avErrorEIO
	}
	if size == 0 {
		return 0
	}
	n, err := b.Pull(unsafe.Slice((*byte)(unsafe.Pointer(buf)), size))
	if err != nil {
		return avErrorEIO
	}
	return int64(n)
}

func avioSeek(opaque uintptr, offset, whence int64) int64 {
	b := lookupBridge(opaque)
	if b == nil {
		return avErrorEIO
	}
	pos, err := b.Seek(offset, Whence(whence))
	if err != nil {
		return avErrorEIO
	}
	return pos
}

/******************************* packets *******************************/

// avPacket is the native backing of a Packet.
type avPacket struct{ ptr uintptr }

func (r *avPacket) unref() {
	if r.ptr != 0 {
		mediaAVPacketUnref(r.ptr)
	}
}

func (r *avPacket) free() {
	if r.ptr != 0 {
		mediaAVPacketFree(r.ptr)
		r.ptr = 0
	}
}

// packetTarget returns the native packet a receive call fills, attaching
// one to a Go packet on first use.
func packetTarget(p *Packet) (uintptr, error) {
	if r, ok := p.native.(*avPacket); ok && r.ptr != 0 {
		return r.ptr, nil
	}
	if p.native != nil {
		return 0, fmt.Errorf("%w: packet", ErrEngineMismatch)
	}
	ptr := mediaAVPacketAlloc()
	if ptr == 0 {
		return 0, &EngineError{Op: "packet alloc", Msg: "out of memory"}
	}
	p.native = &avPacket{ptr: ptr}
	return ptr, nil
}

// packetSource returns a native packet carrying p for a send call. Go
// packets are copied into scratch.
func packetSource(p *Packet, scratch *uintptr) (uintptr, error) {
	key := int32(0)
	if p.Key {
		key = 1
	}
	if r, ok := p.native.(*avPacket); ok && r.ptr != 0 {
		mediaAVPacketSetProps(r.ptr, p.PTS, p.DTS, p.Duration, int32(p.StreamIndex), key)
		return r.ptr, nil
	}
	if *scratch == 0 {
		if *scratch = mediaAVPacketAlloc(); *scratch == 0 {
			return 0, &EngineError{Op: "packet alloc", Msg: "out of memory"}
		}
	}
	var data *byte
	if len(p.Data) > 0 {
		data = &p.Data[0]
	}
	if rc := mediaAVPacketCopyData(*scratch, data, int32(len(p.Data))); rc < 0 {
		return 0, avError("packet copy", rc)
	}
	mediaAVPacketSetProps(*scratch, p.PTS, p.DTS, p.Duration, int32(p.StreamIndex), key)
	return *scratch, nil
}

// syncPacket refreshes the Go view of a native packet.
func syncPacket(p *Packet, ptr uintptr) {
	info := new(avPacketInfo)
	mediaAVPacketGet(ptr, info)
	p.Data = nil
	if info.Size > 0 && info.Data != 0 {
		p.Data = unsafe.Slice((*byte)(unsafe.Pointer(info.Data)), info.Size)
	}
	p.PTS = info.PTS
	p.DTS = info.DTS
	p.Duration = info.Duration
	p.StreamIndex = int(info.StreamIndex)
	p.Key = info.Key != 0
}

/******************************** frames ********************************/

// avFrame is the native backing of a Frame.
type avFrame struct{ ptr uintptr }

func (r *avFrame) free() {
	if r.ptr != 0 {
		mediaAVFrameFree(r.ptr)
		r.ptr = 0
	}
}

func (r *avFrame) makeWritable(f *Frame) error {
	if r.ptr == 0 {
		return ErrClosed
	}
	if rc := mediaAVFrameMakeWritable(r.ptr); rc < 0 {
		return avError("frame make writable", rc)
	}
	syncFrame(f, r.ptr)
	return nil
}

func nativeFrame(f *Frame) (uintptr, bool) {
	r, ok := f.native.(*avFrame)
	if !ok || r.ptr == 0 {
		return 0, false
	}
	return r.ptr, true
}

// syncFrame refreshes the Go view of a native frame. Planes alias the
// frame buffers.
func syncFrame(f *Frame, ptr uintptr) {
	info := new(avFrameInfo)
	mediaAVFrameGet(ptr, info)
	f.Width = int(info.Width)
	f.Height = int(info.Height)
	f.Format = PixelFormat(goStringFromArray(info.Format[:]))
	f.PTS = info.PTS
	f.Duration = info.Duration
	f.Key = info.Key != 0
	f.Planes = f.Planes[:0]
	f.Strides = f.Strides[:0]
	for i := range info.Data {
		size := int(info.Linesize[i]) * int(info.Rows[i])
		if info.Data[i] == 0 || size <= 0 {
			break
		}
		f.Planes = append(f.Planes, unsafe.Slice((*byte)(unsafe.Pointer(info.Data[i])), size))
		f.Strides = append(f.Strides, int(info.Linesize[i]))
	}
}
