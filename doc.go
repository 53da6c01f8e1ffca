// Package velvet muxes and demuxes named video streams in media
// containers, backed by a pluggable codec engine.
//
// Key pieces include:
//   - Muxer: encodes images into one or more named streams of a container
//   - Demuxer: reads a container back and decodes every stream
//   - VideoStream: per-stream seeking and frame-accurate positioning
//   - FrameBuffer and PixelConverter: image.Image to codec frame bridging
//   - PacketTap: fan encoded packets out to RTP, RTMP or WebRTC
//   - TestPattern: synthetic pictures for tests and demos
//
// # Architecture
//
//   Encode: image.Image -> FrameBuffer -> EncodePump -> MuxerContext -> io.WriteSeeker
//                                              \-> PacketTap (RTP/RTMP/WebRTC)
//   Decode: io.ReadSeeker -> DemuxerContext -> DecodePump -> FrameBuffer -> Sink
//
// Each pump drives the engine's send/receive protocol: nil means progress,
// ErrAgain asks for more input and ErrEndOfStream ends the stream. The first
// fatal error is sticky for the whole Muxer.
//
// # Engines
//
// EngineBuiltin is pure Go and writes mp4/mov with mjpeg or rawvideo
// streams. EngineFFmpeg loads libmedia_av, built from clib/, through purego
// and exposes every libavformat container and libavcodec codec. Set
// VELVET_FFMPEG_LIB_PATH to the library file, or MEDIA_SDK_LIB_PATH to the
// directory containing it.
// EngineAuto prefers FFmpeg when it loads.
//
// # Build Tags
//
//   - noffmpeg: compile without the FFmpeg engine
package velvet
