package velvet

import "strings"

// VideoCodec identifies a video codec independently of the encoder
// implementation that produces it.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecMJPEG
	VideoCodecRaw
	VideoCodecH264
	VideoCodecH265
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecAV1
)

// String returns the codec identity name used by the engines.
func (c VideoCodec) String() string {
	switch c {
	case VideoCodecMJPEG:
		return "mjpeg"
	case VideoCodecRaw:
		return "rawvideo"
	case VideoCodecH264:
		return "h264"
	case VideoCodecH265:
		return "hevc"
	case VideoCodecVP8:
		return "vp8"
	case VideoCodecVP9:
		return "vp9"
	case VideoCodecAV1:
		return "av1"
	default:
		return "unknown"
	}
}

// ParseVideoCodec maps a codec identity or encoder name (libx264,
// libvpx-vp9, ...) to a VideoCodec.
func ParseVideoCodec(name string) VideoCodec {
	switch strings.ToLower(name) {
	case "mjpeg", "jpeg":
		return VideoCodecMJPEG
	case "rawvideo", "raw":
		return VideoCodecRaw
	case "h264", "avc", "libx264", "libopenh264", "h264_nvenc", "h264_videotoolbox", "h264_vaapi":
		return VideoCodecH264
	case "hevc", "h265", "libx265", "hevc_nvenc", "hevc_videotoolbox":
		return VideoCodecH265
	case "vp8", "libvpx":
		return VideoCodecVP8
	case "vp9", "libvpx-vp9":
		return VideoCodecVP9
	case "av1", "libaom-av1", "libsvtav1", "librav1e", "libdav1d":
		return VideoCodecAV1
	default:
		return VideoCodecUnknown
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	case VideoCodecH264:
		return "video/H264"
	case VideoCodecH265:
		return "video/H265"
	case VideoCodecAV1:
		return "video/AV1"
	case VideoCodecMJPEG:
		return "video/JPEG"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	// All video codecs use 90kHz clock
	return 90000
}

// DefaultPayloadType returns a typical payload type for this codec.
// Note: Actual payload type is negotiated via SDP.
func (c VideoCodec) DefaultPayloadType() uint8 {
	switch c {
	case VideoCodecVP8:
		return 96
	case VideoCodecVP9:
		return 98
	case VideoCodecH264:
		return 102
	case VideoCodecH265:
		return 104
	case VideoCodecAV1:
		return 35
	case VideoCodecMJPEG:
		return 26 // Static payload type
	default:
		return 96
	}
}

// FourCC returns the ISO-BMFF sample entry type for codecs the builtin
// container knows.
func (c VideoCodec) FourCC() string {
	switch c {
	case VideoCodecMJPEG:
		return "jpeg"
	case VideoCodecRaw:
		return "I420"
	case VideoCodecH264:
		return "avc1"
	case VideoCodecH265:
		return "hvc1"
	case VideoCodecVP9:
		return "vp09"
	case VideoCodecAV1:
		return "av01"
	default:
		return ""
	}
}

// videoCodecFromFourCC is the inverse of FourCC, including common aliases.
func videoCodecFromFourCC(fourcc string) VideoCodec {
	switch fourcc {
	case "jpeg", "mjpa", "mjpg", "AVDJ":
		return VideoCodecMJPEG
	case "I420", "yv12", "raw ":
		return VideoCodecRaw
	case "avc1", "avc3":
		return VideoCodecH264
	case "hvc1", "hev1":
		return VideoCodecH265
	case "vp08":
		return VideoCodecVP8
	case "vp09":
		return VideoCodecVP9
	case "av01":
		return VideoCodecAV1
	default:
		return VideoCodecUnknown
	}
}
