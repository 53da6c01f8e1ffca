package velvet

import (
	"fmt"
	"maps"
)

// Encoder defaults.
const (
	DefaultFramerate = 30
	DefaultBitrate   = 400000
	DefaultWidth     = 640
	DefaultHeight    = 480
)

// EncoderConfig configures the encoder of one muxed video stream.
type EncoderConfig struct {
	Codec string // Encoder name (mjpeg, rawvideo, libx264, ...)

	Width     int   // Frame width
	Height    int   // Frame height
	Framerate int   // Frames per second; the codec time base is 1/Framerate
	Bitrate   int64 // Target bitrate in bits per second

	// PixelFormat forces the codec-side layout. Empty selects the first
	// format the encoder supports.
	PixelFormat PixelFormat

	// Params are passed verbatim to the engine's encoder option dictionary.
	Params map[string]string
	// Metadata is written as stream metadata.
	Metadata map[string]string
}

// DefaultEncoderConfig returns a default encoder configuration.
func DefaultEncoderConfig(codec string) EncoderConfig {
	return EncoderConfig{
		Codec:     codec,
		Width:     DefaultWidth,
		Height:    DefaultHeight,
		Framerate: DefaultFramerate,
		Bitrate:   DefaultBitrate,
	}
}

// WithParam returns a copy of c with an engine option set.
func (c EncoderConfig) WithParam(key, value string) EncoderConfig {
	c.Params = maps.Clone(c.Params)
	if c.Params == nil {
		c.Params = make(map[string]string)
	}
	c.Params[key] = value
	return c
}

// WithMetadata returns a copy of c with a stream metadata entry set.
func (c EncoderConfig) WithMetadata(key, value string) EncoderConfig {
	c.Metadata = maps.Clone(c.Metadata)
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[key] = value
	return c
}

// TimeBase returns the codec time base implied by the frame rate.
func (c EncoderConfig) TimeBase() TimeBase {
	return FramerateTimeBase(c.Framerate)
}

func (c EncoderConfig) validate() error {
	if c.Codec == "" {
		return fmt.Errorf("%w: encoder codec is required", ErrInvalidConfig)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: encoder size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.Framerate <= 0 {
		return fmt.Errorf("%w: framerate %d", ErrInvalidConfig, c.Framerate)
	}
	if c.Bitrate < 0 {
		return fmt.Errorf("%w: bitrate %d", ErrInvalidConfig, c.Bitrate)
	}
	return nil
}

func (c EncoderConfig) spec(globalHeader bool) EncoderSpec {
	return EncoderSpec{
		Codec:        c.Codec,
		Width:        c.Width,
		Height:       c.Height,
		PixelFormat:  c.PixelFormat,
		TimeBase:     c.TimeBase(),
		Bitrate:      c.Bitrate,
		GlobalHeader: globalHeader,
		Params:       maps.Clone(c.Params),
	}
}

// EncoderStats provides per-stream encoding counters.
type EncoderStats struct {
	FramesSubmitted uint64 // Frames handed to the encoder
	PacketsWritten  uint64 // Packets handed to the container
	KeyPackets      uint64 // Packets flagged as keyframes
	BytesWritten    uint64 // Compressed payload bytes
}
