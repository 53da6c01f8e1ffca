package velvet

import (
	"image"
	"time"
)

// PipelineState is the lifecycle state of one encode or decode pump.
type PipelineState int

const (
	PipelineStateIdle     PipelineState = iota // Nothing submitted yet
	PipelineStateActive                        // Send/receive in progress
	PipelineStateDraining                      // End of input signalled, output pending
	PipelineStateClosed                        // End of stream reached
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateActive:
		return "active"
	case PipelineStateDraining:
		return "draining"
	case PipelineStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Media is an item delivered by a Demuxer: *VideoFrame or *AudioPacket.
type Media interface {
	// Nanostamp is the presentation time in nanoseconds.
	Nanostamp() int64
	media()
}

// Sink receives demuxed media. Returning an error stops NextPacket and is
// returned from it.
type Sink func(m Media) error

// VideoFrame is a decoded picture delivered to the application.
type VideoFrame struct {
	Stream *VideoStream
	Image  *image.RGBA
	// PTS in the stream time base.
	PTS          int64
	nanostamp    int64
	Nanoduration int64
}

func (f *VideoFrame) Nanostamp() int64 { return f.nanostamp }

// Timestamp returns the presentation time as a duration from stream start.
func (f *VideoFrame) Timestamp() time.Duration { return time.Duration(f.nanostamp) }

func (*VideoFrame) media() {}

// AudioPacket is a compressed audio packet passed through without decoding.
type AudioPacket struct {
	Stream       StreamDescriptor
	Data         []byte
	PTS          int64
	nanostamp    int64
	Nanoduration int64
}

func (p *AudioPacket) Nanostamp() int64 { return p.nanostamp }

func (*AudioPacket) media() {}

// nanos converts a stream timestamp for delivery; unset timestamps map to 0.
func nanos(v int64, tb TimeBase) int64 {
	if v == NoPTS {
		return 0
	}
	return Rescale(v, tb, NanoTimeBase)
}
