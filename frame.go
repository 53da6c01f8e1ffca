// Core frame and packet types shared by the engines and the pumps.
package velvet

import "fmt"

// PixelFormat names a pixel layout using the engine's naming
// (yuv420p, rgba, ...). Formats outside the constants below are passed
// through to the native engine untouched.
type PixelFormat string

const (
	PixelFormatYUV420P  PixelFormat = "yuv420p"  // YUV 4:2:0 planar, limited range
	PixelFormatYUVJ420P PixelFormat = "yuvj420p" // YUV 4:2:0 planar, full range (JPEG)
	PixelFormatNV12     PixelFormat = "nv12"     // YUV 4:2:0 semi-planar
	PixelFormatRGB24    PixelFormat = "rgb24"    // Packed RGB, 3 bytes per pixel
	PixelFormatBGR24    PixelFormat = "bgr24"    // Packed BGR, 3 bytes per pixel
	PixelFormatRGBA     PixelFormat = "rgba"     // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA     PixelFormat = "bgra"     // Packed BGRA, 4 bytes per pixel
	PixelFormatGray     PixelFormat = "gray"     // 8-bit luma only
)

// ApplicationPixelFormat is the layout FrameBuffer exchanges with the
// application (image.RGBA).
const ApplicationPixelFormat = PixelFormatRGBA

func (p PixelFormat) String() string {
	if p == "" {
		return "none"
	}
	return string(p)
}

// PlaneCount returns the number of planes for this pixel format, or 0 for
// formats that only the native engine understands.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatYUV420P, PixelFormatYUVJ420P:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	case PixelFormatRGB24, PixelFormatBGR24, PixelFormatRGBA, PixelFormatBGRA, PixelFormatGray:
		return 1 // Packed
	default:
		return 0
	}
}

// BytesPerPixel returns the size of one pixel of a packed format, or 0 for
// planar formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatRGB24, PixelFormatBGR24:
		return 3
	case PixelFormatRGBA, PixelFormatBGRA:
		return 4
	case PixelFormatGray:
		return 1
	default:
		return 0
	}
}

// Planar reports whether the luma and chroma samples live in separate planes.
func (p PixelFormat) Planar() bool {
	return p.PlaneCount() > 1
}

// PlaneSize returns the row length in bytes and the row count of plane i.
func (p PixelFormat) PlaneSize(width, height, i int) (rowBytes, rows int) {
	cw, ch := (width+1)/2, (height+1)/2
	switch p {
	case PixelFormatYUV420P, PixelFormatYUVJ420P:
		if i == 0 {
			return width, height
		}
		return cw, ch
	case PixelFormatNV12:
		if i == 0 {
			return width, height
		}
		return cw * 2, ch
	default:
		return width * p.BytesPerPixel(), height
	}
}

// FrameSize returns the total number of bytes of a tightly packed frame.
func FrameSize(format PixelFormat, width, height int) int {
	size := 0
	for i := 0; i < format.PlaneCount(); i++ {
		row, rows := format.PlaneSize(width, height, i)
		size += row * rows
	}
	return size
}

// I420Size returns the total buffer size needed for a yuv420p frame.
func I420Size(width, height int) int {
	return FrameSize(PixelFormatYUV420P, width, height)
}

// Frame is a raw picture. Planes may alias engine memory when the frame is
// backed by a native engine frame; such frames are valid until the next
// call that refills them and must be released with Free.
type Frame struct {
	Planes  [][]byte    // Plane data
	Strides []int       // Stride of each plane in bytes
	Width   int         // Width in pixels
	Height  int         // Height in pixels
	Format  PixelFormat // Pixel layout
	PTS     int64       // Presentation timestamp in the owning pump's time base
	// Duration in the owning pump's time base, 0 when unknown.
	Duration int64
	Key      bool

	native frameRef
}

// frameRef is the engine-side backing of a Frame.
type frameRef interface {
	free()
	// makeWritable detaches the frame from buffers still referenced by the
	// engine and refreshes the plane views.
	makeWritable(f *Frame) error
}

// NewFrame allocates a tightly packed Go-memory frame.
func NewFrame(width, height int, format PixelFormat) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: frame size %dx%d", ErrInvalidConfig, width, height)
	}
	n := format.PlaneCount()
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPixelFormat, format)
	}
	f := &Frame{
		Planes:  make([][]byte, n),
		Strides: make([]int, n),
		Width:   width,
		Height:  height,
		Format:  format,
		PTS:     NoPTS,
	}
	for i := 0; i < n; i++ {
		row, rows := format.PlaneSize(width, height, i)
		f.Planes[i] = make([]byte, row*rows)
		f.Strides[i] = row
	}
	return f, nil
}

// Free releases the engine memory behind the frame. Go-memory frames only
// drop their planes. Free is idempotent.
func (f *Frame) Free() {
	if f == nil {
		return
	}
	if f.native != nil {
		f.native.free()
		f.native = nil
	}
	f.Planes = nil
	f.Strides = nil
}

// MakeWritable ensures the planes can be overwritten without affecting
// pictures the engine still holds.
func (f *Frame) MakeWritable() error {
	if f.native == nil {
		return nil
	}
	return f.native.makeWritable(f)
}

// Clone creates a deep Go-memory copy of the frame.
// Use this when you need to keep the frame data beyond its original lifetime.
func (f *Frame) Clone() *Frame {
	clone := &Frame{
		Planes:   make([][]byte, len(f.Planes)),
		Strides:  make([]int, len(f.Strides)),
		Width:    f.Width,
		Height:   f.Height,
		Format:   f.Format,
		PTS:      f.PTS,
		Duration: f.Duration,
		Key:      f.Key,
	}
	copy(clone.Strides, f.Strides)
	for i, plane := range f.Planes {
		if plane != nil {
			clone.Planes[i] = make([]byte, len(plane))
			copy(clone.Planes[i], plane)
		}
	}
	return clone
}

// Packet is a compressed unit produced or consumed by an engine. A packet
// is borrowed for one hand-off and then released; Data aliases engine memory
// for native packets.
type Packet struct {
	Data        []byte
	PTS         int64
	DTS         int64
	Duration    int64
	StreamIndex int
	Key         bool

	native packetRef
}

// packetRef is the engine-side backing of a Packet.
type packetRef interface {
	unref()
	free()
}

// NewPacket returns an empty packet with unset timestamps.
func NewPacket() *Packet {
	return &Packet{PTS: NoPTS, DTS: NoPTS}
}

// Release returns the packet payload to the engine and clears the fields.
// The packet can be refilled afterwards.
func (p *Packet) Release() {
	if p.native != nil {
		p.native.unref()
	}
	p.Data = nil
	p.PTS = NoPTS
	p.DTS = NoPTS
	p.Duration = 0
	p.StreamIndex = 0
	p.Key = false
}

// Free releases the packet and the engine allocation behind it.
func (p *Packet) Free() {
	if p == nil {
		return
	}
	p.Release()
	if p.native != nil {
		p.native.free()
		p.native = nil
	}
}

// rescale converts the packet timestamps between time bases.
func (p *Packet) rescale(from, to TimeBase) {
	p.PTS = Rescale(p.PTS, from, to)
	p.DTS = Rescale(p.DTS, from, to)
	if p.Duration > 0 {
		p.Duration = Rescale(p.Duration, from, to)
	}
}
