package velvet

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"strconv"
)

const defaultJPEGQuality = 90

// builtinEncoder encodes every frame independently, so each packet is a
// keyframe with pts == dts. A lookahead holds packets back the way a real
// encoder with reordering delay does.
type builtinEncoder struct {
	codec     VideoCodec
	width     int
	height    int
	format    PixelFormat
	tb        TimeBase
	quality   int
	lookahead int

	queue   []*Packet
	nextPTS int64
	eof     bool
}

func builtinPixelFormat(c VideoCodec) PixelFormat {
	if c == VideoCodecMJPEG {
		return PixelFormatYUVJ420P
	}
	return PixelFormatYUV420P
}

func newBuiltinEncoder(spec EncoderSpec) (*builtinEncoder, error) {
	codec := ParseVideoCodec(spec.Codec)
	if codec != VideoCodecMJPEG && codec != VideoCodecRaw {
		return nil, fmt.Errorf("%w: builtin engine cannot encode %q", ErrCodecNotSupported, spec.Codec)
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("%w: frame size %dx%d", ErrInvalidConfig, spec.Width, spec.Height)
	}
	if !spec.TimeBase.Valid() {
		return nil, fmt.Errorf("%w: time base %s", ErrInvalidConfig, spec.TimeBase)
	}
	format := builtinPixelFormat(codec)
	if spec.PixelFormat != "" && spec.PixelFormat != format {
		return nil, fmt.Errorf("%w: %s encodes %s, not %s", ErrUnsupportedPixelFormat, codec, format, spec.PixelFormat)
	}

	e := &builtinEncoder{
		codec:   codec,
		width:   spec.Width,
		height:  spec.Height,
		format:  format,
		tb:      spec.TimeBase,
		quality: defaultJPEGQuality,
	}
	for k, v := range spec.Params {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: param %s=%q: %w", ErrInvalidConfig, k, v, err)
		}
		switch {
		case k == "lookahead" && n >= 0:
			e.lookahead = n
		case k == "quality" && codec == VideoCodecMJPEG && n >= 1 && n <= 100:
			e.quality = n
		default:
			return nil, fmt.Errorf("%w: %s encoder param %s=%q", ErrInvalidConfig, codec, k, v)
		}
	}
	return e, nil
}

func (e *builtinEncoder) SendFrame(f *Frame) error {
	if e.eof {
		return ErrEndOfStream
	}
	if f == nil {
		e.eof = true
		return nil
	}
	if f.Width != e.width || f.Height != e.height {
		return fmt.Errorf("%w: got %dx%d, encoder is %dx%d", ErrFrameSize, f.Width, f.Height, e.width, e.height)
	}
	if f.Format != e.format {
		return fmt.Errorf("%w: got %s, encoder wants %s", ErrUnsupportedPixelFormat, f.Format, e.format)
	}

	var (
		data []byte
		err  error
	)
	if e.codec == VideoCodecMJPEG {
		data, err = encodeJPEG(f, e.quality)
	} else {
		data = packI420(f)
	}
	if err != nil {
		return &EngineError{Op: "encode", Err: err}
	}

	pts := f.PTS
	if pts == NoPTS {
		pts = e.nextPTS
	}
	e.nextPTS = pts + 1
	e.queue = append(e.queue, &Packet{Data: data, PTS: pts, DTS: pts, Duration: 1, Key: true})
	return nil
}

func (e *builtinEncoder) ReceivePacket(p *Packet) error {
	if len(e.queue) > e.lookahead || (e.eof && len(e.queue) > 0) {
		q := e.queue[0]
		e.queue = e.queue[1:]
		p.Data, p.PTS, p.DTS, p.Duration, p.Key = q.Data, q.PTS, q.DTS, q.Duration, q.Key
		return nil
	}
	if e.eof {
		return ErrEndOfStream
	}
	return ErrAgain
}

func (e *builtinEncoder) TimeBase() TimeBase       { return e.tb }
func (e *builtinEncoder) PixelFormat() PixelFormat { return e.format }
func (e *builtinEncoder) Codec() string            { return e.codec.String() }
func (e *builtinEncoder) Extradata() []byte        { return nil }

func (e *builtinEncoder) Close() error {
	e.queue = nil
	return nil
}

func ycbcrImage(f *Frame) *image.YCbCr {
	return &image.YCbCr{
		Y:              f.Planes[0],
		Cb:             f.Planes[1],
		Cr:             f.Planes[2],
		YStride:        f.Strides[0],
		CStride:        f.Strides[1],
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Width, f.Height),
	}
}

func encodeJPEG(f *Frame, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, ycbcrImage(f), &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// packI420 copies the planes of a yuv420p frame without row padding.
func packI420(f *Frame) []byte {
	out := make([]byte, I420Size(f.Width, f.Height))
	off := 0
	for i := 0; i < 3; i++ {
		row, rows := PixelFormatYUV420P.PlaneSize(f.Width, f.Height, i)
		copyPlane(out[off:], row, f.Planes[i], f.Strides[i], row, rows)
		off += row * rows
	}
	return out
}

// builtinDecoder decodes intra-only packets; every packet yields one frame.
type builtinDecoder struct {
	codec  VideoCodec
	width  int
	height int
	format PixelFormat

	queue []*Frame
	eof   bool
}

func newBuiltinDecoder(desc StreamDescriptor) (*builtinDecoder, error) {
	codec := ParseVideoCodec(desc.Codec)
	if codec != VideoCodecMJPEG && codec != VideoCodecRaw {
		return nil, fmt.Errorf("%w: builtin engine cannot decode %q", ErrCodecNotSupported, desc.Codec)
	}
	if codec == VideoCodecRaw && (desc.Width <= 0 || desc.Height <= 0) {
		return nil, fmt.Errorf("%w: rawvideo stream without dimensions", ErrInvalidData)
	}
	return &builtinDecoder{
		codec:  codec,
		width:  desc.Width,
		height: desc.Height,
		format: builtinPixelFormat(codec),
	}, nil
}

func (d *builtinDecoder) SendPacket(p *Packet) error {
	if d.eof {
		return ErrEndOfStream
	}
	if p == nil {
		d.eof = true
		return nil
	}
	var (
		f   *Frame
		err error
	)
	if d.codec == VideoCodecMJPEG {
		f, err = decodeJPEG(p.Data)
	} else {
		f, err = unpackI420(p.Data, d.width, d.height)
	}
	if err != nil {
		return &EngineError{Op: "decode", Err: fmt.Errorf("%w: %w", ErrInvalidData, err)}
	}
	f.PTS = p.PTS
	if f.PTS == NoPTS {
		f.PTS = p.DTS
	}
	f.Duration = p.Duration
	f.Key = true
	d.queue = append(d.queue, f)
	return nil
}

func (d *builtinDecoder) ReceiveFrame(f *Frame) error {
	if len(d.queue) == 0 {
		if d.eof {
			return ErrEndOfStream
		}
		return ErrAgain
	}
	q := d.queue[0]
	d.queue = d.queue[1:]
	f.Planes, f.Strides = q.Planes, q.Strides
	f.Width, f.Height, f.Format = q.Width, q.Height, q.Format
	f.PTS, f.Duration, f.Key = q.PTS, q.Duration, q.Key
	return nil
}

func (d *builtinDecoder) Flush() {
	d.queue = nil
	d.eof = false
}

func (d *builtinDecoder) TicksPerFrame() int       { return 1 }
func (d *builtinDecoder) PixelFormat() PixelFormat { return d.format }

func (d *builtinDecoder) Close() error {
	d.queue = nil
	return nil
}

// decodeJPEG decodes into yuvj420p. Pictures with another subsampling go
// through RGBA first.
func decodeJPEG(data []byte) (*Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if y, ok := img.(*image.YCbCr); ok && y.SubsampleRatio == image.YCbCrSubsampleRatio420 && b.Min == (image.Point{}) {
		return &Frame{
			Planes:  [][]byte{y.Y, y.Cb, y.Cr},
			Strides: []int{y.YStride, y.CStride, y.CStride},
			Width:   b.Dx(),
			Height:  b.Dy(),
			Format:  PixelFormatYUVJ420P,
		}, nil
	}

	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	src := &Frame{
		Planes:  [][]byte{rgba.Pix},
		Strides: []int{rgba.Stride},
		Width:   b.Dx(),
		Height:  b.Dy(),
		Format:  PixelFormatRGBA,
	}
	dst, err := NewFrame(b.Dx(), b.Dy(), PixelFormatYUVJ420P)
	if err != nil {
		return nil, err
	}
	c, err := NewPixelConverter(b.Dx(), b.Dy(), PixelFormatRGBA, PixelFormatYUVJ420P)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	if err := c.Convert(dst, src); err != nil {
		return nil, err
	}
	return dst, nil
}

func unpackI420(data []byte, width, height int) (*Frame, error) {
	if want := I420Size(width, height); len(data) != want {
		return nil, fmt.Errorf("rawvideo packet of %d bytes, want %d", len(data), want)
	}
	f := &Frame{
		Planes:  make([][]byte, 3),
		Strides: make([]int, 3),
		Width:   width,
		Height:  height,
		Format:  PixelFormatYUV420P,
	}
	off := 0
	for i := 0; i < 3; i++ {
		row, rows := PixelFormatYUV420P.PlaneSize(width, height, i)
		f.Planes[i] = data[off : off+row*rows]
		f.Strides[i] = row
		off += row * rows
	}
	return f, nil
}
