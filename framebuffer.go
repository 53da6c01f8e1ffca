package velvet

import (
	"fmt"
	"image"
	"image/draw"
)

// FrameBuffer owns the pair of engine frames of one stream and converts
// between the application layout (rgba) and the codec layout. Both frames
// and the converters are allocated once and reused for every picture.
type FrameBuffer struct {
	engine      Engine
	width       int
	height      int
	codecFormat PixelFormat
	dir         Direction

	app   *Frame // rgba
	codec *Frame // codec layout; decoder receive target when decoding

	conv Converter
}

// NewFrameBuffer allocates the frames for a stream. For Encode the codec
// format must be known; for Decode it is taken from the first decoded frame.
func NewFrameBuffer(e Engine, width, height int, codecFormat PixelFormat, dir Direction) (*FrameBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: frame buffer size %dx%d", ErrInvalidConfig, width, height)
	}
	b := &FrameBuffer{
		engine:      e,
		width:       width,
		height:      height,
		codecFormat: codecFormat,
		dir:         dir,
	}

	var err error
	if b.app, err = e.AllocFrame(width, height, ApplicationPixelFormat); err != nil {
		return nil, err
	}
	if dir == Encode {
		if b.codec, err = e.AllocFrame(width, height, codecFormat); err != nil {
			b.Close()
			return nil, err
		}
		if b.conv, err = e.NewConverter(width, height, ApplicationPixelFormat, codecFormat); err != nil {
			b.Close()
			return nil, err
		}
	} else {
		if b.codec, err = e.AllocFrame(0, 0, ""); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

// Size returns the fixed dimensions of the buffer.
func (b *FrameBuffer) Size() (width, height int) { return b.width, b.height }

// CodecFrame returns the codec-layout frame (the decoder receive target).
func (b *FrameBuffer) CodecFrame() *Frame { return b.codec }

// SetPixels copies img into the rgba frame and converts it into the codec
// frame, which is returned for encoding.
func (b *FrameBuffer) SetPixels(img image.Image) (*Frame, error) {
	if b.dir != Encode {
		return nil, fmt.Errorf("%w: SetPixels on a decode buffer", ErrInvalidConfig)
	}
	r := img.Bounds()
	if r.Dx() != b.width || r.Dy() != b.height {
		return nil, fmt.Errorf("%w: image %dx%d, stream %dx%d", ErrFrameSize, r.Dx(), r.Dy(), b.width, b.height)
	}

	if err := b.app.MakeWritable(); err != nil {
		return nil, err
	}
	dst := &image.RGBA{
		Pix:    b.app.Planes[0],
		Stride: b.app.Strides[0],
		Rect:   image.Rect(0, 0, b.width, b.height),
	}
	draw.Draw(dst, dst.Rect, img, r.Min, draw.Src)

	if err := b.codec.MakeWritable(); err != nil {
		return nil, err
	}
	if err := b.conv.Convert(b.codec, b.app); err != nil {
		return nil, err
	}
	b.codec.PTS = NoPTS
	b.codec.Duration = 0
	b.codec.Key = false
	return b.codec, nil
}

// GetPixels converts a decoded frame into a new application image.
func (b *FrameBuffer) GetPixels(f *Frame) (*image.RGBA, error) {
	if f.Width != b.width || f.Height != b.height {
		return nil, fmt.Errorf("%w: frame %dx%d, stream %dx%d", ErrFrameSize, f.Width, f.Height, b.width, b.height)
	}
	if b.conv == nil {
		conv, err := b.engine.NewConverter(b.width, b.height, f.Format, ApplicationPixelFormat)
		if err != nil {
			return nil, err
		}
		b.conv = conv
		b.codecFormat = f.Format
	} else if f.Format != b.codecFormat {
		return nil, fmt.Errorf("%w: decoder switched from %s to %s", ErrUnsupportedPixelFormat, b.codecFormat, f.Format)
	}

	if err := b.conv.Convert(b.app, f); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	copyPlane(img.Pix, img.Stride, b.app.Planes[0], b.app.Strides[0], 4*b.width, b.height)
	return img, nil
}

// Close frees both frames and the converter.
func (b *FrameBuffer) Close() {
	if b.conv != nil {
		b.conv.Close()
		b.conv = nil
	}
	b.app.Free()
	b.codec.Free()
	b.app, b.codec = nil, nil
}
