package velvet

import (
	"fmt"
	"image/color"
)

// PixelConverter converts frames between the pixel layouts the builtin
// engine understands. Conversions that do not involve rgba go through a
// pre-allocated rgba intermediate, so Convert never allocates.
type PixelConverter struct {
	width, height int
	src, dst      PixelFormat

	tmp *Frame // rgba intermediate, nil when src or dst is rgba
}

// NewPixelConverter creates a converter for fixed dimensions and layouts.
func NewPixelConverter(width, height int, src, dst PixelFormat) (*PixelConverter, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: converter size %dx%d", ErrInvalidConfig, width, height)
	}
	for _, f := range []PixelFormat{src, dst} {
		if f.PlaneCount() == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedPixelFormat, f)
		}
	}
	c := &PixelConverter{width: width, height: height, src: src, dst: dst}
	if src != dst && src != PixelFormatRGBA && dst != PixelFormatRGBA {
		tmp, err := NewFrame(width, height, PixelFormatRGBA)
		if err != nil {
			return nil, err
		}
		c.tmp = tmp
	}
	return c, nil
}

// Convert writes src into dst. Both frames must have the converter's
// dimensions and layouts.
func (c *PixelConverter) Convert(dst, src *Frame) error {
	if err := c.check(src, c.src); err != nil {
		return err
	}
	if err := c.check(dst, c.dst); err != nil {
		return err
	}

	switch {
	case c.src == c.dst:
		for i := range src.Planes {
			row, rows := c.src.PlaneSize(c.width, c.height, i)
			copyPlane(dst.Planes[i], dst.Strides[i], src.Planes[i], src.Strides[i], row, rows)
		}
	case c.src == PixelFormatRGBA:
		fromRGBA(dst, src)
	case c.dst == PixelFormatRGBA:
		toRGBA(dst, src)
	default:
		toRGBA(c.tmp, src)
		fromRGBA(dst, c.tmp)
	}
	return nil
}

// Close releases the intermediate buffer.
func (c *PixelConverter) Close() error {
	c.tmp.Free()
	c.tmp = nil
	return nil
}

func (c *PixelConverter) check(f *Frame, want PixelFormat) error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidConfig)
	}
	if f.Format != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnsupportedPixelFormat, f.Format, want)
	}
	if f.Width != c.width || f.Height != c.height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrFrameSize, f.Width, f.Height, c.width, c.height)
	}
	if len(f.Planes) < want.PlaneCount() {
		return fmt.Errorf("%w: %s frame has %d planes", ErrInvalidData, want, len(f.Planes))
	}
	return nil
}

func copyPlane(dst []byte, dstStride int, src []byte, srcStride int, row, rows int) {
	if dstStride == srcStride && dstStride == row {
		copy(dst[:row*rows], src[:row*rows])
		return
	}
	for y := 0; y < rows; y++ {
		copy(dst[y*dstStride:y*dstStride+row], src[y*srcStride:y*srcStride+row])
	}
}

// BT.601 limited range, 8-bit fixed point.
func rgbToLimitedYUV(r, g, b int) (y, u, v uint8) {
	y = clamp8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
	u = clamp8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
	v = clamp8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
	return y, u, v
}

func limitedYUVToRGB(y, u, v uint8) (r, g, b uint8) {
	c := 298 * (int(y) - 16)
	d := int(u) - 128
	e := int(v) - 128
	r = clamp8((c + 409*e + 128) >> 8)
	g = clamp8((c - 100*d - 208*e + 128) >> 8)
	b = clamp8((c + 516*d + 128) >> 8)
	return r, g, b
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// fromRGBA converts an rgba frame into any supported layout.
func fromRGBA(dst, src *Frame) {
	w, h := src.Width, src.Height
	s, ss := src.Planes[0], src.Strides[0]

	switch dst.Format {
	case PixelFormatRGB24, PixelFormatBGR24, PixelFormatBGRA, PixelFormatGray:
		d, ds := dst.Planes[0], dst.Strides[0]
		for y := 0; y < h; y++ {
			sr := s[y*ss:]
			dr := d[y*ds:]
			for x := 0; x < w; x++ {
				r, g, b, a := sr[4*x], sr[4*x+1], sr[4*x+2], sr[4*x+3]
				switch dst.Format {
				case PixelFormatRGB24:
					dr[3*x], dr[3*x+1], dr[3*x+2] = r, g, b
				case PixelFormatBGR24:
					dr[3*x], dr[3*x+1], dr[3*x+2] = b, g, r
				case PixelFormatBGRA:
					dr[4*x], dr[4*x+1], dr[4*x+2], dr[4*x+3] = b, g, r, a
				case PixelFormatGray:
					dr[x] = uint8((19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16)
				}
			}
		}

	case PixelFormatYUV420P, PixelFormatYUVJ420P, PixelFormatNV12:
		full := dst.Format == PixelFormatYUVJ420P
		yp, ys := dst.Planes[0], dst.Strides[0]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				o := y*ss + 4*x
				r, g, b := s[o], s[o+1], s[o+2]
				if full {
					yp[y*ys+x], _, _ = color.RGBToYCbCr(r, g, b)
				} else {
					yp[y*ys+x], _, _ = rgbToLimitedYUV(int(r), int(g), int(b))
				}
			}
		}

		// Chroma from the average of each 2x2 block.
		cw, ch := (w+1)/2, (h+1)/2
		for cy := 0; cy < ch; cy++ {
			for cx := 0; cx < cw; cx++ {
				var sr, sg, sb, n int
				for dy := 0; dy < 2; dy++ {
					py := 2*cy + dy
					if py >= h {
						continue
					}
					for dx := 0; dx < 2; dx++ {
						px := 2*cx + dx
						if px >= w {
							continue
						}
						o := py*ss + 4*px
						sr += int(s[o])
						sg += int(s[o+1])
						sb += int(s[o+2])
						n++
					}
				}
				r, g, b := (sr+n/2)/n, (sg+n/2)/n, (sb+n/2)/n
				var u, v uint8
				if full {
					_, u, v = color.RGBToYCbCr(uint8(r), uint8(g), uint8(b))
				} else {
					_, u, v = rgbToLimitedYUV(r, g, b)
				}
				if dst.Format == PixelFormatNV12 {
					uv := dst.Planes[1][cy*dst.Strides[1]:]
					uv[2*cx], uv[2*cx+1] = u, v
				} else {
					dst.Planes[1][cy*dst.Strides[1]+cx] = u
					dst.Planes[2][cy*dst.Strides[2]+cx] = v
				}
			}
		}
	}
}

// toRGBA converts any supported layout into an rgba frame.
func toRGBA(dst, src *Frame) {
	w, h := src.Width, src.Height
	d, ds := dst.Planes[0], dst.Strides[0]

	switch src.Format {
	case PixelFormatRGB24, PixelFormatBGR24, PixelFormatBGRA, PixelFormatGray:
		s, ss := src.Planes[0], src.Strides[0]
		for y := 0; y < h; y++ {
			sr := s[y*ss:]
			dr := d[y*ds:]
			for x := 0; x < w; x++ {
				var r, g, b, a uint8 = 0, 0, 0, 0xff
				switch src.Format {
				case PixelFormatRGB24:
					r, g, b = sr[3*x], sr[3*x+1], sr[3*x+2]
				case PixelFormatBGR24:
					b, g, r = sr[3*x], sr[3*x+1], sr[3*x+2]
				case PixelFormatBGRA:
					b, g, r, a = sr[4*x], sr[4*x+1], sr[4*x+2], sr[4*x+3]
				case PixelFormatGray:
					r, g, b = sr[x], sr[x], sr[x]
				}
				dr[4*x], dr[4*x+1], dr[4*x+2], dr[4*x+3] = r, g, b, a
			}
		}

	case PixelFormatYUV420P, PixelFormatYUVJ420P, PixelFormatNV12:
		full := src.Format == PixelFormatYUVJ420P
		yp, ys := src.Planes[0], src.Strides[0]
		for y := 0; y < h; y++ {
			cy := y / 2
			for x := 0; x < w; x++ {
				cx := x / 2
				var u, v uint8
				if src.Format == PixelFormatNV12 {
					uv := src.Planes[1][cy*src.Strides[1]:]
					u, v = uv[2*cx], uv[2*cx+1]
				} else {
					u = src.Planes[1][cy*src.Strides[1]+cx]
					v = src.Planes[2][cy*src.Strides[2]+cx]
				}
				var r, g, b uint8
				if full {
					r, g, b = color.YCbCrToRGB(yp[y*ys+x], u, v)
				} else {
					r, g, b = limitedYUVToRGB(yp[y*ys+x], u, v)
				}
				o := y*ds + 4*x
				d[o], d[o+1], d[o+2], d[o+3] = r, g, b, 0xff
			}
		}
	}
}
