package velvet

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// PatternType defines the type of test pattern to generate.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE color bars
	PatternGradient                        // Horizontal gradient
	PatternCheckerboard                    // Checkerboard pattern
	PatternSolidColor                      // Solid color
	PatternNoise                           // Random noise
	PatternMovingBox                       // Moving box (animated)
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "bars"
	case PatternGradient:
		return "gradient"
	case PatternCheckerboard:
		return "checker"
	case PatternSolidColor:
		return "solid"
	case PatternNoise:
		return "noise"
	case PatternMovingBox:
		return "box"
	default:
		return "unknown"
	}
}

// ParsePatternType maps a pattern name to its type.
func ParsePatternType(name string) (PatternType, error) {
	for p := PatternColorBars; p <= PatternMovingBox; p++ {
		if strings.EqualFold(name, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown pattern %q", ErrInvalidConfig, name)
}

// TestPatternConfig configures a TestPattern.
type TestPatternConfig struct {
	Width   int         // Frame width (default: 640)
	Height  int         // Frame height (default: 480)
	Pattern PatternType // Pattern type (default: ColorBars)

	// Animated scrolls static patterns one step per frame. MovingBox and
	// Noise always animate.
	Animated bool

	// For SolidColor pattern
	SolidR, SolidG, SolidB uint8

	// For Checkerboard pattern
	CheckerSize int // Size of each checker square (default: 32)
}

// DefaultTestPatternConfig returns a default test pattern configuration.
func DefaultTestPatternConfig() TestPatternConfig {
	return TestPatternConfig{
		Width:       DefaultWidth,
		Height:      DefaultHeight,
		Pattern:     PatternColorBars,
		CheckerSize: 32,
	}
}

// TestPattern renders synthetic pictures for encoding. The returned image
// is reused by the next call to Frame.
type TestPattern struct {
	config   TestPatternConfig
	img      *image.RGBA
	rngState uint64
}

// NewTestPattern creates a pattern generator.
func NewTestPattern(config TestPatternConfig) *TestPattern {
	if config.Width <= 0 {
		config.Width = DefaultWidth
	}
	if config.Height <= 0 {
		config.Height = DefaultHeight
	}
	if config.CheckerSize <= 0 {
		config.CheckerSize = 32
	}
	return &TestPattern{
		config:   config,
		img:      image.NewRGBA(image.Rect(0, 0, config.Width, config.Height)),
		rngState: 0x9E3779B97F4A7C15,
	}
}

// Config returns the generator configuration with defaults applied.
func (s *TestPattern) Config() TestPatternConfig { return s.config }

// Frame renders frame number n.
func (s *TestPattern) Frame(n int64) *image.RGBA {
	shift := 0
	if s.config.Animated {
		shift = int(n)
	}
	switch s.config.Pattern {
	case PatternGradient:
		s.fill(func(x, _ int) [3]uint8 {
			v := uint8(((x + shift) % s.config.Width) * 255 / s.config.Width)
			return [3]uint8{v, v, v}
		})
	case PatternCheckerboard:
		size := s.config.CheckerSize
		s.fill(func(x, y int) [3]uint8 {
			if ((x+shift)/size+y/size)%2 == 0 {
				return [3]uint8{235, 235, 235}
			}
			return [3]uint8{16, 16, 16}
		})
	case PatternSolidColor:
		c := [3]uint8{s.config.SolidR, s.config.SolidG, s.config.SolidB}
		s.fill(func(int, int) [3]uint8 { return c })
	case PatternNoise:
		s.fill(func(int, int) [3]uint8 {
			// xorshift64
			s.rngState ^= s.rngState << 13
			s.rngState ^= s.rngState >> 7
			s.rngState ^= s.rngState << 17
			v := uint8(s.rngState)
			return [3]uint8{v, v, v}
		})
	case PatternMovingBox:
		s.movingBox(n)
	default:
		barWidth := max(s.config.Width/len(colorBarsRGB), 1)
		s.fill(func(x, _ int) [3]uint8 {
			return colorBarsRGB[min(((x+shift)%s.config.Width)/barWidth, len(colorBarsRGB)-1)]
		})
	}
	return s.img
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

func (s *TestPattern) fill(color func(x, y int) [3]uint8) {
	w, h := s.config.Width, s.config.Height
	for y := 0; y < h; y++ {
		row := s.img.Pix[y*s.img.Stride:]
		for x := 0; x < w; x++ {
			c := color(x, y)
			row[4*x], row[4*x+1], row[4*x+2], row[4*x+3] = c[0], c[1], c[2], 0xFF
		}
	}
}

func (s *TestPattern) movingBox(n int64) {
	w, h := s.config.Width, s.config.Height
	s.fill(func(int, int) [3]uint8 { return [3]uint8{16, 16, 16} })

	// Box moves in a circle
	boxSize := max(min(w, h)/5, 1)
	radius := float64(min(w, h)) / 4
	angle := float64(n) * 0.05 // Radians per frame
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := max(boxY, 0); y < boxY+boxSize && y < h; y++ {
		row := s.img.Pix[y*s.img.Stride:]
		for x := max(boxX, 0); x < boxX+boxSize && x < w; x++ {
			row[4*x], row[4*x+1], row[4*x+2] = 235, 235, 235
		}
	}
}
