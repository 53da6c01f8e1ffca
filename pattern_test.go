package velvet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePatternType(t *testing.T) {
	for p := PatternColorBars; p <= PatternMovingBox; p++ {
		got, err := ParsePatternType(p.String())
		if err != nil {
			t.Fatalf("ParsePatternType(%q): %v", p, err)
		}
		if got != p {
			t.Errorf("ParsePatternType(%q) = %v", p, got)
		}
	}
	got, err := ParsePatternType("Checker")
	require.NoError(t, err)
	require.Equal(t, PatternCheckerboard, got)

	_, err = ParsePatternType("plasma")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTestPattern_Defaults(t *testing.T) {
	p := NewTestPattern(TestPatternConfig{})
	cfg := p.Config()
	require.Equal(t, DefaultWidth, cfg.Width)
	require.Equal(t, DefaultHeight, cfg.Height)
	require.Equal(t, 32, cfg.CheckerSize)
	require.Equal(t, DefaultWidth, p.Frame(0).Bounds().Dx())
}

func TestTestPattern_Frames(t *testing.T) {
	tests := []struct {
		cfg     TestPatternConfig
		animate bool // consecutive frames differ
	}{
		{TestPatternConfig{Pattern: PatternColorBars}, false},
		{TestPatternConfig{Pattern: PatternColorBars, Animated: true}, true},
		{TestPatternConfig{Pattern: PatternGradient, Animated: true}, true},
		{TestPatternConfig{Pattern: PatternCheckerboard, CheckerSize: 4}, false},
		{TestPatternConfig{Pattern: PatternSolidColor, SolidR: 10, SolidG: 20, SolidB: 30}, false},
		{TestPatternConfig{Pattern: PatternNoise}, true},
		{TestPatternConfig{Pattern: PatternMovingBox}, true},
	}
	for _, tt := range tests {
		tt.cfg.Width, tt.cfg.Height = 64, 48
		t.Run(tt.cfg.Pattern.String(), func(t *testing.T) {
			p := NewTestPattern(tt.cfg)
			first := bytes.Clone(p.Frame(0).Pix)
			second := p.Frame(20).Pix
			require.Equal(t, !tt.animate, bytes.Equal(first, second))
			for i := 3; i < len(second); i += 4 {
				require.Equal(t, uint8(0xFF), second[i], "opaque")
			}
		})
	}
}

func TestTestPattern_SolidColor(t *testing.T) {
	p := NewTestPattern(TestPatternConfig{Width: 2, Height: 2, Pattern: PatternSolidColor, SolidR: 10, SolidG: 20, SolidB: 30})
	img := p.Frame(0)
	r, g, b, _ := img.At(1, 1).RGBA()
	require.Equal(t, []uint32{10, 20, 30}, []uint32{r >> 8, g >> 8, b >> 8})
}
