package led

import (
	"fmt"
	"image/color"
	"math/rand"

	"github.com/lucasb-eyer/go-colorful"
)

// MaxBrightness caps the per-channel output so a full-white frame stays within the supply budget.
const MaxBrightness uint8 = 200

type Color struct{ R, G, B uint8 }

var Black = Color{}

func (c Color) IsBlack() bool { return c == Black }

func (c Color) String() string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

// Scale applies brightness in [0,1], capped by MaxBrightness.
func (c Color) Scale(brightness float64) color.NRGBA {
	if brightness < 0 {
		brightness = 0
	}
	if limit := float64(MaxBrightness) / 255; brightness > limit {
		brightness = limit
	}
	return color.NRGBA{
		R: uint8(float64(c.R) * brightness),
		G: uint8(float64(c.G) * brightness),
		B: uint8(float64(c.B) * brightness),
		A: 255,
	}
}

// Mix is the integer channel-wise average of cs.
func Mix(cs ...Color) Color {
	if len(cs) == 0 {
		return Black
	}
	var r, g, b int
	for _, c := range cs {
		r += int(c.R)
		g += int(c.G)
		b += int(c.B)
	}
	n := len(cs)
	return Color{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n)}
}

// Random picks a saturated color with a random hue.
func Random(rng *rand.Rand) Color {
	c := colorful.Hsv(rng.Float64()*360, 0.6+rng.Float64()*0.4, 1)
	r, g, b := c.Clamped().RGB255()
	return Color{R: r, G: g, B: b}
}

func FromArray(v [3]uint8) Color { return Color{R: v[0], G: v[1], B: v[2]} }

func (c Color) Array() [3]uint8 { return [3]uint8{c.R, c.G, c.B} }
