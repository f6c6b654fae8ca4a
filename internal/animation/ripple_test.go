package animation

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
	"github.com/coreman2200/ledgrid/internal/raster"
)

func TestRippleDrawsEveryRingThenErasesIt(t *testing.T) {
	rec := newRecorder(layout.PanelID{})
	r := Ripple{
		Center:    layout.Point{X: 8, Y: 8},
		Colors:    []led.Color{red, blue},
		MaxRadius: 7,
		Trail:     DefaultTrail,
		Tick:      time.Millisecond,
	}
	require.NoError(t, r.Run(context.Background(), rec, raster.Bounds{W: 32, H: 16}))
	assert.Equal(t, red, colorAt(rec, 0))
	assert.Equal(t, blue, colorAt(rec, 1))
	assert.Len(t, rec.calls, 14)
	assert.Equal(t, led.Black, colorAt(rec, 13))
	assert.Empty(t, rec.lit())
}

func colorAt(r *recorder, call int) led.Color {
	return r.cols[call]
}

func TestRippleTrailLongerThanRadiusTerminates(t *testing.T) {
	rec := newRecorder(layout.PanelID{})
	r := Ripple{Center: layout.Point{X: 2, Y: 2}, Colors: []led.Color{red}, MaxRadius: 3, Trail: 10, Tick: time.Millisecond}
	require.NoError(t, r.Run(context.Background(), rec, raster.Bounds{W: 16, H: 16}))
	assert.Empty(t, rec.lit())
}

func TestRippleCancelErases(t *testing.T) {
	rec := newRecorder(layout.PanelID{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Ripple{Center: layout.Point{X: 4, Y: 4}, Colors: []led.Color{red}, MaxRadius: 9, Trail: 5, Tick: time.Hour}
	assert.ErrorIs(t, r.Run(ctx, rec, raster.Bounds{W: 16, H: 16}), context.Canceled)
	assert.Empty(t, rec.lit())

	assert.Error(t, Ripple{MaxRadius: 3}.Run(context.Background(), rec, raster.Bounds{W: 16, H: 16}))
}

func TestRippleRadius(t *testing.T) {
	assert.Equal(t, 30, RippleRadius(1000, DefaultTrail))
	assert.Equal(t, 6, RippleRadius(3900, DefaultTrail))
	assert.Equal(t, 6, RippleRadius(9000, DefaultTrail))
}

type canvas struct {
	px     map[layout.Point]led.Color
	frames int
}

func (c *canvas) Apply(px map[layout.Point]led.Color) error {
	for p, col := range px {
		c.px[p] = col
	}
	c.frames++
	return nil
}

func (c *canvas) Clear() error {
	c.px = map[layout.Point]led.Color{}
	return nil
}

func TestStepMovesAlongLargerAxis(t *testing.T) {
	target := layout.Point{X: 5, Y: 5}
	out := Step([]Spark{
		{Pos: layout.Point{X: 0, Y: 4}},
		{Pos: layout.Point{X: 5, Y: 9}},
		{Pos: layout.Point{X: 5, Y: 5}},
		{Pos: layout.Point{X: 7, Y: 7}},
	}, target)
	require.Len(t, out, 3)
	assert.Equal(t, layout.Point{X: 1, Y: 4}, out[0].Pos)
	assert.Equal(t, layout.Point{X: 5, Y: 8}, out[1].Pos)
	assert.Equal(t, layout.Point{X: 7, Y: 6}, out[2].Pos)
}

func TestConvergeFinishesAndClears(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sparks := RandomSparks(rng, 6, 16)
	for _, s := range sparks {
		assert.True(t, s.Color.R >= 50 && s.Color.G >= 50 && s.Color.B >= 50)
	}
	c := &canvas{px: map[layout.Point]led.Color{}}
	require.NoError(t, Converge(context.Background(), c, layout.Point{X: 8, Y: 8}, sparks, time.Millisecond))
	assert.Empty(t, c.px)
	assert.LessOrEqual(t, c.frames, 32)
	assert.Positive(t, c.frames)
}
