package animation

import (
	"context"
	"math/rand"
	"time"

	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
)

// Canvas is a single panel addressed in local coordinates.
type Canvas interface {
	Apply(px map[layout.Point]led.Color) error
	Clear() error
}

type Spark struct {
	Pos   layout.Point
	Color led.Color
}

// RandomSparks scatters n sparks over a size x size panel with bright random colors.
func RandomSparks(rng *rand.Rand, n, size int) []Spark {
	out := make([]Spark, n)
	for i := range out {
		out[i] = Spark{
			Pos: layout.Point{X: rng.Intn(size), Y: rng.Intn(size)},
			Color: led.Color{
				R: uint8(50 + rng.Intn(206)),
				G: uint8(50 + rng.Intn(206)),
				B: uint8(50 + rng.Intn(206)),
			},
		}
	}
	return out
}

// Step moves each spark one pixel toward target along its larger axis. Sparks
// already on the target are dropped.
func Step(sparks []Spark, target layout.Point) []Spark {
	out := sparks[:0]
	for _, s := range sparks {
		dx, dy := target.X-s.Pos.X, target.Y-s.Pos.Y
		if dx == 0 && dy == 0 {
			continue
		}
		if abs(dx) > abs(dy) {
			s.Pos.X += sign(dx)
		} else {
			s.Pos.Y += sign(dy)
		}
		out = append(out, s)
	}
	return out
}

// Converge animates sparks toward target until every one arrives, then clears the panel.
func Converge(ctx context.Context, c Canvas, target layout.Point, sparks []Spark, tick time.Duration) error {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	sparks = append([]Spark(nil), sparks...)
	for len(sparks) > 0 {
		frame := make(map[layout.Point]led.Color, 2*len(sparks))
		for _, s := range sparks {
			frame[s.Pos] = led.Black
		}
		sparks = Step(sparks, target)
		for _, s := range sparks {
			frame[s.Pos] = s.Color
		}
		if err := c.Apply(frame); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			_ = c.Clear()
			return ctx.Err()
		case <-t.C:
		}
	}
	return c.Clear()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}
