package animation

import (
	"context"
	"errors"
	"time"

	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
	"github.com/coreman2200/ledgrid/internal/raster"
)

// Painter draws canvas pixels; pixels it does not own are ignored.
type Painter interface {
	DrawGlobal(pts []layout.Point, c led.Color) (int, error)
}

// Ripple is a single ring that grows outward while its inner edge is erased
// Trail rings behind it.
type Ripple struct {
	Center    layout.Point
	Colors    []led.Color
	MaxRadius int
	Trail     int
	Tick      time.Duration
}

const DefaultTrail = 5

// RippleRadius maps a pressure reading to a ripple size; heavier loads give smaller ripples.
func RippleRadius(dataTotal, trail int) int {
	return max((4000-dataTotal)/100, trail+1)
}

func (r Ripple) color(radius int) led.Color {
	return r.Colors[radius%len(r.Colors)]
}

// Run draws the ripple onto p. Cancellation erases the rings still lit.
func (r Ripple) Run(ctx context.Context, p Painter, b raster.Bounds) error {
	if len(r.Colors) == 0 {
		return errors.New("animation: ripple without colors")
	}
	if r.Tick <= 0 {
		r.Tick = 100 * time.Millisecond
	}
	radius, cleared := 0, 0
	t := time.NewTicker(r.Tick)
	defer t.Stop()
	for cleared < r.MaxRadius {
		if radius < r.MaxRadius {
			if _, err := p.DrawGlobal(raster.Circle(r.Center.X, r.Center.Y, radius, b), r.color(radius)); err != nil {
				return err
			}
			radius++
		}
		if radius > r.Trail || radius >= r.MaxRadius {
			if _, err := p.DrawGlobal(raster.Circle(r.Center.X, r.Center.Y, cleared, b), led.Black); err != nil {
				return err
			}
			cleared++
		}
		select {
		case <-ctx.Done():
			for ; cleared < radius; cleared++ {
				_, _ = p.DrawGlobal(raster.Circle(r.Center.X, r.Center.Y, cleared, b), led.Black)
			}
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
