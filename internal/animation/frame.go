package animation

import (
	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
	"github.com/coreman2200/ledgrid/internal/raster"
)

type Circle struct {
	Center layout.Point
	Color  led.Color
}

// Frame is one expansion step: every boundary pixel of every circle at a shared radius.
type Frame struct {
	Radius int
	// Order is the paint order: circles in input order, pixels in raster order, first occurrence wins.
	Order  []layout.Point
	Colors map[layout.Point]led.Color
	// Owner is the index of the first circle that covers each pixel.
	Owner      map[layout.Point]int
	Collisions raster.Set
}

// Compose rasterizes all circles at radius r, detects pixels covered by two or
// more circles, and assigns those the channel-wise average of the covering colors.
func Compose(circles []Circle, r int, b raster.Bounds) Frame {
	f := Frame{
		Radius:     r,
		Colors:     map[layout.Point]led.Color{},
		Owner:      map[layout.Point]int{},
		Collisions: raster.Set{},
	}
	cover := map[layout.Point][]led.Color{}
	for i, c := range circles {
		for _, p := range raster.Circle(c.Center.X, c.Center.Y, r, b) {
			if _, ok := f.Owner[p]; !ok {
				f.Owner[p] = i
				f.Order = append(f.Order, p)
			}
			cover[p] = append(cover[p], c.Color)
		}
	}
	for _, p := range f.Order {
		cs := cover[p]
		if len(cs) > 1 {
			f.Collisions.Add(p)
			f.Colors[p] = led.Mix(cs...)
			continue
		}
		f.Colors[p] = cs[0]
	}
	return f
}

// Group is a run of pixels sharing one color.
type Group struct {
	Color  led.Color
	Points []layout.Point
}

// Groups buckets the frame by color, in order of first appearance.
func (f Frame) Groups() []Group {
	idx := map[led.Color]int{}
	var out []Group
	for _, p := range f.Order {
		c := f.Colors[p]
		i, ok := idx[c]
		if !ok {
			i = len(out)
			idx[c] = i
			out = append(out, Group{Color: c})
		}
		out[i].Points = append(out[i].Points, p)
	}
	return out
}
