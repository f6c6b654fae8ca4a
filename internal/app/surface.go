package app

import (
	"github.com/coreman2200/ledgrid/internal/animation"
	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
	"github.com/coreman2200/ledgrid/internal/panel"
	"github.com/coreman2200/ledgrid/internal/raster"
)

func rasterBounds(g layout.Grid) raster.Bounds {
	return raster.Bounds{W: g.Width(), H: g.Height()}
}

// observed reports the pixels a panel owns before drawing them.
type observed struct {
	p   *panel.Panel
	obs animation.Observer
}

func (o observed) DrawGlobal(pts []layout.Point, c led.Color) (int, error) {
	if o.obs != nil {
		own := make([]layout.Point, 0, len(pts))
		for _, g := range pts {
			if o.p.Owns(g) {
				own = append(own, g)
			}
		}
		o.obs(own, c)
	}
	return o.p.DrawGlobal(pts, c)
}

// localCanvas mirrors local frames to the observer in canvas coordinates.
type localCanvas struct {
	p   *panel.Panel
	obs animation.Observer
}

func (l localCanvas) Apply(px map[layout.Point]led.Color) error {
	if l.obs != nil {
		g := l.p.Grid()
		for p, c := range px {
			l.obs([]layout.Point{g.ToGlobal(l.p.ID(), p)}, c)
		}
	}
	return l.p.Apply(px)
}

func (l localCanvas) Clear() error {
	if l.obs != nil {
		g := l.p.Grid()
		o := g.Origin(l.p.ID())
		pts := make([]layout.Point, 0, g.PanelCount())
		for y := 0; y < g.PanelSize; y++ {
			for x := 0; x < g.PanelSize; x++ {
				pts = append(pts, layout.Point{X: o.X + x, Y: o.Y + y})
			}
		}
		l.obs(pts, led.Black)
	}
	return l.p.Clear()
}
