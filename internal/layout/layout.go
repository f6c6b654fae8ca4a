package layout

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a coordinate falls outside the canvas.
var ErrOutOfBounds = errors.New("layout: coordinate out of bounds")

type Point struct{ X, Y int }

type PanelID struct{ Row, Col int }

func (p PanelID) String() string { return fmt.Sprintf("(%d,%d)", p.Row, p.Col) }

// Grid is the global canvas: Rows x Cols panels of PanelSize x PanelSize pixels.
type Grid struct {
	Rows      int
	Cols      int
	PanelSize int
}

func (g Grid) Width() int  { return g.Cols * g.PanelSize }
func (g Grid) Height() int { return g.Rows * g.PanelSize }

// PanelCount is the number of LEDs on one panel's strip.
func (g Grid) PanelCount() int { return g.PanelSize * g.PanelSize }

func (g Grid) Validate() error {
	if g.Rows <= 0 || g.Cols <= 0 || g.PanelSize <= 0 {
		return fmt.Errorf("layout: invalid grid %dx%d panels of %d px", g.Rows, g.Cols, g.PanelSize)
	}
	return nil
}

func (g Grid) Contains(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.Width() && p.Y < g.Height()
}

func (g Grid) HasPanel(id PanelID) bool {
	return id.Row >= 0 && id.Col >= 0 && id.Row < g.Rows && id.Col < g.Cols
}

// Resolve maps a global pixel to its owning panel and the panel-local coordinate.
func (g Grid) Resolve(gx, gy int) (PanelID, Point, error) {
	if !g.Contains(Point{gx, gy}) {
		return PanelID{}, Point{}, fmt.Errorf("%w: (%d,%d) on %dx%d canvas", ErrOutOfBounds, gx, gy, g.Width(), g.Height())
	}
	id := PanelID{Row: gy / g.PanelSize, Col: gx / g.PanelSize}
	return id, Point{X: gx % g.PanelSize, Y: gy % g.PanelSize}, nil
}

// Origin is the global coordinate of a panel's local (0,0).
func (g Grid) Origin(id PanelID) Point {
	return Point{X: id.Col * g.PanelSize, Y: id.Row * g.PanelSize}
}

func (g Grid) ToGlobal(id PanelID, local Point) Point {
	o := g.Origin(id)
	return Point{X: o.X + local.X, Y: o.Y + local.Y}
}

// Panels lists every panel in row-major order.
func (g Grid) Panels() []PanelID {
	out := make([]PanelID, 0, g.Rows*g.Cols)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			out = append(out, PanelID{Row: r, Col: c})
		}
	}
	return out
}

// Partition groups global points by owning panel, preserving input order.
// Points off the canvas are dropped.
func (g Grid) Partition(pts []Point) map[PanelID][]Point {
	out := map[PanelID][]Point{}
	for _, p := range pts {
		id, _, err := g.Resolve(p.X, p.Y)
		if err != nil {
			continue
		}
		out[id] = append(out[id], p)
	}
	return out
}
