package raster

import (
	"sort"

	"github.com/coreman2200/ledgrid/internal/layout"
)

type Point = layout.Point

// Bounds is the drawable area [0,W) x [0,H).
type Bounds struct{ W, H int }

func (b Bounds) Contains(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < b.W && p.Y < b.H
}

// Octants runs the midpoint circle algorithm and returns every clipped octant
// reflection in emission order, eight per step. Small radii repeat pixels.
func Octants(xc, yc, r int, b Bounds) []Point {
	if r < 0 {
		return nil
	}
	var out []Point
	x, y := 0, r
	d := 1 - r
	for x <= y {
		for _, o := range [8]Point{{X: x, Y: y}, {X: y, Y: x}, {X: -x, Y: y}, {X: -y, Y: x}, {X: x, Y: -y}, {X: y, Y: -x}, {X: -x, Y: -y}, {X: -y, Y: -x}} {
			p := Point{X: xc + o.X, Y: yc + o.Y}
			if b.Contains(p) {
				out = append(out, p)
			}
		}
		if d < 0 {
			d += 2*x + 3
		} else {
			d += 2*(x-y) + 5
			y--
		}
		x++
	}
	return out
}

// Circle is Octants with repeated pixels removed, first occurrence kept.
func Circle(xc, yc, r int, b Bounds) []Point {
	pts := Octants(xc, yc, r, b)
	seen := make(map[Point]bool, len(pts))
	out := pts[:0]
	for _, p := range pts {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Set is an unordered collection of pixels.
type Set map[Point]struct{}

func NewSet(pts ...Point) Set {
	s := make(Set, len(pts))
	s.Add(pts...)
	return s
}

func (s Set) Add(pts ...Point) {
	for _, p := range pts {
		s[p] = struct{}{}
	}
}

func (s Set) Has(p Point) bool {
	_, ok := s[p]
	return ok
}

// Intersect returns the points present in both sets.
func Intersect(a, b Set) Set {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := Set{}
	for p := range a {
		if b.Has(p) {
			out[p] = struct{}{}
		}
	}
	return out
}

// Sorted returns the points ordered by y then x.
func (s Set) Sorted() []Point {
	out := make([]Point, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	SortPoints(out)
	return out
}

func SortPoints(pts []Point) {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].Y != pts[j].Y {
			return pts[i].Y < pts[j].Y
		}
		return pts[i].X < pts[j].X
	})
}
