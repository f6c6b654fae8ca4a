package locate

import "gonum.org/v1/gonum/spatial/r2"

// Sample is one raw reading taken during a sweep.
type Sample struct {
	AngleDeg   int
	DistanceMM float64
}

// Estimate filters a sweep down to one object position. Readings at or below
// the sensor offset are skipped. Recording opens after Run consecutive
// in-range points and closes after Run consecutive out-of-range ones; the last
// Run recorded points are always discarded and the middle survivor is returned.
func Estimate(g Geometry, samples []Sample) r2.Vec {
	pts := make([]r2.Vec, 0, len(samples))
	for _, s := range samples {
		d := s.DistanceMM - g.OffsetMM
		if d <= 0 {
			continue
		}
		pts = append(pts, g.Cartesian(s.AngleDeg, d))
	}
	return midpoint(g, pts)
}

type tracker struct {
	g         Geometry
	recording bool
	count     int
	list      []r2.Vec
}

// add feeds one corrected point; it reports whether the sweep can stop.
func (t *tracker) add(v r2.Vec) bool {
	in := t.g.InRange(v)
	if !t.recording {
		if in {
			t.count++
		} else {
			t.count = 0
		}
		if t.count == t.g.Run {
			t.recording = true
			t.count = 0
		}
		return false
	}
	t.list = append(t.list, v)
	if in {
		t.count = 0
	} else {
		t.count++
	}
	return t.count == t.g.Run
}

func (t *tracker) result() r2.Vec {
	list := t.list
	if n := len(list) - t.g.Run; n > 0 {
		list = list[:n]
	} else {
		list = nil
	}
	if len(list) == 0 {
		return NotFound
	}
	return list[len(list)/2]
}

func midpoint(g Geometry, pts []r2.Vec) r2.Vec {
	t := &tracker{g: g}
	for _, v := range pts {
		if t.add(v) {
			break
		}
	}
	return t.result()
}
