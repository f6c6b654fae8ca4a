// Package locate sweeps a servo-mounted range sensor across the display and
// estimates where an object sits on it.
package locate

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coreman2200/ledgrid/internal/layout"
)

// Geometry describes the sweep and the sensor mount, in degrees and millimetres.
type Geometry struct {
	StartDeg int `yaml:"start_deg"`
	EndDeg   int `yaml:"end_deg"`
	StepDeg  int `yaml:"step_deg"`

	// OffsetMM is subtracted from every raw reading.
	OffsetMM float64 `yaml:"offset_mm"`
	// PivotX and PivotY place the sensor relative to the servo axis.
	PivotX float64 `yaml:"pivot_x_mm"`
	PivotY float64 `yaml:"pivot_y_mm"`

	DisplayW float64 `yaml:"display_w_mm"`
	DisplayH float64 `yaml:"display_h_mm"`
	// Points with x < OutX and y > OutY fall on the neighbouring servo housing.
	OutX float64 `yaml:"out_x_mm"`
	OutY float64 `yaml:"out_y_mm"`

	// Run is the number of consecutive samples that open and close a detection.
	Run int `yaml:"run"`
}

func DefaultGeometry() Geometry {
	return Geometry{
		StartDeg: 0,
		EndDeg:   90,
		StepDeg:  1,
		OffsetMM: 30,
		PivotX:   15,
		PivotY:   5,
		DisplayW: 160,
		DisplayH: 160,
		OutX:     50,
		OutY:     153,
		Run:      5,
	}
}

// Cartesian converts a corrected polar reading to display coordinates,
// compensating for the sensor's offset from the servo axis.
func (g Geometry) Cartesian(angleDeg int, distMM float64) r2.Vec {
	rad := float64(angleDeg) * math.Pi / 180
	sin, cos := math.Sincos(rad)
	p := r2.Scale(distMM, r2.Vec{X: cos, Y: sin})
	gap := r2.Vec{X: g.PivotX - g.PivotX*sin, Y: -g.PivotY + g.PivotX*cos}
	return r2.Sub(p, gap)
}

func (g Geometry) InRange(v r2.Vec) bool {
	if v.X > g.DisplayW || v.Y > g.DisplayH {
		return false
	}
	if v.X < g.OutX && v.Y > g.OutY {
		return false
	}
	return true
}

// NotFound is returned when a sweep saw no object.
var NotFound = r2.Vec{X: -1, Y: -1}

func Found(v r2.Vec) bool { return v != NotFound }

// ToPixel converts millimetres to panel-local pixels. NotFound maps to (-1,-1).
func ToPixel(v r2.Vec, pitchMM float64) layout.Point {
	if !Found(v) {
		return layout.Point{X: -1, Y: -1}
	}
	return layout.Point{X: int(v.X / pitchMM), Y: int(v.Y / pitchMM)}
}

// PulseWidth maps a servo angle in [0,180] to its pulse width in microseconds.
func PulseWidth(angleDeg float64) float64 {
	return 500 + angleDeg/180*2000
}
