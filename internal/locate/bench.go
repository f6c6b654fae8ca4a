package locate

import (
	"errors"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"
)

// Scene returns the raw range reading seen at a servo angle.
type Scene func(angleDeg float64) float64

// Bench is a simulated servo and ranger pair sharing one angle.
type Bench struct {
	mu      sync.Mutex
	angle   float64
	ranging bool
	scene   Scene
	Pulses  []float64
}

func NewBench(s Scene) *Bench { return &Bench{scene: s} }

func (b *Bench) SetPulseWidth(us float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.angle = (us - 500) / 2000 * 180
	b.Pulses = append(b.Pulses, us)
	return nil
}

func (b *Bench) StartRanging(RangingMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ranging = true
	return nil
}

func (b *Bench) StopRanging() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ranging = false
	return nil
}

func (b *Bench) Distance() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ranging {
		return 0, errors.New("locate: bench not ranging")
	}
	return b.scene(b.angle), nil
}

// Empty is a scene with nothing on the display.
func Empty(g Geometry) Scene {
	return func(float64) float64 { return 1000 + g.OffsetMM }
}

// Disc is a scene with a round object of radius mm centred on target (display mm).
func Disc(g Geometry, target r2.Vec, radius float64) Scene {
	return func(angleDeg float64) float64 {
		rad := angleDeg * math.Pi / 180
		sin, cos := math.Sincos(rad)
		u := r2.Vec{X: cos, Y: sin}
		gap := r2.Vec{X: g.PivotX - g.PivotX*sin, Y: -g.PivotY + g.PivotX*cos}
		rel := r2.Add(target, gap)
		d := r2.Dot(rel, u)
		if d <= 0 || r2.Norm(r2.Sub(rel, r2.Scale(d, u))) > radius {
			return 1000 + g.OffsetMM
		}
		return d + g.OffsetMM
	}
}
