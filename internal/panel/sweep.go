package panel

import (
	"context"
	"time"

	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
)

type Kind string

const (
	None       Kind = ""
	IndexSweep Kind = "index_sweep"
	RowSweep   Kind = "row_sweep"
	RGBTest    Kind = "rgb_channels"
)

type Plan struct{ Kind Kind }

// Runner steps a wiring self-test one frame at a time.
type Runner struct {
	plan Plan
	step int
}

func NewRunner(plan Plan) *Runner { return &Runner{plan: plan} }

func (r *Runner) Kind() Kind { return r.plan.Kind }

// Step draws the next frame; returns false when complete.
func (r *Runner) Step(p *Panel) (bool, error) {
	size := p.grid.PanelSize
	n := size * size
	var paint func() error

	switch r.plan.Kind {
	case IndexSweep:
		// raw strip order, reveals the physical serpentine
		if r.step >= n {
			return false, nil
		}
		i := r.step
		paint = func() error { return p.strip.SetPixelColor(i, led.Color{R: 255, G: 255, B: 255}) }
	case RowSweep:
		// logical rows through the wiring transform; a straight line means the wiring is right
		if r.step >= size {
			return false, nil
		}
		y := r.step
		paint = func() error {
			for x := 0; x < size; x++ {
				if err := p.set(layout.Point{X: x, Y: y}, led.Color{G: 255, B: 255}); err != nil {
					return err
				}
			}
			return nil
		}
	case RGBTest:
		if r.step >= 3 {
			return false, nil
		}
		c := [3]led.Color{{R: 255}, {G: 255}, {B: 255}}[r.step]
		paint = func() error {
			for y := 0; y < size; y++ {
				for x := 0; x < size; x++ {
					if err := p.set(layout.Point{X: x, Y: y}, c); err != nil {
						return err
					}
				}
			}
			return nil
		}
	default:
		return false, nil
	}
	if err := p.frame(paint); err != nil {
		return false, err
	}
	r.step++
	return true, nil
}

// Run steps the plan every interval until it completes or ctx ends, then blanks the panel.
func (r *Runner) Run(ctx context.Context, p *Panel, interval time.Duration) (err error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	defer func() {
		if cerr := p.Clear(); err == nil {
			err = cerr
		}
	}()
	for {
		more, err := r.Step(p)
		if err != nil || !more {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
