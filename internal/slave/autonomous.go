package slave

import (
	"context"

	"github.com/coreman2200/ledgrid/internal/animation"
	"github.com/coreman2200/ledgrid/internal/layout"
)

// autonomousCycle plays one Converge on this panel alone: sparks gather at
// the sensed object, or at a random pixel when nothing is sensed.
func (a *Agent) autonomousCycle(ctx context.Context) error {
	size := a.panel.Grid().PanelSize
	target, ok := a.senseLocal(ctx)

	a.rngMu.Lock()
	if !ok {
		target = layout.Point{X: a.rng.Intn(size), Y: a.rng.Intn(size)}
	}
	sparks := animation.RandomSparks(a.rng, a.cfg.Autonomous.Points, size)
	a.rngMu.Unlock()

	a.log.Debug().Int("x", target.X).Int("y", target.Y).Bool("sensed", ok).Msg("converge")
	if err := animation.Converge(ctx, a.panel, target, sparks, a.cfg.Autonomous.Tick); err != nil {
		return err
	}
	return sleep(ctx, a.cfg.Autonomous.Pause)
}
