package locate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/spatial/r2"
)

// Servo positions the sensor.
type Servo interface {
	SetPulseWidth(us float64) error
}

type RangingMode int

const (
	Short RangingMode = iota + 1
	Medium
	Long
)

// Ranger is a time-of-flight distance sensor.
type Ranger interface {
	StartRanging(mode RangingMode) error
	// Distance returns the latest reading in millimetres; zero or less means no target.
	Distance() (float64, error)
	StopRanging() error
}

type Config struct {
	Geometry Geometry
	Mode     RangingMode
	// Settle is the pause after each servo move before sampling.
	Settle time.Duration
	// Home is the pause after returning to the start angle.
	Home   time.Duration
	Logger *zerolog.Logger
}

type Locator struct {
	cfg    Config
	servo  Servo
	ranger Ranger
	log    zerolog.Logger
}

func NewLocator(cfg Config, s Servo, r Ranger) (*Locator, error) {
	g := cfg.Geometry
	if g.StepDeg <= 0 || g.Run <= 0 || g.EndDeg < g.StartDeg {
		return nil, fmt.Errorf("locate: invalid sweep %d..%d step %d run %d", g.StartDeg, g.EndDeg, g.StepDeg, g.Run)
	}
	if g.StartDeg < 0 || g.EndDeg > 180 {
		return nil, fmt.Errorf("locate: sweep %d..%d outside servo range", g.StartDeg, g.EndDeg)
	}
	if cfg.Mode == 0 {
		cfg.Mode = Long
	}
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Locator{cfg: cfg, servo: s, ranger: r, log: l.With().Str("component", "locate").Logger()}, nil
}

// Locate runs one sweep and returns the object position in millimetres, or NotFound.
func (l *Locator) Locate(ctx context.Context) (r2.Vec, error) {
	g := l.cfg.Geometry
	if err := l.ranger.StartRanging(l.cfg.Mode); err != nil {
		return NotFound, fmt.Errorf("locate: start ranging: %w", err)
	}
	defer func() {
		if err := l.ranger.StopRanging(); err != nil {
			l.log.Warn().Err(err).Msg("stop ranging")
		}
	}()

	if err := l.servo.SetPulseWidth(PulseWidth(float64(g.StartDeg))); err != nil {
		return NotFound, fmt.Errorf("locate: home servo: %w", err)
	}
	if err := sleep(ctx, l.cfg.Home); err != nil {
		return NotFound, err
	}

	t := &tracker{g: g}
	for a := g.StartDeg; a <= g.EndDeg; a += g.StepDeg {
		if err := l.servo.SetPulseWidth(PulseWidth(float64(a))); err != nil {
			return NotFound, fmt.Errorf("locate: servo %d deg: %w", a, err)
		}
		if err := sleep(ctx, l.cfg.Settle); err != nil {
			return NotFound, err
		}
		raw, err := l.ranger.Distance()
		if err != nil {
			l.log.Debug().Err(err).Int("angle", a).Msg("no reading")
			continue
		}
		d := raw - g.OffsetMM
		if d <= 0 {
			continue
		}
		v := g.Cartesian(a, d)
		l.log.Trace().Int("angle", a).Float64("mm", d).Float64("x", v.X).Float64("y", v.Y).Bool("in", g.InRange(v)).Msg("sample")
		if t.add(v) {
			break
		}
	}
	res := t.result()
	if Found(res) {
		l.log.Info().Float64("x_mm", res.X).Float64("y_mm", res.Y).Msg("object located")
	} else {
		l.log.Info().Msg("no object in range")
	}
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
