package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coreman2200/ledgrid/internal/animation"
	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
	"github.com/coreman2200/ledgrid/internal/locate"
	"github.com/coreman2200/ledgrid/internal/panel"
	"github.com/coreman2200/ledgrid/internal/wire"
)

type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

const (
	StyleCircles = "circles"
	StyleRipple  = "ripple"
)

// Locator finds the object in front of the master's own panel.
type Locator interface {
	Locate(ctx context.Context) (r2.Vec, error)
}

// Network is the master's view of the connected slaves.
type Network interface {
	Positions() []wire.Position
	Request(ctx context.Context, pos wire.Position, m wire.Message, timeout time.Duration) (wire.Message, error)
	Broadcast(m wire.Message) int
	SendToPosition(pos wire.Position, m wire.Message) error
}

type ConductorConfig struct {
	Grid           layout.Grid
	Style          string
	PitchMM        float64
	RequestTimeout time.Duration
	CyclePause     time.Duration
	MaxRadius      int
	TrailWidth     int
	RippleTick     time.Duration
	RandomWhenIdle bool
	Points         int
	ConvergeTick   time.Duration
	Mode           Mode
	// Observer sees ripple and converge paints in canvas coordinates.
	Observer animation.Observer
	Rand     *rand.Rand
	Logger   *zerolog.Logger
}

// Conductor runs the master's animation cycle.
type Conductor struct {
	cfg    ConductorConfig
	eng    *animation.Engine
	panel  *panel.Panel
	sensor Locator
	net    Network
	log    zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	mode    Mode
	cancel  context.CancelFunc
	trigger *wire.Message

	wake chan struct{}
}

type trigger struct {
	at        layout.Point
	dataTotal *int
}

func NewConductor(cfg ConductorConfig, eng *animation.Engine, p *panel.Panel, sensor Locator, net Network) (*Conductor, error) {
	if err := cfg.Grid.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Style {
	case "":
		cfg.Style = StyleCircles
	case StyleCircles, StyleRipple:
	default:
		return nil, fmt.Errorf("app: unknown animation style %q", cfg.Style)
	}
	if cfg.Style == StyleCircles && eng == nil {
		return nil, errors.New("app: circles style needs an animation engine")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 3 * time.Second
	}
	if cfg.PitchMM <= 0 {
		cfg.PitchMM = 10
	}
	if cfg.TrailWidth <= 0 {
		cfg.TrailWidth = animation.DefaultTrail
	}
	if cfg.MaxRadius <= 0 {
		cfg.MaxRadius = min(cfg.Grid.Width(), cfg.Grid.Height()) / 2
	}
	if cfg.Points <= 0 {
		cfg.Points = 6
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeMulti
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Conductor{
		cfg:    cfg,
		eng:    eng,
		panel:  p,
		sensor: sensor,
		net:    net,
		log:    l.With().Str("component", "conductor").Logger(),
		rng:    rng,
		mode:   cfg.Mode,
		wake:   make(chan struct{}, 1),
	}, nil
}

func (c *Conductor) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches between single and multi panel operation. The cycle in
// flight is cancelled and every panel is cleared. Leaving multi mode also
// tells slaves to animate on their own.
func (c *Conductor) SetMode(m Mode) error {
	if m != ModeSingle && m != ModeMulti {
		return fmt.Errorf("app: unknown mode %q", m)
	}
	c.mu.Lock()
	if c.mode == m {
		c.mu.Unlock()
		return nil
	}
	c.mode = m
	cancel := c.cancel
	c.mu.Unlock()

	c.log.Info().Str("mode", string(m)).Msg("mode switch")
	if cancel != nil {
		cancel()
	}
	n := c.net.Broadcast(wire.NewClear())
	c.log.Debug().Int("panels", n).Msg("clear broadcast")
	if m == ModeSingle {
		c.net.Broadcast(wire.NewMultiEnd())
	}
	if c.panel != nil {
		if err := c.panel.Clear(); err != nil {
			c.log.Warn().Err(err).Msg("clear")
		}
	}
	c.nudge()
	return nil
}

// HandleMessage takes unsolicited slave messages; sensor_data with a
// detection starts the next cycle at that point.
func (c *Conductor) HandleMessage(pos wire.Position, m wire.Message) {
	if m.Type != wire.SensorData {
		return
	}
	x, y, ok := m.XY()
	if !ok || x < 0 || y < 0 {
		return
	}
	c.log.Debug().Str("from", pos.String()).Int("x", x).Int("y", y).Msg("sensor trigger")
	c.mu.Lock()
	c.trigger = &m
	c.mu.Unlock()
	c.nudge()
}

func (c *Conductor) nudge() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conductor) takeTrigger() *trigger {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.trigger
	c.trigger = nil
	if m == nil {
		return nil
	}
	x, y, _ := m.XY()
	return &trigger{at: layout.Point{X: x, Y: y}, dataTotal: m.DataTotal}
}

// Run cycles until ctx is cancelled, then clears every panel.
func (c *Conductor) Run(ctx context.Context) error {
	defer func() {
		c.net.Broadcast(wire.NewClear())
		if c.panel != nil {
			_ = c.panel.Clear()
		}
	}()
	for ctx.Err() == nil {
		cctx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancel = cancel
		mode := c.mode
		c.mu.Unlock()

		var err error
		if mode == ModeSingle {
			err = c.singleCycle(cctx)
		} else {
			err = c.multiCycle(cctx, c.takeTrigger())
		}
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn().Err(err).Str("mode", string(mode)).Msg("cycle failed")
		}

		t := time.NewTimer(c.cfg.CyclePause)
		select {
		case <-ctx.Done():
		case <-c.wake:
		case <-t.C:
		}
		t.Stop()
	}
	return nil
}

func (c *Conductor) multiCycle(ctx context.Context, tr *trigger) error {
	var centers []layout.Point
	if tr != nil {
		centers = []layout.Point{tr.at}
	} else {
		master, found := c.locateSelf(ctx)
		slaves := c.pollSlaves(ctx)
		c.rngMu.Lock()
		centers = SelectCenters(c.cfg.Grid, master, found, slaves, c.rng, c.cfg.RandomWhenIdle)
		c.rngMu.Unlock()
	}
	if len(centers) == 0 {
		c.log.Debug().Msg("nothing sensed")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.cfg.Style == StyleRipple {
		radius := c.cfg.MaxRadius
		if tr != nil && tr.dataTotal != nil {
			radius = animation.RippleRadius(*tr.dataTotal, c.cfg.TrailWidth)
		}
		return c.ripple(ctx, centers[0], radius)
	}

	circles := make([]animation.Circle, len(centers))
	c.rngMu.Lock()
	for i, p := range centers {
		circles[i] = animation.Circle{Center: p, Color: led.Random(c.rng)}
	}
	c.rngMu.Unlock()
	c.log.Info().Interface("centers", centers).Msg("circles")
	return c.eng.Run(ctx, circles...)
}

// ripple sends the same ring sequence to every slave and plays it locally.
func (c *Conductor) ripple(ctx context.Context, at layout.Point, radius int) error {
	colors := make([]led.Color, radius)
	c.rngMu.Lock()
	for i := range colors {
		colors[i] = led.Random(c.rng)
	}
	c.rngMu.Unlock()
	n := c.net.Broadcast(wire.NewAnimate(at, colors, radius))
	c.log.Info().Int("x", at.X).Int("y", at.Y).Int("radius", radius).Int("slaves", n).Msg("ripple")
	if c.panel == nil {
		return nil
	}
	r := animation.Ripple{Center: at, Colors: colors, MaxRadius: radius, Trail: c.cfg.TrailWidth, Tick: c.cfg.RippleTick}
	err := r.Run(ctx, observed{c.panel, c.cfg.Observer}, rasterBounds(c.cfg.Grid))
	if errors.Is(err, context.Canceled) {
		c.net.Broadcast(wire.NewClear())
	}
	return err
}

func (c *Conductor) singleCycle(ctx context.Context) error {
	if c.panel == nil {
		return nil
	}
	size := c.cfg.Grid.PanelSize
	target, found := c.locateLocal(ctx)
	c.rngMu.Lock()
	if !found {
		target = layout.Point{X: c.rng.Intn(size), Y: c.rng.Intn(size)}
	}
	sparks := animation.RandomSparks(c.rng, c.cfg.Points, size)
	c.rngMu.Unlock()
	canvas := localCanvas{p: c.panel, obs: c.cfg.Observer}
	return animation.Converge(ctx, canvas, target, sparks, c.cfg.ConvergeTick)
}

func (c *Conductor) locateLocal(ctx context.Context) (layout.Point, bool) {
	if c.sensor == nil {
		return layout.Point{}, false
	}
	v, err := c.sensor.Locate(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("locate")
		return layout.Point{}, false
	}
	if !locate.Found(v) {
		return layout.Point{}, false
	}
	p := locate.ToPixel(v, c.cfg.PitchMM)
	size := c.cfg.Grid.PanelSize
	p.X = min(max(p.X, 0), size-1)
	p.Y = min(max(p.Y, 0), size-1)
	return p, true
}

// locateSelf returns the master's detection in canvas coordinates.
func (c *Conductor) locateSelf(ctx context.Context) (layout.Point, bool) {
	p, ok := c.locateLocal(ctx)
	if !ok || c.panel == nil {
		return p, ok
	}
	return c.cfg.Grid.ToGlobal(c.panel.ID(), p), true
}

// pollSlaves asks every registered slave for a detection at once and keeps the hits.
func (c *Conductor) pollSlaves(ctx context.Context) []layout.Point {
	positions := c.net.Positions()
	var (
		mu  sync.Mutex
		out []layout.Point
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, pos := range positions {
		pos := pos
		g.Go(func() error {
			m, err := c.net.Request(gctx, pos, wire.NewRequestData(), c.cfg.RequestTimeout)
			if err != nil {
				c.log.Debug().Err(err).Str("slave", pos.String()).Msg("no sensor reply")
				return nil
			}
			x, y, ok := m.XY()
			if !ok || x < 0 || y < 0 || !c.cfg.Grid.Contains(layout.Point{X: x, Y: y}) {
				return nil
			}
			mu.Lock()
			out = append(out, layout.Point{X: x, Y: y})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// SelectCenters picks the circle centers for one cycle. Slave detections are
// ordered by distance from the canvas origin.
func SelectCenters(g layout.Grid, master layout.Point, masterFound bool, slaves []layout.Point, rng *rand.Rand, randomWhenIdle bool) []layout.Point {
	slaves = append([]layout.Point(nil), slaves...)
	sort.SliceStable(slaves, func(i, j int) bool {
		di := slaves[i].X*slaves[i].X + slaves[i].Y*slaves[i].Y
		dj := slaves[j].X*slaves[j].X + slaves[j].Y*slaves[j].Y
		if di != dj {
			return di < dj
		}
		if slaves[i].Y != slaves[j].Y {
			return slaves[i].Y < slaves[j].Y
		}
		return slaves[i].X < slaves[j].X
	})
	random := func() layout.Point {
		return layout.Point{X: rng.Intn(g.Width()), Y: rng.Intn(g.Height())}
	}
	switch {
	case masterFound && len(slaves) > 0:
		return []layout.Point{master, slaves[0]}
	case masterFound:
		return []layout.Point{master, {X: master.X + 10, Y: master.Y + 10}}
	case len(slaves) >= 2:
		return []layout.Point{slaves[0], slaves[len(slaves)-1]}
	case len(slaves) == 1:
		return []layout.Point{slaves[0], random()}
	case randomWhenIdle:
		return []layout.Point{random(), random()}
	}
	return nil
}
