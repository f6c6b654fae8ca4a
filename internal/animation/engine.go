// Package animation drives expanding circles across the canvas, detects where
// they meet and clears them again from the center out.
package animation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
	"github.com/coreman2200/ledgrid/internal/raster"
	"github.com/coreman2200/ledgrid/internal/transport"
	"github.com/coreman2200/ledgrid/internal/wire"
)

type State int

const (
	Idle State = iota
	Expanding
	Collided
	Exhausted
	Clearing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Expanding:
		return "expanding"
	case Collided:
		return "collided"
	case Exhausted:
		return "exhausted"
	case Clearing:
		return "clearing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrBusy = errors.New("animation: engine busy")

// Surface is the panel attached to this process.
type Surface interface {
	ID() layout.PanelID
	DrawGlobal(pts []layout.Point, c led.Color) (int, error)
}

// Dispatcher delivers draw commands to remote panels.
type Dispatcher interface {
	SendToPosition(pos wire.Position, m wire.Message) error
}

// Observer sees every paint call in global coordinates.
type Observer func(pts []layout.Point, c led.Color)

type Config struct {
	Grid       layout.Grid
	MaxRadius  int
	ClearBatch int
	Tick       time.Duration
	Local      Surface
	Remote     Dispatcher
	Observer   Observer
	Logger     *zerolog.Logger
}

type Engine struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	state     State
	circles   []Circle
	radius    int
	owner     map[layout.Point]int
	clearQ    []layout.Point
	collision raster.Set
	strokes   []stroke

	// sendMu keeps strokes in order once mu is released for I/O.
	sendMu sync.Mutex
}

type stroke struct {
	pts []layout.Point
	c   led.Color
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Grid.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxRadius <= 0 {
		return nil, fmt.Errorf("animation: max radius must be positive, got %d", cfg.MaxRadius)
	}
	if cfg.ClearBatch <= 0 {
		cfg.ClearBatch = 1
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Engine{cfg: cfg, log: l.With().Str("component", "animation").Logger()}, nil
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Collisions returns the collision set that ended the last expansion.
func (e *Engine) Collisions() raster.Set {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := raster.Set{}
	for p := range e.collision {
		out.Add(p)
	}
	return out
}

// Start arms a new sequence. With no circles the engine stays idle.
func (e *Engine) Start(circles ...Circle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Idle {
		return fmt.Errorf("%w: %s", ErrBusy, e.state)
	}
	if len(circles) == 0 {
		return nil
	}
	e.reset()
	e.circles = append([]Circle(nil), circles...)
	e.state = Expanding
	e.log.Debug().Int("circles", len(circles)).Msg("expansion started")
	return nil
}

// Tick advances the state machine by one step and returns the new state.
func (e *Engine) Tick() State {
	e.mu.Lock()
	switch e.state {
	case Expanding:
		e.expand()
	case Collided, Exhausted:
		e.queueClear()
		e.state = Clearing
	case Clearing:
		n := min(e.cfg.ClearBatch, len(e.clearQ))
		batch := e.clearQ[:n]
		e.clearQ = e.clearQ[n:]
		if n > 0 {
			e.paint(batch, led.Black)
		}
		if len(e.clearQ) == 0 {
			e.state = Idle
			e.circles = nil
		}
	}
	st := e.state
	e.commit()
	return st
}

func (e *Engine) expand() {
	f := Compose(e.circles, e.radius, e.bounds())
	for _, g := range f.Groups() {
		e.paint(g.Points, g.Color)
	}
	for p, i := range f.Owner {
		if _, ok := e.owner[p]; !ok {
			e.owner[p] = i
		}
	}
	if len(f.Collisions) > 0 {
		e.collision = f.Collisions
		e.state = Collided
		e.log.Debug().Int("radius", e.radius).Int("pixels", len(f.Collisions)).Msg("circles collided")
		return
	}
	e.radius++
	if e.radius >= e.cfg.MaxRadius {
		e.state = Exhausted
		e.log.Debug().Int("radius", e.radius).Msg("expansion exhausted")
	}
}

// queueClear orders drawn pixels by distance from the center of the circle that drew them.
func (e *Engine) queueClear() {
	q := make([]layout.Point, 0, len(e.owner))
	for p := range e.owner {
		q = append(q, p)
	}
	dist := func(p layout.Point) int {
		c := e.circles[e.owner[p]].Center
		dx, dy := p.X-c.X, p.Y-c.Y
		return dx*dx + dy*dy
	}
	sort.Slice(q, func(i, j int) bool {
		di, dj := dist(q[i]), dist(q[j])
		if di != dj {
			return di < dj
		}
		if q[i].Y != q[j].Y {
			return q[i].Y < q[j].Y
		}
		return q[i].X < q[j].X
	})
	e.clearQ = q
}

// Run drives a full sequence to idle. Cancelling ctx blanks whatever was drawn.
func (e *Engine) Run(ctx context.Context, circles ...Circle) error {
	if err := e.Start(circles...); err != nil {
		return err
	}
	t := time.NewTicker(e.cfg.Tick)
	defer t.Stop()
	for e.Tick() != Idle {
		select {
		case <-ctx.Done():
			e.Abort()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Abort blanks every pixel drawn by the current sequence and returns to idle.
func (e *Engine) Abort() {
	e.mu.Lock()
	if e.state == Idle {
		e.mu.Unlock()
		return
	}
	pts := make([]layout.Point, 0, len(e.owner))
	for p := range e.owner {
		pts = append(pts, p)
	}
	raster.SortPoints(pts)
	if len(pts) > 0 {
		e.paint(pts, led.Black)
	}
	e.log.Info().Str("state", e.state.String()).Msg("animation aborted")
	e.reset()
	e.commit()
}

func (e *Engine) reset() {
	e.state = Idle
	e.circles = nil
	e.radius = 0
	e.owner = map[layout.Point]int{}
	e.clearQ = nil
	e.collision = raster.Set{}
}

func (e *Engine) bounds() raster.Bounds {
	return raster.Bounds{W: e.cfg.Grid.Width(), H: e.cfg.Grid.Height()}
}

// paint queues a stroke; commit draws it after mu is released.
func (e *Engine) paint(pts []layout.Point, c led.Color) {
	e.strokes = append(e.strokes, stroke{pts: pts, c: c})
}

// commit takes the queued strokes and unlocks mu before drawing them, so a
// slow panel never blocks State or Abort. Called with mu held.
func (e *Engine) commit() {
	strokes := e.strokes
	e.strokes = nil
	e.sendMu.Lock()
	e.mu.Unlock()
	defer e.sendMu.Unlock()
	for _, s := range strokes {
		e.draw(s.pts, s.c)
	}
}

// draw splits pts by panel: the local panel draws directly, every other panel
// gets one draw command with the global coordinates.
func (e *Engine) draw(pts []layout.Point, c led.Color) {
	if e.cfg.Observer != nil {
		e.cfg.Observer(pts, c)
	}
	parts := e.cfg.Grid.Partition(pts)
	for _, id := range e.cfg.Grid.Panels() {
		part := parts[id]
		if len(part) == 0 {
			continue
		}
		if e.cfg.Local != nil && e.cfg.Local.ID() == id {
			if _, err := e.cfg.Local.DrawGlobal(part, c); err != nil {
				e.log.Warn().Err(err).Msg("local draw")
			}
			continue
		}
		if e.cfg.Remote == nil {
			continue
		}
		if err := e.cfg.Remote.SendToPosition(wire.PositionOf(id), wire.NewDraw(part, c)); err != nil {
			lvl := zerolog.WarnLevel
			if errors.Is(err, transport.ErrNoClient) {
				lvl = zerolog.DebugLevel
			}
			e.log.WithLevel(lvl).Err(err).Str("panel", id.String()).Msg("remote draw")
		}
	}
}
