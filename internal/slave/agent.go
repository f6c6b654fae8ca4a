// Package slave runs one panel: it keeps a connection to the master, renders
// the commands it receives and answers sensor requests.
package slave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coreman2200/ledgrid/internal/animation"
	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
	"github.com/coreman2200/ledgrid/internal/locate"
	"github.com/coreman2200/ledgrid/internal/panel"
	"github.com/coreman2200/ledgrid/internal/raster"
	"github.com/coreman2200/ledgrid/internal/wire"
)

// ErrMasterUnreachable is returned when every connection attempt failed.
var ErrMasterUnreachable = errors.New("slave: master unreachable")

var errMasterGone = errors.New("slave: master closed the connection")

// Sensor estimates where an object sits on this panel, in millimetres.
type Sensor interface {
	Locate(ctx context.Context) (r2.Vec, error)
}

type Autonomous struct {
	Enabled bool
	Points  int
	Tick    time.Duration
	Pause   time.Duration
}

type Config struct {
	// MasterAddr is host:port of the master control port; empty runs without a master.
	MasterAddr string
	// DrawAddr is the local listener for draw commands; empty disables it.
	DrawAddr     string
	ClientID     string
	Attempts     int
	RetryDelay   time.Duration
	WriteTimeout time.Duration
	QueueSize    int
	PitchMM      float64
	// SensePeriod, when set, pushes unsolicited sensor_data to the master.
	SensePeriod time.Duration
	RippleTick  time.Duration
	Trail       int
	Autonomous  Autonomous
	Dial        func(ctx context.Context, network, addr string) (net.Conn, error)
	Logger      *zerolog.Logger
}

type Agent struct {
	cfg    Config
	panel  *panel.Panel
	sensor Sensor
	log    zerolog.Logger
	queue  chan wire.Message

	workerOnce sync.Once
	senseMu    sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	master *peer
}

// NewAgent wires an agent to its panel. sensor may be nil when the panel has none.
func NewAgent(cfg Config, p *panel.Panel, sensor Sensor) *Agent {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.PitchMM <= 0 {
		cfg.PitchMM = 10
	}
	if cfg.Trail <= 0 {
		cfg.Trail = animation.DefaultTrail
	}
	if cfg.Autonomous.Points <= 0 {
		cfg.Autonomous.Points = 6
	}
	if cfg.ClientID == "" {
		host, _ := os.Hostname()
		cfg.ClientID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if cfg.Dial == nil {
		var d net.Dialer
		cfg.Dial = d.DialContext
	}
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Agent{
		cfg:    cfg,
		panel:  p,
		sensor: sensor,
		log:    l.With().Str("component", "slave").Str("panel", p.ID().String()).Logger(),
		queue:  make(chan wire.Message, cfg.QueueSize),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run drives the panel until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startWorker(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	if a.cfg.DrawAddr != "" {
		g.Go(func() error { return a.ServeDraw(ctx, a.cfg.DrawAddr) })
	}
	if a.cfg.MasterAddr != "" {
		g.Go(func() error { return a.runMaster(ctx) })
	} else if a.cfg.Autonomous.Enabled {
		g.Go(func() error {
			_ = a.autonomousLoop(ctx)
			return nil
		})
	}
	if a.cfg.SensePeriod > 0 && a.sensor != nil {
		g.Go(func() error { return a.senseLoop(ctx) })
	}
	err := g.Wait()
	if cerr := a.panel.Clear(); cerr != nil {
		a.log.Warn().Err(cerr).Msg("final clear")
	}
	return err
}

func (a *Agent) runMaster(ctx context.Context) error {
	for ctx.Err() == nil {
		err := a.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrMasterUnreachable) && a.cfg.Autonomous.Enabled {
			a.log.Warn().Err(err).Msg("running autonomously")
			if err := a.autonomousCycle(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn().Err(err).Msg("autonomous cycle")
			}
			continue
		}
		a.log.Warn().Err(err).Dur("retry_in", a.cfg.RetryDelay).Msg("master link down")
		if sleep(ctx, a.cfg.RetryDelay) != nil {
			return nil
		}
	}
	return nil
}

func (a *Agent) connect(ctx context.Context) (net.Conn, error) {
	var last error
	for i := 1; i <= a.cfg.Attempts; i++ {
		conn, err := a.cfg.Dial(ctx, "tcp", a.cfg.MasterAddr)
		if err == nil {
			return conn, nil
		}
		last = err
		a.log.Debug().Err(err).Int("attempt", i).Str("master", a.cfg.MasterAddr).Msg("dial failed")
		if i < a.cfg.Attempts {
			if err := sleep(ctx, a.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrMasterUnreachable, a.cfg.Attempts, last)
}

// session holds one master connection until it drops.
func (a *Agent) session(ctx context.Context) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	p := &peer{conn: conn, enc: wire.NewEncoder(conn), timeout: a.cfg.WriteTimeout}
	if err := p.send(wire.NewInit(wire.PositionOf(a.panel.ID()), a.cfg.ClientID)); err != nil {
		return fmt.Errorf("slave: init: %w", err)
	}
	a.log.Info().Str("master", a.cfg.MasterAddr).Str("client_id", a.cfg.ClientID).Msg("registered with master")
	a.setMaster(p)
	defer a.setMaster(nil)

	return a.readLoop(ctx, conn, p, a.log.With().Str("peer", "master").Logger())
}

func (a *Agent) readLoop(ctx context.Context, r io.Reader, p *peer, l zerolog.Logger) error {
	dec := wire.NewDecoder(r)
	dec.Malformed = func(frame []byte, err error) {
		l.Warn().Err(err).Int("bytes", len(frame)).Msg("discarding malformed frame")
	}
	for {
		m, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errMasterGone
			}
			return err
		}
		a.dispatch(ctx, m, p)
	}
}

func (a *Agent) dispatch(ctx context.Context, m wire.Message, p *peer) {
	switch m.Type {
	case wire.Draw, wire.Clear, wire.Animate, wire.MultiEnd:
		a.enqueue(m)
	case wire.RequestData, wire.SensorData:
		go a.answer(ctx, p)
	default:
		a.log.Debug().Str("type", string(m.Type)).Msg("ignoring message")
	}
}

// enqueue never blocks the read loop; a full queue drops the command.
func (a *Agent) enqueue(m wire.Message) bool {
	select {
	case a.queue <- m:
		return true
	default:
		a.log.Warn().Str("type", string(m.Type)).Msg("render queue full, dropping")
		return false
	}
}

func (a *Agent) answer(ctx context.Context, p *peer) {
	g := a.sense(ctx)
	if err := p.send(wire.NewSensorData(g.X, g.Y)); err != nil {
		a.log.Warn().Err(err).Msg("sensor reply")
	}
}

// sense locates an object and returns it in canvas pixels, or (-1,-1).
func (a *Agent) sense(ctx context.Context) layout.Point {
	local, ok := a.senseLocal(ctx)
	if !ok {
		return local
	}
	return a.panel.Grid().ToGlobal(a.panel.ID(), local)
}

func (a *Agent) senseLocal(ctx context.Context) (layout.Point, bool) {
	none := layout.Point{X: -1, Y: -1}
	if a.sensor == nil {
		return none, false
	}
	a.senseMu.Lock()
	v, err := a.sensor.Locate(ctx)
	a.senseMu.Unlock()
	if err != nil {
		a.log.Warn().Err(err).Msg("locate")
		return none, false
	}
	if !locate.Found(v) {
		return none, false
	}
	p := locate.ToPixel(v, a.cfg.PitchMM)
	size := a.panel.Grid().PanelSize
	p.X = min(max(p.X, 0), size-1)
	p.Y = min(max(p.Y, 0), size-1)
	return p, true
}

func (a *Agent) senseLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.SensePeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		p := a.currentMaster()
		if p == nil {
			continue
		}
		g := a.sense(ctx)
		if g.X < 0 {
			continue
		}
		if err := p.send(wire.NewSensorData(g.X, g.Y)); err != nil {
			a.log.Warn().Err(err).Msg("push sensor data")
		}
	}
}

func (a *Agent) setMaster(p *peer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.master = p
}

func (a *Agent) currentMaster() *peer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.master
}

// Connected reports whether the agent is registered with a master.
func (a *Agent) Connected() bool { return a.currentMaster() != nil }

func (a *Agent) randomColor() led.Color {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return led.Random(a.rng)
}

func (a *Agent) bounds() raster.Bounds {
	g := a.panel.Grid()
	return raster.Bounds{W: g.Width(), H: g.Height()}
}

type peer struct {
	conn    net.Conn
	enc     *wire.Encoder
	timeout time.Duration
}

func (p *peer) send(m wire.Message) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
	return p.enc.Encode(m)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
