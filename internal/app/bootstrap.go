// Package app wires configuration into running master and slave processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coreman2200/ledgrid/internal/animation"
	"github.com/coreman2200/ledgrid/internal/config"
	"github.com/coreman2200/ledgrid/internal/led"
	"github.com/coreman2200/ledgrid/internal/locate"
	"github.com/coreman2200/ledgrid/internal/monitor"
	"github.com/coreman2200/ledgrid/internal/panel"
	"github.com/coreman2200/ledgrid/internal/slave"
	"github.com/coreman2200/ledgrid/internal/transport"
	"github.com/coreman2200/ledgrid/internal/wire"
)

// Hardware is the panel this process drives plus its optional sensor.
type Hardware struct {
	Strip   *led.Buffer
	Panel   *panel.Panel
	Locator *locate.Locator
	closers []func() error
}

func (h *Hardware) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenHardware opens the strip and, when enabled, the servo and rangefinder.
func OpenHardware(cfg *config.Config, log zerolog.Logger) (*Hardware, error) {
	l := cfg.Layout()
	strip, err := led.Open(led.Options{
		Driver:     cfg.LED.Driver,
		Port:       cfg.LED.SPIPort,
		FreqKHz:    cfg.LED.FreqKHz,
		Brightness: cfg.LED.Brightness,
		BudgetMA:   cfg.LED.BudgetMA,
		NumPixels:  l.PanelCount(),
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	p, err := panel.New(l, cfg.PanelID(), strip, log)
	if err != nil {
		_ = strip.Close()
		return nil, err
	}
	hw := &Hardware{Strip: strip, Panel: p, closers: []func() error{p.Close}}
	if !cfg.Sensor.Enabled {
		return hw, nil
	}

	servo, err := locate.OpenPWMServo(cfg.Sensor.ServoPin)
	if err != nil {
		_ = hw.Close()
		return nil, err
	}
	hw.closers = append(hw.closers, servo.Halt)
	ranger, err := locate.OpenRangefinder(cfg.Sensor.SerialPort, cfg.Sensor.Baud)
	if err != nil {
		_ = hw.Close()
		return nil, err
	}
	hw.closers = append(hw.closers, ranger.Close)
	hw.Locator, err = locate.NewLocator(locate.Config{
		Geometry: cfg.Sensor.Geometry,
		Settle:   cfg.Sensor.Settle,
		Home:     500 * time.Millisecond,
		Logger:   &log,
	}, servo, ranger)
	if err != nil {
		_ = hw.Close()
		return nil, err
	}
	return hw, nil
}

// Master is the control server, conductor and monitor of one grid.
type Master struct {
	cfg       *config.Config
	hw        *Hardware
	Server    *transport.Server
	Engine    *animation.Engine
	Conductor *Conductor
	Monitor   *monitor.State
}

func InitMaster(cfg *config.Config, hw *Hardware, log zerolog.Logger) (*Master, error) {
	m := &Master{cfg: cfg, hw: hw}
	g := cfg.LayoutGrid()

	// the monitor and server call back into the conductor built below
	var cond *Conductor
	m.Monitor = monitor.NewState(monitor.Config{
		Grid:      g,
		Mode:      func() string { return string(cond.Mode()) },
		SetMode:   func(s string) error { return cond.SetMode(Mode(s)) },
		Positions: func() []wire.Position { return m.Server.Positions() },
		Logger:    &log,
	})
	m.Server = transport.New(transport.Config{
		Addr:         cfg.ControlAddr(),
		WriteTimeout: cfg.Network.WriteTimeout,
		Logger:       &log,
		OnMessage:    func(pos wire.Position, msg wire.Message) { cond.HandleMessage(pos, msg) },
		OnEvent:      m.Monitor.OnTransportEvent,
	})

	eng, err := animation.NewEngine(animation.Config{
		Grid:       g,
		MaxRadius:  cfg.MaxRadius(),
		ClearBatch: cfg.Animation.ClearBatch,
		Tick:       cfg.Animation.Tick,
		Local:      hw.Panel,
		Remote:     m.Server,
		Observer:   m.Monitor.Paint,
		Logger:     &log,
	})
	if err != nil {
		return nil, err
	}
	m.Engine = eng

	var sensor Locator
	if hw.Locator != nil {
		sensor = hw.Locator
	}
	cond, err = NewConductor(ConductorConfig{
		Grid:           g,
		Style:          cfg.Animation.Style,
		PitchMM:        cfg.Sensor.PitchMM,
		RequestTimeout: cfg.Network.RequestTimeout,
		CyclePause:     cfg.Animation.CyclePause,
		MaxRadius:      cfg.MaxRadius(),
		TrailWidth:     cfg.Animation.TrailWidth,
		RippleTick:     cfg.Animation.Tick,
		RandomWhenIdle: cfg.Animation.RandomWhenIdle,
		Points:         cfg.Autonomous.Points,
		ConvergeTick:   cfg.Autonomous.Tick,
		Observer:       m.Monitor.Paint,
		Logger:         &log,
	}, eng, hw.Panel, sensor, m.Server)
	if err != nil {
		return nil, err
	}
	m.Conductor = cond
	return m, nil
}

// Run serves panels, cycles animations and the monitor until ctx ends.
func (m *Master) Run(ctx context.Context) error {
	if err := m.Server.Listen(); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Server.Serve(ctx) })
	g.Go(func() error { return m.Conductor.Run(ctx) })
	if addr := m.cfg.Network.MonitorAddr; addr != "" {
		g.Go(func() error { return m.Monitor.Serve(ctx, addr) })
	}
	err := g.Wait()
	if serr := m.Server.Shutdown(); serr != nil && err == nil {
		err = fmt.Errorf("app: shutdown: %w", serr)
	}
	return err
}

// InitSlave builds the agent for a slave panel.
func InitSlave(cfg *config.Config, hw *Hardware, log zerolog.Logger) *slave.Agent {
	var sensor slave.Sensor
	if hw.Locator != nil {
		sensor = hw.Locator
	}
	return slave.NewAgent(slave.Config{
		MasterAddr:   cfg.MasterAddr(),
		DrawAddr:     cfg.DrawAddr(),
		Attempts:     cfg.Network.RetryAttempts,
		RetryDelay:   cfg.Network.RetryDelay,
		WriteTimeout: cfg.Network.WriteTimeout,
		PitchMM:      cfg.Sensor.PitchMM,
		SensePeriod:  cfg.Sensor.PushPeriod,
		RippleTick:   cfg.Animation.Tick,
		Trail:        cfg.Animation.TrailWidth,
		Autonomous: slave.Autonomous{
			Enabled: true,
			Points:  cfg.Autonomous.Points,
			Tick:    cfg.Autonomous.Tick,
			Pause:   cfg.Autonomous.Pause,
		},
		Logger: &log,
	}, hw.Panel, sensor)
}
