package slave

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/coreman2200/ledgrid/internal/animation"
	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
	"github.com/coreman2200/ledgrid/internal/wire"
)

// task is a background animation the render worker can cancel.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) stop() {
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

func (a *Agent) spawn(ctx context.Context, name string, fn func(context.Context) error) *task {
	ctx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		err := fn(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn().Err(err).Msg(name)
		}
	}()
	return t
}

func (a *Agent) startWorker(ctx context.Context) {
	a.workerOnce.Do(func() { go a.render(ctx) })
}

// render applies queued commands to the strip. A newer animate or a clear
// cancels the ripple in flight. multiend hands the panel to the autonomous
// loop until the master draws again.
func (a *Agent) render(ctx context.Context) {
	var cur, auto *task
	defer func() {
		cur.stop()
		auto.stop()
	}()
	for {
		var m wire.Message
		select {
		case <-ctx.Done():
			return
		case m = <-a.queue:
		}
		if m.Type != wire.MultiEnd && auto != nil {
			auto.stop()
			auto = nil
			a.log.Info().Msg("master resumed multi panel mode")
		}
		switch m.Type {
		case wire.Draw:
			if _, err := a.panel.DrawGlobal(m.Points(), m.RGB()); err != nil {
				a.log.Warn().Err(err).Msg("draw")
			}
		case wire.Clear:
			cur.stop()
			cur = nil
			if err := a.panel.Clear(); err != nil {
				a.log.Warn().Err(err).Msg("clear")
			}
		case wire.Animate:
			cur.stop()
			cur = a.startRipple(ctx, m)
		case wire.MultiEnd:
			cur.stop()
			cur = nil
			if auto == nil {
				a.log.Info().Msg("master left multi panel mode, running autonomously")
				auto = a.spawn(ctx, "autonomous cycle", a.autonomousLoop)
			}
		}
	}
}

func (a *Agent) autonomousLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := a.autonomousCycle(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn().Err(err).Msg("autonomous cycle")
		}
	}
	return ctx.Err()
}

func (a *Agent) startRipple(ctx context.Context, m wire.Message) *task {
	x, y, _ := m.XY()
	rp := animation.Ripple{
		Center:    layout.Point{X: x, Y: y},
		Colors:    m.Palette(),
		MaxRadius: m.MaxRadius,
		Trail:     a.cfg.Trail,
		Tick:      a.cfg.RippleTick,
	}
	if rp.MaxRadius <= 0 {
		if m.DataTotal != nil {
			rp.MaxRadius = animation.RippleRadius(*m.DataTotal, rp.Trail)
		} else {
			rp.MaxRadius = a.panel.Grid().PanelSize
		}
	}
	if len(rp.Colors) == 0 {
		rp.Colors = []led.Color{a.randomColor()}
	}
	return a.spawn(ctx, "ripple", func(ctx context.Context) error {
		return rp.Run(ctx, a.panel, a.bounds())
	})
}

// ServeDraw accepts framed commands from any sender on addr until ctx ends.
func (a *Agent) ServeDraw(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is ServeDraw on an existing listener.
func (a *Agent) Serve(ctx context.Context, ln net.Listener) error {
	a.startWorker(ctx)
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	a.log.Info().Str("addr", ln.Addr().String()).Msg("draw port listening")

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.handleDraw(ctx, conn)
		}()
	}
}

func (a *Agent) handleDraw(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	l := a.log.With().Str("peer", conn.RemoteAddr().String()).Logger()
	p := &peer{conn: conn, enc: wire.NewEncoder(conn), timeout: a.cfg.WriteTimeout}
	if err := a.readLoop(ctx, conn, p, l); err != nil && !errors.Is(err, errMasterGone) && ctx.Err() == nil {
		l.Debug().Err(err).Msg("draw connection closed")
	}
}
