// Package panel owns one physical LED panel: its place on the canvas, its wiring and its strip.
package panel

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
)

// Panel serializes every write to its strip so frames are never torn.
type Panel struct {
	mu     sync.Mutex
	id     layout.PanelID
	grid   layout.Grid
	wiring layout.Wiring
	strip  led.Strip
	log    zerolog.Logger
}

func New(l layout.Layout, id layout.PanelID, strip led.Strip, log zerolog.Logger) (*Panel, error) {
	if !l.HasPanel(id) {
		return nil, fmt.Errorf("panel: %s not on %dx%d grid", id, l.Rows, l.Cols)
	}
	if n := strip.NumPixels(); n != l.PanelCount() {
		return nil, fmt.Errorf("panel: strip has %d pixels, panel needs %d", n, l.PanelCount())
	}
	return &Panel{
		id:     id,
		grid:   l.Grid,
		wiring: l.Wiring(id),
		strip:  strip,
		log:    log.With().Str("panel", id.String()).Logger(),
	}, nil
}

func (p *Panel) ID() layout.PanelID { return p.id }

func (p *Panel) Grid() layout.Grid { return p.grid }

func (p *Panel) Origin() layout.Point { return p.grid.Origin(p.id) }

func (p *Panel) Wiring() layout.Wiring { return p.wiring }

func (p *Panel) Owns(g layout.Point) bool {
	id, _, err := p.grid.Resolve(g.X, g.Y)
	return err == nil && id == p.id
}

// DrawGlobal paints the given canvas pixels and shows the frame.
// Pixels owned by other panels are dropped; the number drawn is returned.
func (p *Panel) DrawGlobal(pts []layout.Point, c led.Color) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, g := range pts {
		id, local, err := p.grid.Resolve(g.X, g.Y)
		if err != nil || id != p.id {
			continue
		}
		if err := p.set(local, c); err != nil {
			return n, err
		}
		n++
	}
	if dropped := len(pts) - n; dropped > 0 {
		p.log.Debug().Int("dropped", dropped).Msg("foreign pixels ignored")
	}
	return n, p.show()
}

// DrawLocal paints panel-local pixels and shows the frame.
func (p *Panel) DrawLocal(pts []layout.Point, c led.Color) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range pts {
		if l.X < 0 || l.Y < 0 || l.X >= p.grid.PanelSize || l.Y >= p.grid.PanelSize {
			continue
		}
		if err := p.set(l, c); err != nil {
			return err
		}
	}
	return p.show()
}

// Apply writes a set of local pixels with individual colors as one frame.
func (p *Panel) Apply(px map[layout.Point]led.Color) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for l, c := range px {
		if l.X < 0 || l.Y < 0 || l.X >= p.grid.PanelSize || l.Y >= p.grid.PanelSize {
			continue
		}
		if err := p.set(l, c); err != nil {
			return err
		}
	}
	return p.show()
}

func (p *Panel) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.strip.Clear(); err != nil {
		return fmt.Errorf("panel %s: clear: %w", p.id, err)
	}
	return nil
}

func (p *Panel) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.strip.Close()
}

// frame blanks the buffer, lets fn paint it and shows the result once.
func (p *Panel) frame(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.strip.NumPixels(); i++ {
		if err := p.strip.SetPixelColor(i, led.Black); err != nil {
			return fmt.Errorf("panel %s: %w", p.id, err)
		}
	}
	if err := fn(); err != nil {
		return err
	}
	return p.show()
}

func (p *Panel) set(local layout.Point, c led.Color) error {
	idx := layout.StripIndex(local.X, local.Y, p.grid.PanelSize, p.wiring)
	if err := p.strip.SetPixelColor(idx, c); err != nil {
		return fmt.Errorf("panel %s: %w", p.id, err)
	}
	return nil
}

func (p *Panel) show() error {
	if err := p.strip.Show(); err != nil {
		return fmt.Errorf("panel %s: show: %w", p.id, err)
	}
	return nil
}
