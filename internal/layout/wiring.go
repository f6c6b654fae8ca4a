package layout

import "fmt"

// RowParity selects which strip rows run backwards.
type RowParity string

const (
	ReverseOdd  RowParity = "odd"
	ReverseEven RowParity = "even"
	ReverseNone RowParity = "none"
)

// Wiring describes how one panel's strip snakes through its pixels.
type Wiring struct {
	Reverse     RowParity `yaml:"reverse"`
	ColumnMajor bool      `yaml:"column_major"`
}

// DefaultWiring is row-major with odd rows reversed.
var DefaultWiring = Wiring{Reverse: ReverseOdd}

func (w Wiring) Validate() error {
	switch w.Reverse {
	case ReverseOdd, ReverseEven, ReverseNone, "":
		return nil
	}
	return fmt.Errorf("layout: unknown row parity %q", w.Reverse)
}

func (w Wiring) reversed(line int) bool {
	switch w.Reverse {
	case ReverseEven:
		return line%2 == 0
	case ReverseNone:
		return false
	default:
		return line%2 == 1
	}
}

// StripIndex maps a panel-local x,y to the physical LED index (0..size*size-1).
func StripIndex(x, y, size int, w Wiring) int {
	line, pos := y, x
	if w.ColumnMajor {
		line, pos = x, y
	}
	if w.reversed(line) {
		pos = size - 1 - pos
	}
	return line*size + pos
}

// Layout binds a grid to its per-panel wiring.
type Layout struct {
	Grid
	Default   Wiring
	Overrides map[PanelID]Wiring
}

func New(g Grid, def Wiring) Layout {
	return Layout{Grid: g, Default: def, Overrides: map[PanelID]Wiring{}}
}

func (l Layout) Wiring(id PanelID) Wiring {
	if w, ok := l.Overrides[id]; ok {
		return w
	}
	return l.Default
}

// Index maps a global pixel to its panel and strip index on that panel.
func (l Layout) Index(gx, gy int) (PanelID, int, error) {
	id, p, err := l.Resolve(gx, gy)
	if err != nil {
		return PanelID{}, 0, err
	}
	return id, StripIndex(p.X, p.Y, l.PanelSize, l.Wiring(id)), nil
}
