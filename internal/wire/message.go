// Package wire defines the newline-delimited JSON messages exchanged between master and panels.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
)

type Type string

const (
	Init        Type = "init"
	SensorData  Type = "sensor_data"
	RequestData Type = "request_data"
	Draw        Type = "draw"
	Clear       Type = "clear"
	Animate     Type = "animate"
	// MultiEnd tells slaves the master left multi panel mode.
	MultiEnd Type = "multiend"
)

// Position is a panel's (row, col) on the grid. "column" is accepted in place of "col".
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (p *Position) UnmarshalJSON(b []byte) error {
	var aux struct {
		Row    *int `json:"row"`
		Col    *int `json:"col"`
		Column *int `json:"column"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Row == nil {
		return fmt.Errorf("wire: position missing row")
	}
	switch {
	case aux.Col != nil:
		p.Col = *aux.Col
	case aux.Column != nil:
		p.Col = *aux.Column
	default:
		return fmt.Errorf("wire: position missing col")
	}
	p.Row = *aux.Row
	return nil
}

func (p Position) PanelID() layout.PanelID { return layout.PanelID{Row: p.Row, Col: p.Col} }

func PositionOf(id layout.PanelID) Position { return Position{Row: id.Row, Col: id.Col} }

func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.Row, p.Col) }

// Message is one frame on the wire. Coordinates are always global canvas pixels.
type Message struct {
	Type        Type       `json:"type"`
	ClientID    string     `json:"client_id,omitempty"`
	Position    *Position  `json:"position,omitempty"`
	Coordinates [][2]int   `json:"coordinates,omitempty"`
	Color       *[3]uint8  `json:"color,omitempty"`
	X           *int       `json:"x,omitempty"`
	Y           *int       `json:"y,omitempty"`
	DataTotal   *int       `json:"data_total,omitempty"`
	Colors      [][3]uint8 `json:"colors,omitempty"`
	MaxRadius   int        `json:"max_radius,omitempty"`
}

func NewInit(pos Position, clientID string) Message {
	return Message{Type: Init, ClientID: clientID, Position: &pos}
}

func NewRequestData() Message { return Message{Type: RequestData} }

func NewClear() Message { return Message{Type: Clear} }

func NewMultiEnd() Message { return Message{Type: MultiEnd} }

func NewSensorData(x, y int) Message {
	return Message{Type: SensorData, X: &x, Y: &y}
}

func NewDraw(pts []layout.Point, c led.Color) Message {
	coords := make([][2]int, len(pts))
	for i, p := range pts {
		coords[i] = [2]int{p.X, p.Y}
	}
	rgb := c.Array()
	return Message{Type: Draw, Coordinates: coords, Color: &rgb}
}

func NewAnimate(center layout.Point, colors []led.Color, maxRadius int) Message {
	x, y := center.X, center.Y
	cs := make([][3]uint8, len(colors))
	for i, c := range colors {
		cs[i] = c.Array()
	}
	return Message{Type: Animate, X: &x, Y: &y, Colors: cs, MaxRadius: maxRadius}
}

func (m Message) Points() []layout.Point {
	out := make([]layout.Point, len(m.Coordinates))
	for i, c := range m.Coordinates {
		out[i] = layout.Point{X: c[0], Y: c[1]}
	}
	return out
}

// RGB is the draw color; black when absent.
func (m Message) RGB() led.Color {
	if m.Color == nil {
		return led.Black
	}
	return led.FromArray(*m.Color)
}

func (m Message) Palette() []led.Color {
	out := make([]led.Color, len(m.Colors))
	for i, c := range m.Colors {
		out[i] = led.FromArray(c)
	}
	return out
}

// XY returns the carried coordinate, ok is false when either axis is missing.
func (m Message) XY() (x, y int, ok bool) {
	if m.X == nil || m.Y == nil {
		return 0, 0, false
	}
	return *m.X, *m.Y, true
}

func (m Message) Validate() error {
	switch m.Type {
	case Init:
		if m.Position == nil {
			return fmt.Errorf("wire: init without position")
		}
	case SensorData:
		if _, _, ok := m.XY(); !ok {
			return fmt.Errorf("wire: sensor_data without x/y")
		}
	case Draw:
		if m.Color == nil {
			return fmt.Errorf("wire: draw without color")
		}
	case Animate:
		if _, _, ok := m.XY(); !ok {
			return fmt.Errorf("wire: animate without center")
		}
	case RequestData, Clear, MultiEnd:
	case "":
		return fmt.Errorf("wire: missing type")
	default:
		return fmt.Errorf("wire: unknown type %q", m.Type)
	}
	return nil
}
