package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/locate"
)

type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

type Grid struct {
	Rows      int `yaml:"rows"`
	Cols      int `yaml:"cols"`
	PanelSize int `yaml:"panel_size"`
}

type Position struct {
	Row int `yaml:"row"`
	Col int `yaml:"col"`
}

type PanelWiring struct {
	Row           int `yaml:"row"`
	Col           int `yaml:"col"`
	layout.Wiring `yaml:",inline"`
}

type Wiring struct {
	layout.Wiring `yaml:",inline"`
	Panels        []PanelWiring `yaml:"panels,omitempty"`
}

type Network struct {
	// MasterHost is where slaves dial the control port.
	MasterHost     string        `yaml:"master_host"`
	ControlPort    int           `yaml:"control_port"`
	DrawPort       int           `yaml:"draw_port"`
	MonitorAddr    string        `yaml:"monitor_addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

type LED struct {
	Driver     string  `yaml:"driver"` // "spi" | "console" | "sim"
	SPIPort    string  `yaml:"spi_port,omitempty"`
	FreqKHz    int     `yaml:"freq_khz"`
	Brightness float64 `yaml:"brightness"`
	BudgetMA   float64 `yaml:"budget_ma,omitempty"`
}

type Sensor struct {
	Enabled    bool          `yaml:"enabled"`
	ServoPin   string        `yaml:"servo_pin"`
	SerialPort string        `yaml:"serial_port"`
	Baud       int           `yaml:"baud"`
	PitchMM    float64       `yaml:"pitch_mm"`
	Settle     time.Duration `yaml:"settle"`
	// PushPeriod makes a slave report detections unasked; zero waits for request_data.
	PushPeriod time.Duration   `yaml:"push_period,omitempty"`
	Geometry   locate.Geometry `yaml:"geometry"`
}

type Animation struct {
	Tick       time.Duration `yaml:"tick"`
	MaxRadius  int           `yaml:"max_radius,omitempty"`
	ClearBatch int           `yaml:"clear_batch"`
	TrailWidth int           `yaml:"trail_width"`
	CyclePause time.Duration `yaml:"cycle_pause"`
	// Style is "circles" for the collision engine or "ripple" for per-panel ripples.
	Style          string `yaml:"style"`
	RandomWhenIdle bool   `yaml:"random_when_idle"`
}

type Autonomous struct {
	Points int           `yaml:"points"`
	Tick   time.Duration `yaml:"tick"`
	Pause  time.Duration `yaml:"pause"`
}

type Config struct {
	Role       Role       `yaml:"role"`
	Grid       Grid       `yaml:"grid"`
	Position   Position   `yaml:"position"`
	Wiring     Wiring     `yaml:"wiring"`
	Network    Network    `yaml:"network"`
	LED        LED        `yaml:"led"`
	Sensor     Sensor     `yaml:"sensor"`
	Animation  Animation  `yaml:"animation"`
	Autonomous Autonomous `yaml:"autonomous"`
}

func Default() *Config {
	return &Config{
		Role:     RoleMaster,
		Grid:     Grid{Rows: 1, Cols: 2, PanelSize: 16},
		Position: Position{},
		Wiring:   Wiring{Wiring: layout.DefaultWiring},
		Network: Network{
			MasterHost:     "127.0.0.1",
			ControlPort:    5000,
			DrawPort:       12345,
			MonitorAddr:    ":8080",
			RequestTimeout: 3 * time.Second,
			WriteTimeout:   2 * time.Second,
			RetryAttempts:  5,
			RetryDelay:     5 * time.Second,
		},
		LED: LED{Driver: "sim", FreqKHz: 2500, Brightness: 0.5},
		Sensor: Sensor{
			ServoPin:   "GPIO18",
			SerialPort: "/dev/ttyAMA0",
			Baud:       115200,
			PitchMM:    10,
			Settle:     20 * time.Millisecond,
			Geometry:   locate.DefaultGeometry(),
		},
		Animation: Animation{
			Tick:       100 * time.Millisecond,
			ClearBatch: 3,
			TrailWidth: 5,
			CyclePause: 2 * time.Second,
			Style:      "circles",
		},
		Autonomous: Autonomous{Points: 6, Tick: 80 * time.Millisecond, Pause: time.Second},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Role {
	case RoleMaster, RoleSlave:
	default:
		errs = append(errs, fmt.Errorf("unknown role %q", c.Role))
	}
	g := c.LayoutGrid()
	if err := g.Validate(); err != nil {
		errs = append(errs, err)
	} else if !g.HasPanel(c.PanelID()) {
		errs = append(errs, fmt.Errorf("position (%d,%d) outside %dx%d grid", c.Position.Row, c.Position.Col, g.Rows, g.Cols))
	}
	if err := c.Wiring.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range c.Wiring.Panels {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
		if g.Validate() == nil && !g.HasPanel(layout.PanelID{Row: p.Row, Col: p.Col}) {
			errs = append(errs, fmt.Errorf("wiring override for missing panel (%d,%d)", p.Row, p.Col))
		}
	}
	for name, port := range map[string]int{"control_port": c.Network.ControlPort, "draw_port": c.Network.DrawPort} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, port))
		}
	}
	if c.Network.RetryAttempts < 1 {
		errs = append(errs, errors.New("retry_attempts must be at least 1"))
	}
	if c.LED.Brightness < 0 || c.LED.Brightness > 1 {
		errs = append(errs, fmt.Errorf("brightness %.2f outside 0..1", c.LED.Brightness))
	}
	switch c.Animation.Style {
	case "circles", "ripple":
	default:
		errs = append(errs, fmt.Errorf("unknown animation style %q", c.Animation.Style))
	}
	if c.Animation.Tick <= 0 || c.Animation.ClearBatch <= 0 {
		errs = append(errs, errors.New("animation tick and clear_batch must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) LayoutGrid() layout.Grid {
	return layout.Grid{Rows: c.Grid.Rows, Cols: c.Grid.Cols, PanelSize: c.Grid.PanelSize}
}

func (c *Config) PanelID() layout.PanelID {
	return layout.PanelID{Row: c.Position.Row, Col: c.Position.Col}
}

// Layout is the grid with its default wiring and per-panel overrides applied.
func (c *Config) Layout() layout.Layout {
	l := layout.New(c.LayoutGrid(), c.Wiring.Wiring)
	for _, p := range c.Wiring.Panels {
		l.Overrides[layout.PanelID{Row: p.Row, Col: p.Col}] = p.Wiring
	}
	return l
}

func (c *Config) ControlAddr() string { return ":" + strconv.Itoa(c.Network.ControlPort) }

func (c *Config) MasterAddr() string {
	return net.JoinHostPort(c.Network.MasterHost, strconv.Itoa(c.Network.ControlPort))
}

func (c *Config) DrawAddr() string { return ":" + strconv.Itoa(c.Network.DrawPort) }

// MaxRadius defaults to half the shorter canvas side.
func (c *Config) MaxRadius() int {
	if c.Animation.MaxRadius > 0 {
		return c.Animation.MaxRadius
	}
	g := c.LayoutGrid()
	return min(g.Width(), g.Height()) / 2
}
