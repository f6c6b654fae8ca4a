package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/ledgrid/internal/layout"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 8, c.MaxRadius(), "half the shorter side of a 32x16 canvas")
	c.Animation.MaxRadius = 12
	assert.Equal(t, 12, c.MaxRadius())
	assert.Equal(t, ":5000", c.ControlAddr())
	assert.Equal(t, "127.0.0.1:5000", c.MasterAddr())
	assert.Equal(t, ":12345", c.DrawAddr())
}

func TestLoadOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgrid.yaml")
	doc := `
role: slave
grid: {rows: 2, cols: 2, panel_size: 8}
position: {row: 1, col: 0}
wiring:
  reverse: even
  panels:
    - {row: 0, col: 1, reverse: none, column_major: true}
network:
  master_host: 10.0.0.2
  request_timeout: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, RoleSlave, c.Role)
	assert.Equal(t, layout.PanelID{Row: 1, Col: 0}, c.PanelID())
	assert.Equal(t, 500*time.Millisecond, c.Network.RequestTimeout)
	assert.Equal(t, 12345, c.Network.DrawPort, "unset keys keep defaults")
	assert.Equal(t, "10.0.0.2:5000", c.MasterAddr())

	l := c.Layout()
	assert.Equal(t, layout.Wiring{Reverse: layout.ReverseEven}, l.Wiring(layout.PanelID{}))
	assert.Equal(t, layout.Wiring{Reverse: layout.ReverseNone, ColumnMajor: true}, l.Wiring(layout.PanelID{Row: 0, Col: 1}))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	c := Default()
	c.Animation.MaxRadius = 7
	c.Wiring.Panels = []PanelWiring{{Row: 0, Col: 1, Wiring: layout.Wiring{Reverse: layout.ReverseNone}}}
	require.NoError(t, Save(path, c))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"role":       func(c *Config) { c.Role = "observer" },
		"grid":       func(c *Config) { c.Grid.PanelSize = 0 },
		"position":   func(c *Config) { c.Position.Col = 2 },
		"wiring":     func(c *Config) { c.Wiring.Reverse = "sideways" },
		"override":   func(c *Config) { c.Wiring.Panels = []PanelWiring{{Row: 3}} },
		"port":       func(c *Config) { c.Network.DrawPort = 70000 },
		"retries":    func(c *Config) { c.Network.RetryAttempts = 0 },
		"brightness": func(c *Config) { c.LED.Brightness = 2 },
		"style":      func(c *Config) { c.Animation.Style = "spiral" },
		"tick":       func(c *Config) { c.Animation.Tick = 0 },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mut(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
