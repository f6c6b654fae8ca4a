package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/ledgrid/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func TestLocateOnBench(t *testing.T) {
	out, err := execute(t, "locate", "--bench", "--target", "80,80")
	require.NoError(t, err)
	assert.Contains(t, out, "pixel=(")
}

func TestLocateNeedsSensor(t *testing.T) {
	_, err := execute(t, "locate")
	assert.ErrorContains(t, err, "sensor disabled")
}

func TestSweepRejectsUnknownKind(t *testing.T) {
	_, err := execute(t, "sweep", "--kind", "spiral")
	assert.ErrorContains(t, err, "unknown sweep")
}

func TestFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgrid.yaml")
	c := config.Default()
	c.LED.Driver = "console"
	require.NoError(t, config.Save(path, c))

	root := newRootCmd()
	master, _, err := root.Find([]string{"master"})
	require.NoError(t, err)
	require.NoError(t, master.ParseFlags([]string{"--config", path, "--col", "1", "--driver", "sim", "--style", "ripple"}))

	o := &options{configPath: path, col: 1, driver: "sim", style: "ripple"}
	cfg, err := o.load(master, config.RoleMaster)
	require.NoError(t, err)
	assert.Equal(t, config.RoleMaster, cfg.Role)
	assert.Equal(t, 1, cfg.Position.Col)
	assert.Equal(t, 0, cfg.Position.Row)
	assert.Equal(t, "sim", cfg.LED.Driver)
	assert.Equal(t, "ripple", cfg.Animation.Style)
}
