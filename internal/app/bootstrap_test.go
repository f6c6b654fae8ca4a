package app

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/ledgrid/internal/config"
	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/wire"
)

func testConfig(role config.Role, col int) *config.Config {
	c := config.Default()
	c.Role = role
	c.Position = config.Position{Row: 0, Col: col}
	c.Network.ControlPort = 0
	c.Network.DrawPort = 0
	c.Network.MonitorAddr = "127.0.0.1:0"
	c.Network.RetryDelay = 10 * time.Millisecond
	c.Animation.Tick = 5 * time.Millisecond
	c.Animation.Style = StyleRipple
	c.Animation.CyclePause = time.Hour
	return c
}

func TestMasterDrivesSlaveEndToEnd(t *testing.T) {
	mcfg := testConfig(config.RoleMaster, 0)
	mhw, err := OpenHardware(mcfg, nop)
	require.NoError(t, err)
	defer mhw.Close()
	m, err := InitMaster(mcfg, mhw, nop)
	require.NoError(t, err)
	require.NoError(t, m.Server.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mdone := make(chan error, 1)
	go func() { mdone <- m.Run(ctx) }()

	scfg := testConfig(config.RoleSlave, 1)
	scfg.Network.MasterHost = "127.0.0.1"
	scfg.Network.ControlPort = m.Server.Addr().(*net.TCPAddr).Port
	shw, err := OpenHardware(scfg, nop)
	require.NoError(t, err)
	defer shw.Close()
	agent := InitSlave(scfg, shw, nop)
	sdone := make(chan error, 1)
	go func() { sdone <- agent.Run(ctx) }()

	pos := wire.Position{Row: 0, Col: 1}
	require.Eventually(t, func() bool {
		ps := m.Server.Positions()
		return len(ps) == 1 && ps[0] == pos
	}, 2*time.Second, 5*time.Millisecond)

	m.Conductor.HandleMessage(pos, wire.NewSensorData(20, 5))
	idx := layout.StripIndex(4, 5, 16, layout.DefaultWiring)
	require.Eventually(t, func() bool { return !shw.Strip.Pixel(idx).IsBlack() }, 2*time.Second, time.Millisecond)

	cancel()
	for _, ch := range []chan error{mdone, sdone} {
		select {
		case err := <-ch:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("process did not stop")
		}
	}
}

func TestOpenHardwareRejectsBadPosition(t *testing.T) {
	c := testConfig(config.RoleSlave, 5)
	_, err := OpenHardware(c, nop)
	assert.Error(t, err)
}
