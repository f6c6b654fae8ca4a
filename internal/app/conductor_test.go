package app

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coreman2200/ledgrid/internal/animation"
	"github.com/coreman2200/ledgrid/internal/layout"
	"github.com/coreman2200/ledgrid/internal/led"
	"github.com/coreman2200/ledgrid/internal/panel"
	"github.com/coreman2200/ledgrid/internal/transport"
	"github.com/coreman2200/ledgrid/internal/wire"
)

var (
	nop  = zerolog.Nop()
	grid = layout.Grid{Rows: 1, Cols: 2, PanelSize: 16}
)

type sent struct {
	pos wire.Position
	m   wire.Message
}

type fakeNet struct {
	mu         sync.Mutex
	replies    map[wire.Position]wire.Message
	requests   int
	sent       []sent
	broadcasts []wire.Message
}

func (n *fakeNet) Positions() []wire.Position {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []wire.Position
	for p := range n.replies {
		out = append(out, p)
	}
	return out
}

func (n *fakeNet) Request(_ context.Context, pos wire.Position, _ wire.Message, _ time.Duration) (wire.Message, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests++
	m, ok := n.replies[pos]
	if !ok {
		return wire.Message{}, transport.ErrNoClient
	}
	return m, nil
}

func (n *fakeNet) Broadcast(m wire.Message) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, m)
	return len(n.replies)
}

func (n *fakeNet) SendToPosition(pos wire.Position, m wire.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{pos, m})
	return nil
}

func (n *fakeNet) broadcastTypes() []wire.Type {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []wire.Type
	for _, m := range n.broadcasts {
		out = append(out, m.Type)
	}
	return out
}

type fixedSensor struct{ v r2.Vec }

func (s fixedSensor) Locate(context.Context) (r2.Vec, error) { return s.v, nil }

func masterPanel(t *testing.T) (*panel.Panel, *led.Buffer) {
	t.Helper()
	buf := led.NewBuffer(grid.PanelCount(), led.NewSim(grid.PanelCount()), 1)
	p, err := panel.New(layout.New(grid, layout.DefaultWiring), layout.PanelID{}, buf, nop)
	require.NoError(t, err)
	return p, buf
}

func newConductor(t *testing.T, cfg ConductorConfig, sensor Locator, net *fakeNet, engTick time.Duration) (*Conductor, *led.Buffer) {
	t.Helper()
	p, buf := masterPanel(t)
	eng, err := animation.NewEngine(animation.Config{
		Grid: grid, MaxRadius: 3, ClearBatch: 4, Tick: engTick,
		Local: p, Remote: net, Logger: &nop,
	})
	require.NoError(t, err)
	cfg.Grid = grid
	cfg.Logger = &nop
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(1))
	}
	c, err := NewConductor(cfg, eng, p, sensor, net)
	require.NoError(t, err)
	return c, buf
}

func allBlack(buf *led.Buffer) bool {
	for _, c := range buf.Snapshot() {
		if !c.IsBlack() {
			return false
		}
	}
	return true
}

func TestSelectCenters(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	master := layout.Point{X: 5, Y: 5}

	assert.Equal(t, []layout.Point{master, {X: 17, Y: 2}},
		SelectCenters(grid, master, true, []layout.Point{{X: 20, Y: 5}, {X: 17, Y: 2}}, rng, false))
	assert.Equal(t, []layout.Point{master, {X: 15, Y: 15}},
		SelectCenters(grid, master, true, nil, rng, false))
	assert.Equal(t, []layout.Point{{X: 10, Y: 10}, {X: 20, Y: 20}},
		SelectCenters(grid, layout.Point{X: 10, Y: 10}, true, nil, rng, false), "companion is offset from the master")
	assert.Equal(t, []layout.Point{{X: 17, Y: 2}, {X: 30, Y: 15}},
		SelectCenters(grid, master, false, []layout.Point{{X: 30, Y: 15}, {X: 17, Y: 2}, {X: 20, Y: 5}}, rng, false))
	assert.Equal(t, []layout.Point{{X: 4, Y: 3}, {X: 3, Y: 4}},
		SelectCenters(grid, master, false, []layout.Point{{X: 3, Y: 4}, {X: 4, Y: 3}}, rng, false), "ties break on y")

	one := SelectCenters(grid, master, false, []layout.Point{{X: 20, Y: 5}}, rng, false)
	require.Len(t, one, 2)
	assert.Equal(t, layout.Point{X: 20, Y: 5}, one[0])
	assert.True(t, grid.Contains(one[1]))

	assert.Nil(t, SelectCenters(grid, master, false, nil, rng, false))
	idle := SelectCenters(grid, master, false, nil, rng, true)
	require.Len(t, idle, 2)
	assert.True(t, grid.Contains(idle[0]))
	assert.True(t, grid.Contains(idle[1]))
}

func TestMultiCyclePollsAndDraws(t *testing.T) {
	net := &fakeNet{replies: map[wire.Position]wire.Message{
		{Row: 0, Col: 1}: wire.NewSensorData(20, 5),
	}}
	c, buf := newConductor(t, ConductorConfig{}, fixedSensor{r2.Vec{X: 55, Y: 55}}, net, time.Millisecond)

	require.NoError(t, c.multiCycle(context.Background(), nil))
	assert.Equal(t, 1, net.requests)
	require.NotEmpty(t, net.sent)
	for _, s := range net.sent {
		assert.Equal(t, wire.Position{Row: 0, Col: 1}, s.pos)
		for _, p := range s.m.Points() {
			assert.GreaterOrEqual(t, p.X, 16, "slave draws carry only its own pixels")
		}
	}
	assert.True(t, allBlack(buf), "sequence ends cleared")
}

func TestSentinelRepliesAreIgnored(t *testing.T) {
	net := &fakeNet{replies: map[wire.Position]wire.Message{
		{Row: 0, Col: 1}: wire.NewSensorData(-1, -1),
	}}
	c, _ := newConductor(t, ConductorConfig{}, nil, net, time.Millisecond)
	assert.Empty(t, c.pollSlaves(context.Background()))
}

func TestTriggerStartsCycleAtPoint(t *testing.T) {
	net := &fakeNet{replies: map[wire.Position]wire.Message{}}
	c, _ := newConductor(t, ConductorConfig{}, nil, net, time.Millisecond)

	c.HandleMessage(wire.Position{Row: 0, Col: 1}, wire.NewSensorData(-1, -1))
	assert.Nil(t, c.takeTrigger())

	c.HandleMessage(wire.Position{Row: 0, Col: 1}, wire.NewSensorData(20, 5))
	tr := c.takeTrigger()
	require.NotNil(t, tr)
	assert.Equal(t, layout.Point{X: 20, Y: 5}, tr.at)

	require.NoError(t, c.multiCycle(context.Background(), tr))
	assert.Zero(t, net.requests)
	assert.NotEmpty(t, net.sent)
}

func TestRippleStyleBroadcastsAnimate(t *testing.T) {
	net := &fakeNet{replies: map[wire.Position]wire.Message{}}
	var mu sync.Mutex
	seen := 0
	obs := func(pts []layout.Point, _ led.Color) {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range pts {
			assert.Less(t, p.X, 16)
			seen++
		}
	}
	c, buf := newConductor(t, ConductorConfig{Style: StyleRipple, RippleTick: time.Millisecond, Observer: obs}, nil, net, time.Millisecond)

	dt := 3700
	m := wire.NewSensorData(20, 5)
	m.DataTotal = &dt
	c.HandleMessage(wire.Position{Row: 0, Col: 1}, m)
	require.NoError(t, c.multiCycle(context.Background(), c.takeTrigger()))

	require.Len(t, net.broadcasts, 1)
	a := net.broadcasts[0]
	assert.Equal(t, wire.Animate, a.Type)
	assert.Equal(t, 6, a.MaxRadius)
	assert.Len(t, a.Colors, 6)
	assert.Positive(t, seen)
	assert.True(t, allBlack(buf))
}

func TestSetModeCancelsCycle(t *testing.T) {
	net := &fakeNet{replies: map[wire.Position]wire.Message{}}
	c, _ := newConductor(t, ConductorConfig{RandomWhenIdle: true, CyclePause: time.Hour, ConvergeTick: time.Millisecond}, nil, net, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.eng.State() != animation.Idle }, time.Second, time.Millisecond)
	require.NoError(t, c.SetMode(ModeSingle))
	assert.Equal(t, ModeSingle, c.Mode())
	require.Eventually(t, func() bool { return c.eng.State() == animation.Idle }, time.Second, time.Millisecond)
	assert.Equal(t, []wire.Type{wire.Clear, wire.MultiEnd}, net.broadcastTypes())

	assert.Error(t, c.SetMode("party"))
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("conductor did not stop")
	}
}

func TestNewConductorRejectsUnknownStyle(t *testing.T) {
	p, _ := masterPanel(t)
	_, err := NewConductor(ConductorConfig{Grid: grid, Style: "spiral"}, nil, p, nil, &fakeNet{})
	assert.Error(t, err)
	_, err = NewConductor(ConductorConfig{Grid: grid}, nil, p, nil, &fakeNet{})
	assert.Error(t, err, "circles without an engine")
}
