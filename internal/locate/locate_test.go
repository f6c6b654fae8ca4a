package locate

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/coreman2200/ledgrid/internal/layout"
)

func TestCartesian(t *testing.T) {
	g := DefaultGeometry()
	v := g.Cartesian(0, 100)
	assert.InDelta(t, 85, v.X, 1e-9)
	assert.InDelta(t, -10, v.Y, 1e-9)

	v = g.Cartesian(90, 100)
	assert.InDelta(t, 0, v.X, 1e-9)
	assert.InDelta(t, 105, v.Y, 1e-9)
}

func TestInRange(t *testing.T) {
	g := DefaultGeometry()
	assert.True(t, g.InRange(r2.Vec{X: 80, Y: 80}))
	assert.False(t, g.InRange(r2.Vec{X: 161, Y: 10}))
	assert.False(t, g.InRange(r2.Vec{X: 10, Y: 161}))
	assert.False(t, g.InRange(r2.Vec{X: 40, Y: 155}))
	assert.True(t, g.InRange(r2.Vec{X: 60, Y: 155}))
}

func TestPulseWidth(t *testing.T) {
	assert.Equal(t, 500.0, PulseWidth(0))
	assert.Equal(t, 1500.0, PulseWidth(90))
	assert.Equal(t, 2500.0, PulseWidth(180))
}

func TestToPixel(t *testing.T) {
	assert.Equal(t, layout.Point{X: 8, Y: 3}, ToPixel(r2.Vec{X: 85, Y: 31}, 10))
	assert.Equal(t, layout.Point{X: -1, Y: -1}, ToPixel(NotFound, 10))
}

func pts(xs ...float64) []r2.Vec {
	out := make([]r2.Vec, 0, len(xs))
	for _, x := range xs {
		out = append(out, r2.Vec{X: x, Y: 10})
	}
	return out
}

func TestMidpoint(t *testing.T) {
	g := DefaultGeometry()
	const out = 500

	t.Run("opens and closes", func(t *testing.T) {
		// 5 to open, 3 recorded in range, 5 out of range close it.
		in := pts(1, 2, 3, 4, 5, 10, 20, 30, out, out, out, out, out)
		assert.Equal(t, r2.Vec{X: 20, Y: 10}, midpoint(g, in))
	})
	t.Run("interrupted opening", func(t *testing.T) {
		in := pts(1, 2, 3, out, 1, 2, 3, 4, 5, 40, 50, 60, 70, out, out, out, out, out)
		assert.Equal(t, r2.Vec{X: 60, Y: 10}, midpoint(g, in))
	})
	t.Run("never opens", func(t *testing.T) {
		assert.Equal(t, NotFound, midpoint(g, pts(1, 2, 3, 4, out, 1)))
	})
	t.Run("too short after trim", func(t *testing.T) {
		in := pts(1, 2, 3, 4, 5, out, out, out, out, out)
		assert.Equal(t, NotFound, midpoint(g, in))
	})
	t.Run("sweep ends while recording", func(t *testing.T) {
		in := pts(1, 2, 3, 4, 5, 10, 20, 30, 40, 50, 60, 70)
		assert.Equal(t, r2.Vec{X: 20, Y: 10}, midpoint(g, in))
	})
}

func TestEstimateSkipsOffsetReadings(t *testing.T) {
	g := DefaultGeometry()
	var s []Sample
	for a := 0; a <= 90; a++ {
		s = append(s, Sample{AngleDeg: a, DistanceMM: 10})
	}
	assert.Equal(t, NotFound, Estimate(g, s))
}

func TestLocatorFindsDisc(t *testing.T) {
	g := DefaultGeometry()
	target := r2.Vec{X: 80, Y: 80}
	b := NewBench(Disc(g, target, 15))
	l, err := NewLocator(Config{Geometry: g}, b, b)
	require.NoError(t, err)

	got, err := l.Locate(context.Background())
	require.NoError(t, err)
	require.True(t, Found(got))
	assert.InDelta(t, target.X, got.X, 15)
	assert.InDelta(t, target.Y, got.Y, 15)
	assert.Equal(t, 500.0, b.Pulses[0])
}

func TestLocatorEmptyScene(t *testing.T) {
	g := DefaultGeometry()
	b := NewBench(Empty(g))
	l, err := NewLocator(Config{Geometry: g}, b, b)
	require.NoError(t, err)

	got, err := l.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NotFound, got)
	// home plus one move per degree
	assert.Len(t, b.Pulses, 92)
}

func TestLocatorCancel(t *testing.T) {
	g := DefaultGeometry()
	b := NewBench(Empty(g))
	l, err := NewLocator(Config{Geometry: g, Settle: time.Second}, b, b)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Locate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewLocatorRejectsBadSweep(t *testing.T) {
	g := DefaultGeometry()
	g.StepDeg = 0
	_, err := NewLocator(Config{Geometry: g}, NopServo{}, NewBench(Empty(g)))
	assert.Error(t, err)

	g = DefaultGeometry()
	g.EndDeg = 200
	_, err = NewLocator(Config{Geometry: g}, NopServo{}, NewBench(Empty(g)))
	assert.Error(t, err)
}

func TestPWMServo(t *testing.T) {
	p := &gpiotest.Pin{N: "GPIO18", Num: 18}
	s := NewPWMServo(p)

	us := 1500.0
	require.NoError(t, s.SetPulseWidth(us))
	p.Lock()
	assert.Equal(t, gpio.Duty(us/20000*float64(gpio.DutyMax)), p.D)
	assert.Equal(t, ServoFreq, p.F)
	p.Unlock()
	assert.Equal(t, 1500.0, s.PulseWidth())

	assert.Error(t, s.SetPulseWidth(2600))
	assert.Equal(t, 1500.0, s.PulseWidth())
}

type fakePort struct {
	r      *bytes.Reader
	w      bytes.Buffer
	closed bool
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *fakePort) Close() error                { p.closed = true; return nil }

func frame(distCM, strength uint16) []byte {
	b := []byte{0x59, 0x59, byte(distCM), byte(distCM >> 8), byte(strength), byte(strength >> 8), 0x00, 0x09, 0}
	b[8] = checksum(b[:8])
	return b
}

func TestRangefinderDistance(t *testing.T) {
	var in []byte
	in = append(in, 0x01, 0x59, 0x02)
	bad := frame(50, 500)
	bad[8]++
	in = append(in, bad...)
	in = append(in, frame(123, 500)...)
	in = append(in, frame(80, 20)...)

	p := &fakePort{r: bytes.NewReader(in)}
	r := NewRangefinder(p)

	d, err := r.Distance()
	require.NoError(t, err)
	assert.Equal(t, 1230.0, d)

	d, err = r.Distance()
	require.NoError(t, err)
	assert.Equal(t, 0.0, d, "weak signal reads as no target")

	_, err = r.Distance()
	assert.Error(t, err)

	require.NoError(t, r.Close())
	assert.True(t, p.closed)
}

func TestRangefinderCommands(t *testing.T) {
	p := &fakePort{r: bytes.NewReader(nil)}
	r := NewRangefinder(p)
	require.NoError(t, r.StartRanging(Long))
	require.NoError(t, r.StopRanging())

	want := []byte{0x5A, 0x06, 0x03, 20, 0, 0x77}
	want = append(want, 0x5A, 0x05, 0x07, 0x01, 0x67)
	want = append(want, 0x5A, 0x05, 0x07, 0x00, 0x66)
	assert.Equal(t, want, p.w.Bytes())
}

func TestFrameTemperature(t *testing.T) {
	r := NewRangefinder(&fakePort{r: bytes.NewReader(frame(10, 300))})
	f, err := r.readFrame()
	require.NoError(t, err)
	assert.Equal(t, uint16(10), f.DistanceCM)
	assert.Equal(t, uint16(300), f.Strength)
	assert.InDelta(t, 32.0, f.Temperature, 1e-9)
}
