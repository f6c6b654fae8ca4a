package led

import (
	"bytes"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spitest"
	"periph.io/x/devices/v3/nrzled"
)

func TestMixIsIntegerAverage(t *testing.T) {
	assert.Equal(t, Color{127, 0, 127}, Mix(Color{255, 0, 0}, Color{0, 0, 255}))
	assert.Equal(t, Color{10, 20, 30}, Mix(Color{10, 20, 30}))
	assert.Equal(t, Color{2, 2, 2}, Mix(Color{1, 1, 1}, Color{2, 2, 2}, Color{4, 4, 4}))
	assert.Equal(t, Black, Mix())
}

func TestMixOrderIndependent(t *testing.T) {
	a, b, c := Color{200, 10, 3}, Color{7, 99, 250}, Color{50, 50, 50}
	assert.Equal(t, Mix(a, b, c), Mix(c, a, b))
}

func TestScaleCapsBrightness(t *testing.T) {
	capped := Color{R: 255}.Scale(1)
	assert.InDelta(t, float64(MaxBrightness), float64(capped.R), 1)
	assert.Equal(t, uint8(255), capped.A)
	assert.Equal(t, color.NRGBA{R: 127, A: 255}, Color{R: 255}.Scale(0.5))
	assert.Equal(t, color.NRGBA{A: 255}, Color{R: 255}.Scale(-1))
}

func TestRandomIsNotBlack(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		assert.False(t, Random(rng).IsBlack())
	}
}

func TestBufferShowDrawsScaledFrame(t *testing.T) {
	sim := NewSim(4)
	b := NewBuffer(4, sim, 0.5)
	require.NoError(t, b.SetPixelColor(2, Color{R: 100, G: 50, B: 25}))
	assert.Error(t, b.SetPixelColor(4, Color{}))
	assert.Equal(t, 0, sim.FrameCount())

	require.NoError(t, b.Show())
	assert.Equal(t, 1, sim.FrameCount())
	assert.Equal(t, color.NRGBA{R: 50, G: 25, B: 12, A: 255}, sim.At(2))
	assert.Equal(t, color.NRGBA{A: 255}, sim.At(0))

	require.NoError(t, b.Clear())
	assert.Equal(t, Black, b.Pixel(2))
	assert.Equal(t, color.NRGBA{A: 255}, sim.At(2))
}

func TestBufferOverNRZLED(t *testing.T) {
	buf := bytes.Buffer{}
	d, err := nrzled.NewSPI(spitest.NewRecordRaw(&buf), &nrzled.Opts{NumPixels: 4, Channels: 3, Freq: 2500 * physic.KiloHertz})
	require.NoError(t, err)
	assert.Equal(t, "nrzled{recordraw}", d.String())

	b := NewBuffer(4, d, 0.5)
	require.NoError(t, b.SetPixelColor(0, Color{R: 255}))
	require.NoError(t, b.Show())
	assert.NotZero(t, buf.Len())
}

func TestOpenSim(t *testing.T) {
	s, err := Open(Options{Driver: DriverSim, NumPixels: 16, Brightness: 1})
	require.NoError(t, err)
	assert.Equal(t, 16, s.NumPixels())
	require.NoError(t, s.Close())

	_, err = Open(Options{Driver: "plasma", NumPixels: 16})
	assert.Error(t, err)
	_, err = Open(Options{Driver: DriverSim})
	assert.Error(t, err)
}

func TestLimiterHoldsBudget(t *testing.T) {
	px := make([]color.NRGBA, 10)
	for i := range px {
		px[i] = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	}
	l := Limiter{ChanMA: 20, BudgetMA: 300}
	assert.InDelta(t, 600, l.Current(px), 0.01)
	l.Apply(px)
	assert.LessOrEqual(t, l.Current(px), 300.0)
	assert.Equal(t, uint8(255), px[0].A)
}

func TestLimiterUnderKneeIsUntouched(t *testing.T) {
	px := []color.NRGBA{{R: 255, A: 255}}
	Limiter{BudgetMA: 100}.Apply(px)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, px[0])
}

func TestLimiterWhiteCap(t *testing.T) {
	px := []color.NRGBA{{R: 200, G: 200, B: 200, A: 255}}
	Limiter{WhiteCap: 300}.Apply(px)
	assert.LessOrEqual(t, int(px[0].R)+int(px[0].G)+int(px[0].B), 300)
}

func TestBufferAppliesLimiter(t *testing.T) {
	sim := NewSim(2)
	b := NewBuffer(2, sim, 1)
	b.SetLimiter(Limiter{WhiteCap: 100})
	require.NoError(t, b.SetPixelColor(0, Color{R: 200, G: 200}))
	require.NoError(t, b.Show())
	got := sim.At(0)
	assert.LessOrEqual(t, int(got.R)+int(got.G), 100)
	assert.Equal(t, Color{R: 200, G: 200}, b.Pixel(0), "buffered color stays unscaled")
}
