package led

import (
	"fmt"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/devices/v3/screen1d"
	"periph.io/x/host/v3"
)

const (
	DriverSPI     = "spi"
	DriverConsole = "console"
	DriverSim     = "sim"
)

type Options struct {
	Driver     string
	Port       string // spireg name, "" for the first port
	FreqKHz    int
	Channels   int
	Brightness float64
	// BudgetMA caps the estimated frame current, zero for no cap.
	BudgetMA  float64
	NumPixels int
	Logger    zerolog.Logger
}

// Open builds a Strip for the configured driver. A missing SPI port falls back to the console.
func Open(o Options) (*Buffer, error) {
	if o.NumPixels <= 0 {
		return nil, fmt.Errorf("led: invalid pixel count %d", o.NumPixels)
	}
	b, err := open(o)
	if err != nil {
		return nil, err
	}
	if o.BudgetMA > 0 {
		b.SetLimiter(Limiter{BudgetMA: o.BudgetMA})
	}
	return b, nil
}

func open(o Options) (*Buffer, error) {
	switch o.Driver {
	case DriverSim, "":
		return NewBuffer(o.NumPixels, NewSim(o.NumPixels), o.Brightness), nil
	case DriverConsole:
		return NewBuffer(o.NumPixels, screen1d.New(&screen1d.Opts{X: o.NumPixels}), o.Brightness), nil
	case DriverSPI:
		return openSPI(o)
	}
	return nil, fmt.Errorf("led: unknown driver %q", o.Driver)
}

func openSPI(o Options) (*Buffer, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("led: host init: %w", err)
	}
	port, err := spireg.Open(o.Port)
	if err != nil {
		o.Logger.Warn().Err(err).Str("port", o.Port).Msg("no SPI port; printing at the console")
		return NewBuffer(o.NumPixels, screen1d.New(&screen1d.Opts{X: o.NumPixels}), o.Brightness), nil
	}
	channels := o.Channels
	if channels == 0 {
		channels = 3
	}
	freq := physic.Frequency(o.FreqKHz) * physic.KiloHertz
	if o.FreqKHz == 0 {
		freq = 2500 * physic.KiloHertz
	}
	d, err := nrzled.NewSPI(port, &nrzled.Opts{NumPixels: o.NumPixels, Channels: channels, Freq: freq})
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("led: nrzled: %w", err)
	}
	if err := d.Halt(); err != nil {
		o.Logger.Warn().Err(err).Msg("initial halt failed")
	}
	b := NewBuffer(o.NumPixels, d, o.Brightness)
	b.closer = port.Close
	return b, nil
}
