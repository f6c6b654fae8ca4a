package locate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the byte stream to the sensor, normally a serial.Port.
type Port interface {
	io.ReadWriteCloser
}

type inputResetter interface {
	ResetInputBuffer() error
}

const (
	frameHeader = 0x59
	frameLen    = 9
	// MinStrength is the signal level below which a reading is unreliable.
	MinStrength = 100
	maxScan     = 4 * frameLen
)

var errNoFrame = errors.New("locate: no valid frame")

var (
	cmdEnableOutput  = []byte{0x5A, 0x05, 0x07, 0x01, 0x67}
	cmdDisableOutput = []byte{0x5A, 0x05, 0x07, 0x00, 0x66}
)

// Frame is one decoded measurement.
type Frame struct {
	DistanceCM  uint16
	Strength    uint16
	Temperature float64
}

// Rangefinder talks to a TFmini-family UART lidar.
type Rangefinder struct {
	mu   sync.Mutex
	port Port
	r    *bufio.Reader
}

func NewRangefinder(p Port) *Rangefinder {
	return &Rangefinder{port: p, r: bufio.NewReaderSize(p, 64)}
}

// OpenRangefinder opens a serial device such as /dev/ttyAMA0.
func OpenRangefinder(name string, baud int) (*Rangefinder, error) {
	if baud == 0 {
		baud = 115200
	}
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("locate: open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(200 * time.Millisecond); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("locate: read timeout %s: %w", name, err)
	}
	return NewRangefinder(p), nil
}

func frameRateCmd(hz uint16) []byte {
	b := []byte{0x5A, 0x06, 0x03, byte(hz), byte(hz >> 8), 0}
	b[5] = checksum(b[:5])
	return b
}

func checksum(b []byte) byte {
	var s byte
	for _, v := range b {
		s += v
	}
	return s
}

func (m RangingMode) rate() uint16 {
	switch m {
	case Short:
		return 100
	case Medium:
		return 50
	default:
		return 20
	}
}

func (r *Rangefinder) StartRanging(mode RangingMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.port.Write(frameRateCmd(mode.rate())); err != nil {
		return fmt.Errorf("locate: set frame rate: %w", err)
	}
	if _, err := r.port.Write(cmdEnableOutput); err != nil {
		return fmt.Errorf("locate: enable output: %w", err)
	}
	return nil
}

func (r *Rangefinder) StopRanging() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.port.Write(cmdDisableOutput); err != nil {
		return fmt.Errorf("locate: disable output: %w", err)
	}
	return nil
}

// Distance discards buffered frames and returns the next reading in millimetres.
// Weak or saturated returns read as zero.
func (r *Rangefinder) Distance() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rs, ok := r.port.(inputResetter); ok {
		if err := rs.ResetInputBuffer(); err == nil {
			r.r.Reset(r.port)
		}
	}
	f, err := r.readFrame()
	if err != nil {
		return 0, err
	}
	if f.Strength < MinStrength || f.DistanceCM == 0 || f.DistanceCM == 0xFFFF {
		return 0, nil
	}
	return float64(f.DistanceCM) * 10, nil
}

func (r *Rangefinder) readFrame() (Frame, error) {
	var buf [frameLen]byte
	for i := 0; i < maxScan; i++ {
		b, err := r.r.ReadByte()
		if err != nil {
			return Frame{}, fmt.Errorf("locate: read: %w", err)
		}
		if b != frameHeader {
			continue
		}
		if b, err = r.r.ReadByte(); err != nil {
			return Frame{}, fmt.Errorf("locate: read: %w", err)
		}
		if b != frameHeader {
			_ = r.r.UnreadByte()
			continue
		}
		buf[0], buf[1] = frameHeader, frameHeader
		if _, err := io.ReadFull(r.r, buf[2:]); err != nil {
			return Frame{}, fmt.Errorf("locate: read: %w", err)
		}
		if checksum(buf[:8]) != buf[8] {
			continue
		}
		return Frame{
			DistanceCM:  uint16(buf[2]) | uint16(buf[3])<<8,
			Strength:    uint16(buf[4]) | uint16(buf[5])<<8,
			Temperature: float64(uint16(buf[6])|uint16(buf[7])<<8)/8 - 256,
		}, nil
	}
	return Frame{}, errNoFrame
}

func (r *Rangefinder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port.Close()
}
