package locate

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// ServoFreq is the standard hobby servo frame rate.
const ServoFreq = 50 * physic.Hertz

const servoPeriodUS = 20000

// PWMServo drives a hobby servo from a hardware PWM pin.
type PWMServo struct {
	mu  sync.Mutex
	pin gpio.PinOut
	us  float64
}

func NewPWMServo(pin gpio.PinOut) *PWMServo { return &PWMServo{pin: pin} }

// OpenPWMServo initializes the host and looks the pin up by name, e.g. "GPIO18".
func OpenPWMServo(name string) (*PWMServo, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("locate: host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("locate: no gpio pin %q", name)
	}
	return NewPWMServo(p), nil
}

func (s *PWMServo) SetPulseWidth(us float64) error {
	if us < 500 || us > 2500 {
		return fmt.Errorf("locate: pulse %.0fus outside 500..2500", us)
	}
	duty := gpio.Duty(us / servoPeriodUS * float64(gpio.DutyMax))
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pin.PWM(duty, ServoFreq); err != nil {
		return fmt.Errorf("locate: pwm %s: %w", s.pin, err)
	}
	s.us = us
	return nil
}

// PulseWidth returns the last pulse width written.
func (s *PWMServo) PulseWidth() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.us
}

func (s *PWMServo) Halt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pin.Halt()
}

// NopServo accepts every move.
type NopServo struct{}

func (NopServo) SetPulseWidth(float64) error { return nil }
