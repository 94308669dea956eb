package gpio

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// InitHost loads periph.io's platform drivers. Callers on real hardware
// must call this once before OpenOutput, OpenInput or OpenSyncLine.
func InitHost() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("gpio: periph host init: %w", err)
	}
	return nil
}

// PeriphOutput drives a gpio.PinIO as a digital output.
type PeriphOutput struct {
	pin gpio.PinIO
}

// OpenOutput looks up a named pin (e.g. "GPIO17") and configures it as
// an output, low by default.
func OpenOutput(name string) (*PeriphOutput, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio: unknown pin %q", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio: configure %q as output: %w", name, err)
	}
	return &PeriphOutput{pin: pin}, nil
}

func (p *PeriphOutput) Set(high bool) error {
	level := gpio.Low
	if high {
		level = gpio.High
	}
	return p.pin.Out(level)
}

// PeriphInput reads a gpio.PinIO configured with a pull-up, matching the
// firmware's active-low button wiring.
type PeriphInput struct {
	pin gpio.PinIO
}

func OpenInput(name string) (*PeriphInput, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio: unknown pin %q", name)
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("gpio: configure %q as input: %w", name, err)
	}
	return &PeriphInput{pin: pin}, nil
}

func (p *PeriphInput) Read() (bool, error) {
	return p.pin.Read() == gpio.High, nil
}

// PeriphSyncLine drives a single pin as an open-drain-style shared line:
// Release switches it to a pulled-up input, Assert drives it low.
type PeriphSyncLine struct {
	pin gpio.PinIO
}

func OpenSyncLine(name string) (*PeriphSyncLine, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio: unknown pin %q", name)
	}
	return &PeriphSyncLine{pin: pin}, nil
}

func (s *PeriphSyncLine) Release() error {
	return s.pin.In(gpio.PullUp, gpio.NoEdge)
}

func (s *PeriphSyncLine) Assert() error {
	return s.pin.Out(gpio.Low)
}

func (s *PeriphSyncLine) Read() (bool, error) {
	if s.pin.Function() != "In" {
		if err := s.Release(); err != nil {
			return false, err
		}
	}
	return s.pin.Read() == gpio.High, nil
}
